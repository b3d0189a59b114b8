package raydium

import (
	"math"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/calc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
)

type decimalsMap map[solana.PublicKey]uint8

func (d decimalsMap) GetDecimals(mint solana.PublicKey) (uint8, bool) {
	v, ok := d[mint]
	return v, ok
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func tokenAccount(addr solana.PublicKey, amount uint64, slot uint64) *blockchain.AccountData {
	data := make([]byte, 165)
	binary.WriteUint64LittleEndian(amount, data, calc.TokenAccountAmountOffset)
	return &blockchain.AccountData{Pubkey: addr, Data: data, Owner: model.TokenProgramID, Slot: slot}
}

func TestParseAmmV4Offsets(t *testing.T) {
	baseVault, quoteVault, baseMint, quoteMint := newKey(), newKey(), newKey(), newKey()

	data := make([]byte, AmmV4LayoutSize)
	binary.WriteUint64LittleEndian(6, data, ammV4StatusOffset)
	binary.WriteUint64LittleEndian(6, data, ammV4BaseDecimalsOffset)
	binary.WriteUint64LittleEndian(9, data, ammV4QuoteDecimalsOffset)
	binary.WriteUint64LittleEndian(11, data, ammV4NeedTakePnlBaseOffset)
	binary.WriteUint64LittleEndian(22, data, ammV4NeedTakePnlQuoteOffset)
	binary.WritePubKey(baseVault, data, 336)
	binary.WritePubKey(quoteVault, data, 368)
	binary.WritePubKey(baseMint, data, 400)
	binary.WritePubKey(quoteMint, data, 432)

	st, err := ParseAmmV4(data)
	require.NoError(t, err)
	assert.Equal(t, baseVault, st.BaseVault)
	assert.Equal(t, quoteVault, st.QuoteVault)
	assert.Equal(t, baseMint, st.BaseMint)
	assert.Equal(t, quoteMint, st.QuoteMint)
	assert.Equal(t, uint64(6), st.BaseDecimals)
	assert.Equal(t, uint64(9), st.QuoteDecimals)
	assert.Equal(t, uint64(11), st.NeedTakePnlBase)
	assert.Equal(t, uint64(22), st.NeedTakePnlQuote)

	_, err = ParseAmmV4(data[:AmmV4LayoutSize-1])
	assert.ErrorIs(t, err, model.ErrAccountTooShort)
}

func ammV4Bundle(token solana.PublicKey, tokenAmount, solAmount uint64) (model.Accounts, solana.PublicKey) {
	pool, baseVault, quoteVault := newKey(), newKey(), newKey()

	data := make([]byte, AmmV4LayoutSize)
	binary.WritePubKey(baseVault, data, ammV4BaseVaultOffset)
	binary.WritePubKey(quoteVault, data, ammV4QuoteVaultOffset)
	binary.WritePubKey(token, data, ammV4BaseMintOffset)
	binary.WritePubKey(model.WrappedSOLMint, data, ammV4QuoteMintOffset)
	binary.WriteUint64LittleEndian(1_000, data, ammV4NeedTakePnlQuoteOffset)

	return model.Accounts{
		pool:       {Pubkey: pool, Data: data, Owner: AmmV4ProgramID, Slot: 100},
		baseVault:  tokenAccount(baseVault, tokenAmount, 101),
		quoteVault: tokenAccount(quoteVault, solAmount, 102),
	}, pool
}

func TestDecodeAmmV4(t *testing.T) {
	token := newKey()
	accounts, pool := ammV4Bundle(token, 2_000_000_000, 10_000_001_000)

	st, err := DecodeAmmV4(model.Input{Accounts: accounts})
	require.NoError(t, err)
	assert.Equal(t, ProtocolAmmV4, st.Protocol)
	assert.Equal(t, pool, st.Pool)
	assert.Equal(t, uint64(102), st.Slot)
	assert.Equal(t, uint64(2_000_000_000), st.Reserve0)
	assert.Equal(t, uint64(10_000_000_000), st.Reserve1, "need_take_pnl is excluded")

	res, err := calc.Price(st, model.Input{
		BaseMint:  token,
		QuoteMint: model.WrappedSOLMint,
		Decimals:  decimalsMap{token: 6, model.WrappedSOLMint: 9},
	}, calc.Options{})
	require.NoError(t, err)
	// 10 SOL against 2000 tokens
	assert.InEpsilon(t, 0.005, res.PriceSOL, 1e-12)
}

func TestDecodeAmmV4MissingVault(t *testing.T) {
	accounts, _ := ammV4Bundle(newKey(), 1, 1)
	for k, v := range accounts {
		if v.Owner.Equals(model.TokenProgramID) {
			delete(accounts, k)
			break
		}
	}

	_, err := DecodeAmmV4(model.Input{Accounts: accounts})
	assert.ErrorIs(t, err, model.ErrReservesMissing)
}

func cpmmData(vault0, vault1, mint0, mint1 solana.PublicKey) []byte {
	data := make([]byte, 637)
	copy(data, PoolStateDiscriminator)
	binary.WritePubKey(vault0, data, cpmmToken0VaultOffset)
	binary.WritePubKey(vault1, data, cpmmToken1VaultOffset)
	binary.WritePubKey(mint0, data, cpmmToken0MintOffset)
	binary.WritePubKey(mint1, data, cpmmToken1MintOffset)
	binary.WriteUint8(9, data, cpmmMint0DecimalsOffset)
	binary.WriteUint8(6, data, cpmmMint1DecimalsOffset)
	binary.WriteUint64LittleEndian(100, data, cpmmProtocolFees0Offset)
	binary.WriteUint64LittleEndian(50, data, cpmmFundFees0Offset)
	return data
}

func TestParseCPMMOffsets(t *testing.T) {
	vault0, vault1, mint0, mint1 := newKey(), newKey(), newKey(), newKey()
	data := cpmmData(vault0, vault1, mint0, mint1)

	st, err := ParseCPMM(data)
	require.NoError(t, err)
	// token_0_mint lives at bytes 168..200
	assert.Equal(t, mint0, binary.ReadPubKey(data, 168))
	assert.Equal(t, mint0, st.Token0Mint)
	assert.Equal(t, mint1, st.Token1Mint)
	assert.Equal(t, vault0, st.Token0Vault)
	assert.Equal(t, vault1, st.Token1Vault)
	assert.Equal(t, uint8(9), st.Mint0Decimals)
	assert.Equal(t, uint8(6), st.Mint1Decimals)

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xff
	_, err = ParseCPMM(bad)
	assert.ErrorIs(t, err, model.ErrDiscriminatorMismatch)

	_, err = ParseCPMM(data[:200])
	assert.ErrorIs(t, err, model.ErrAccountTooShort)
}

func TestDecodeCPMMExcludesFees(t *testing.T) {
	pool, vault0, vault1, token := newKey(), newKey(), newKey(), newKey()

	accounts := model.Accounts{
		pool:   {Pubkey: pool, Data: cpmmData(vault0, vault1, model.WrappedSOLMint, token), Owner: CPMMProgramID},
		vault0: tokenAccount(vault0, 1_000_000_150, 1),
		vault1: tokenAccount(vault1, 4_000_000, 1),
	}

	st, err := DecodeCPMM(model.Input{Accounts: accounts})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), st.Reserve0)
	assert.Equal(t, uint64(4_000_000), st.Reserve1)

	res, err := calc.Price(st, model.Input{
		BaseMint:  token,
		QuoteMint: model.WrappedSOLMint,
		Decimals:  decimalsMap{token: 6, model.WrappedSOLMint: 9},
	}, calc.Options{})
	require.NoError(t, err)
	// 1 SOL against 4 tokens
	assert.InEpsilon(t, 0.25, res.PriceSOL, 1e-12)
	assert.Equal(t, token, res.Mint)
}

func TestDecodeCPMMFeesNeverWrap(t *testing.T) {
	pool, vault0, vault1, token := newKey(), newKey(), newKey(), newKey()

	data := cpmmData(vault0, vault1, model.WrappedSOLMint, token)
	// protocol + fund fees would wrap to 0 if summed
	binary.WriteUint64LittleEndian(math.MaxUint64, data, cpmmProtocolFees1Offset)
	binary.WriteUint64LittleEndian(1, data, cpmmFundFees1Offset)

	accounts := model.Accounts{
		pool:   {Pubkey: pool, Data: data, Owner: CPMMProgramID},
		vault0: tokenAccount(vault0, 1_000_000_150, 1),
		vault1: tokenAccount(vault1, 4_000_000, 1),
	}

	st, err := DecodeCPMM(model.Input{Accounts: accounts})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), st.Reserve0)
	assert.Equal(t, uint64(0), st.Reserve1)
}

func TestDecodeCLMMSqrtPrice(t *testing.T) {
	pool, token := newKey(), newKey()
	sqrt := new(big.Int).Lsh(big.NewInt(1), 64)

	data := make([]byte, 1544)
	copy(data, PoolStateDiscriminator)
	binary.WritePubKey(token, data, clmmTokenMint0Offset)
	binary.WritePubKey(model.WrappedSOLMint, data, clmmTokenMint1Offset)
	binary.WriteUint8(6, data, clmmMintDecimals0Offset)
	binary.WriteUint8(9, data, clmmMintDecimals1Offset)
	binary.WriteUint16LittleEndian(60, data, clmmTickSpacingOffset)
	binary.WriteUint128LittleEndian(big.NewInt(5_000_000_000), data, clmmLiquidityOffset)
	binary.WriteUint128LittleEndian(sqrt, data, clmmSqrtPriceOffset)
	binary.WriteInt32LittleEndian(-6908, data, clmmTickCurrentOffset)

	parsed, err := ParseCLMM(data)
	require.NoError(t, err)
	assert.Equal(t, uint16(60), parsed.TickSpacing)
	assert.Equal(t, int32(-6908), parsed.TickCurrent)
	assert.Equal(t, 0, sqrt.Cmp(parsed.SqrtPriceX64))

	st, err := DecodeCLMM(model.Input{Accounts: model.Accounts{pool: {Pubkey: pool, Data: data, Owner: CLMMProgramID, Slot: 7}}})
	require.NoError(t, err)
	assert.Equal(t, model.FamilyConcentrated, st.Family)

	res, err := calc.Price(st, model.Input{
		BaseMint:  token,
		QuoteMint: model.WrappedSOLMint,
		Decimals:  decimalsMap{token: 6, model.WrappedSOLMint: 9},
	}, calc.Options{})
	require.NoError(t, err)
	assert.InEpsilon(t, 0.001, res.PriceSOL, 1e-9)
	assert.Equal(t, uint64(7), res.Slot)
}

func TestDecodeCLMMWrongOwner(t *testing.T) {
	pool := newKey()
	data := make([]byte, CLMMLayoutSize)
	copy(data, PoolStateDiscriminator)

	_, err := DecodeCLMM(model.Input{Accounts: model.Accounts{pool: {Pubkey: pool, Data: data, Owner: CPMMProgramID}}})
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}
