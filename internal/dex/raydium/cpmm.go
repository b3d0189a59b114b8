// internal/dex/raydium/cpmm.go
package raydium

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/calc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
)

// ProtocolCPMM tags prices decoded from Raydium CPMM pools.
const ProtocolCPMM = "raydium_cpmm"

var CPMMProgramID = solana.MPK("CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C")

// PoolStateDiscriminator is the anchor discriminator of "PoolState", shared by CPMM and CLMM.
var PoolStateDiscriminator = []byte{247, 237, 227, 245, 215, 195, 222, 70}

const (
	cpmmAmmConfigOffset     = 8
	cpmmToken0VaultOffset   = 72
	cpmmToken1VaultOffset   = 104
	cpmmLPMintOffset        = 136
	cpmmToken0MintOffset    = 168
	cpmmToken1MintOffset    = 200
	cpmmStatusOffset        = 329
	cpmmMint0DecimalsOffset = 331
	cpmmMint1DecimalsOffset = 332
	cpmmProtocolFees0Offset = 341
	cpmmProtocolFees1Offset = 349
	cpmmFundFees0Offset     = 357
	cpmmFundFees1Offset     = 365

	CPMMLayoutSize = 373
)

// CPMMState holds the CPMM PoolState fields used for pricing.
type CPMMState struct {
	AmmConfig     solana.PublicKey
	Token0Vault   solana.PublicKey
	Token1Vault   solana.PublicKey
	LPMint        solana.PublicKey
	Token0Mint    solana.PublicKey
	Token1Mint    solana.PublicKey
	Status        uint8
	Mint0Decimals uint8
	Mint1Decimals uint8
	ProtocolFees0 uint64
	ProtocolFees1 uint64
	FundFees0     uint64
	FundFees1     uint64
}

// ParseCPMM decodes a CPMM PoolState account.
func ParseCPMM(data []byte) (*CPMMState, error) {
	if err := binary.Require(data, CPMMLayoutSize); err != nil {
		return nil, fmt.Errorf("cpmm: %w: %v", model.ErrAccountTooShort, err)
	}
	if !binary.HasPrefix(data, PoolStateDiscriminator) {
		return nil, fmt.Errorf("cpmm: %w", model.ErrDiscriminatorMismatch)
	}

	return &CPMMState{
		AmmConfig:     binary.ReadPubKey(data, cpmmAmmConfigOffset),
		Token0Vault:   binary.ReadPubKey(data, cpmmToken0VaultOffset),
		Token1Vault:   binary.ReadPubKey(data, cpmmToken1VaultOffset),
		LPMint:        binary.ReadPubKey(data, cpmmLPMintOffset),
		Token0Mint:    binary.ReadPubKey(data, cpmmToken0MintOffset),
		Token1Mint:    binary.ReadPubKey(data, cpmmToken1MintOffset),
		Status:        binary.ReadUint8(data, cpmmStatusOffset),
		Mint0Decimals: binary.ReadUint8(data, cpmmMint0DecimalsOffset),
		Mint1Decimals: binary.ReadUint8(data, cpmmMint1DecimalsOffset),
		ProtocolFees0: binary.ReadUint64LittleEndian(data, cpmmProtocolFees0Offset),
		ProtocolFees1: binary.ReadUint64LittleEndian(data, cpmmProtocolFees1Offset),
		FundFees0:     binary.ReadUint64LittleEndian(data, cpmmFundFees0Offset),
		FundFees1:     binary.ReadUint64LittleEndian(data, cpmmFundFees1Offset),
	}, nil
}

// DecodeCPMM reads pool state plus both vault balances. Accrued protocol and
// fund fees sit in the vaults but are not tradable liquidity.
func DecodeCPMM(in model.Input) (*model.PoolState, error) {
	acc, err := in.Accounts.PoolAccount(CPMMProgramID, CPMMLayoutSize)
	if err != nil {
		return nil, err
	}
	st, err := ParseCPMM(acc.Data)
	if err != nil {
		return nil, err
	}

	v0, v1, err := calc.VaultAmounts(in.Accounts, st.Token0Vault, st.Token1Vault)
	if err != nil {
		return nil, err
	}

	return &model.PoolState{
		Protocol: ProtocolCPMM,
		Family:   model.FamilyConstantProduct,
		Pool:     acc.Pubkey,
		Slot:     model.MaxSlot(acc, in.Accounts.Get(st.Token0Vault), in.Accounts.Get(st.Token1Vault)),
		Mint0:    st.Token0Mint,
		Mint1:    st.Token1Mint,
		Reserve0: calc.SaturatingSub(calc.SaturatingSub(v0, st.ProtocolFees0), st.FundFees0),
		Reserve1: calc.SaturatingSub(calc.SaturatingSub(v1, st.ProtocolFees1), st.FundFees1),
	}, nil
}
