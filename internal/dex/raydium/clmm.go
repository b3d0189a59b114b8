// internal/dex/raydium/clmm.go
package raydium

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
)

// ProtocolCLMM tags prices decoded from Raydium CLMM pools.
const ProtocolCLMM = "raydium_clmm"

var CLMMProgramID = solana.MPK("CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK")

const (
	clmmAmmConfigOffset     = 9
	clmmTokenMint0Offset    = 73
	clmmTokenMint1Offset    = 105
	clmmTokenVault0Offset   = 137
	clmmTokenVault1Offset   = 169
	clmmMintDecimals0Offset = 233
	clmmMintDecimals1Offset = 234
	clmmTickSpacingOffset   = 235
	clmmLiquidityOffset     = 237
	clmmSqrtPriceOffset     = 253
	clmmTickCurrentOffset   = 269

	CLMMLayoutSize = 273
)

// CLMMState holds the CLMM PoolState fields used for pricing.
type CLMMState struct {
	AmmConfig     solana.PublicKey
	TokenMint0    solana.PublicKey
	TokenMint1    solana.PublicKey
	TokenVault0   solana.PublicKey
	TokenVault1   solana.PublicKey
	MintDecimals0 uint8
	MintDecimals1 uint8
	TickSpacing   uint16
	Liquidity     *big.Int
	SqrtPriceX64  *big.Int
	TickCurrent   int32
}

// ParseCLMM decodes a CLMM PoolState account.
func ParseCLMM(data []byte) (*CLMMState, error) {
	if err := binary.Require(data, CLMMLayoutSize); err != nil {
		return nil, fmt.Errorf("clmm: %w: %v", model.ErrAccountTooShort, err)
	}
	if !binary.HasPrefix(data, PoolStateDiscriminator) {
		return nil, fmt.Errorf("clmm: %w", model.ErrDiscriminatorMismatch)
	}

	return &CLMMState{
		AmmConfig:     binary.ReadPubKey(data, clmmAmmConfigOffset),
		TokenMint0:    binary.ReadPubKey(data, clmmTokenMint0Offset),
		TokenMint1:    binary.ReadPubKey(data, clmmTokenMint1Offset),
		TokenVault0:   binary.ReadPubKey(data, clmmTokenVault0Offset),
		TokenVault1:   binary.ReadPubKey(data, clmmTokenVault1Offset),
		MintDecimals0: binary.ReadUint8(data, clmmMintDecimals0Offset),
		MintDecimals1: binary.ReadUint8(data, clmmMintDecimals1Offset),
		TickSpacing:   binary.ReadUint16LittleEndian(data, clmmTickSpacingOffset),
		Liquidity:     binary.ReadUint128LittleEndian(data, clmmLiquidityOffset),
		SqrtPriceX64:  binary.ReadUint128LittleEndian(data, clmmSqrtPriceOffset),
		TickCurrent:   binary.ReadInt32LittleEndian(data, clmmTickCurrentOffset),
	}, nil
}

// DecodeCLMM needs only the pool account: price lives in sqrt_price_x64.
func DecodeCLMM(in model.Input) (*model.PoolState, error) {
	acc, err := in.Accounts.PoolAccount(CLMMProgramID, CLMMLayoutSize)
	if err != nil {
		return nil, err
	}
	st, err := ParseCLMM(acc.Data)
	if err != nil {
		return nil, err
	}

	return &model.PoolState{
		Protocol:     ProtocolCLMM,
		Family:       model.FamilyConcentrated,
		Pool:         acc.Pubkey,
		Slot:         acc.Slot,
		Mint0:        st.TokenMint0,
		Mint1:        st.TokenMint1,
		SqrtPriceX64: st.SqrtPriceX64,
		Liquidity:    st.Liquidity,
	}, nil
}
