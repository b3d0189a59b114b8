// internal/dex/orca/whirlpool.go
package orca

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
)

// ProtocolWhirlpool tags prices decoded from Orca Whirlpool pools.
const ProtocolWhirlpool = "orca_whirlpool"

var WhirlpoolProgramID = solana.MPK("whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc")

// WhirlpoolDiscriminator is the anchor discriminator of "Whirlpool".
var WhirlpoolDiscriminator = []byte{63, 149, 209, 12, 225, 128, 99, 9}

const (
	configOffset      = 8
	tickSpacingOffset = 41
	feeRateOffset     = 45
	protocolFeeOffset = 47
	liquidityOffset   = 49
	sqrtPriceOffset   = 65
	tickOffset        = 81
	tokenMintAOffset  = 101
	tokenVaultAOffset = 133
	tokenMintBOffset  = 181
	tokenVaultBOffset = 213

	WhirlpoolLayoutSize = 245
)

// Whirlpool holds the pool fields used for pricing.
type Whirlpool struct {
	Config      solana.PublicKey
	TickSpacing uint16
	FeeRate     uint16
	ProtocolFee uint16
	Liquidity   *big.Int
	SqrtPrice   *big.Int
	TickCurrent int32
	TokenMintA  solana.PublicKey
	TokenVaultA solana.PublicKey
	TokenMintB  solana.PublicKey
	TokenVaultB solana.PublicKey
}

// ParseWhirlpool decodes a Whirlpool account.
func ParseWhirlpool(data []byte) (*Whirlpool, error) {
	if err := binary.Require(data, WhirlpoolLayoutSize); err != nil {
		return nil, fmt.Errorf("whirlpool: %w: %v", model.ErrAccountTooShort, err)
	}
	if !binary.HasPrefix(data, WhirlpoolDiscriminator) {
		return nil, fmt.Errorf("whirlpool: %w", model.ErrDiscriminatorMismatch)
	}

	return &Whirlpool{
		Config:      binary.ReadPubKey(data, configOffset),
		TickSpacing: binary.ReadUint16LittleEndian(data, tickSpacingOffset),
		FeeRate:     binary.ReadUint16LittleEndian(data, feeRateOffset),
		ProtocolFee: binary.ReadUint16LittleEndian(data, protocolFeeOffset),
		Liquidity:   binary.ReadUint128LittleEndian(data, liquidityOffset),
		SqrtPrice:   binary.ReadUint128LittleEndian(data, sqrtPriceOffset),
		TickCurrent: binary.ReadInt32LittleEndian(data, tickOffset),
		TokenMintA:  binary.ReadPubKey(data, tokenMintAOffset),
		TokenVaultA: binary.ReadPubKey(data, tokenVaultAOffset),
		TokenMintB:  binary.ReadPubKey(data, tokenMintBOffset),
		TokenVaultB: binary.ReadPubKey(data, tokenVaultBOffset),
	}, nil
}

// Decode needs only the pool account.
func Decode(in model.Input) (*model.PoolState, error) {
	acc, err := in.Accounts.PoolAccount(WhirlpoolProgramID, WhirlpoolLayoutSize)
	if err != nil {
		return nil, err
	}
	w, err := ParseWhirlpool(acc.Data)
	if err != nil {
		return nil, err
	}

	return &model.PoolState{
		Protocol:     ProtocolWhirlpool,
		Family:       model.FamilyConcentrated,
		Pool:         acc.Pubkey,
		Slot:         acc.Slot,
		Mint0:        w.TokenMintA,
		Mint1:        w.TokenMintB,
		SqrtPriceX64: w.SqrtPrice,
		Liquidity:    w.Liquidity,
	}, nil
}
