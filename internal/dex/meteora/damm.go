// internal/dex/meteora/damm.go
package meteora

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
)

// ProtocolDAMMv2 tags prices decoded from Meteora DAMM v2 pools.
const ProtocolDAMMv2 = "meteora_damm_v2"

var DAMMv2ProgramID = solana.MPK("cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG")

// PoolDiscriminator is the anchor discriminator of "Pool".
var PoolDiscriminator = []byte{241, 154, 109, 4, 17, 177, 109, 188}

// Pool layout: 8-byte discriminator, 160-byte fee struct, then mints and vaults.
const (
	tokenAMintOffset   = 168
	tokenBMintOffset   = 200
	tokenAVaultOffset  = 232
	tokenBVaultOffset  = 264
	liquidityOffset    = 360
	sqrtMinPriceOffset = 424
	sqrtMaxPriceOffset = 440
	sqrtPriceOffset    = 456

	DAMMv2LayoutSize = 472
)

// Pool holds the DAMM v2 fields used for pricing.
type Pool struct {
	TokenAMint   solana.PublicKey
	TokenBMint   solana.PublicKey
	TokenAVault  solana.PublicKey
	TokenBVault  solana.PublicKey
	Liquidity    *big.Int
	SqrtMinPrice *big.Int
	SqrtMaxPrice *big.Int
	SqrtPrice    *big.Int
}

// ParsePool decodes a DAMM v2 pool account.
func ParsePool(data []byte) (*Pool, error) {
	if err := binary.Require(data, DAMMv2LayoutSize); err != nil {
		return nil, fmt.Errorf("damm v2: %w: %v", model.ErrAccountTooShort, err)
	}
	if !binary.HasPrefix(data, PoolDiscriminator) {
		return nil, fmt.Errorf("damm v2: %w", model.ErrDiscriminatorMismatch)
	}

	return &Pool{
		TokenAMint:   binary.ReadPubKey(data, tokenAMintOffset),
		TokenBMint:   binary.ReadPubKey(data, tokenBMintOffset),
		TokenAVault:  binary.ReadPubKey(data, tokenAVaultOffset),
		TokenBVault:  binary.ReadPubKey(data, tokenBVaultOffset),
		Liquidity:    binary.ReadUint128LittleEndian(data, liquidityOffset),
		SqrtMinPrice: binary.ReadUint128LittleEndian(data, sqrtMinPriceOffset),
		SqrtMaxPrice: binary.ReadUint128LittleEndian(data, sqrtMaxPriceOffset),
		SqrtPrice:    binary.ReadUint128LittleEndian(data, sqrtPriceOffset),
	}, nil
}

// Decode needs only the pool account.
func Decode(in model.Input) (*model.PoolState, error) {
	acc, err := in.Accounts.PoolAccount(DAMMv2ProgramID, DAMMv2LayoutSize)
	if err != nil {
		return nil, err
	}
	p, err := ParsePool(acc.Data)
	if err != nil {
		return nil, err
	}

	return &model.PoolState{
		Protocol:     ProtocolDAMMv2,
		Family:       model.FamilyConcentrated,
		Pool:         acc.Pubkey,
		Slot:         acc.Slot,
		Mint0:        p.TokenAMint,
		Mint1:        p.TokenBMint,
		SqrtPriceX64: p.SqrtPrice,
		Liquidity:    p.Liquidity,
	}, nil
}
