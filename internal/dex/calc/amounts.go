// internal/dex/calc/amounts.go
package calc

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
)

const (
	// TokenAccountAmountOffset is where an SPL token account stores its u64 amount.
	TokenAccountAmountOffset = 64
	tokenAccountMinSize      = TokenAccountAmountOffset + 8
)

// TokenAmount reads the raw amount of an SPL token account snapshot. The account
// must be owned by the Token or Token-2022 program.
func TokenAmount(acc *blockchain.AccountData) (uint64, error) {
	if acc == nil {
		return 0, model.ErrReservesMissing
	}
	if !acc.Owner.Equals(model.TokenProgramID) && !acc.Owner.Equals(model.Token2022ProgramID) {
		return 0, fmt.Errorf("token account %s owned by %s: %w", acc.Pubkey, acc.Owner, model.ErrNotTokenAccount)
	}
	if err := binary.Require(acc.Data, tokenAccountMinSize); err != nil {
		return 0, fmt.Errorf("token account %s: %w: %v", acc.Pubkey, model.ErrAccountTooShort, err)
	}
	return binary.ReadUint64LittleEndian(acc.Data, TokenAccountAmountOffset), nil
}

// VaultAmounts reads two vault balances from the bundle.
func VaultAmounts(accounts model.Accounts, vault0, vault1 solana.PublicKey) (uint64, uint64, error) {
	a0, err := TokenAmount(accounts.Get(vault0))
	if err != nil {
		return 0, 0, fmt.Errorf("vault %s: %w", vault0, err)
	}
	a1, err := TokenAmount(accounts.Get(vault1))
	if err != nil {
		return 0, 0, fmt.Errorf("vault %s: %w", vault1, err)
	}
	return a0, a1, nil
}

// SaturatingSub returns a-b, or 0 when b exceeds a.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// ToHuman converts a raw integer amount to token units.
func ToHuman(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}

// BigToHuman converts a raw big.Float amount to token units.
func BigToHuman(raw *big.Float, decimals uint8) float64 {
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f, _ := new(big.Float).Quo(raw, scale).Float64()
	return f
}
