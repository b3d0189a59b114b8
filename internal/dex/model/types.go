// internal/dex/model/types.go
package model

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain"
)

var (
	// WrappedSOLMint is the quote side every priced pool is oriented against.
	WrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	// USDCMint is the default stable mint used to derive SOL/USD.
	USDCMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	TokenProgramID     = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PZnBkdzq8Ju7FY")
)

// PriceResult is one normalized price observation. It is created per successful decode
// and never mutated afterwards.
type PriceResult struct {
	Mint          solana.PublicKey `json:"mint"`
	Price         float64          `json:"price"` // requested base in QuoteMint units
	QuoteMint     solana.PublicKey `json:"quote_mint"`
	PriceSOL      float64          `json:"price_sol"`
	PriceUSD      float64          `json:"price_usd"`
	SOLReserves   float64          `json:"sol_reserves"`
	TokenReserves float64          `json:"token_reserves"`
	Confidence    float64          `json:"confidence"`
	SourcePool    string           `json:"source_pool"`
	PoolAddress   solana.PublicKey `json:"pool_address"`
	Slot          uint64           `json:"slot"`
	Timestamp     time.Time        `json:"timestamp"`
	Corrected     bool             `json:"corrected,omitempty"`
}

// DecimalsSource resolves token decimals. It must report false for unknown mints
// instead of returning a default.
type DecimalsSource interface {
	GetDecimals(mint solana.PublicKey) (uint8, bool)
}

// Accounts is the address -> snapshot view decoders read from.
type Accounts map[solana.PublicKey]*blockchain.AccountData

// Get returns the snapshot for addr, or nil.
func (a Accounts) Get(addr solana.PublicKey) *blockchain.AccountData {
	return a[addr]
}

// OwnedBy returns the accounts owned by program, ordered by address so the
// choice among several candidates is deterministic.
func (a Accounts) OwnedBy(program solana.PublicKey) []*blockchain.AccountData {
	var out []*blockchain.AccountData
	for _, acc := range a {
		if acc != nil && acc.Owner.Equals(program) {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Pubkey.String() < out[j].Pubkey.String()
	})
	return out
}

// Input is what a decoder receives for one price request.
type Input struct {
	Accounts  Accounts
	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey
	Decimals  DecimalsSource
}

// Family groups protocols by how reserves are represented.
type Family uint8

const (
	// FamilyConstantProduct reads reserves from vault token accounts.
	FamilyConstantProduct Family = iota
	// FamilyConcentrated derives price from a Q64.64 sqrt price and liquidity.
	FamilyConcentrated
	// FamilyEmbeddedReserves reads reserves stored inside the pool account.
	FamilyEmbeddedReserves
)

// PoolState is the decoded, protocol-independent view of a pool.
// Constant-product families fill Reserve0/Reserve1; concentrated pools fill
// SqrtPriceX64/Liquidity.
type PoolState struct {
	Protocol string
	Family   Family
	Pool     solana.PublicKey
	Slot     uint64

	Mint0 solana.PublicKey
	Mint1 solana.PublicKey

	Reserve0 uint64
	Reserve1 uint64

	SqrtPriceX64 *big.Int
	Liquidity    *big.Int
}

// PoolAccount returns the account owned by program that is large enough for a layout
// of minSize bytes.
func (a Accounts) PoolAccount(program solana.PublicKey, minSize int) (*blockchain.AccountData, error) {
	owned := a.OwnedBy(program)
	if len(owned) == 0 {
		return nil, fmt.Errorf("%w: owner %s", ErrAccountNotFound, program)
	}
	for _, acc := range owned {
		if len(acc.Data) >= minSize {
			return acc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has %d bytes, need %d", ErrAccountTooShort, owned[0].Pubkey, len(owned[0].Data), minSize)
}

// LatestFetch returns the newest FetchedAt across the set, or the zero time.
func (a Accounts) LatestFetch() time.Time {
	var latest time.Time
	for _, acc := range a {
		if acc != nil && acc.FetchedAt.After(latest) {
			latest = acc.FetchedAt
		}
	}
	return latest
}

// MaxSlot returns the highest slot among the given snapshots.
func MaxSlot(accs ...*blockchain.AccountData) uint64 {
	var slot uint64
	for _, acc := range accs {
		if acc != nil && acc.Slot > slot {
			slot = acc.Slot
		}
	}
	return slot
}
