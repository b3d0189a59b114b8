// internal/pool/bundle.go
package pool

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain"
)

// Bundle accumulates the fetched accounts needed to price one pool.
type Bundle struct {
	PoolID               solana.PublicKey
	Accounts             map[solana.PublicKey]*blockchain.AccountData
	LastUpdated          time.Time
	Slot                 uint64
	CalculationRequested bool
}

// NewBundle creates an empty bundle for poolID.
func NewBundle(poolID solana.PublicKey) *Bundle {
	return &Bundle{
		PoolID:   poolID,
		Accounts: make(map[solana.PublicKey]*blockchain.AccountData),
	}
}

// Insert stores acc, replacing any previous snapshot of the same address.
// Any write invalidates a pending calculation request.
func (b *Bundle) Insert(acc *blockchain.AccountData) {
	b.Accounts[acc.Pubkey] = acc
	b.CalculationRequested = false
	if acc.Slot > b.Slot {
		b.Slot = acc.Slot
	}
	if acc.FetchedAt.After(b.LastUpdated) {
		b.LastUpdated = acc.FetchedAt
	}
}

// IsComplete reports whether every reserve account of desc is present.
func (b *Bundle) IsComplete(desc Descriptor) bool {
	for _, acc := range desc.ReserveAccounts {
		if _, ok := b.Accounts[acc]; !ok {
			return false
		}
	}
	return true
}

// Missing lists the reserve accounts of desc not yet in the bundle.
func (b *Bundle) Missing(desc Descriptor) []solana.PublicKey {
	var out []solana.PublicKey
	for _, acc := range desc.ReserveAccounts {
		if _, ok := b.Accounts[acc]; !ok {
			out = append(out, acc)
		}
	}
	return out
}

// MarkRequested sets CalculationRequested on a complete bundle that has no request
// pending. It returns false when there is no new completeness edge to act on.
func (b *Bundle) MarkRequested(desc Descriptor) bool {
	if b.CalculationRequested || !b.IsComplete(desc) {
		return false
	}
	b.CalculationRequested = true
	return true
}

// Clone returns a deep copy, including every account's data buffer.
func (b *Bundle) Clone() *Bundle {
	c := &Bundle{
		PoolID:               b.PoolID,
		Accounts:             make(map[solana.PublicKey]*blockchain.AccountData, len(b.Accounts)),
		LastUpdated:          b.LastUpdated,
		Slot:                 b.Slot,
		CalculationRequested: b.CalculationRequested,
	}
	for k, v := range b.Accounts {
		c.Accounts[k] = v.Clone()
	}
	return c
}
