// internal/pool/directory.go
package pool

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Directory maps pool id to descriptor. It is written rarely by discovery and read by
// the fetcher and diagnostics.
type Directory struct {
	mu        sync.RWMutex
	pools     map[solana.PublicKey]Descriptor
	byAccount map[solana.PublicKey][]solana.PublicKey // reserve account -> pool ids
	logger    *zap.Logger
}

// NewDirectory creates an empty directory.
func NewDirectory(logger *zap.Logger) *Directory {
	return &Directory{
		pools:     make(map[solana.PublicKey]Descriptor),
		byAccount: make(map[solana.PublicKey][]solana.PublicKey),
		logger:    logger.Named("pool-directory"),
	}
}

// Upsert adds a descriptor, or replaces one whose reserve set is unchanged.
func (d *Directory) Upsert(desc Descriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("pool %s: %w", desc.PoolID, err)
	}
	desc = desc.Clone()

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.pools[desc.PoolID]; ok {
		if !sameReserveSet(existing.ReserveAccounts, desc.ReserveAccounts) {
			return fmt.Errorf("pool %s: %w", desc.PoolID, ErrReserveSetChanged)
		}
		d.pools[desc.PoolID] = desc
		return nil
	}

	d.pools[desc.PoolID] = desc
	for _, acc := range desc.ReserveAccounts {
		d.byAccount[acc] = append(d.byAccount[acc], desc.PoolID)
	}

	d.logger.Info("Pool registered",
		zap.String("pool", desc.PoolID.String()),
		zap.String("program", desc.ProgramID.String()),
		zap.Int("reserve_accounts", len(desc.ReserveAccounts)))
	return nil
}

// Remove drops a pool. It reports whether the pool was present.
func (d *Directory) Remove(poolID solana.PublicKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	desc, ok := d.pools[poolID]
	if !ok {
		return false
	}
	delete(d.pools, poolID)

	for _, acc := range desc.ReserveAccounts {
		ids := d.byAccount[acc]
		kept := ids[:0]
		for _, id := range ids {
			if !id.Equals(poolID) {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(d.byAccount, acc)
		} else {
			d.byAccount[acc] = kept
		}
	}

	d.logger.Info("Pool removed", zap.String("pool", poolID.String()))
	return true
}

// Get returns a copy of the descriptor for poolID.
func (d *Directory) Get(poolID solana.PublicKey) (Descriptor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	desc, ok := d.pools[poolID]
	if !ok {
		return Descriptor{}, false
	}
	return desc.Clone(), true
}

// All returns a snapshot of every descriptor.
func (d *Directory) All() []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Descriptor, 0, len(d.pools))
	for _, desc := range d.pools {
		out = append(out, desc.Clone())
	}
	return out
}

// PoolsForAccount returns every descriptor whose reserve accounts contain addr.
func (d *Directory) PoolsForAccount(addr solana.PublicKey) []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := d.byAccount[addr]
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.pools[id].Clone())
	}
	return out
}

// PoolsForMints returns every descriptor whose pair involves one of mints.
func (d *Directory) PoolsForMints(mints ...solana.PublicKey) []Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Descriptor
	for _, desc := range d.pools {
		for _, m := range mints {
			if desc.Involves(m) {
				out = append(out, desc.Clone())
				break
			}
		}
	}
	return out
}

// Len returns the number of registered pools.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pools)
}
