// internal/publish/latest.go
package publish

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

// LatestTable keeps the newest price per mint.
type LatestTable struct {
	mu     sync.RWMutex
	prices map[solana.PublicKey]*model.PriceResult
}

func NewLatestTable() *LatestTable {
	return &LatestTable{prices: make(map[solana.PublicKey]*model.PriceResult)}
}

// Publish stores res unless the table already holds a newer observation: a higher slot,
// or the same slot with a later timestamp.
func (t *LatestTable) Publish(_ context.Context, res *model.PriceResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.prices[res.Mint]; ok && !newer(res, cur) {
		return nil
	}
	t.prices[res.Mint] = res
	return nil
}

func newer(a, b *model.PriceResult) bool {
	if a.Slot != b.Slot {
		return a.Slot > b.Slot
	}
	return a.Timestamp.After(b.Timestamp)
}

// Latest returns the stored price for mint.
func (t *LatestTable) Latest(mint solana.PublicKey) (*model.PriceResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res, ok := t.prices[mint]
	return res, ok
}

// All returns every stored price ordered by mint.
func (t *LatestTable) All() []*model.PriceResult {
	t.mu.RLock()
	out := make([]*model.PriceResult, 0, len(t.prices))
	for _, res := range t.prices {
		out = append(out, res)
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b *model.PriceResult) int {
		return bytes.Compare(a.Mint[:], b.Mint[:])
	})
	return out
}

// Len returns the number of mints with a price.
func (t *LatestTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}
