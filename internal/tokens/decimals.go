// internal/tokens/decimals.go
package tokens

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

const (
	DefaultCacheSize = 10_000
	solDecimals      = 9
)

// DecimalsCache holds mint decimals learned from chain. It reports unknown mints as
// missing and never substitutes a default.
type DecimalsCache struct {
	store *lru.Cache[solana.PublicKey, uint8]
}

// NewDecimalsCache creates a cache of the given capacity with wrapped SOL preloaded.
func NewDecimalsCache(size int) (*DecimalsCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	store, err := lru.New[solana.PublicKey, uint8](size)
	if err != nil {
		return nil, fmt.Errorf("create decimals cache: %w", err)
	}
	c := &DecimalsCache{store: store}
	c.Set(model.WrappedSOLMint, solDecimals)
	return c, nil
}

// GetDecimals implements model.DecimalsSource.
func (c *DecimalsCache) GetDecimals(mint solana.PublicKey) (uint8, bool) {
	if mint.Equals(model.WrappedSOLMint) {
		return solDecimals, true
	}
	return c.store.Get(mint)
}

// Set records decimals for mint.
func (c *DecimalsCache) Set(mint solana.PublicKey, decimals uint8) {
	c.store.Add(mint, decimals)
}

// Missing returns the mints from the input that are not cached, without duplicates.
func (c *DecimalsCache) Missing(mints ...solana.PublicKey) []solana.PublicKey {
	seen := make(map[solana.PublicKey]struct{}, len(mints))
	var out []solana.PublicKey
	for _, m := range mints {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		if _, ok := c.GetDecimals(m); !ok {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of cached mints.
func (c *DecimalsCache) Len() int {
	return c.store.Len()
}
