// internal/pricing/quoter.go
package pricing

import (
	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/calc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

// LatestSource returns the most recent price for a mint.
type LatestSource interface {
	Latest(mint solana.PublicKey) (*model.PriceResult, bool)
}

// StableQuoter derives SOL/USD from the latest SOL price of a USD stablecoin.
type StableQuoter struct {
	Stable solana.PublicKey
	Source LatestSource
}

// SOLUSD implements USDQuoter.
func (q StableQuoter) SOLUSD() (float64, bool) {
	if q.Source == nil || q.Stable.IsZero() {
		return 0, false
	}
	res, ok := q.Source.Latest(q.Stable)
	if !ok || !calc.ValidPrice(res.PriceSOL) {
		return 0, false
	}
	return 1 / res.PriceSOL, true
}
