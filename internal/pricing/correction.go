// internal/pricing/correction.go
package pricing

import (
	"github.com/rovshanmuradov/solana-pricer/internal/dex/calc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

// Correction adjusts a decoded price. Implementations return a new result and leave
// the input untouched.
type Correction interface {
	Name() string
	Apply(res *model.PriceResult) *model.PriceResult
}

// NoCorrection passes results through.
type NoCorrection struct{}

func (NoCorrection) Name() string { return "none" }

func (NoCorrection) Apply(res *model.PriceResult) *model.PriceResult { return res }

// ScaleCorrection multiplies the SOL price of results from selected protocols by an
// empirical factor. Protocols without a factor pass through.
type ScaleCorrection struct {
	Factors map[string]float64
}

func (ScaleCorrection) Name() string { return "scale" }

func (s ScaleCorrection) Apply(res *model.PriceResult) *model.PriceResult {
	f, ok := s.Factors[res.SourcePool]
	if !ok || !calc.ValidPrice(f) || f == 1 {
		return res
	}

	out := *res
	out.PriceSOL = res.PriceSOL * f
	if res.QuoteMint.Equals(model.WrappedSOLMint) {
		out.Price = res.Price * f
	} else {
		out.Price = res.Price / f
	}
	out.Corrected = true
	return &out
}
