// internal/dex/calc/price.go
package calc

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

const (
	floatPrec       = 256
	divisionScale   = 30
	minConfidence   = 0.01
	defaultFullSOL  = 100.0
	weightConcentr  = 0.9
	weightEmbedded  = 0.8
	weightConstProd = 1.0
)

var q64 = new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Lsh(big.NewInt(1), 64))

// Options tunes confidence scoring.
type Options struct {
	// FullConfidenceSOL is the SOL-side depth at which liquidity stops lowering confidence.
	FullConfidenceSOL float64
}

// ValidPrice reports whether p is usable: positive and finite.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

func pow10(exp int) *big.Float {
	abs := exp
	if abs < 0 {
		abs = -abs
	}
	v := new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs)), nil))
	if exp < 0 {
		return new(big.Float).SetPrec(floatPrec).Quo(big.NewFloat(1), v)
	}
	return v
}

// SqrtPriceX64ToPrice converts a Q64.64 sqrt price into the human price of
// token0 expressed in token1: (sqrt/2^64)^2 * 10^(decimals0-decimals1).
func SqrtPriceX64ToPrice(sqrtPriceX64 *big.Int, decimals0, decimals1 uint8) float64 {
	s := new(big.Float).SetPrec(floatPrec).SetInt(sqrtPriceX64)
	s.Quo(s, q64)
	p := new(big.Float).SetPrec(floatPrec).Mul(s, s)
	p.Mul(p, pow10(int(decimals0)-int(decimals1)))
	f, _ := p.Float64()
	return f
}

// VirtualReserves returns the raw token0/token1 amounts a constant-product pool
// would hold at the same price and depth: L/sqrtP and L*sqrtP.
func VirtualReserves(liquidity, sqrtPriceX64 *big.Int) (*big.Float, *big.Float) {
	s := new(big.Float).SetPrec(floatPrec).SetInt(sqrtPriceX64)
	s.Quo(s, q64)
	l := new(big.Float).SetPrec(floatPrec).SetInt(liquidity)

	r0 := new(big.Float).SetPrec(floatPrec).Quo(l, s)
	r1 := new(big.Float).SetPrec(floatPrec).Mul(l, s)
	return r0, r1
}

// ConstantProductPrice returns the token price in SOL and both reserves in human units.
func ConstantProductPrice(tokenRaw, solRaw uint64, tokenDecimals, solDecimals uint8) (price, tokenHuman, solHuman decimal.Decimal) {
	tokenHuman = ToHuman(tokenRaw, tokenDecimals)
	solHuman = ToHuman(solRaw, solDecimals)
	if tokenHuman.IsZero() {
		return decimal.Zero, tokenHuman, solHuman
	}
	return solHuman.DivRound(tokenHuman, divisionScale), tokenHuman, solHuman
}

// Confidence scores a price by protocol family and SOL-side depth, in [0.01, 1].
func Confidence(family model.Family, solReserves float64, opts Options) float64 {
	full := opts.FullConfidenceSOL
	if full <= 0 {
		full = defaultFullSOL
	}

	weight := weightConstProd
	switch family {
	case model.FamilyConcentrated:
		weight = weightConcentr
	case model.FamilyEmbeddedReserves:
		weight = weightEmbedded
	}

	depth := solReserves / full
	if depth > 1 || math.IsInf(depth, 1) {
		depth = 1
	}
	if depth < 0 || math.IsNaN(depth) {
		depth = 0
	}
	return math.Max(minConfidence, weight*depth)
}

// tokenSide returns 0 when mint0 is the priced token (mint1 is SOL) and 1 otherwise.
func tokenSide(state *model.PoolState) (int, error) {
	switch {
	case state.Mint0.Equals(state.Mint1):
		return 0, fmt.Errorf("%w: both sides are %s", model.ErrMintMismatch, state.Mint0)
	case state.Mint1.Equals(model.WrappedSOLMint):
		return 0, nil
	case state.Mint0.Equals(model.WrappedSOLMint):
		return 1, nil
	}
	return 0, fmt.Errorf("%w: %s/%s", model.ErrNoQuoteMint, state.Mint0, state.Mint1)
}

func matchRequest(token, base, quote solana.PublicKey) error {
	switch {
	case token.Equals(base) && quote.Equals(model.WrappedSOLMint):
		return nil
	case token.Equals(quote) && base.Equals(model.WrappedSOLMint):
		return nil
	}
	return fmt.Errorf("%w: pool token %s, requested %s/%s", model.ErrMintMismatch, token, base, quote)
}

func lookupDecimals(src model.DecimalsSource, mint solana.PublicKey) (uint8, error) {
	if src == nil {
		return 0, fmt.Errorf("%w: no decimals source", model.ErrDecimalsUnknown)
	}
	d, ok := src.GetDecimals(mint)
	if !ok {
		return 0, fmt.Errorf("%w: %s", model.ErrDecimalsUnknown, mint)
	}
	return d, nil
}

// Price turns a decoded pool state into a PriceResult for the requested pair.
// Price is base expressed in quote; PriceSOL is always the token expressed in SOL.
func Price(state *model.PoolState, in model.Input, opts Options) (*model.PriceResult, error) {
	side, err := tokenSide(state)
	if err != nil {
		return nil, err
	}

	token := state.Mint0
	if side == 1 {
		token = state.Mint1
	}
	if err := matchRequest(token, in.BaseMint, in.QuoteMint); err != nil {
		return nil, err
	}

	dec0, err := lookupDecimals(in.Decimals, state.Mint0)
	if err != nil {
		return nil, err
	}
	dec1, err := lookupDecimals(in.Decimals, state.Mint1)
	if err != nil {
		return nil, err
	}

	var priceSOL, tokenReserves, solReserves float64

	switch state.Family {
	case model.FamilyConcentrated:
		if state.SqrtPriceX64 == nil || state.SqrtPriceX64.Sign() <= 0 {
			return nil, fmt.Errorf("%w: zero sqrt price", model.ErrInvalidPrice)
		}
		p01 := SqrtPriceX64ToPrice(state.SqrtPriceX64, dec0, dec1)
		priceSOL = p01
		if side == 1 {
			priceSOL = 1 / p01
		}

		if state.Liquidity != nil && state.Liquidity.Sign() > 0 {
			r0, r1 := VirtualReserves(state.Liquidity, state.SqrtPriceX64)
			h0, h1 := BigToHuman(r0, dec0), BigToHuman(r1, dec1)
			tokenReserves, solReserves = h0, h1
			if side == 1 {
				tokenReserves, solReserves = h1, h0
			}
		}

	default:
		tokenRaw, solRaw := state.Reserve0, state.Reserve1
		tokenDec, solDec := dec0, dec1
		if side == 1 {
			tokenRaw, solRaw = state.Reserve1, state.Reserve0
			tokenDec, solDec = dec1, dec0
		}
		if tokenRaw == 0 || solRaw == 0 {
			return nil, fmt.Errorf("%w: empty reserves %d/%d", model.ErrInvalidPrice, tokenRaw, solRaw)
		}

		p, th, sh := ConstantProductPrice(tokenRaw, solRaw, tokenDec, solDec)
		priceSOL = p.InexactFloat64()
		tokenReserves = th.InexactFloat64()
		solReserves = sh.InexactFloat64()
	}

	if !ValidPrice(priceSOL) {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidPrice, priceSOL)
	}

	price := priceSOL
	if in.BaseMint.Equals(model.WrappedSOLMint) {
		price = 1 / priceSOL
	}
	if !ValidPrice(price) {
		return nil, fmt.Errorf("%w: inverted %v", model.ErrInvalidPrice, price)
	}

	observed := in.Accounts.LatestFetch()
	if observed.IsZero() {
		observed = time.Now()
	}

	return &model.PriceResult{
		Mint:          token,
		Price:         price,
		QuoteMint:     in.QuoteMint,
		PriceSOL:      priceSOL,
		SOLReserves:   solReserves,
		TokenReserves: tokenReserves,
		Confidence:    Confidence(state.Family, solReserves, opts),
		SourcePool:    state.Protocol,
		PoolAddress:   state.Pool,
		Slot:          state.Slot,
		Timestamp:     observed.UTC(),
	}, nil
}
