// internal/dex/registry.go
package dex

import (
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/calc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/legacy"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/meteora"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/orca"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/pumpswap"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/raydium"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/metrics"
)

// Protocol is the closed set of pool layouts the registry can decode.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolRaydiumAmmV4
	ProtocolRaydiumCPMM
	ProtocolRaydiumCLMM
	ProtocolOrcaWhirlpool
	ProtocolMeteoraDAMMv2
	ProtocolPumpSwap
	ProtocolLegacyAMM
)

// String returns the source tag carried by PriceResult.SourcePool.
func (p Protocol) String() string {
	switch p {
	case ProtocolRaydiumAmmV4:
		return raydium.ProtocolAmmV4
	case ProtocolRaydiumCPMM:
		return raydium.ProtocolCPMM
	case ProtocolRaydiumCLMM:
		return raydium.ProtocolCLMM
	case ProtocolOrcaWhirlpool:
		return orca.ProtocolWhirlpool
	case ProtocolMeteoraDAMMv2:
		return meteora.ProtocolDAMMv2
	case ProtocolPumpSwap:
		return pumpswap.ProtocolPumpSwap
	case ProtocolLegacyAMM:
		return legacy.ProtocolLegacy
	default:
		return "unknown"
	}
}

// DecodeFunc turns the accounts of one pool into a protocol-independent state.
type DecodeFunc func(in model.Input) (*model.PoolState, error)

type decoder struct {
	protocol Protocol
	decode   DecodeFunc
}

// Options configures NewRegistry.
type Options struct {
	// LegacyProgram enables the embedded-reserves layout for this program. Zero disables it.
	LegacyProgram solana.PublicKey
	Pricing       calc.Options
}

// Registry maps owning program ids to decoders. It is built once and read-only afterwards,
// so lookups need no locking.
type Registry struct {
	decoders map[solana.PublicKey]decoder
	decimals model.DecimalsSource
	opts     calc.Options
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewRegistry builds the program -> decoder table.
func NewRegistry(decimals model.DecimalsSource, logger *zap.Logger, opts Options, m *metrics.Collector) *Registry {
	r := &Registry{
		decoders: map[solana.PublicKey]decoder{
			raydium.AmmV4ProgramID:  {ProtocolRaydiumAmmV4, raydium.DecodeAmmV4},
			raydium.CPMMProgramID:   {ProtocolRaydiumCPMM, raydium.DecodeCPMM},
			raydium.CLMMProgramID:   {ProtocolRaydiumCLMM, raydium.DecodeCLMM},
			orca.WhirlpoolProgramID: {ProtocolOrcaWhirlpool, orca.Decode},
			meteora.DAMMv2ProgramID: {ProtocolMeteoraDAMMv2, meteora.Decode},
			pumpswap.ProgramID:      {ProtocolPumpSwap, pumpswap.Decode},
		},
		decimals: decimals,
		opts:     opts.Pricing,
		logger:   logger.Named("decoder-registry"),
		metrics:  m,
	}

	if !opts.LegacyProgram.IsZero() {
		ld := legacy.NewDecoder(opts.LegacyProgram)
		if _, taken := r.decoders[ld.ProgramID()]; taken {
			r.logger.Warn("Legacy AMM program collides with a built-in decoder, ignoring",
				zap.String("program", ld.ProgramID().String()))
		} else {
			r.decoders[ld.ProgramID()] = decoder{ProtocolLegacyAMM, ld.Decode}
		}
	}

	r.logger.Info("Decoder registry built", zap.Strings("protocols", r.Protocols()))
	return r
}

// Lookup reports which protocol decodes pools owned by programID.
func (r *Registry) Lookup(programID solana.PublicKey) (Protocol, bool) {
	d, ok := r.decoders[programID]
	return d.protocol, ok
}

// Supports reports whether programID has a decoder.
func (r *Registry) Supports(programID solana.PublicKey) bool {
	_, ok := r.decoders[programID]
	return ok
}

// Protocols lists the registered protocol tags, sorted.
func (r *Registry) Protocols() []string {
	out := make([]string, 0, len(r.decoders))
	for _, d := range r.decoders {
		out = append(out, d.protocol.String())
	}
	sort.Strings(out)
	return out
}

// Decode selects the decoder by programID and prices the pool for base/quote.
// Every error is a decode miss; callers treat it as "no price this time".
func (r *Registry) Decode(programID solana.PublicKey, accounts model.Accounts, base, quote solana.PublicKey) (*model.PriceResult, error) {
	d, ok := r.decoders[programID]
	if !ok {
		r.metrics.RecordDecode("unknown", model.Reason(model.ErrUnsupportedProgram))
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedProgram, programID)
	}

	in := model.Input{
		Accounts:  accounts,
		BaseMint:  base,
		QuoteMint: quote,
		Decimals:  r.decimals,
	}

	res, err := r.decode(d, in)
	r.metrics.RecordDecode(d.protocol.String(), model.Reason(err))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.protocol, err)
	}
	return res, nil
}

func (r *Registry) decode(d decoder, in model.Input) (*model.PriceResult, error) {
	state, err := d.decode(in)
	if err != nil {
		return nil, err
	}
	return calc.Price(state, in, r.opts)
}

// DecodeAndCalculate is Decode with misses collapsed to nil and logged at debug level.
func (r *Registry) DecodeAndCalculate(programID solana.PublicKey, accounts model.Accounts, base, quote solana.PublicKey) *model.PriceResult {
	res, err := r.Decode(programID, accounts, base, quote)
	if err != nil {
		r.logger.Debug("Decode miss",
			zap.String("program", programID.String()),
			zap.String("base", base.String()),
			zap.String("quote", quote.String()),
			zap.String("reason", model.Reason(err)),
			zap.Error(err))
		return nil
	}
	return res
}
