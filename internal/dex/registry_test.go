package dex

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/calc"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/orca"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/raydium"
	"github.com/rovshanmuradov/solana-pricer/internal/publish"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/binary"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/metrics"
)

type decimalsMap map[solana.PublicKey]uint8

func (d decimalsMap) GetDecimals(mint solana.PublicKey) (uint8, bool) {
	v, ok := d[mint]
	return v, ok
}

var legacyProgram = solana.MustPublicKeyFromBase58("9W959DqEETiGZocYWCQPaJ6sBmUzgfxXfqGeTEdp3aQP")

func legacyPool(token solana.PublicKey, tokenReserve, solReserve uint64) (solana.PublicKey, model.Accounts) {
	pool := solana.NewWallet().PublicKey()
	data := make([]byte, 300)
	binary.WritePubKey(token, data, 168)
	binary.WritePubKey(model.WrappedSOLMint, data, 200)
	binary.WriteUint64LittleEndian(tokenReserve, data, 248)
	binary.WriteUint64LittleEndian(solReserve, data, 256)
	return pool, model.Accounts{pool: {Pubkey: pool, Owner: legacyProgram, Data: data, Slot: 5}}
}

func newRegistry(t *testing.T, dec model.DecimalsSource) (*Registry, *metrics.Collector) {
	m := metrics.NewCollector()
	return NewRegistry(dec, zaptest.NewLogger(t), Options{
		LegacyProgram: legacyProgram,
		Pricing:       calc.Options{FullConfidenceSOL: 100},
	}, m), m
}

func TestRegistryResolvesProtocols(t *testing.T) {
	r, _ := newRegistry(t, decimalsMap{})

	p, ok := r.Lookup(raydium.CPMMProgramID)
	assert.True(t, ok)
	assert.Equal(t, ProtocolRaydiumCPMM, p)
	assert.Equal(t, "raydium_cpmm", p.String())

	p, ok = r.Lookup(legacyProgram)
	assert.True(t, ok)
	assert.Equal(t, ProtocolLegacyAMM, p)

	assert.Len(t, r.Protocols(), 7)
	assert.False(t, r.Supports(solana.NewWallet().PublicKey()))
}

func TestRegistryWithoutLegacyProgram(t *testing.T) {
	r := NewRegistry(decimalsMap{}, zaptest.NewLogger(t), Options{}, nil)
	assert.Len(t, r.Protocols(), 6)
	assert.False(t, r.Supports(legacyProgram))
}

func TestRegistryLegacyProgramCannotShadowBuiltin(t *testing.T) {
	r := NewRegistry(decimalsMap{}, zaptest.NewLogger(t), Options{LegacyProgram: raydium.CPMMProgramID}, nil)
	p, ok := r.Lookup(raydium.CPMMProgramID)
	assert.True(t, ok)
	assert.Equal(t, ProtocolRaydiumCPMM, p)
	assert.Len(t, r.Protocols(), 6)
}

func TestRegistryUnsupportedProgram(t *testing.T) {
	r, m := newRegistry(t, decimalsMap{})
	_, accounts := legacyPool(solana.NewWallet().PublicKey(), 1, 1)

	_, err := r.Decode(solana.NewWallet().PublicKey(), accounts, solana.NewWallet().PublicKey(), model.WrappedSOLMint)
	assert.ErrorIs(t, err, model.ErrUnsupportedProgram)
	count, err := testutil.GatherAndCount(m.Registry(), "solana_pricer_decodes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegistryOrientationSymmetry(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	r, _ := newRegistry(t, decimalsMap{token: 6, model.WrappedSOLMint: 9})
	_, accounts := legacyPool(token, 5_000_000_000, 10_000_000)

	forward := r.DecodeAndCalculate(legacyProgram, accounts, token, model.WrappedSOLMint)
	reverse := r.DecodeAndCalculate(legacyProgram, accounts, model.WrappedSOLMint, token)
	require.NotNil(t, forward)
	require.NotNil(t, reverse)

	// 5000 tokens against 0.01 SOL
	assert.InEpsilon(t, 0.000002, forward.Price, 1e-9)
	assert.InEpsilon(t, 1/forward.Price, reverse.Price, 1e-9)
	assert.Equal(t, forward.PriceSOL, reverse.PriceSOL)
	assert.Equal(t, "legacy_amm", forward.SourcePool)
	assert.Equal(t, uint64(5), forward.Slot)
}

func TestRegistryDecimalsMissingFailsClosed(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	_, accounts := legacyPool(token, 5_000_000_000, 10_000_000)

	for name, dec := range map[string]decimalsMap{
		"token unknown": {model.WrappedSOLMint: 9},
		"sol unknown":   {token: 6},
	} {
		t.Run(name, func(t *testing.T) {
			r, _ := newRegistry(t, dec)
			_, err := r.Decode(legacyProgram, accounts, token, model.WrappedSOLMint)
			assert.ErrorIs(t, err, model.ErrDecimalsUnknown)
			assert.Nil(t, r.DecodeAndCalculate(legacyProgram, accounts, token, model.WrappedSOLMint))
		})
	}
}

func TestRegistryShortAccountIsMiss(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	r, m := newRegistry(t, decimalsMap{token: 6, model.WrappedSOLMint: 9})
	pool, accounts := legacyPool(token, 1, 1)
	accounts[pool].Data = accounts[pool].Data[:200]

	assert.Nil(t, r.DecodeAndCalculate(legacyProgram, accounts, token, model.WrappedSOLMint))

	expected := `
# HELP solana_pricer_decodes_total Decode attempts by protocol and result
# TYPE solana_pricer_decodes_total counter
solana_pricer_decodes_total{protocol="legacy_amm",result="too_short"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "solana_pricer_decodes_total"))
}

func TestRegistryWhirlpoolSqrtPrice(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	r, _ := newRegistry(t, decimalsMap{token: 6, model.WrappedSOLMint: 9})

	pool := solana.NewWallet().PublicKey()
	data := make([]byte, orca.WhirlpoolLayoutSize)
	copy(data, orca.WhirlpoolDiscriminator)
	binary.WriteUint128LittleEndian(big.NewInt(1_000_000_000), data, 49)
	binary.WriteUint128LittleEndian(new(big.Int).Lsh(big.NewInt(1), 64), data, 65)
	binary.WritePubKey(token, data, 101)
	binary.WritePubKey(model.WrappedSOLMint, data, 181)

	accounts := model.Accounts{pool: {Pubkey: pool, Owner: orca.WhirlpoolProgramID, Data: data}}

	res := r.DecodeAndCalculate(orca.WhirlpoolProgramID, accounts, token, model.WrappedSOLMint)
	require.NotNil(t, res)
	assert.InEpsilon(t, 0.001, res.PriceSOL, 1e-9)
	assert.Equal(t, pool, res.PoolAddress)
	assert.Equal(t, "orca_whirlpool", res.SourcePool)
}

func TestRegistryTimestampFollowsFetchTime(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	r, _ := newRegistry(t, decimalsMap{token: 6, model.WrappedSOLMint: 9})

	fetched := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	pool, older := legacyPool(token, 1_000_000, 1_000_000_000)
	older[pool].FetchedAt = fetched
	_, newer := legacyPool(token, 1_000_000, 2_000_000_000)
	for _, acc := range newer {
		acc.Pubkey = pool
		acc.FetchedAt = fetched.Add(time.Second)
	}

	// same slot, the newer snapshot finishes first
	latest := publish.NewLatestTable()
	first := r.DecodeAndCalculate(legacyProgram, newer, token, model.WrappedSOLMint)
	second := r.DecodeAndCalculate(legacyProgram, older, token, model.WrappedSOLMint)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, fetched.Add(time.Second), first.Timestamp)
	assert.Equal(t, fetched, second.Timestamp)

	require.NoError(t, latest.Publish(context.Background(), first))
	require.NoError(t, latest.Publish(context.Background(), second))

	got, ok := latest.Latest(token)
	require.True(t, ok)
	assert.InEpsilon(t, 2.0, got.PriceSOL, 1e-9)
}
