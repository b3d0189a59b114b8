package fetcher

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/pool"
	"github.com/rovshanmuradov/solana-pricer/internal/tokens"
)

// fakeTransport serves accounts from a map and records every batch it receives.
type fakeTransport struct {
	mu       sync.Mutex
	max      int
	accounts map[solana.PublicKey][]byte
	failFor  map[solana.PublicKey]bool
	calls    [][]solana.PublicKey
}

func newFakeTransport(max int) *fakeTransport {
	return &fakeTransport{
		max:      max,
		accounts: make(map[solana.PublicKey][]byte),
		failFor:  make(map[solana.PublicKey]bool),
	}
}

func (t *fakeTransport) MaxBatchSize() int { return t.max }

func (t *fakeTransport) set(addr solana.PublicKey, data []byte) {
	t.mu.Lock()
	t.accounts[addr] = data
	t.mu.Unlock()
}

func (t *fakeTransport) GetMultipleAccounts(_ context.Context, addresses []solana.PublicKey) ([]*blockchain.AccountData, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = append(t.calls, append([]solana.PublicKey(nil), addresses...))
	for _, a := range addresses {
		if t.failFor[a] {
			return nil, errors.New("all endpoints failed")
		}
	}

	out := make([]*blockchain.AccountData, len(addresses))
	for i, a := range addresses {
		if data, ok := t.accounts[a]; ok {
			out[i] = &blockchain.AccountData{Pubkey: a, Data: append([]byte(nil), data...), Slot: 10}
		}
	}
	return out, nil
}

func (t *fakeTransport) callSizes() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	sizes := make([]int, len(t.calls))
	for i, c := range t.calls {
		sizes[i] = len(c)
	}
	return sizes
}

type fakeDispatcher struct {
	mu     sync.Mutex
	accept bool
	jobs   []*pool.Bundle
}

func (d *fakeDispatcher) Dispatch(_ pool.Descriptor, b *pool.Bundle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.accept {
		return false
	}
	d.jobs = append(d.jobs, b)
	return true
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func key() solana.PublicKey { return solana.NewWallet().PublicKey() }

func descriptor(base solana.PublicKey, accounts ...solana.PublicKey) pool.Descriptor {
	return pool.Descriptor{
		PoolID:          accounts[0],
		ProgramID:       key(),
		BaseMint:        base,
		QuoteMint:       model.WrappedSOLMint,
		ReserveAccounts: accounts,
	}
}

type harness struct {
	f          *Fetcher
	dir        *pool.Directory
	transport  *fakeTransport
	dispatcher *fakeDispatcher
	positions  *tokens.Positions
	now        time.Time
}

func newHarness(t *testing.T, max int) *harness {
	t.Helper()
	h := &harness{
		dir:        pool.NewDirectory(zaptest.NewLogger(t)),
		transport:  newFakeTransport(max),
		dispatcher: &fakeDispatcher{accept: true},
		positions:  tokens.NewPositions(),
		now:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	h.f = New(Config{ChunkDelay: -1, RequestBuffer: 8}, h.dir, h.transport, h.positions, h.dispatcher, zaptest.NewLogger(t), nil)
	h.f.clock = func() time.Time { return h.now }
	return h
}

func contains(list []solana.PublicKey, k solana.PublicKey) bool {
	for _, v := range list {
		if v.Equals(k) {
			return true
		}
	}
	return false
}

func TestStalenessThresholds(t *testing.T) {
	h := newHarness(t, 100)
	held, other := key(), key()
	heldPool := descriptor(held, key(), key())
	otherPool := descriptor(other, key(), key())
	require.NoError(t, h.dir.Upsert(heldPool))
	require.NoError(t, h.dir.Upsert(otherPool))
	h.positions.Open(held)

	t0 := h.now
	h.f.recordFetch(append(heldPool.ReserveAccounts, otherPool.ReserveAccounts...), t0)

	pending := h.f.pendingSet(t0.Add(6 * time.Second))
	for _, a := range heldPool.ReserveAccounts {
		assert.True(t, contains(pending, a), "position pool account must be stale after 6s")
	}
	for _, a := range otherPool.ReserveAccounts {
		assert.False(t, contains(pending, a), "default pool account is fresh at 6s")
	}

	pending = h.f.pendingSet(t0.Add(4 * time.Second))
	assert.Empty(t, pending)

	pending = h.f.pendingSet(t0.Add(31 * time.Second))
	assert.Len(t, pending, 4)
}

func TestNeverFetchedIsStale(t *testing.T) {
	h := newHarness(t, 100)
	desc := descriptor(key(), key(), key())
	require.NoError(t, h.dir.Upsert(desc))

	pending := h.f.pendingSet(h.now)
	assert.ElementsMatch(t, desc.ReserveAccounts, pending)
}

func TestBatchCeiling(t *testing.T) {
	h := newHarness(t, 100)
	addrs := make([]solana.PublicKey, 250)
	for i := range addrs {
		addrs[i] = key()
	}
	require.NoError(t, h.dir.Upsert(descriptor(key(), addrs[0])))
	require.True(t, h.f.RequestAccountsFetch(addrs))

	stats := h.f.runCycle(context.Background())
	assert.Equal(t, 250, stats.Pending)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 250, stats.Missing)

	total := 0
	for _, n := range h.transport.callSizes() {
		assert.LessOrEqual(t, n, 100)
		total += n
	}
	assert.Equal(t, 250, total)

	// missing pool accounts still count as fetched for staleness
	_, ok := h.f.LastFetched(addrs[0])
	assert.True(t, ok)
	_, ok = h.f.LastFetched(addrs[1])
	assert.False(t, ok, "addresses outside every pool are not stamped")
}

func TestCompletenessGating(t *testing.T) {
	h := newHarness(t, 100)
	a, b, c := key(), key(), key()
	desc := descriptor(key(), a, b, c)
	require.NoError(t, h.dir.Upsert(desc))
	h.transport.set(a, []byte{1})
	h.transport.set(b, []byte{2})

	h.f.runCycle(context.Background())
	bundle, ok := h.f.GetPoolBundle(desc.PoolID)
	require.True(t, ok)
	assert.False(t, bundle.IsComplete(desc))
	assert.Equal(t, []solana.PublicKey{c}, bundle.Missing(desc))
	assert.Equal(t, 0, h.dispatcher.count())

	h.transport.set(c, []byte{3})
	h.f.RequestAccountsFetch([]solana.PublicKey{c})
	stats := h.f.runCycle(context.Background())
	assert.Equal(t, 1, stats.Dispatched)
	assert.Equal(t, 1, h.dispatcher.count())

	// nothing new: no second dispatch
	h.f.runCycle(context.Background())
	assert.Equal(t, 1, h.dispatcher.count())

	h.transport.set(c, []byte{4})
	h.f.RequestAccountsFetch([]solana.PublicKey{c})
	h.f.runCycle(context.Background())
	require.Equal(t, 2, h.dispatcher.count())
	assert.Equal(t, []byte{4}, h.dispatcher.jobs[1].Accounts[c].Data)
}

func TestRejectedDispatchLeavesFlagClear(t *testing.T) {
	h := newHarness(t, 100)
	desc := descriptor(key(), key())
	require.NoError(t, h.dir.Upsert(desc))
	h.transport.set(desc.PoolID, []byte{1})
	h.dispatcher.accept = false

	stats := h.f.runCycle(context.Background())
	assert.Equal(t, 1, stats.DispatchDropped)

	bundle, ok := h.f.GetPoolBundle(desc.PoolID)
	require.True(t, ok)
	assert.True(t, bundle.IsComplete(desc))
	assert.False(t, bundle.CalculationRequested)

	h.dispatcher.accept = true
	h.f.RequestPoolFetch(desc.PoolID, nil)
	stats = h.f.runCycle(context.Background())
	assert.Equal(t, 1, stats.Dispatched)
}

func TestSharedVaultIsClonedPerBundle(t *testing.T) {
	h := newHarness(t, 100)
	shared := key()
	p1 := descriptor(key(), key(), shared)
	p2 := descriptor(key(), key(), shared)
	require.NoError(t, h.dir.Upsert(p1))
	require.NoError(t, h.dir.Upsert(p2))
	for _, a := range []solana.PublicKey{p1.PoolID, p2.PoolID, shared} {
		h.transport.set(a, []byte{7, 7, 7})
	}

	h.f.runCycle(context.Background())
	assert.Equal(t, 2, h.dispatcher.count())

	h.f.bundlesMu.RLock()
	defer h.f.bundlesMu.RUnlock()
	v1 := h.f.bundles[p1.PoolID].Accounts[shared]
	v2 := h.f.bundles[p2.PoolID].Accounts[shared]
	require.NotNil(t, v1)
	require.NotNil(t, v2)
	assert.NotSame(t, v1, v2)
	assert.NotSame(t, &v1.Data[0], &v2.Data[0])

	v1.Data[0] = 0
	assert.Equal(t, byte(7), v2.Data[0])
}

func TestChunkFailureContinues(t *testing.T) {
	h := newHarness(t, 100)
	addrs := make([]solana.PublicKey, 150)
	for i := range addrs {
		addrs[i] = key()
		h.transport.set(addrs[i], []byte{1})
	}
	require.True(t, h.f.RequestAccountsFetch(addrs))

	// addresses are chunked in sorted order; fail the chunk holding the smallest one
	sorted := slices.Clone(addrs)
	slices.SortFunc(sorted, func(a, b solana.PublicKey) int { return bytes.Compare(a[:], b[:]) })
	h.transport.failFor[sorted[0]] = true

	stats := h.f.runCycle(context.Background())
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 1, stats.FailedChunks)
	assert.Equal(t, 50, stats.Fetched)

	// the failed chunk's explicit addresses are retried next tick
	assert.Len(t, h.f.explicit, 100)
	_, ok := h.f.LastFetched(sorted[0])
	assert.False(t, ok)
}

func TestFetchPoolExpandsReserveAccounts(t *testing.T) {
	h := newHarness(t, 100)
	desc := descriptor(key(), key(), key(), key())
	require.NoError(t, h.dir.Upsert(desc))
	h.f.recordFetch(desc.ReserveAccounts, h.now)

	require.True(t, h.f.RequestPoolFetch(desc.PoolID, nil))
	stats := h.f.runCycle(context.Background())
	assert.Equal(t, 3, stats.Pending)

	require.True(t, h.f.RequestPoolFetch(key(), nil))
	stats = h.f.runCycle(context.Background())
	assert.Equal(t, 0, stats.Pending, "unknown pool expands to nothing")
}

func TestRemovedPoolBundleIsPruned(t *testing.T) {
	h := newHarness(t, 100)
	desc := descriptor(key(), key())
	require.NoError(t, h.dir.Upsert(desc))
	h.transport.set(desc.PoolID, []byte{1})
	h.f.runCycle(context.Background())
	require.Len(t, h.f.GetAllBundles(), 1)

	h.dir.Remove(desc.PoolID)
	stats := h.f.runCycle(context.Background())
	assert.Equal(t, 1, stats.Pruned)
	assert.Empty(t, h.f.GetAllBundles())
}

func TestRemovedPoolFetchTimesArePruned(t *testing.T) {
	h := newHarness(t, 100)
	kept := descriptor(key(), key(), key())
	removed := descriptor(key(), key(), kept.ReserveAccounts[1])
	require.NoError(t, h.dir.Upsert(kept))
	require.NoError(t, h.dir.Upsert(removed))

	h.f.runCycle(context.Background())
	for _, a := range append(kept.ReserveAccounts, removed.PoolID) {
		_, ok := h.f.LastFetched(a)
		require.True(t, ok)
	}

	h.dir.Remove(removed.PoolID)
	stats := h.f.runCycle(context.Background())
	assert.Equal(t, 1, stats.PrunedFetchTimes)

	_, ok := h.f.LastFetched(removed.PoolID)
	assert.False(t, ok)
	_, ok = h.f.LastFetched(kept.ReserveAccounts[1])
	assert.True(t, ok, "shared vault is still required by the kept pool")
}

func TestPoolRequestIgnoresForeignAccounts(t *testing.T) {
	h := newHarness(t, 100)
	desc := descriptor(key(), key(), key())
	require.NoError(t, h.dir.Upsert(desc))
	h.f.recordFetch(desc.ReserveAccounts, h.now)

	foreign := key()
	require.True(t, h.f.RequestPoolFetch(desc.PoolID, []solana.PublicKey{foreign, desc.ReserveAccounts[1]}))
	stats := h.f.runCycle(context.Background())
	assert.Equal(t, 1, stats.Pending)
	require.Len(t, h.transport.calls, 1)
	assert.Equal(t, []solana.PublicKey{desc.ReserveAccounts[1]}, h.transport.calls[0])
}

func TestRunServesRequestsWhileLooping(t *testing.T) {
	h := newHarness(t, 100)
	h.f.cfg.TickInterval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.f.Run(ctx) }()
	require.Eventually(t, func() bool { return h.f.running.Load() }, time.Second, time.Millisecond)

	addr := key()
	h.transport.set(addr, []byte{1})
	require.True(t, h.f.RequestAccountsFetch([]solana.PublicKey{addr}))

	require.Eventually(t, func() bool {
		return len(h.transport.callSizes()) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRequestQueueFullDrops(t *testing.T) {
	h := newHarness(t, 100)
	for i := 0; i < 8; i++ {
		require.True(t, h.f.RequestAccountsFetch([]solana.PublicKey{key()}))
	}
	assert.False(t, h.f.RequestAccountsFetch([]solana.PublicKey{key()}))
}

func TestRunIsExclusiveAndStops(t *testing.T) {
	h := newHarness(t, 100)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.f.Run(ctx) }()

	require.Eventually(t, func() bool { return h.f.running.Load() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.f.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch loop did not stop")
	}
}
