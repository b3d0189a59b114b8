// internal/fetcher/fetcher.go
package fetcher

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain"
	"github.com/rovshanmuradov/solana-pricer/internal/pool"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/logger"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/metrics"
)

// Fetcher keeps pool bundles fresh: every tick it fetches explicitly requested and
// stale addresses in batches and hands complete bundles to the dispatcher.
// Only one Run loop may be active at a time.
type Fetcher struct {
	cfg        Config
	directory  *pool.Directory
	transport  blockchain.AccountFetcher
	positions  OpenPositions
	dispatcher Dispatcher
	logger     *zap.Logger
	metrics    *metrics.Collector
	clock      func() time.Time
	// pacer spaces chunk requests by ChunkDelay.
	pacer *rate.Limiter

	requests chan Request
	// explicit is owned by the loop goroutine.
	explicit map[solana.PublicKey]struct{}
	running  atomic.Bool

	bundlesMu sync.RWMutex
	bundles   map[solana.PublicKey]*pool.Bundle

	fetchMu   sync.RWMutex
	lastFetch map[solana.PublicKey]time.Time

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a fetcher. positions may be nil, in which case every pool uses the
// default staleness threshold.
func New(cfg Config, directory *pool.Directory, transport blockchain.AccountFetcher, positions OpenPositions,
	dispatcher Dispatcher, logger *zap.Logger, m *metrics.Collector) *Fetcher {
	cfg = cfg.withDefaults()
	pace := rate.Inf
	if cfg.ChunkDelay > 0 {
		pace = rate.Every(cfg.ChunkDelay)
	}
	return &Fetcher{
		cfg:        cfg,
		directory:  directory,
		transport:  transport,
		positions:  positions,
		dispatcher: dispatcher,
		logger:     logger.Named("account-fetcher"),
		metrics:    m,
		clock:      time.Now,
		pacer:      rate.NewLimiter(pace, 1),
		requests:   make(chan Request, cfg.RequestBuffer),
		explicit:   make(map[solana.PublicKey]struct{}),
		bundles:    make(map[solana.PublicKey]*pool.Bundle),
		lastFetch:  make(map[solana.PublicKey]time.Time),
	}
}

// Run drives fetch cycles until ctx is cancelled. A cycle in progress when ctx is
// cancelled is abandoned; its unfetched addresses stay stale.
func (f *Fetcher) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer f.running.Store(false)

	f.logger.Info("Starting account fetcher",
		zap.Duration("tick", f.cfg.TickInterval),
		zap.Duration("position_staleness", f.cfg.PositionStaleness),
		zap.Duration("default_staleness", f.cfg.DefaultStaleness))

	f.runCycle(ctx)

	ticker := time.NewTicker(f.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Account fetcher stopped")
			return nil
		case req := <-f.requests:
			f.absorb(req)
		case <-ticker.C:
			f.runCycle(ctx)
		}
	}
}

// RequestPoolFetch queues the given accounts of poolID, or all of its reserve accounts
// when none are given. It never blocks and reports whether the request was queued.
func (f *Fetcher) RequestPoolFetch(poolID solana.PublicKey, accounts []solana.PublicKey) bool {
	return f.enqueue(Request{PoolID: poolID, Accounts: slices.Clone(accounts)})
}

// RequestAccountsFetch queues accounts for the next tick. It never blocks.
func (f *Fetcher) RequestAccountsFetch(accounts []solana.PublicKey) bool {
	if len(accounts) == 0 {
		return true
	}
	return f.enqueue(Request{Accounts: slices.Clone(accounts)})
}

func (f *Fetcher) enqueue(req Request) bool {
	select {
	case f.requests <- req:
		return true
	default:
		f.metrics.RecordRequestDropped()
		f.logger.Warn("Fetch request queue full, dropping request",
			zap.String("pool", req.PoolID.String()),
			zap.Int("accounts", len(req.Accounts)))
		return false
	}
}

func (f *Fetcher) absorb(req Request) {
	accounts := req.Accounts
	if !req.PoolID.IsZero() {
		desc, ok := f.directory.Get(req.PoolID)
		if !ok {
			f.logger.Debug("Fetch requested for unknown pool", zap.String("pool", req.PoolID.String()))
			return
		}
		if len(accounts) == 0 {
			accounts = desc.ReserveAccounts
		}
		for _, acc := range accounts {
			if !desc.Requires(acc) {
				f.logger.Debug("Ignoring account outside the pool's reserve set",
					zap.String("pool", req.PoolID.String()),
					zap.String("account", acc.String()))
				continue
			}
			f.explicit[acc] = struct{}{}
		}
		return
	}
	for _, acc := range accounts {
		f.explicit[acc] = struct{}{}
	}
}

func (f *Fetcher) drainRequests() {
	for {
		select {
		case req := <-f.requests:
			f.absorb(req)
		default:
			return
		}
	}
}

// runCycle executes one fetch cycle and returns its stats. It must only be called
// from the Run goroutine, which owns the explicit set.
func (f *Fetcher) runCycle(ctx context.Context) Stats {
	log := logger.WithOperation(f.logger, "fetch_cycle")
	stats := Stats{StartedAt: f.clock()}

	stats.Pruned = f.pruneBundles()
	stats.PrunedFetchTimes = f.pruneFetchTimes()
	f.drainRequests()

	pending := f.pendingSet(stats.StartedAt)
	stats.Pending = len(pending)

	explicit := f.explicit
	f.explicit = make(map[solana.PublicKey]struct{})

	size := f.transport.MaxBatchSize()
	for start := 0; start < len(pending); start += size {
		if err := f.pacer.Wait(ctx); err != nil {
			f.requeue(explicit, pending[start:])
			break
		}

		chunk := pending[start:min(start+size, len(pending))]
		stats.Chunks++

		accounts, err := f.transport.GetMultipleAccounts(ctx, chunk)
		if err != nil {
			stats.FailedChunks++
			f.metrics.RecordChunk("failed")
			requeued := f.requeue(explicit, chunk)
			log.Warn("Chunk fetch failed",
				zap.Int("chunk_size", len(chunk)),
				zap.Int("requeued", requeued),
				zap.Error(err))
			continue
		}
		f.metrics.RecordChunk("ok")

		f.recordFetch(chunk, f.clock())

		touched := make(map[solana.PublicKey]pool.Descriptor)
		for _, acc := range accounts {
			if acc == nil {
				stats.Missing++
				continue
			}
			stats.Fetched++
			f.insert(acc, touched)
		}

		dispatched, dropped := f.triggerCalculations(touched)
		stats.Dispatched += dispatched
		stats.DispatchDropped += dropped
	}

	stats.Duration = f.clock().Sub(stats.StartedAt)
	f.metrics.ObserveFetchCycle(stats.Duration, stats.Pending)

	if stats.Pending > 0 {
		log.Debug("Fetch cycle done",
			zap.Int("pending", stats.Pending),
			zap.Int("chunks", stats.Chunks),
			zap.Int("failed_chunks", stats.FailedChunks),
			zap.Int("fetched", stats.Fetched),
			zap.Int("missing", stats.Missing),
			zap.Int("dispatched", stats.Dispatched),
			zap.Duration("duration", stats.Duration))
	}

	f.statsMu.Lock()
	f.stats = stats
	f.statsMu.Unlock()
	return stats
}

// pendingSet returns explicit addresses plus every reserve account whose last fetch is
// at least its pool's staleness threshold old, sorted for stable chunking.
func (f *Fetcher) pendingSet(now time.Time) []solana.PublicKey {
	set := make(map[solana.PublicKey]struct{}, len(f.explicit))
	for addr := range f.explicit {
		set[addr] = struct{}{}
	}

	var open map[solana.PublicKey]struct{}
	if f.positions != nil {
		open = f.positions.OpenMints()
	}

	descs := f.directory.All()

	f.fetchMu.RLock()
	for _, desc := range descs {
		threshold := f.threshold(desc, open)
		for _, addr := range desc.ReserveAccounts {
			last, ok := f.lastFetch[addr]
			if !ok || now.Sub(last) >= threshold {
				set[addr] = struct{}{}
			}
		}
	}
	f.fetchMu.RUnlock()

	out := make([]solana.PublicKey, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	slices.SortFunc(out, func(a, b solana.PublicKey) int {
		return bytes.Compare(a[:], b[:])
	})
	return out
}

func (f *Fetcher) threshold(desc pool.Descriptor, open map[solana.PublicKey]struct{}) time.Duration {
	if _, ok := open[desc.BaseMint]; ok {
		return f.cfg.PositionStaleness
	}
	if _, ok := open[desc.QuoteMint]; ok {
		return f.cfg.PositionStaleness
	}
	return f.cfg.DefaultStaleness
}

// recordFetch stamps addrs that belong to a registered pool. Other explicit
// addresses have no staleness to track.
func (f *Fetcher) recordFetch(addrs []solana.PublicKey, at time.Time) {
	f.fetchMu.Lock()
	for _, addr := range addrs {
		if len(f.directory.PoolsForAccount(addr)) > 0 {
			f.lastFetch[addr] = at
		}
	}
	f.fetchMu.Unlock()
}

// pruneFetchTimes forgets addresses no registered pool requires any more.
func (f *Fetcher) pruneFetchTimes() int {
	f.fetchMu.Lock()
	defer f.fetchMu.Unlock()

	n := 0
	for addr := range f.lastFetch {
		if len(f.directory.PoolsForAccount(addr)) == 0 {
			delete(f.lastFetch, addr)
			n++
		}
	}
	return n
}

func (f *Fetcher) requeue(explicit map[solana.PublicKey]struct{}, chunk []solana.PublicKey) int {
	n := 0
	for _, addr := range chunk {
		if _, ok := explicit[addr]; ok {
			f.explicit[addr] = struct{}{}
			n++
		}
	}
	return n
}

// insert stores an independent copy of acc in every bundle that requires it.
func (f *Fetcher) insert(acc *blockchain.AccountData, touched map[solana.PublicKey]pool.Descriptor) {
	descs := f.directory.PoolsForAccount(acc.Pubkey)
	if len(descs) == 0 {
		return
	}

	f.bundlesMu.Lock()
	defer f.bundlesMu.Unlock()

	for _, desc := range descs {
		b, ok := f.bundles[desc.PoolID]
		if !ok {
			b = pool.NewBundle(desc.PoolID)
			f.bundles[desc.PoolID] = b
		}
		b.Insert(acc.Clone())
		touched[desc.PoolID] = desc
	}
}

// triggerCalculations dispatches every touched bundle that reached a completeness edge.
// A rejected dispatch clears the request flag so the next edge retries.
func (f *Fetcher) triggerCalculations(touched map[solana.PublicKey]pool.Descriptor) (dispatched, dropped int) {
	if len(touched) == 0 || f.dispatcher == nil {
		return 0, 0
	}

	f.bundlesMu.Lock()
	defer f.bundlesMu.Unlock()

	for id, desc := range touched {
		b, ok := f.bundles[id]
		if !ok || !b.MarkRequested(desc) {
			continue
		}
		if f.dispatcher.Dispatch(desc, b.Clone()) {
			dispatched++
			f.metrics.RecordDispatch("ok")
			continue
		}
		b.CalculationRequested = false
		dropped++
		f.metrics.RecordDispatch("dropped")
		f.logger.Warn("Calculator busy, bundle not dispatched", zap.String("pool", id.String()))
	}
	return dispatched, dropped
}

// pruneBundles drops bundles of pools no longer in the directory.
func (f *Fetcher) pruneBundles() int {
	f.bundlesMu.Lock()
	defer f.bundlesMu.Unlock()

	n := 0
	for id := range f.bundles {
		if _, ok := f.directory.Get(id); !ok {
			delete(f.bundles, id)
			n++
		}
	}
	return n
}

// GetPoolBundle returns a snapshot of one pool's bundle.
func (f *Fetcher) GetPoolBundle(poolID solana.PublicKey) (*pool.Bundle, bool) {
	f.bundlesMu.RLock()
	defer f.bundlesMu.RUnlock()

	b, ok := f.bundles[poolID]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// GetAllBundles returns snapshots of every bundle ordered by pool id.
func (f *Fetcher) GetAllBundles() []*pool.Bundle {
	f.bundlesMu.RLock()
	out := make([]*pool.Bundle, 0, len(f.bundles))
	for _, b := range f.bundles {
		out = append(out, b.Clone())
	}
	f.bundlesMu.RUnlock()

	slices.SortFunc(out, func(a, b *pool.Bundle) int {
		return bytes.Compare(a.PoolID[:], b.PoolID[:])
	})
	return out
}

// LastFetched reports when addr was last fetched successfully.
func (f *Fetcher) LastFetched(addr solana.PublicKey) (time.Time, bool) {
	f.fetchMu.RLock()
	defer f.fetchMu.RUnlock()
	t, ok := f.lastFetch[addr]
	return t, ok
}

// Stats returns the stats of the last completed cycle.
func (f *Fetcher) Stats() Stats {
	f.statsMu.RLock()
	defer f.statsMu.RUnlock()
	return f.stats
}
