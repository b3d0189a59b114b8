// internal/pricing/calculator.go
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/pool"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/metrics"
)

// Calculator decodes complete bundles on a worker pool off the fetch loop and
// publishes the resulting prices.
type Calculator struct {
	cfg        Config
	decoder    Decoder
	publisher  Publisher
	resolver   MintResolver
	correction Correction
	usd        USDQuoter
	logger     *zap.Logger
	metrics    *metrics.Collector
	clock      func() time.Time

	jobs    chan Job
	running atomic.Bool

	processed atomic.Uint64
	priced    atomic.Uint64
	misses    atomic.Uint64
	panics    atomic.Uint64
}

// Option customises a Calculator.
type Option func(*Calculator)

// WithCorrection installs a price correction strategy.
func WithCorrection(c Correction) Option {
	return func(cl *Calculator) {
		if c != nil {
			cl.correction = c
		}
	}
}

// WithMintResolver sets who is told about mints with unknown decimals.
func WithMintResolver(r MintResolver) Option {
	return func(c *Calculator) { c.resolver = r }
}

// WithUSDQuoter enables PriceUSD.
func WithUSDQuoter(q USDQuoter) Option {
	return func(c *Calculator) { c.usd = q }
}

// New creates a calculator. publisher may be nil.
func New(cfg Config, decoder Decoder, publisher Publisher, logger *zap.Logger, m *metrics.Collector, opts ...Option) *Calculator {
	cfg = cfg.withDefaults()
	c := &Calculator{
		cfg:        cfg,
		decoder:    decoder,
		publisher:  publisher,
		correction: NoCorrection{},
		logger:     logger.Named("price-calculator"),
		metrics:    m,
		clock:      time.Now,
		jobs:       make(chan Job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch queues a bundle without blocking. It implements the fetcher's dispatcher.
func (c *Calculator) Dispatch(desc pool.Descriptor, bundle *pool.Bundle) bool {
	select {
	case c.jobs <- Job{Descriptor: desc, Bundle: bundle, EnqueuedAt: c.clock()}:
		return true
	default:
		return false
	}
}

// Run starts the workers and blocks until ctx is done.
func (c *Calculator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.logger.Info("Starting price calculator",
		zap.Int("workers", c.cfg.Workers),
		zap.Int("queue_size", c.cfg.QueueSize),
		zap.String("correction", c.correction.Name()))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		id := i + 1
		g.Go(func() error {
			c.worker(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (c *Calculator) worker(ctx context.Context, id int) {
	log := c.logger.With(zap.Int("worker_id", id))
	log.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Worker stopped")
			return
		case job := <-c.jobs:
			c.handle(ctx, job, log)
		}
	}
}

func (c *Calculator) handle(ctx context.Context, job Job, log *zap.Logger) {
	res, err := c.Calculate(job)
	if err != nil {
		c.onMiss(job, err, log)
		return
	}
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, res); err != nil && ctx.Err() == nil {
		log.Warn("Failed to publish price",
			zap.String("mint", res.Mint.String()),
			zap.Error(err))
	}
}

func (c *Calculator) onMiss(job Job, err error, log *zap.Logger) {
	fields := []zap.Field{
		zap.String("pool", job.Descriptor.PoolID.String()),
		zap.String("program", job.Descriptor.ProgramID.String()),
		zap.String("reason", model.Reason(err)),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, ErrDecoderPanic):
		log.Error("Decoder panic recovered", fields...)
	case errors.Is(err, model.ErrDecimalsUnknown):
		if c.resolver != nil {
			c.resolver.Request(job.Descriptor.BaseMint, job.Descriptor.QuoteMint)
		}
		log.Debug("Decimals unknown, requested mint load", fields...)
	default:
		log.Debug("No price for bundle", fields...)
	}
}

// Calculate decodes one job. A panicking decoder is converted into ErrDecoderPanic.
func (c *Calculator) Calculate(job Job) (res *model.PriceResult, err error) {
	c.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			c.panics.Add(1)
			c.misses.Add(1)
			c.metrics.RecordDecoderPanic(job.Descriptor.ProgramID.String())
			res, err = nil, fmt.Errorf("%w: pool %s: %v", ErrDecoderPanic, job.Descriptor.PoolID, r)
		}
	}()

	if job.Bundle == nil {
		c.misses.Add(1)
		return nil, fmt.Errorf("%w: empty job", model.ErrReservesMissing)
	}

	res, err = c.decoder.Decode(job.Descriptor.ProgramID, model.Accounts(job.Bundle.Accounts),
		job.Descriptor.BaseMint, job.Descriptor.QuoteMint)
	if err != nil {
		c.misses.Add(1)
		return nil, err
	}

	res = c.correction.Apply(res)
	if c.usd != nil {
		if rate, ok := c.usd.SOLUSD(); ok {
			withUSD := *res
			withUSD.PriceUSD = res.PriceSOL * rate
			res = &withUSD
		}
	}

	c.priced.Add(1)
	c.metrics.UpdatePoolLiquidity(res.PoolAddress.String(), res.SourcePool, res.SOLReserves)
	return res, nil
}

// Stats returns running totals.
func (c *Calculator) Stats() Stats {
	return Stats{
		Queued:    len(c.jobs),
		Processed: c.processed.Load(),
		Priced:    c.priced.Load(),
		Misses:    c.misses.Load(),
		Panics:    c.panics.Load(),
	}
}
