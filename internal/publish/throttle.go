// internal/publish/throttle.go
package publish

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

// Publisher is a price sink.
type Publisher interface {
	Publish(ctx context.Context, res *model.PriceResult) error
}

// Throttle forwards at most one price per mint per interval to next. Prices arriving
// inside the interval replace each other as the pending value, which FlushPending
// forwards once the interval has passed.
type Throttle struct {
	next     Publisher
	interval time.Duration
	logger   *zap.Logger
	clock    func() time.Time

	mu        sync.Mutex
	lastSent  map[solana.PublicKey]time.Time
	pending   map[solana.PublicKey]*model.PriceResult
	sent      uint64
	throttled uint64
}

func NewThrottle(next Publisher, interval time.Duration, logger *zap.Logger) *Throttle {
	return &Throttle{
		next:     next,
		interval: interval,
		logger:   logger.Named("price-throttle"),
		clock:    time.Now,
		lastSent: make(map[solana.PublicKey]time.Time),
		pending:  make(map[solana.PublicKey]*model.PriceResult),
	}
}

// Publish implements Publisher.
func (t *Throttle) Publish(ctx context.Context, res *model.PriceResult) error {
	now := t.clock()

	t.mu.Lock()
	if last, ok := t.lastSent[res.Mint]; ok && now.Sub(last) < t.interval {
		t.pending[res.Mint] = res
		t.throttled++
		t.mu.Unlock()
		t.logger.Debug("Price update throttled",
			zap.String("mint", res.Mint.String()),
			zap.Duration("since_last", now.Sub(last)))
		return nil
	}
	t.lastSent[res.Mint] = now
	delete(t.pending, res.Mint)
	t.sent++
	t.mu.Unlock()

	return t.next.Publish(ctx, res)
}

// FlushPending forwards every pending price whose interval has elapsed.
func (t *Throttle) FlushPending(ctx context.Context) error {
	now := t.clock()

	t.mu.Lock()
	var due []*model.PriceResult
	for mint, res := range t.pending {
		if now.Sub(t.lastSent[mint]) >= t.interval {
			due = append(due, res)
			t.lastSent[mint] = now
			delete(t.pending, mint)
			t.sent++
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, res := range due {
		if err := t.next.Publish(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run flushes pending prices until ctx is done.
func (t *Throttle) Run(ctx context.Context) error {
	tick := t.interval / 2
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.FlushPending(ctx); err != nil && ctx.Err() == nil {
				t.logger.Warn("Failed to flush pending prices", zap.Error(err))
			}
		}
	}
}

// Stats returns how many prices were forwarded and how many were held back.
func (t *Throttle) Stats() (sent, throttled uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent, t.throttled
}

// HasPending reports whether mint has a held-back price.
func (t *Throttle) HasPending(mint solana.PublicKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[mint]
	return ok
}
