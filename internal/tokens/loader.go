// internal/tokens/loader.go
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain"
	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

const (
	// MintAccountSize is the SPL mint layout size; Token-2022 mints may carry extensions after it.
	MintAccountSize      = 82
	DefaultBatchInterval = 250 * time.Millisecond
)

var (
	ErrNotMintAccount = errors.New("account is not an SPL mint")
	ErrMintNotFound   = errors.New("mint account not found")
)

// ParseMintDecimals reads decimals from a mint account owned by SPL Token or Token-2022.
func ParseMintDecimals(acc *blockchain.AccountData) (uint8, error) {
	if acc == nil {
		return 0, ErrMintNotFound
	}
	if !acc.Owner.Equals(model.TokenProgramID) && !acc.Owner.Equals(model.Token2022ProgramID) {
		return 0, fmt.Errorf("%w: %s owned by %s", ErrNotMintAccount, acc.Pubkey, acc.Owner)
	}
	if len(acc.Data) < MintAccountSize {
		return 0, fmt.Errorf("%w: %s has %d bytes", ErrNotMintAccount, acc.Pubkey, len(acc.Data))
	}
	var mint token.Mint
	if err := bin.NewBinDecoder(acc.Data[:MintAccountSize]).Decode(&mint); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrNotMintAccount, acc.Pubkey, err)
	}
	if !mint.IsInitialized {
		return 0, fmt.Errorf("%w: %s is not initialized", ErrNotMintAccount, acc.Pubkey)
	}
	return mint.Decimals, nil
}

// MintLoader resolves unknown decimals through the account fetcher and stores them in the cache.
// Requests are coalesced and flushed in batches by Run.
type MintLoader struct {
	fetcher  blockchain.AccountFetcher
	cache    *DecimalsCache
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	pending map[solana.PublicKey]struct{}

	onResolved func(mints []solana.PublicKey)
}

// NewMintLoader creates a loader writing into cache.
func NewMintLoader(fetcher blockchain.AccountFetcher, cache *DecimalsCache, interval time.Duration, logger *zap.Logger) *MintLoader {
	if interval <= 0 {
		interval = DefaultBatchInterval
	}
	return &MintLoader{
		fetcher:  fetcher,
		cache:    cache,
		logger:   logger.Named("mint-loader"),
		interval: interval,
		pending:  make(map[solana.PublicKey]struct{}),
	}
}

// OnResolved registers fn to receive every batch of newly cached mints. It must be
// called before Run or Load.
func (l *MintLoader) OnResolved(fn func(mints []solana.PublicKey)) {
	l.onResolved = fn
}

// Request queues mints whose decimals are unknown. It never blocks.
func (l *MintLoader) Request(mints ...solana.PublicKey) {
	missing := l.cache.Missing(mints...)
	if len(missing) == 0 {
		return
	}
	l.mu.Lock()
	for _, m := range missing {
		l.pending[m] = struct{}{}
	}
	l.mu.Unlock()
}

// Pending returns the number of queued mints.
func (l *MintLoader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Run flushes queued mints every interval until ctx is done.
func (l *MintLoader) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("Mint batch failed", zap.Error(err))
			}
		}
	}
}

// Flush loads every queued mint. Mints of failed batches are queued again.
func (l *MintLoader) Flush(ctx context.Context) error {
	l.mu.Lock()
	mints := make([]solana.PublicKey, 0, len(l.pending))
	for m := range l.pending {
		mints = append(mints, m)
	}
	l.pending = make(map[solana.PublicKey]struct{})
	l.mu.Unlock()

	if len(mints) == 0 {
		return nil
	}

	failed, err := l.load(ctx, mints)
	if len(failed) > 0 {
		l.mu.Lock()
		for _, m := range failed {
			l.pending[m] = struct{}{}
		}
		l.mu.Unlock()
	}
	return err
}

// Load resolves mints synchronously, ahead of the first fetch cycle.
func (l *MintLoader) Load(ctx context.Context, mints ...solana.PublicKey) error {
	_, err := l.load(ctx, l.cache.Missing(mints...))
	return err
}

func (l *MintLoader) load(ctx context.Context, mints []solana.PublicKey) ([]solana.PublicKey, error) {
	size := l.fetcher.MaxBatchSize()
	var (
		failed   []solana.PublicKey
		resolved []solana.PublicKey
		errs     []error
	)

	for start := 0; start < len(mints); start += size {
		end := min(start+size, len(mints))
		chunk := mints[start:end]

		accounts, err := l.fetcher.GetMultipleAccounts(ctx, chunk)
		if err != nil {
			failed = append(failed, chunk...)
			errs = append(errs, err)
			continue
		}

		for i, acc := range accounts {
			dec, err := ParseMintDecimals(acc)
			if err != nil {
				// not retried: a missing or foreign account will not turn into a mint
				l.logger.Debug("Skipping mint", zap.String("mint", chunk[i].String()), zap.Error(err))
				continue
			}
			l.cache.Set(chunk[i], dec)
			resolved = append(resolved, chunk[i])
			l.logger.Debug("Mint decimals loaded",
				zap.String("mint", chunk[i].String()),
				zap.Uint8("decimals", dec))
		}
	}

	if len(resolved) > 0 && l.onResolved != nil {
		l.onResolved(resolved)
	}
	return failed, errors.Join(errs...)
}
