// internal/pricing/types.go
package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
	"github.com/rovshanmuradov/solana-pricer/internal/pool"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

var (
	ErrDecoderPanic   = errors.New("decoder panicked")
	ErrAlreadyRunning = errors.New("calculator already running")
)

// Job is one complete bundle handed over by the fetcher. The calculator owns Bundle.
type Job struct {
	Descriptor pool.Descriptor
	Bundle     *pool.Bundle
	EnqueuedAt time.Time
}

// Decoder prices the accounts of one pool; *dex.Registry implements it.
type Decoder interface {
	Decode(programID solana.PublicKey, accounts model.Accounts, base, quote solana.PublicKey) (*model.PriceResult, error)
}

// Publisher receives every successful price.
type Publisher interface {
	Publish(ctx context.Context, res *model.PriceResult) error
}

// MintResolver is asked to learn decimals of mints that blocked a decode.
type MintResolver interface {
	Request(mints ...solana.PublicKey)
}

// USDQuoter provides the current SOL/USD rate.
type USDQuoter interface {
	SOLUSD() (float64, bool)
}

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Stats are running totals since start.
type Stats struct {
	Queued    int    `json:"queued"`
	Processed uint64 `json:"processed"`
	Priced    uint64 `json:"priced"`
	Misses    uint64 `json:"misses"`
	Panics    uint64 `json:"panics"`
}
