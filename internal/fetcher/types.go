// internal/fetcher/types.go
package fetcher

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-pricer/internal/pool"
)

const (
	DefaultTickInterval      = 500 * time.Millisecond
	DefaultPositionStaleness = 5 * time.Second
	DefaultStaleness         = 30 * time.Second
	DefaultChunkDelay        = 100 * time.Millisecond
	DefaultRequestBuffer     = 1024
)

var ErrAlreadyRunning = errors.New("fetch loop already running")

// Config tunes the fetch loop.
type Config struct {
	TickInterval time.Duration
	// PositionStaleness applies to pools involving a mint with an open position.
	PositionStaleness time.Duration
	DefaultStaleness  time.Duration
	ChunkDelay        time.Duration
	RequestBuffer     int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.PositionStaleness <= 0 {
		c.PositionStaleness = DefaultPositionStaleness
	}
	if c.DefaultStaleness <= 0 {
		c.DefaultStaleness = DefaultStaleness
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.RequestBuffer <= 0 {
		c.RequestBuffer = DefaultRequestBuffer
	}
	return c
}

// Request asks for addresses to be fetched on the next tick regardless of staleness.
// A zero PoolID is a plain account request; a pool request with no accounts expands
// to the pool's reserve accounts.
type Request struct {
	PoolID   solana.PublicKey
	Accounts []solana.PublicKey
}

// Dispatcher receives complete bundles. Dispatch must not block; false means the
// bundle was not accepted.
type Dispatcher interface {
	Dispatch(desc pool.Descriptor, bundle *pool.Bundle) bool
}

// OpenPositions reports mints that currently back a trading position.
type OpenPositions interface {
	OpenMints() map[solana.PublicKey]struct{}
}

// Stats describes the last completed fetch cycle.
type Stats struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Pending         int           `json:"pending"`
	Chunks          int           `json:"chunks"`
	FailedChunks    int           `json:"failed_chunks"`
	Fetched         int           `json:"fetched"`
	Missing         int           `json:"missing"`
	Dispatched      int           `json:"dispatched"`
	DispatchDropped int           `json:"dispatch_dropped"`
	Pruned          int           `json:"pruned"`
	// PrunedFetchTimes counts fetch stamps dropped for addresses no pool requires.
	PrunedFetchTimes int `json:"pruned_fetch_times"`
}
