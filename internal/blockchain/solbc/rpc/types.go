// internal/blockchain/solbc/rpc/types.go
package rpc

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

const (
	// MaxAccountsPerRequest is the getMultipleAccounts protocol limit.
	MaxAccountsPerRequest = 100

	DefaultTimeout = 10 * time.Second

	methodGetMultipleAccounts = "getMultipleAccounts"
	methodGetSlot             = "getSlot"
)

// AccountsClient is the subset of the solana-go RPC client the transport uses.
type AccountsClient interface {
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *solanarpc.GetMultipleAccountsOpts) (*solanarpc.GetMultipleAccountsResult, error)
	GetSlot(ctx context.Context, commitment solanarpc.CommitmentType) (uint64, error)
}

// Endpoint is one RPC node in failover order.
type Endpoint struct {
	Name   string // metric and log label, e.g. "primary", "fallback-1"
	URL    string
	Client AccountsClient
}

// BreakerConfig tunes the per-endpoint circuit breaker.
type BreakerConfig struct {
	MaxFailures      uint32        // consecutive failures before opening
	OpenTimeout      time.Duration // time spent open before probing again
	HalfOpenRequests uint32        // requests allowed while half-open
}

// Config configures a Transport.
type Config struct {
	Endpoints         []string // first entry is the primary
	Timeout           time.Duration
	MaxBatchSize      int
	RequestsPerSecond float64
	Burst             int
	Breaker           BreakerConfig
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > MaxAccountsPerRequest {
		c.MaxBatchSize = MaxAccountsPerRequest
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = 30 * time.Second
	}
	if c.Breaker.HalfOpenRequests == 0 {
		c.Breaker.HalfOpenRequests = 1
	}
	return c
}
