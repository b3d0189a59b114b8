// internal/blockchain/solbc/rpc/transport.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/solana-pricer/internal/blockchain"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/metrics"
)

type node struct {
	Endpoint
	breaker *gobreaker.CircuitBreaker[*solanarpc.GetMultipleAccountsResult]
}

// Transport fetches accounts with ordered failover across endpoints.
// It never retries inside one endpoint; a failure moves on to the next one.
type Transport struct {
	nodes    []*node
	cfg      Config
	limiter  *rate.Limiter
	logger   *zap.Logger
	metrics  *metrics.Collector
	clock    func() time.Time
	accounts solanarpc.GetMultipleAccountsOpts
}

// NewTransport dials every configured endpoint URL in order.
func NewTransport(cfg Config, logger *zap.Logger, m *metrics.Collector) (*Transport, error) {
	endpoints := make([]Endpoint, 0, len(cfg.Endpoints))
	for i, url := range cfg.Endpoints {
		name := "primary"
		if i > 0 {
			name = fmt.Sprintf("fallback-%d", i)
		}
		endpoints = append(endpoints, Endpoint{Name: name, URL: url, Client: solanarpc.New(url)})
	}
	return NewTransportWithEndpoints(cfg, endpoints, logger, m)
}

// NewTransportWithEndpoints builds a transport over already constructed clients.
func NewTransportWithEndpoints(cfg Config, endpoints []Endpoint, logger *zap.Logger, m *metrics.Collector) (*Transport, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	t := &Transport{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.Named("rpc-transport"),
		metrics: m,
		clock:   time.Now,
		accounts: solanarpc.GetMultipleAccountsOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: solanarpc.CommitmentConfirmed,
		},
	}

	for _, ep := range endpoints {
		if ep.Client == nil {
			return nil, fmt.Errorf("endpoint %s has no client", ep.Name)
		}
		t.nodes = append(t.nodes, &node{Endpoint: ep, breaker: t.newBreaker(ep.Name)})
		m.SetBreakerState(ep.Name, int(gobreaker.StateClosed))
	}
	return t, nil
}

func (t *Transport) newBreaker(name string) *gobreaker.CircuitBreaker[*solanarpc.GetMultipleAccountsResult] {
	maxFailures := t.cfg.Breaker.MaxFailures
	return gobreaker.NewCircuitBreaker[*solanarpc.GetMultipleAccountsResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: t.cfg.Breaker.HalfOpenRequests,
		Timeout:     t.cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about endpoint health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.logger.Warn("RPC endpoint breaker state changed",
				zap.String("endpoint", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			t.metrics.SetBreakerState(name, int(to))
		},
	})
}

// MaxBatchSize is the largest address slice GetMultipleAccounts accepts.
func (t *Transport) MaxBatchSize() int {
	return t.cfg.MaxBatchSize
}

// GetMultipleAccounts fetches addresses in one request. The result is aligned with the
// input; accounts that do not exist on-chain are nil. Calls above MaxBatchSize are
// rejected with ErrBatchTooLarge; callers chunk.
func (t *Transport) GetMultipleAccounts(ctx context.Context, addresses []solana.PublicKey) ([]*blockchain.AccountData, error) {
	if len(addresses) == 0 {
		return []*blockchain.AccountData{}, nil
	}
	if len(addresses) > t.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d addresses, limit %d", ErrBatchTooLarge, len(addresses), t.cfg.MaxBatchSize)
	}

	var errs []error
	for _, n := range t.nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := t.fetchFrom(ctx, n, addresses)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		errs = append(errs, err)
		t.logger.Warn("RPC request failed, trying next endpoint",
			zap.String("endpoint", n.Name),
			zap.Int("accounts", len(addresses)),
			zap.Error(err))
	}

	return nil, fmt.Errorf("%w: %w", ErrAllEndpointsFailed, errors.Join(errs...))
}

func (t *Transport) fetchFrom(ctx context.Context, n *node, addresses []solana.PublicKey) ([]*blockchain.AccountData, error) {
	if n.breaker.State() == gobreaker.StateOpen {
		t.metrics.RecordRPCOutcome(n.Name, outcome(ErrCircuitOpen))
		return nil, NewError(ErrCircuitOpen, n.Name, methodGetMultipleAccounts)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, NewError(err, n.Name, methodGetMultipleAccounts)
	}

	start := time.Now()
	result, err := n.breaker.Execute(func() (*solanarpc.GetMultipleAccountsResult, error) {
		callCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()

		res, err := n.Client.GetMultipleAccountsWithOpts(callCtx, addresses, &t.accounts)
		if err != nil {
			return nil, classify(err)
		}
		if res == nil || len(res.Value) != len(addresses) {
			got := 0
			if res != nil {
				got = len(res.Value)
			}
			return nil, fmt.Errorf("%w: %d values for %d accounts", ErrInvalidResponse, got, len(addresses))
		}
		return res, nil
	})
	t.metrics.RecordRPCLatency(methodGetMultipleAccounts, n.Name, time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		t.metrics.RecordRPCOutcome(n.Name, outcome(err))
		return nil, NewError(err, n.Name, methodGetMultipleAccounts)
	}
	t.metrics.RecordRPCOutcome(n.Name, outcome(nil))

	return t.toAccountData(addresses, result), nil
}

func (t *Transport) toAccountData(addresses []solana.PublicKey, res *solanarpc.GetMultipleAccountsResult) []*blockchain.AccountData {
	now := t.clock()
	out := make([]*blockchain.AccountData, len(addresses))
	for i, acc := range res.Value {
		if acc == nil {
			continue
		}
		var data []byte
		if acc.Data != nil {
			data = acc.Data.GetBinary()
		}
		out[i] = &blockchain.AccountData{
			Pubkey:    addresses[i],
			Data:      data,
			Slot:      res.Context.Slot,
			Lamports:  acc.Lamports,
			Owner:     acc.Owner,
			FetchedAt: now,
		}
	}
	return out
}

// Probe asks every endpoint for the current slot. It succeeds if at least one endpoint answers.
func (t *Transport) Probe(ctx context.Context) error {
	var errs []error
	healthy := 0
	for _, n := range t.nodes {
		callCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
		start := time.Now()
		slot, err := n.Client.GetSlot(callCtx, solanarpc.CommitmentConfirmed)
		cancel()
		t.metrics.RecordRPCLatency(methodGetSlot, n.Name, time.Since(start))

		if err != nil {
			errs = append(errs, NewError(classify(err), n.Name, methodGetSlot))
			t.logger.Warn("RPC endpoint probe failed", zap.String("endpoint", n.Name), zap.Error(err))
			continue
		}
		healthy++
		t.logger.Info("RPC endpoint reachable", zap.String("endpoint", n.Name), zap.Uint64("slot", slot))
	}

	if healthy == 0 {
		return fmt.Errorf("%w: %w", ErrAllEndpointsFailed, errors.Join(errs...))
	}
	return nil
}

// EndpointStatus describes one endpoint for diagnostics.
type EndpointStatus struct {
	Name    string `json:"name"`
	Breaker string `json:"breaker"`
}

// Status reports breaker state per endpoint in failover order.
func (t *Transport) Status() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, EndpointStatus{Name: n.Name, Breaker: n.breaker.State().String()})
	}
	return out
}
