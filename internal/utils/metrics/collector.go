// internal/utils/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solana_pricer"

// Collector owns every pricing-pipeline metric. A nil *Collector is valid and records nothing,
// so components can be built without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	rpcLatency      *prometheus.HistogramVec
	rpcRequests     *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	fetchCycle      prometheus.Histogram
	pendingAccounts prometheus.Gauge
	chunks          *prometheus.CounterVec
	requestsDropped prometheus.Counter
	dispatches      *prometheus.CounterVec
	decodes         *prometheus.CounterVec
	decoderPanics   *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	poolLiquidity   *prometheus.GaugeVec
}

// NewCollector creates the metric set and registers it on a dedicated registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rpcLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_latency_seconds",
				Help:      "RPC call latency by method and endpoint",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"method", "endpoint"},
		),
		rpcRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "RPC calls by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_breaker_state",
				Help:      "Circuit breaker state per endpoint (0 closed, 1 half-open, 2 open)",
			},
			[]string{"endpoint"},
		),
		fetchCycle: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_cycle_seconds",
				Help:      "Duration of one fetch tick",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		pendingAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fetch_pending_accounts",
				Help:      "Addresses pending in the last fetch cycle",
			},
		),
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_chunks_total",
				Help:      "Fetched chunks by outcome",
			},
			[]string{"outcome"},
		),
		requestsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_requests_dropped_total",
				Help:      "Explicit fetch requests dropped because the queue was full",
			},
		),
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calculation_dispatches_total",
				Help:      "Bundle hand-offs to the calculator by outcome",
			},
			[]string{"outcome"},
		),
		decodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decodes_total",
				Help:      "Decode attempts by protocol and result",
			},
			[]string{"protocol", "result"},
		),
		decoderPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decoder_panics_total",
				Help:      "Recovered decoder panics by protocol",
			},
			[]string{"protocol"},
		),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_publishes_total",
				Help:      "Price publications by sink and outcome",
			},
			[]string{"sink", "outcome"},
		),
		poolLiquidity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_sol_reserves",
				Help:      "SOL-side reserves of the last priced state per pool",
			},
			[]string{"pool", "protocol"},
		),
	}

	c.registry.MustRegister(
		c.rpcLatency,
		c.rpcRequests,
		c.breakerState,
		c.fetchCycle,
		c.pendingAccounts,
		c.chunks,
		c.requestsDropped,
		c.dispatches,
		c.decodes,
		c.decoderPanics,
		c.publishes,
		c.poolLiquidity,
	)
	return c
}

// Registry exposes the registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return prometheus.NewRegistry()
	}
	return c.registry
}

// RecordRPCLatency records the latency of one RPC call.
func (c *Collector) RecordRPCLatency(method, endpoint string, duration time.Duration) {
	if c == nil {
		return
	}
	c.rpcLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRPCOutcome counts an RPC call outcome (ok, error, rate_limited, breaker_open).
func (c *Collector) RecordRPCOutcome(endpoint, outcome string) {
	if c == nil {
		return
	}
	c.rpcRequests.WithLabelValues(endpoint, outcome).Inc()
}

// SetBreakerState records the numeric breaker state for an endpoint.
func (c *Collector) SetBreakerState(endpoint string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(endpoint).Set(float64(state))
}

// ObserveFetchCycle records one fetch tick.
func (c *Collector) ObserveFetchCycle(duration time.Duration, pending int) {
	if c == nil {
		return
	}
	c.fetchCycle.Observe(duration.Seconds())
	c.pendingAccounts.Set(float64(pending))
}

// RecordChunk counts a fetched chunk as "ok" or "failed".
func (c *Collector) RecordChunk(outcome string) {
	if c == nil {
		return
	}
	c.chunks.WithLabelValues(outcome).Inc()
}

// RecordRequestDropped counts an explicit request that did not fit the queue.
func (c *Collector) RecordRequestDropped() {
	if c == nil {
		return
	}
	c.requestsDropped.Inc()
}

// RecordDispatch counts a calculator hand-off as "queued" or "dropped".
func (c *Collector) RecordDispatch(outcome string) {
	if c == nil {
		return
	}
	c.dispatches.WithLabelValues(outcome).Inc()
}

// RecordDecode counts a decode result ("ok" or a miss reason).
func (c *Collector) RecordDecode(protocol, result string) {
	if c == nil {
		return
	}
	c.decodes.WithLabelValues(protocol, result).Inc()
}

// RecordDecoderPanic counts a recovered decoder panic.
func (c *Collector) RecordDecoderPanic(protocol string) {
	if c == nil {
		return
	}
	c.decoderPanics.WithLabelValues(protocol).Inc()
}

// RecordPublish counts a publication per sink.
func (c *Collector) RecordPublish(sink string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.publishes.WithLabelValues(sink, outcome).Inc()
}

// UpdatePoolLiquidity records SOL-side reserves of the last priced pool state.
func (c *Collector) UpdatePoolLiquidity(pool, protocol string, solReserves float64) {
	if c == nil {
		return
	}
	c.poolLiquidity.WithLabelValues(pool, protocol).Set(solReserves)
}
