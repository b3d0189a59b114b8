// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrNoEndpoints is returned when a transport is built without endpoints
	ErrNoEndpoints = errors.New("no RPC endpoints configured")

	// ErrBatchTooLarge is returned when a call asks for more accounts than one request may carry
	ErrBatchTooLarge = errors.New("batch exceeds max accounts per request")

	// ErrRateLimit is returned when an endpoint signals throttling
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrTimeout is returned when an endpoint does not answer in time
	ErrTimeout = errors.New("request timeout")

	// ErrInvalidResponse is returned for malformed or misaligned RPC envelopes
	ErrInvalidResponse = errors.New("invalid RPC response")

	// ErrConnectionFailed covers every other transport failure
	ErrConnectionFailed = errors.New("connection failed")

	// ErrCircuitOpen is returned when an endpoint is skipped because its breaker is open
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrAllEndpointsFailed wraps the per-endpoint errors once failover is exhausted
	ErrAllEndpointsFailed = errors.New("all RPC endpoints failed")
)

// rpcCodeRateLimited is the JSON-RPC error code public nodes use for throttling.
const rpcCodeRateLimited = -32005

// Error carries the endpoint and method a failure came from.
type Error struct {
	Err      error
	Endpoint string
	Method   string
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.Endpoint, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with endpoint context.
func NewError(err error, endpoint, method string) error {
	return &Error{
		Err:      err,
		Endpoint: endpoint,
		Method:   method,
	}
}

// classify maps a raw client error onto one of the transport sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == rpcCodeRateLimited {
			return fmt.Errorf("%w: %v", ErrRateLimit, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", ErrRateLimit, err)
	case strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case strings.Contains(msg, "decode") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid character"):
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}

// outcome is the metric label for a classified error.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCircuitOpen):
		return "breaker_open"
	case errors.Is(err, ErrRateLimit):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	default:
		return "error"
	}
}
