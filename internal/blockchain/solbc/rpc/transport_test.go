package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *solanarpc.GetMultipleAccountsOpts) (*solanarpc.GetMultipleAccountsResult, error) {
	args := m.Called(ctx, accounts, opts)
	res, _ := args.Get(0).(*solanarpc.GetMultipleAccountsResult)
	return res, args.Error(1)
}

func (m *mockClient) GetSlot(ctx context.Context, commitment solanarpc.CommitmentType) (uint64, error) {
	args := m.Called(ctx, commitment)
	return args.Get(0).(uint64), args.Error(1)
}

func newKeys(n int) []solana.PublicKey {
	keys := make([]solana.PublicKey, n)
	for i := range keys {
		keys[i] = solana.NewWallet().PublicKey()
	}
	return keys
}

func resultFor(slot uint64, accounts ...*solanarpc.Account) *solanarpc.GetMultipleAccountsResult {
	return &solanarpc.GetMultipleAccountsResult{
		RPCContext: solanarpc.RPCContext{Context: solanarpc.Context{Slot: slot}},
		Value:      accounts,
	}
}

func newTestTransport(t *testing.T, cfg Config, clients ...AccountsClient) *Transport {
	t.Helper()
	endpoints := make([]Endpoint, len(clients))
	for i, c := range clients {
		endpoints[i] = Endpoint{Name: []string{"primary", "fallback-1", "fallback-2"}[i], Client: c}
	}
	tr, err := NewTransportWithEndpoints(cfg, endpoints, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return tr
}

func TestGetMultipleAccountsFailover(t *testing.T) {
	keys := newKeys(2)
	owner := solana.TokenProgramID

	primary := &mockClient{}
	primary.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(nil, errors.New("connection refused"))

	fallback := &mockClient{}
	fallback.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(resultFor(42,
			&solanarpc.Account{Lamports: 10, Owner: owner, Data: solanarpc.DataBytesOrJSONFromBytes([]byte{1, 2, 3})},
			nil,
		), nil)

	tr := newTestTransport(t, Config{}, primary, fallback)

	got, err := tr.GetMultipleAccounts(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0])
	assert.Equal(t, keys[0], got[0].Pubkey)
	assert.Equal(t, []byte{1, 2, 3}, got[0].Data)
	assert.Equal(t, uint64(42), got[0].Slot)
	assert.Equal(t, uint64(10), got[0].Lamports)
	assert.Equal(t, owner, got[0].Owner)
	assert.False(t, got[0].FetchedAt.IsZero())
	assert.Nil(t, got[1], "missing account stays nil in its position")

	primary.AssertNumberOfCalls(t, "GetMultipleAccountsWithOpts", 1)
	fallback.AssertNumberOfCalls(t, "GetMultipleAccountsWithOpts", 1)
}

func TestGetMultipleAccountsPrimaryFirst(t *testing.T) {
	keys := newKeys(1)

	primary := &mockClient{}
	primary.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(resultFor(1, &solanarpc.Account{Data: solanarpc.DataBytesOrJSONFromBytes([]byte{9})}), nil)
	fallback := &mockClient{}

	tr := newTestTransport(t, Config{}, primary, fallback)
	_, err := tr.GetMultipleAccounts(context.Background(), keys)
	require.NoError(t, err)

	fallback.AssertNotCalled(t, "GetMultipleAccountsWithOpts", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetMultipleAccountsAllFail(t *testing.T) {
	keys := newKeys(1)

	primary := &mockClient{}
	primary.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(nil, &jsonrpc.RPCError{Code: rpcCodeRateLimited, Message: "too many requests"})
	fallback := &mockClient{}
	fallback.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(nil, context.DeadlineExceeded)

	tr := newTestTransport(t, Config{}, primary, fallback)

	_, err := tr.GetMultipleAccounts(context.Background(), keys)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.ErrorIs(t, err, ErrTimeout)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, methodGetMultipleAccounts, rpcErr.Method)
}

func TestGetMultipleAccountsMisalignedEnvelope(t *testing.T) {
	keys := newKeys(2)

	primary := &mockClient{}
	primary.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(resultFor(1, &solanarpc.Account{}), nil)
	fallback := &mockClient{}
	fallback.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(resultFor(2, nil, nil), nil)

	tr := newTestTransport(t, Config{}, primary, fallback)

	got, err := tr.GetMultipleAccounts(context.Background(), keys)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, []bool{got[0] == nil, got[1] == nil})
	fallback.AssertNumberOfCalls(t, "GetMultipleAccountsWithOpts", 1)
}

func TestGetMultipleAccountsBatchCeiling(t *testing.T) {
	client := &mockClient{}
	tr := newTestTransport(t, Config{MaxBatchSize: 100}, client)

	_, err := tr.GetMultipleAccounts(context.Background(), newKeys(101))
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	client.AssertNotCalled(t, "GetMultipleAccountsWithOpts", mock.Anything, mock.Anything, mock.Anything)

	assert.Equal(t, 100, tr.MaxBatchSize())
}

func TestMaxBatchSizeClampedToProtocolLimit(t *testing.T) {
	tr := newTestTransport(t, Config{MaxBatchSize: 500}, &mockClient{})
	assert.Equal(t, MaxAccountsPerRequest, tr.MaxBatchSize())
}

func TestGetMultipleAccountsEmpty(t *testing.T) {
	client := &mockClient{}
	tr := newTestTransport(t, Config{}, client)

	got, err := tr.GetMultipleAccounts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenBreakerSkipsEndpoint(t *testing.T) {
	keys := newKeys(1)

	primary := &mockClient{}
	primary.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(nil, errors.New("503 service unavailable"))
	fallback := &mockClient{}
	fallback.On("GetMultipleAccountsWithOpts", mock.Anything, keys, mock.Anything).
		Return(resultFor(5, nil), nil)

	tr := newTestTransport(t, Config{Breaker: BreakerConfig{MaxFailures: 1, OpenTimeout: time.Hour}}, primary, fallback)

	for i := 0; i < 3; i++ {
		_, err := tr.GetMultipleAccounts(context.Background(), keys)
		require.NoError(t, err)
	}

	primary.AssertNumberOfCalls(t, "GetMultipleAccountsWithOpts", 1)
	fallback.AssertNumberOfCalls(t, "GetMultipleAccountsWithOpts", 3)

	status := tr.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "open", status[0].Breaker)
	assert.Equal(t, "closed", status[1].Breaker)
}

func TestGetMultipleAccountsCancelled(t *testing.T) {
	client := &mockClient{}
	tr := newTestTransport(t, Config{}, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.GetMultipleAccounts(ctx, newKeys(1))
	assert.ErrorIs(t, err, context.Canceled)
	client.AssertNotCalled(t, "GetMultipleAccountsWithOpts", mock.Anything, mock.Anything, mock.Anything)
}

func TestProbe(t *testing.T) {
	primary := &mockClient{}
	primary.On("GetSlot", mock.Anything, solanarpc.CommitmentConfirmed).Return(uint64(0), errors.New("down"))
	fallback := &mockClient{}
	fallback.On("GetSlot", mock.Anything, solanarpc.CommitmentConfirmed).Return(uint64(100), nil)

	tr := newTestTransport(t, Config{}, primary, fallback)
	assert.NoError(t, tr.Probe(context.Background()))

	down := &mockClient{}
	down.On("GetSlot", mock.Anything, solanarpc.CommitmentConfirmed).Return(uint64(0), errors.New("down"))
	tr = newTestTransport(t, Config{}, down)
	assert.ErrorIs(t, tr.Probe(context.Background()), ErrAllEndpointsFailed)
}

func TestNewTransportHTTPFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer failing.Close()
	throttled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer throttled.Close()

	tr, err := NewTransport(Config{Endpoints: []string{failing.URL, throttled.URL}, Timeout: 2 * time.Second}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	_, err = tr.GetMultipleAccounts(context.Background(), newKeys(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
}

func TestNewTransportRequiresEndpoints(t *testing.T) {
	_, err := NewTransport(Config{}, zaptest.NewLogger(t), nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"rpc rate limit", &jsonrpc.RPCError{Code: rpcCodeRateLimited}, ErrRateLimit},
		{"rpc other", &jsonrpc.RPCError{Code: -32602, Message: "invalid params"}, ErrInvalidResponse},
		{"http 429", errors.New("rpc call getMultipleAccounts() status code: 429"), ErrRateLimit},
		{"decode", errors.New("could not decode body"), ErrInvalidResponse},
		{"other", errors.New("connection reset by peer"), ErrConnectionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}
}
