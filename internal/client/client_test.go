package client

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"EasyCash-SDK/internal/agent"
	"EasyCash-SDK/internal/config"
	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/events"
	"EasyCash-SDK/internal/observability/metrics"
	"EasyCash-SDK/internal/settlement"
	"EasyCash-SDK/internal/types"
	"EasyCash-SDK/pkg/logger"
)

type countingNegotiator struct {
	calls  atomic.Int32
	quotes []types.RouteQuote
	err    error
	wait   bool
}

func (n *countingNegotiator) RequestQuotes(ctx context.Context, _ types.TransactionRequest) ([]types.RouteQuote, error) {
	n.calls.Add(1)
	if n.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n.err != nil {
		return nil, n.err
	}
	out := make([]types.RouteQuote, len(n.quotes))
	for i, q := range n.quotes {
		out[i] = q.Clone()
	}
	return out, nil
}

func (n *countingNegotiator) SelectBestRoute(quotes []types.RouteQuote, pref agent.Preference) (types.RouteQuote, error) {
	return agent.SelectBestRoute(quotes, pref)
}

type countingSettler struct {
	calls atomic.Int32
	err   error
	wait  bool
}

func (s *countingSettler) Execute(ctx context.Context, _ types.TransactionRequest, _ types.RouteQuote) (settlement.Receipt, error) {
	n := s.calls.Add(1)
	if s.wait {
		<-ctx.Done()
		return settlement.Receipt{}, ctx.Err()
	}
	if s.err != nil {
		return settlement.Receipt{}, s.err
	}
	return settlement.Receipt{TxHash: fmt.Sprintf("0x%032d", n), BlockHeight: settlement.DefaultBlockHeight}, nil
}

type stubGate struct {
	calls    atomic.Int32
	balance  string
	required string
	err      error
	reject   bool
}

func (g *stubGate) GenerateSolvencyProof(balance, required string) (string, error) {
	g.calls.Add(1)
	g.balance, g.required = balance, required
	if g.err != nil {
		return "", g.err
	}
	return "0x0123456789abcdef", nil
}

func (g *stubGate) Verify(string) bool { return !g.reject }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error {
	return stdErrors.New("broker down")
}

func (failingPublisher) Close() error { return nil }

func defaultQuotes() []types.RouteQuote {
	return []types.RouteQuote{
		{AgentID: "agent-001", EstimatedFee: "0.05 USDC", EstimatedTime: 15 * time.Second, Route: []string{"ethereum", "base"}, SecurityScore: 0.98},
		{AgentID: "agent-002", EstimatedFee: "0.03 USDC", EstimatedTime: 30 * time.Second, Route: []string{"ethereum", "polygon", "base"}, SecurityScore: 0.85},
	}
}

func transferRequest(amount string) types.TransactionRequest {
	return types.TransactionRequest{
		ReferenceID: "ref-" + amount,
		IntentType:  types.IntentTransfer,
		Amount:      amount,
		Asset:       "USDC",
		Recipient:   types.StringPtr("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"),
		SourceChain: types.ChainEthereum,
		TargetChain: types.ChainPtr(types.ChainBase),
	}
}

type harness struct {
	client     *Client
	negotiator *countingNegotiator
	settler    *countingSettler
	gate       *stubGate
	events     *events.Memory
}

func newHarness(t *testing.T, mutate func(*config.SDK), opts ...Option) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		negotiator: &countingNegotiator{quotes: defaultQuotes()},
		settler:    &countingSettler{},
		gate:       &stubGate{},
		events:     events.NewMemory(0),
	}
	base := []Option{
		WithNegotiator(h.negotiator),
		WithSettler(h.settler),
		WithProofGate(h.gate),
		WithPublisher(h.events),
		WithLogger(logger.Discard()),
		WithAuditLogger(logger.Discard()),
	}
	c, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	h.client = c
	return h
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = "staging"
	_, err := New(cfg)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidRequest, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestExecuteWithSimulatedCollaborators(t *testing.T) {
	c, err := New(config.Default(),
		WithNegotiator(agent.New(agent.NewSimulatedSource(0))),
		WithSettler(settlement.NewSimulated(settlement.WithLatency(0))),
		WithLogger(logger.Discard()),
		WithAuditLogger(logger.Discard()),
	)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Execute(context.Background(), transferRequest("100.00"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.TxHash, "0x"))
	assert.Len(t, resp.TxHash, 34)
	assert.Equal(t, types.StatusConfirmed, resp.Status)
	assert.Equal(t, uint64(1948201), resp.BlockHeight)
	assert.Equal(t, "0.05 USDC", resp.FeeUsed)

	m := c.GetMetrics()
	assert.Equal(t, 1.0, m[metrics.KeyTotalTransactions])
	assert.Equal(t, 1.0, m[metrics.KeySuccessfulTransactions])
	assert.InDelta(t, 0.05, m[metrics.KeyTotalFeePaid], 1e-9)
	assert.Equal(t, 1.0, m[metrics.KeySuccessRate])
}

func TestInvalidRequestShortCircuits(t *testing.T) {
	h := newHarness(t, nil)
	req := transferRequest("")

	_, err := h.client.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidRequest, xerrors.CodeOf(err))
	assert.True(t, strings.HasPrefix(err.Error(), "[INVALID_REQUEST] validation failed"), err.Error())
	assert.False(t, xerrors.RetryableError(err))

	assert.Zero(t, h.negotiator.calls.Load())
	assert.Zero(t, h.settler.calls.Load())
	assert.Zero(t, h.gate.calls.Load())

	m := h.client.GetMetrics()
	assert.Equal(t, 1.0, m[metrics.KeyTotalTransactions])
	assert.Equal(t, 1.0, m[metrics.KeyFailedTransactions])
	assert.Equal(t, 0.0, m[metrics.KeyTotalFeePaid])
}

func TestRateLimitRejectsBeforeCacheAndCollaborators(t *testing.T) {
	h := newHarness(t, func(c *config.SDK) {
		c.RateLimit.MaxRequests = 1
	})
	req := transferRequest("10")

	_, err := h.client.Execute(context.Background(), req)
	require.NoError(t, err)

	_, err = h.client.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeRateLimited, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))
	assert.Equal(t, int32(1), h.negotiator.calls.Load())
	assert.Equal(t, int32(1), h.settler.calls.Load())

	m := h.client.GetMetrics()
	assert.Equal(t, 2.0, m[metrics.KeyTotalTransactions])
	assert.Equal(t, 1.0, m[metrics.KeyFailedTransactions])
	assert.Equal(t, uint64(0), h.client.Metrics().Snapshot().CacheHits)
}

func TestCacheKeyIgnoresChainAndRecipient(t *testing.T) {
	h := newHarness(t, nil)
	first := transferRequest("100.00")
	second := first
	second.Recipient = types.StringPtr("0x0000000000000000000000000000000000000001")
	second.SourceChain = types.ChainSolana
	second.TargetChain = types.ChainPtr(types.ChainEthereum)

	r1, err := h.client.Execute(context.Background(), first)
	require.NoError(t, err)
	r2, err := h.client.Execute(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, *r1, *r2)
	assert.Equal(t, int32(1), h.negotiator.calls.Load())
	assert.Equal(t, int32(1), h.settler.calls.Load())

	snap := h.client.Metrics().Snapshot()
	assert.Equal(t, uint64(2), snap.Successful)
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
	assert.InDelta(t, 0.10, snap.TotalFeePaid, 1e-9)

	published := h.events.Events()
	require.Len(t, published, 2)
	assert.False(t, published[0].Cached)
	assert.True(t, published[1].Cached)
}

func TestCachingDisabledSettlesEveryCall(t *testing.T) {
	h := newHarness(t, func(c *config.SDK) { c.EnableCaching = false })
	req := transferRequest("5")

	r1, err := h.client.Execute(context.Background(), req)
	require.NoError(t, err)
	r2, err := h.client.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.NotEqual(t, r1.TxHash, r2.TxHash)
	assert.Equal(t, int32(2), h.settler.calls.Load())
}

func TestProofGate(t *testing.T) {
	t.Run("shielded requests are proven", func(t *testing.T) {
		h := newHarness(t, nil)
		req := transferRequest("42")
		req.IsShielded = true
		_, err := h.client.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, int32(1), h.gate.calls.Load())
		assert.Equal(t, "42", h.gate.balance)
		assert.Equal(t, "0", h.gate.required)
	})

	t.Run("transparent requests skip the gate", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.client.Execute(context.Background(), transferRequest("42"))
		require.NoError(t, err)
		assert.Zero(t, h.gate.calls.Load())
	})

	t.Run("disabled proofs skip the gate", func(t *testing.T) {
		h := newHarness(t, func(c *config.SDK) { c.EnableZKProofs = false })
		req := transferRequest("42")
		req.IsShielded = true
		_, err := h.client.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Zero(t, h.gate.calls.Load())
	})

	t.Run("generation failure stops the pipeline", func(t *testing.T) {
		h := newHarness(t, nil)
		h.gate.err = stdErrors.New("circuit missing")
		req := transferRequest("42")
		req.IsShielded = true
		_, err := h.client.Execute(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeProofGeneration, xerrors.CodeOf(err))
		assert.Contains(t, err.Error(), "circuit missing")
		assert.Zero(t, h.negotiator.calls.Load())
		assert.Zero(t, h.settler.calls.Load())
	})

	t.Run("verification failure stops the pipeline", func(t *testing.T) {
		h := newHarness(t, nil)
		h.gate.reject = true
		req := transferRequest("42")
		req.IsShielded = true
		_, err := h.client.Execute(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeProofGeneration, xerrors.CodeOf(err))
		assert.Zero(t, h.negotiator.calls.Load())
	})
}

func TestNegotiationFailures(t *testing.T) {
	t.Run("source error", func(t *testing.T) {
		h := newHarness(t, nil)
		h.negotiator.err = stdErrors.New("connection refused")
		_, err := h.client.Execute(context.Background(), transferRequest("1"))
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeAgentUnavailable, xerrors.CodeOf(err))
		assert.Contains(t, err.Error(), "failed to get agent quotes")
		assert.Zero(t, h.settler.calls.Load())
	})

	t.Run("no quotes", func(t *testing.T) {
		h := newHarness(t, nil)
		h.negotiator.quotes = nil
		_, err := h.client.Execute(context.Background(), transferRequest("1"))
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeAgentUnavailable, xerrors.CodeOf(err))
		assert.Contains(t, err.Error(), "no quotes available")
		assert.Zero(t, h.settler.calls.Load())
	})

	t.Run("deadline", func(t *testing.T) {
		h := newHarness(t, nil)
		h.negotiator.wait = true
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := h.client.Execute(ctx, transferRequest("1"))
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSettlementFailures(t *testing.T) {
	t.Run("transport error becomes network failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.settler.err = stdErrors.New("reset by peer")
		_, err := h.client.Execute(context.Background(), transferRequest("1"))
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeNetworkFailure, xerrors.CodeOf(err))

		// 失败结果不会写入缓存。
		h.settler.err = nil
		_, err = h.client.Execute(context.Background(), transferRequest("1"))
		require.NoError(t, err)
		assert.Equal(t, int32(2), h.settler.calls.Load())
	})

	t.Run("coded error is kept", func(t *testing.T) {
		h := newHarness(t, nil)
		h.settler.err = xerrors.New(xerrors.CodeInsufficientFunds, "balance too low")
		_, err := h.client.Execute(context.Background(), transferRequest("1"))
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeInsufficientFunds, xerrors.CodeOf(err))
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		h := newHarness(t, nil)
		h.settler.wait = true
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := h.client.Execute(ctx, transferRequest("1"))
		require.Error(t, err)
		assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
	})
}

func TestExecuteWithPreference(t *testing.T) {
	h := newHarness(t, func(c *config.SDK) { c.EnableCaching = false })

	resp, err := h.client.ExecuteWithPreference(context.Background(), transferRequest("3"), agent.PreferCost)
	require.NoError(t, err)
	assert.Equal(t, "0.03 USDC", resp.FeeUsed)

	resp, err = h.client.Execute(context.Background(), transferRequest("3"))
	require.NoError(t, err)
	assert.Equal(t, "0.05 USDC", resp.FeeUsed)
}

func TestMetricsDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.SDK) { c.EnableMetrics = false })
	_, err := h.client.Execute(context.Background(), transferRequest("1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"metrics_disabled": 1}, h.client.GetMetrics())
	assert.Nil(t, h.client.Metrics())
}

func TestMetricsLatencyFromEntry(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(50 * time.Millisecond)
		return now
	}
	h := newHarness(t, nil, withClock(clock))

	_, err := h.client.Execute(context.Background(), transferRequest("1"))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, h.client.GetMetrics()[metrics.KeyAverageLatencyMs], 1e-9)
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := h.client.Execute(context.Background(), transferRequest("7"))
	require.NoError(t, err)

	h.settler.err = stdErrors.New("rpc unreachable")
	_, err = h.client.Execute(context.Background(), transferRequest("8"))
	require.Error(t, err)

	published := h.events.Events()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeSettled, published[0].Type)
	assert.Equal(t, resp.TxHash, published[0].TxHash)
	assert.Equal(t, "agent-001", published[0].AgentID)
	assert.Equal(t, "0.05 USDC", published[0].Fee)
	assert.Equal(t, events.TypeFailed, published[1].Type)
	assert.Equal(t, string(xerrors.CodeNetworkFailure), published[1].ErrorCode)
}

func TestInvalidRequestPublishesNoEvent(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.client.Execute(context.Background(), transferRequest(""))
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidRequest, xerrors.CodeOf(err))
	assert.Empty(t, h.events.Events())
	assert.Equal(t, 1.0, h.client.GetMetrics()[metrics.KeyFailedTransactions])
}

func TestPublishFailureDoesNotFailExecution(t *testing.T) {
	h := newHarness(t, nil, WithPublisher(failingPublisher{}))
	_, err := h.client.Execute(context.Background(), transferRequest("1"))
	require.NoError(t, err)
}

func TestConcurrentExecute(t *testing.T) {
	h := newHarness(t, func(c *config.SDK) { c.RateLimit.Enabled = false })

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.client.Execute(context.Background(), transferRequest(fmt.Sprintf("%d", i+1)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap := h.client.Metrics().Snapshot()
	assert.Equal(t, uint64(workers), snap.Total)
	assert.Equal(t, uint64(workers), snap.Successful)
	assert.Equal(t, int32(workers), h.settler.calls.Load())
}

func TestStagesAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	h := newHarness(t, nil, WithTracer(tp.Tracer("test")))
	req := transferRequest("9")
	req.IsShielded = true
	_, err := h.client.Execute(context.Background(), req)
	require.NoError(t, err)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.ElementsMatch(t, []string{"ecash.proof", "ecash.negotiate", "ecash.settle", "ecash.execute"}, names)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := New(config.Default(), WithLogger(logger.Discard()))
	require.NoError(t, err)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
