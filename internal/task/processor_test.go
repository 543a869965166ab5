package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"EasyCash-SDK/internal/agent"
	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/types"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration

	mu       sync.Mutex
	failures []error
	prefs    []agent.Preference
}

func (f *fakeExecutor) ExecuteWithPreference(ctx context.Context, req types.TransactionRequest, pref agent.Preference) (*types.TransactionResponse, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.prefs = append(f.prefs, pref)
	var err error
	if len(f.failures) > 0 {
		err, f.failures = f.failures[0], f.failures[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	f.processed.Add(1)
	return &types.TransactionResponse{
		TxHash:      "0x" + req.ReferenceID,
		Status:      types.StatusConfirmed,
		BlockHeight: 1948201,
		FeeUsed:     "0.05 USDC",
	}, nil
}

func sampleSubmit(amount string) SubmitRequest {
	return SubmitRequest{Request: types.TransactionRequest{
		IntentType:  types.IntentTransfer,
		Amount:      amount,
		Asset:       "USDC",
		SourceChain: types.ChainEthereum,
	}}
}

func startProcessor(t *testing.T, exec Executor, maxRetries int, opts ...ProcessorOption) (*Service, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	service := NewService(store, queue, maxRetries)
	processor := NewProcessor(exec, store, queue, queue, opts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return service, cancel
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	exec := &fakeExecutor{latency: 5 * time.Millisecond}
	service, _ := startProcessor(t, exec, 3, WithWorkerCount(8))
	ctx := context.Background()

	total := 200
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, sampleSubmit(fmt.Sprintf("%d", i+1))); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(exec.processed.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", exec.processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}

	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != total {
		t.Fatalf("expected %d tasks, got %+v", total, stats)
	}
}

func TestProcessorRetriesRetryableFailures(t *testing.T) {
	exec := &fakeExecutor{failures: []error{
		xerrors.New(xerrors.CodeAgentUnavailable, "no quotes available"),
		xerrors.New(xerrors.CodeNetworkFailure, "settlement failed"),
	}}
	service, _ := startProcessor(t, exec, 3, WithBackoff(time.Millisecond))

	submitted, err := service.Submit(context.Background(), sampleSubmit("10"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	task, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusSucceeded || task.Attempts != 3 {
		t.Fatalf("expected success on third attempt, got %+v", task)
	}
	if task.Result == nil || task.Result.TxHash != "0x"+submitted.ID {
		t.Fatalf("unexpected result %+v", task.Result)
	}
}

func TestProcessorStopsOnNonRetryableFailure(t *testing.T) {
	exec := &fakeExecutor{failures: []error{
		xerrors.New(xerrors.CodeInvalidRequest, "validation failed"),
	}}
	service, _ := startProcessor(t, exec, 3)

	submitted, err := service.Submit(context.Background(), sampleSubmit("10"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	task, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusFailed || task.Attempts != 1 || task.ErrorCode != string(xerrors.CodeInvalidRequest) {
		t.Fatalf("expected terminal failure after one attempt, got %+v", task)
	}
}

func TestProcessorGivesUpAfterMaxRetries(t *testing.T) {
	timeout := xerrors.New(xerrors.CodeTimeout, "settlement timed out")
	exec := &fakeExecutor{failures: []error{timeout, timeout, timeout}}
	service, _ := startProcessor(t, exec, 2)

	submitted, err := service.Submit(context.Background(), sampleSubmit("10"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	task, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusFailed || task.Attempts != 2 || task.ErrorCode != string(xerrors.CodeTimeout) {
		t.Fatalf("expected exhaustion after two attempts, got %+v", task)
	}
}

func TestProcessorPassesPreference(t *testing.T) {
	exec := &fakeExecutor{}
	service, _ := startProcessor(t, exec, 1)

	req := sampleSubmit("10")
	req.Preference = "cost"
	submitted, err := service.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := service.WaitUntilCompleted(waitCtx, submitted.ID, 5*time.Millisecond); err != nil {
		t.Fatalf("wait: %v", err)
	}
	exec.mu.Lock()
	defer exec.mu.Unlock()
	if len(exec.prefs) != 1 || exec.prefs[0] != agent.PreferCost {
		t.Fatalf("unexpected preferences %v", exec.prefs)
	}
}

func TestBackoffDoubles(t *testing.T) {
	p := NewProcessor(nil, nil, nil, nil, WithBackoff(100*time.Millisecond))
	cases := map[int]time.Duration{1: 100 * time.Millisecond, 2: 200 * time.Millisecond, 3: 400 * time.Millisecond, 20: maxBackoff}
	for attempts, want := range cases {
		if got := p.backoffFor(attempts); got != want {
			t.Fatalf("attempts %d: expected %s, got %s", attempts, want, got)
		}
	}
	if got := NewProcessor(nil, nil, nil, nil).backoffFor(3); got != 0 {
		t.Fatalf("expected no backoff, got %s", got)
	}
}
