package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"EasyCash-SDK/internal/agent"
	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/types"
	"EasyCash-SDK/pkg/logger"
)

// maxBackoff 限制单次重试等待的上限。
const maxBackoff = time.Minute

// Executor 定义了处理器所需的执行能力。
type Executor interface {
	ExecuteWithPreference(ctx context.Context, req types.TransactionRequest, pref agent.Preference) (*types.TransactionResponse, error)
}

// Processor 负责从队列消费任务并执行交易，可重试的失败会在退避后重新入队。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	backoff     time.Duration
	logger      *slog.Logger

	pending sync.WaitGroup
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithBackoff 设置首次重试的等待时间，之后每次翻倍。
func WithBackoff(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d >= 0 {
			p.backoff = d
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	err := p.consumer.Consume(ctx, p.workerCount, p.handle)
	p.pending.Wait()
	return err
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logDebug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	resp, execErr := p.executor.ExecuteWithPreference(ctx, task.Request, agent.ParsePreference(task.Preference))
	if execErr == nil && resp == nil {
		execErr = xerrors.New(CodeTaskProcessing, "执行结果为空")
	}
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, *resp); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("tx_hash", resp.TxHash),
		slog.String("fee_used", resp.FeeUsed),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := !retryable || task.Attempts >= task.MaxRetries

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)
	if terminal {
		return nil
	}

	delay := p.backoffFor(task.Attempts)
	if delay <= 0 {
		return p.requeue(ctx, task.ID)
	}
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := p.requeue(ctx, task.ID); err != nil {
			logger.L().Error("任务重投失败", slog.Any("error", err), slog.String("task_id", task.ID))
		}
	}()
	p.logDebug("任务将重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts), slog.Duration("delay", delay))
	return nil
}

func (p *Processor) requeue(ctx context.Context, id string) error {
	// 停机时任务保持 pending。
	if ctx.Err() != nil {
		return nil
	}
	if err := p.producer.Publish(ctx, id); err != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重投失败", id))
		_ = p.store.MarkFailed(context.WithoutCancel(ctx), id, CodeTaskPublish, wrapped.Error(), true)
		return wrapped
	}
	return nil
}

// backoffFor 返回第 attempts 次失败后的等待时间：backoff * 2^(attempts-1)。
func (p *Processor) backoffFor(attempts int) time.Duration {
	if p.backoff <= 0 {
		return 0
	}
	d := p.backoff
	for i := 1; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}
