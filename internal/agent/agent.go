package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/types"
)

// QuoteSource 是能够为请求报价的路由代理来源。
type QuoteSource interface {
	FetchQuotes(ctx context.Context, req types.TransactionRequest) ([]types.RouteQuote, error)
}

// QuoteSourceFunc 允许普通函数作为 QuoteSource 使用。
type QuoteSourceFunc func(ctx context.Context, req types.TransactionRequest) ([]types.RouteQuote, error)

// FetchQuotes 实现 QuoteSource。
func (f QuoteSourceFunc) FetchQuotes(ctx context.Context, req types.TransactionRequest) ([]types.RouteQuote, error) {
	return f(ctx, req)
}

// Negotiator 负责收集报价并选择最优路由。
type Negotiator interface {
	RequestQuotes(ctx context.Context, req types.TransactionRequest) ([]types.RouteQuote, error)
	SelectBestRoute(quotes []types.RouteQuote, pref Preference) (types.RouteQuote, error)
}

// Agent 是默认的路由协商器。
type Agent struct {
	source       QuoteSource
	quoteTimeout time.Duration
	logger       *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithQuoteTimeout 设置单次报价请求的超时时间。
func WithQuoteTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.quoteTimeout = 0
			return
		}
		a.quoteTimeout = timeout
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New 创建一个 Agent。
func New(source QuoteSource, opts ...Option) *Agent {
	ag := &Agent{source: source, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// RequestQuotes 向报价来源请求路由报价，并丢弃不合法的报价。
func (a *Agent) RequestQuotes(ctx context.Context, req types.TransactionRequest) ([]types.RouteQuote, error) {
	// 验证必要的组件是否已配置。
	if a.source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "quote source not configured")
	}

	quoteCtx := ctx
	if a.quoteTimeout > 0 {
		var cancel context.CancelFunc
		quoteCtx, cancel = context.WithTimeout(ctx, a.quoteTimeout)
		defer cancel()
	}

	quotes, err := a.source.FetchQuotes(quoteCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "quote request timed out")
		}
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeAgentUnavailable, err, "quote request failed")
	}

	// 过滤掉不合法的报价。
	valid := make([]types.RouteQuote, 0, len(quotes))
	for _, q := range quotes {
		if err := ValidateQuote(q); err != nil {
			a.logger.Warn("discarding invalid quote", slog.String("agent_id", q.AgentID), slog.Any("error", err))
			continue
		}
		valid = append(valid, q.Clone())
	}
	return valid, nil
}

// SelectBestRoute 实现 Negotiator。
func (a *Agent) SelectBestRoute(quotes []types.RouteQuote, pref Preference) (types.RouteQuote, error) {
	return SelectBestRoute(quotes, pref)
}

// ValidateQuote 检查报价的基本约束。
func ValidateQuote(q types.RouteQuote) error {
	if q.AgentID == "" {
		return fmt.Errorf("quote has empty agent id")
	}
	// NaN 不满足任何比较，需单独排除。
	if math.IsNaN(q.SecurityScore) || q.SecurityScore < 0 || q.SecurityScore > 1 {
		return fmt.Errorf("security score %v out of range [0,1]", q.SecurityScore)
	}
	if q.EstimatedTime < 0 {
		return fmt.Errorf("negative estimated time %v", q.EstimatedTime)
	}
	if len(q.Route) == 0 {
		return fmt.Errorf("quote has empty route")
	}
	return nil
}
