package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"EasyCash-SDK/internal/types"
)

// DefaultSimulatedLatency 是模拟报价的默认耗时。
const DefaultSimulatedLatency = 50 * time.Millisecond

// SimulatedSource 返回两条固定报价，用于开发与测试环境。
type SimulatedSource struct {
	Latency time.Duration
}

// NewSimulatedSource 创建模拟报价来源。
func NewSimulatedSource(latency time.Duration) *SimulatedSource {
	if latency < 0 {
		latency = 0
	}
	return &SimulatedSource{Latency: latency}
}

// FetchQuotes 实现 QuoteSource。
func (s *SimulatedSource) FetchQuotes(ctx context.Context, req types.TransactionRequest) ([]types.RouteQuote, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := req.SourceChain.String()
	dst := req.DestinationChain().String()
	return []types.RouteQuote{
		{
			AgentID:       "agent-001",
			EstimatedFee:  fmt.Sprintf("0.05 %s", feeAsset),
			EstimatedTime: 15 * time.Second,
			Route:         []string{src, dst},
			SecurityScore: 0.98,
		},
		{
			AgentID:       "agent-002",
			EstimatedFee:  fmt.Sprintf("0.03 %s", feeAsset),
			EstimatedTime: 30 * time.Second,
			Route:         []string{src, "polygon", dst},
			SecurityScore: 0.85,
		},
	}, nil
}

// 模拟报价的计费资产。
const feeAsset = "USDC"

// MultiSource 并发向多个来源请求报价，并按来源顺序合并结果。
// 只要有一个来源成功即返回；全部失败时返回合并后的错误。
type MultiSource struct {
	sources []QuoteSource
	limit   int
}

// NewMultiSource 创建组合报价来源。
func NewMultiSource(sources ...QuoteSource) *MultiSource {
	filtered := make([]QuoteSource, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSource{sources: filtered}
}

// WithLimit 限制同时进行的报价请求数，n <= 0 表示不限制。
func (m *MultiSource) WithLimit(n int) *MultiSource {
	m.limit = n
	return m
}

// FetchQuotes 实现 QuoteSource。
func (m *MultiSource) FetchQuotes(ctx context.Context, req types.TransactionRequest) ([]types.RouteQuote, error) {
	if len(m.sources) == 0 {
		return nil, stdErrors.New("no quote sources configured")
	}

	results := make([][]types.RouteQuote, len(m.sources))
	errs := make([]error, len(m.sources))

	// 单个来源失败只记录错误；只有调用方的 ctx 结束才中止整体请求。
	g, gctx := errgroup.WithContext(ctx)
	if m.limit > 0 {
		g.SetLimit(m.limit)
	}
	for i, src := range m.sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			quotes, err := src.FetchQuotes(gctx, req)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				errs[i] = fmt.Errorf("source %d: %w", i, err)
				return nil
			}
			results[i] = quotes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []types.RouteQuote
	succeeded := 0
	for i := range m.sources {
		if errs[i] != nil {
			continue
		}
		succeeded++
		merged = append(merged, results[i]...)
	}
	if succeeded == 0 {
		return nil, stdErrors.Join(errs...)
	}
	return merged, nil
}
