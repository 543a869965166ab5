// Package settlement submits a selected route for execution and reports the
// resulting receipt.
package settlement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"EasyCash-SDK/internal/types"
)

// DefaultBlockHeight 是没有链客户端时模拟结算使用的区块高度。
const DefaultBlockHeight uint64 = 1948201

// DefaultLatency 是模拟结算的默认耗时。
const DefaultLatency = 100 * time.Millisecond

// Receipt 是结算结果。
type Receipt struct {
	TxHash      string
	BlockHeight uint64
}

// Settler 通过选定的路由执行交易。
type Settler interface {
	Execute(ctx context.Context, req types.TransactionRequest, route types.RouteQuote) (Receipt, error)
}

// HeightReader 提供目标链的最新高度。
type HeightReader interface {
	BlockHeight(ctx context.Context, chain types.ChainID) (uint64, error)
}

// Simulated 是模拟结算器：等待固定时长后返回随机交易哈希。
type Simulated struct {
	latency time.Duration
	heights HeightReader
	logger  *slog.Logger
}

// Option 定义可选配置。
type Option func(*Simulated)

// WithLatency 设置模拟耗时。
func WithLatency(d time.Duration) Option {
	return func(s *Simulated) {
		if d >= 0 {
			s.latency = d
		}
	}
}

// WithHeightReader 使用链客户端提供区块高度。
func WithHeightReader(r HeightReader) Option {
	return func(s *Simulated) { s.heights = r }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulated) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSimulated 创建模拟结算器。
func NewSimulated(opts ...Option) *Simulated {
	s := &Simulated{latency: DefaultLatency, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Execute 实现 Settler。
func (s *Simulated) Execute(ctx context.Context, req types.TransactionRequest, route types.RouteQuote) (Receipt, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	height := DefaultBlockHeight
	if s.heights != nil {
		// 读取高度失败时回落到默认值，不影响结算结果。
		h, err := s.heights.BlockHeight(ctx, req.DestinationChain())
		if err != nil {
			s.logger.Debug("block height unavailable", slog.String("chain", req.DestinationChain().String()), slog.Any("error", err))
		} else {
			height = h
		}
	}

	return Receipt{TxHash: NewTxHash(), BlockHeight: height}, nil
}

// NewTxHash 返回 "0x" 加 32 位十六进制的随机交易哈希。
func NewTxHash() string {
	return "0x" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
