package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "EasyCash-SDK/internal/errors"
)

// Config 定义限流额度。
type Config struct {
	MaxRequests uint64
	Window      time.Duration
	Enabled     bool
}

// DefaultConfig 每分钟允许 100 个请求。
func DefaultConfig() Config {
	return Config{MaxRequests: 100, Window: time.Minute, Enabled: true}
}

// Limiter 是固定窗口计数器，所有状态变更都在实例自己的互斥锁内完成。
type Limiter struct {
	mu          sync.Mutex
	cfg         Config
	count       uint64
	windowStart time.Time
	now         func() time.Time
}

// Option 定义可选配置。
type Option func(*Limiter)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New 按配置创建限流器。
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.windowStart = l.now()
	return l
}

// Disabled 返回放行所有请求的限流器。
func Disabled() *Limiter {
	return New(Config{Enabled: false})
}

// Enabled 表示限流器是否生效。
func (l *Limiter) Enabled() bool {
	return l != nil && l.cfg.Enabled
}

// Check 放行一个请求，或返回 RATE_LIMITED 错误。被拒绝的请求不占用额度。
func (l *Limiter) Check(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if !l.Enabled() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollover()
	l.count++
	if l.count > l.cfg.MaxRequests {
		l.count--
		return xerrors.New(xerrors.CodeRateLimited,
			fmt.Sprintf("rate limit exceeded: %d requests per %s", l.cfg.MaxRequests, l.cfg.Window),
			xerrors.WithMetadata("retry_at", l.windowStart.Add(l.cfg.Window).Format(time.RFC3339Nano)),
		)
	}
	return nil
}

// Remaining 返回当前窗口剩余的额度。
func (l *Limiter) Remaining() uint64 {
	if !l.Enabled() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if l.count >= l.cfg.MaxRequests {
		return 0
	}
	return l.cfg.MaxRequests - l.count
}

// Count 返回当前窗口已放行的请求数。
func (l *Limiter) Count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.count
}

// WindowResetAt 返回当前窗口的结束时间。
func (l *Limiter) WindowResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.windowStart.Add(l.cfg.Window)
}

// Reset 清零计数并立即开启新窗口。
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count = 0
	l.windowStart = l.now()
}

// Config 返回限流配置。
func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) rollover() {
	now := l.now()
	if now.Sub(l.windowStart) >= l.cfg.Window {
		l.count = 0
		l.windowStart = now
	}
}
