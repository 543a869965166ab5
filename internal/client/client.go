package client

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"EasyCash-SDK/internal/agent"
	"EasyCash-SDK/internal/cache"
	"EasyCash-SDK/internal/config"
	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/events"
	"EasyCash-SDK/internal/observability/metrics"
	"EasyCash-SDK/internal/observability/tracing"
	"EasyCash-SDK/internal/proofs"
	"EasyCash-SDK/internal/ratelimit"
	"EasyCash-SDK/internal/settlement"
	"EasyCash-SDK/internal/types"
	"EasyCash-SDK/internal/validator"
	"EasyCash-SDK/pkg/logger"
)

// requiredBalance 是偿付能力证明中使用的所需余额。
const requiredBalance = "0"

// Client 是交易执行管线。一个实例可被多个 goroutine 并发使用。
type Client struct {
	cfg config.SDK

	validator  validator.Validator
	proofs     proofs.Gate
	negotiator agent.Negotiator
	settler    settlement.Settler
	limiter    *ratelimit.Limiter
	publisher  events.Publisher

	cache   *cache.Cache[types.TransactionResponse]
	metrics *metrics.Metrics

	logger *slog.Logger
	audit  *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	closeOnce sync.Once
	closers   []func() error
}

// Option 定义可选配置。
type Option func(*Client)

// WithValidator 替换请求校验器。
func WithValidator(v validator.Validator) Option {
	return func(c *Client) {
		if v != nil {
			c.validator = v
		}
	}
}

// WithProofGate 替换证明生成器。
func WithProofGate(g proofs.Gate) Option {
	return func(c *Client) {
		if g != nil {
			c.proofs = g
		}
	}
}

// WithNegotiator 替换路由协商器。
func WithNegotiator(n agent.Negotiator) Option {
	return func(c *Client) {
		if n != nil {
			c.negotiator = n
		}
	}
}

// WithSettler 替换结算器。
func WithSettler(s settlement.Settler) Option {
	return func(c *Client) {
		if s != nil {
			c.settler = s
		}
	}
}

// WithRateLimiter 替换限流器。
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithPublisher 设置事件发布器。Close 时会一并关闭。
func WithPublisher(p events.Publisher) Option {
	return func(c *Client) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAuditLogger 设置审计日志记录器。
func WithAuditLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.audit = l
		}
	}
}

// WithTracer 设置链路追踪器。
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New 校验配置并创建客户端。未通过 Option 注入的组件使用模拟实现。
func New(cfg config.SDK, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidRequest, err, "invalid configuration")
	}

	c := &Client{
		cfg:       cfg,
		validator: validator.New(),
		publisher: events.Nop{},
		logger:    logger.Named("client"),
		audit:     logger.Audit(),
		tracer:    tracing.Tracer(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.Config{
			Enabled:     cfg.RateLimit.Enabled,
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		})
	}
	if c.negotiator == nil {
		c.negotiator = agent.New(agent.NewSimulatedSource(agent.DefaultSimulatedLatency), agent.WithLogger(c.logger))
	}
	if c.settler == nil {
		c.settler = settlement.NewSimulated(settlement.WithLogger(c.logger))
	}
	if c.proofs == nil {
		gate, err := proofs.NewCachingGate(proofs.NewMockGenerator(""), cfg.ProofCacheTTL)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "proof gate")
		}
		c.proofs = gate
		c.closers = append(c.closers, func() error { gate.Close(); return nil })
	}
	if cfg.EnableCaching {
		rc, err := cache.New[types.TransactionResponse](cfg.CacheTTL)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "response cache")
		}
		c.cache = rc
		c.closers = append(c.closers, func() error { rc.Close(); return nil })
	}
	if cfg.EnableMetrics {
		c.metrics = metrics.New()
	}
	c.closers = append(c.closers, c.publisher.Close)

	return c, nil
}

// Config 返回客户端使用的配置。
func (c *Client) Config() config.SDK { return c.cfg }

// Execute 以 balanced 偏好执行交易。
func (c *Client) Execute(ctx context.Context, req types.TransactionRequest) (*types.TransactionResponse, error) {
	return c.ExecuteWithPreference(ctx, req, agent.PreferBalanced)
}

// ExecuteWithPreference 执行交易，路由按 pref 选择。
//
// 每次调用恰好记录一次统计，无论成功或失败。
func (c *Client) ExecuteWithPreference(ctx context.Context, req types.TransactionRequest, pref agent.Preference) (*types.TransactionResponse, error) {
	start := c.now()
	ctx, span := c.tracer.Start(ctx, "ecash.execute", trace.WithAttributes(
		attribute.String("ecash.intent", req.IntentType.String()),
		attribute.String("ecash.asset", req.Asset),
		attribute.String("ecash.source_chain", req.SourceChain.String()),
		attribute.Bool("ecash.shielded", req.IsShielded),
	))
	defer span.End()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	out, err := c.run(ctx, req, pref)
	latency := c.now().Sub(start)

	fee := 0.0
	if err == nil {
		if v, ok := types.ParseFeeAmount(out.resp.FeeUsed); ok {
			fee = v
		}
	}
	if c.metrics != nil {
		c.metrics.Record(err == nil, fee, latency)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(xerrors.CodeOf(err)))
		c.logger.Warn("transaction failed",
			slog.String("reference_id", req.ReferenceID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
	} else {
		span.SetAttributes(attribute.String("ecash.tx_hash", out.resp.TxHash), attribute.Bool("ecash.cached", out.cached))
	}
	// 非法请求除统计外不产生任何副作用。
	if xerrors.CodeOf(err) != xerrors.CodeInvalidRequest {
		c.publish(ctx, req, out, err, latency)
	}

	if err != nil {
		return nil, err
	}
	resp := out.resp
	return &resp, nil
}

type outcome struct {
	resp   types.TransactionResponse
	route  types.RouteQuote
	cached bool
}

func (c *Client) run(ctx context.Context, req types.TransactionRequest, pref agent.Preference) (outcome, error) {
	// 1. 校验请求
	if err := c.validator.Validate(req); err != nil {
		return outcome{}, xerrors.Wrap(xerrors.CodeInvalidRequest, err, "validation failed")
	}

	// 2. 限流
	if err := c.limiter.Check(ctx); err != nil {
		return outcome{}, classify(err, xerrors.CodeRateLimited, "rate limit check failed")
	}

	// 3. 查询缓存
	key := req.CacheKey()
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			c.metrics.RecordCacheHit()
			c.logger.Info("Cache hit for transaction pattern", slog.String("key", key))
			return outcome{resp: cached, cached: true}, nil
		}
		c.metrics.RecordCacheMiss()
	}

	// 4. 隐私交易需要偿付能力证明
	if c.cfg.EnableZKProofs && req.IsShielded {
		if err := c.prove(ctx, req); err != nil {
			return outcome{}, err
		}
	}

	// 5. 协商路由
	route, err := c.negotiate(ctx, req, pref)
	if err != nil {
		return outcome{}, err
	}

	// 6. 结算
	receipt, err := c.settle(ctx, req, route)
	if err != nil {
		return outcome{}, err
	}
	resp := types.TransactionResponse{
		TxHash:      receipt.TxHash,
		Status:      types.StatusConfirmed,
		BlockHeight: receipt.BlockHeight,
		FeeUsed:     route.EstimatedFee,
	}

	// 7. 写入缓存
	if c.cache != nil {
		c.cache.Set(key, resp)
	}

	c.audit.Info("transaction settled",
		slog.String("reference_id", req.ReferenceID),
		slog.String("tx_hash", resp.TxHash),
		slog.String("agent_id", route.AgentID),
		slog.String("fee", resp.FeeUsed),
		slog.Uint64("block_height", resp.BlockHeight),
	)
	return outcome{resp: resp, route: route}, nil
}

func (c *Client) prove(ctx context.Context, req types.TransactionRequest) error {
	_, span := c.tracer.Start(ctx, "ecash.proof")
	defer span.End()

	proof, err := c.proofs.GenerateSolvencyProof(req.Amount, requiredBalance)
	if err != nil {
		span.RecordError(err)
		return xerrors.Wrap(xerrors.CodeProofGeneration, err, "failed to generate privacy proof")
	}
	if !c.proofs.Verify(proof) {
		err := xerrors.New(xerrors.CodeProofGeneration, "privacy proof verification failed")
		span.RecordError(err)
		return err
	}
	c.logger.Info("Generated ZK proof", slog.String("proof", truncate(proof, 10)))
	return nil
}

func (c *Client) negotiate(ctx context.Context, req types.TransactionRequest, pref agent.Preference) (types.RouteQuote, error) {
	ctx, span := c.tracer.Start(ctx, "ecash.negotiate", trace.WithAttributes(attribute.String("ecash.preference", string(pref))))
	defer span.End()

	quotes, err := c.negotiator.RequestQuotes(ctx, req)
	if err != nil {
		span.RecordError(err)
		return types.RouteQuote{}, classify(err, xerrors.CodeAgentUnavailable, "failed to get agent quotes")
	}
	span.SetAttributes(attribute.Int("ecash.quotes", len(quotes)))

	route, err := c.negotiator.SelectBestRoute(quotes, pref)
	if err != nil {
		span.RecordError(err)
		return types.RouteQuote{}, xerrors.Wrap(xerrors.CodeAgentUnavailable, err, "no suitable route found")
	}

	c.logger.Info(fmt.Sprintf("Selected Agent: %s (Fee: %s, Security: %.2f)", route.AgentID, route.EstimatedFee, route.SecurityScore),
		slog.String("agent_id", route.AgentID),
		slog.String("fee", route.EstimatedFee),
		slog.Float64("security_score", route.SecurityScore),
	)
	span.SetAttributes(attribute.String("ecash.agent_id", route.AgentID))
	return route, nil
}

func (c *Client) settle(ctx context.Context, req types.TransactionRequest, route types.RouteQuote) (settlement.Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "ecash.settle", trace.WithAttributes(attribute.String("ecash.agent_id", route.AgentID)))
	defer span.End()

	receipt, err := c.settler.Execute(ctx, req, route)
	if err != nil {
		span.RecordError(err)
		return settlement.Receipt{}, classify(err, xerrors.CodeNetworkFailure, "settlement failed")
	}
	return receipt, nil
}

// classify 将协作方返回的错误映射为唯一的错误码：
// 上下文超时或取消为 TIMEOUT，已带错误码的保持不变，其余使用 fallback。
func classify(err error, fallback xerrors.Code, message string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	if stdErrors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message+": request cancelled")
	}
	return xerrors.Wrap(fallback, err, message)
}

func (c *Client) publish(ctx context.Context, req types.TransactionRequest, out outcome, execErr error, latency time.Duration) {
	evt := events.Event{
		ID:          uuid.NewString(),
		ReferenceID: req.ReferenceID,
		Intent:      req.IntentType.String(),
		Amount:      req.Amount,
		Asset:       req.Asset,
		LatencyMs:   float64(latency.Microseconds()) / 1000,
		OccurredAt:  c.now().UTC(),
	}
	if execErr != nil {
		evt.Type = events.TypeFailed
		evt.ErrorCode = string(xerrors.CodeOf(execErr))
		evt.Error = execErr.Error()
	} else {
		evt.Type = events.TypeSettled
		evt.TxHash = out.resp.TxHash
		evt.BlockHeight = out.resp.BlockHeight
		evt.Fee = out.resp.FeeUsed
		evt.AgentID = out.route.AgentID
		evt.Cached = out.cached
	}
	// 调用方的取消不应影响事件投递。
	if err := c.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		c.logger.Warn("publish event failed", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
}

// GetMetrics 返回统计快照。关闭统计时返回 {"metrics_disabled": 1}。
func (c *Client) GetMetrics() map[string]float64 {
	if c.metrics == nil {
		return metrics.DisabledMap()
	}
	return c.metrics.Snapshot().Map()
}

// Metrics 返回底层统计对象，关闭统计时为 nil。
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Close 停止缓存清理并关闭事件发布器。可重复调用。
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for _, closeFn := range c.closers {
			err = stdErrors.Join(err, closeFn())
		}
	})
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
