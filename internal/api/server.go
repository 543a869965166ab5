package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"EasyCash-SDK/internal/agent"
	xerrors "EasyCash-SDK/internal/errors"
	"EasyCash-SDK/internal/observability/metrics"
	"EasyCash-SDK/internal/task"
	"EasyCash-SDK/internal/types"
	"EasyCash-SDK/internal/web3"
	"EasyCash-SDK/pkg/logger"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 1 << 20

// Executor 是 API 依赖的执行管线能力。
type Executor interface {
	ExecuteWithPreference(ctx context.Context, req types.TransactionRequest, pref agent.Preference) (*types.TransactionResponse, error)
	GetMetrics() map[string]float64
}

// ChainReader 提供已配置链的状态快照。
type ChainReader interface {
	Snapshots(ctx context.Context) []web3.ChainSnapshot
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	executor        Executor
	tasks           *task.Service
	chains          ChainReader
	gatherer        prometheus.Gatherer
	observer        *metrics.HTTPObserver
	verifier        *SignatureVerifier
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// Option 定义可选配置。
type Option func(*Server)

// WithTaskService 启用异步任务接口。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithChains 启用 /api/v1/chains。
func WithChains(r ChainReader) Option {
	return func(s *Server) { s.chains = r }
}

// WithPrometheus 启用 /metrics，并记录每个接口的请求指标。
func WithPrometheus(gatherer prometheus.Gatherer, observer *metrics.HTTPObserver) Option {
	return func(s *Server) {
		s.gatherer = gatherer
		s.observer = observer
	}
}

// WithSignatureVerifier 要求写请求携带签名。
func WithSignatureVerifier(v *SignatureVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, executor Executor, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		executor:        executor,
		logger:          logger.Named("api"),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/transactions", "transactions", s.verifier.Require(http.HandlerFunc(s.handleExecute)))
	s.route(mux, "POST /api/v1/tasks", "tasks_create", s.verifier.Require(http.HandlerFunc(s.handleCreateTask)))
	s.route(mux, "GET /api/v1/tasks", "tasks_list", http.HandlerFunc(s.handleListTasks))
	s.route(mux, "GET /api/v1/tasks/{id}", "tasks_detail", http.HandlerFunc(s.handleTaskDetail))
	s.route(mux, "GET /api/v1/metrics", "metrics", http.HandlerFunc(s.handleMetrics))
	if s.chains != nil {
		s.route(mux, "GET /api/v1/chains", "chains", http.HandlerFunc(s.handleChains))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	mux.Handle(pattern, instrument(name, s.observer, s.logger, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "执行管线未初始化"))
		return
	}
	var req types.TransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pref := agent.ParsePreference(r.URL.Query().Get("preference"))
	resp, err := s.executor.ExecuteWithPreference(r.Context(), req, pref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	var req task.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

type taskList struct {
	Tasks []*task.Task   `json:"tasks"`
	Stats task.TaskStats `json:"stats"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	query := r.URL.Query()
	var opts []task.ListOption
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidRequest, "limit 必须为整数"))
			return
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidRequest, "offset 必须为整数"))
			return
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}

	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskList{Tasks: tasks, Stats: stats})
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未启用"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidRequest, "缺少任务 ID"))
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.executor == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "执行管线未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, s.executor.GetMetrics())
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidRequest, err, "请求体解析失败")
	}
	return nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeJSON(w, http.StatusOK, map[string]any{"chains": s.chains.Snapshots(ctx)})
}
