package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ecash"

// Source 提供可导出的统计快照。
type Source interface {
	Snapshot() Snapshot
}

// Collector 将 Source 的快照转换为 Prometheus 指标。
type Collector struct {
	source Source

	total      *prometheus.Desc
	successful *prometheus.Desc
	failed     *prometheus.Desc
	fees       *prometheus.Desc
	latency    *prometheus.Desc
	cache      *prometheus.Desc
}

// NewCollector 基于统计源创建 Collector。
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		total: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sdk", "transactions_total"),
			"Total number of executed transactions.", nil, nil),
		successful: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sdk", "transactions_successful_total"),
			"Number of transactions that settled.", nil, nil),
		failed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sdk", "transactions_failed_total"),
			"Number of transactions that failed.", nil, nil),
		fees: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sdk", "fees_paid_total"),
			"Sum of settled fees.", nil, nil),
		latency: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sdk", "average_latency_milliseconds"),
			"Mean execution latency.", nil, nil),
		cache: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sdk", "cache_lookups_total"),
			"Result cache lookups by outcome.", []string{"result"}, nil),
	}
}

// Describe 实现 prometheus.Collector。
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.successful
	ch <- c.failed
	ch <- c.fees
	ch <- c.latency
	ch <- c.cache
}

// Collect 实现 prometheus.Collector。
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	s := c.source.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.CounterValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.successful, prometheus.CounterValue, float64(s.Successful))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.Failed))
	ch <- prometheus.MustNewConstMetric(c.fees, prometheus.CounterValue, s.TotalFeePaid)
	ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, s.AverageLatencyMs)
	ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.CacheHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.cache, prometheus.CounterValue, float64(s.CacheMisses), "miss")
}

// HTTPObserver 记录 HTTP 请求的数量、错误与延迟。
type HTTPObserver struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewHTTPObserver 创建并注册 HTTP 指标。
func NewHTTPObserver(reg prometheus.Registerer) *HTTPObserver {
	o := &HTTPObserver{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	if reg != nil {
		reg.MustRegister(o.requests, o.errors, o.latency)
	}
	return o
}

// Observe 记录一次 HTTP 请求。
func (o *HTTPObserver) Observe(handler, method string, status int, duration time.Duration) {
	if o == nil {
		return
	}
	o.requests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		o.errors.WithLabelValues(handler, method).Inc()
	}
	o.latency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// NewRegistry 创建包含进程与 Go 运行时指标的注册表，并注册给定的统计源。
func NewRegistry(sources ...Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, src := range sources {
		if src != nil {
			reg.MustRegister(NewCollector(src))
		}
	}
	return reg
}

// Handler 以 Prometheus 文本格式导出注册表中的指标。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// StartServer 启动独立的 /metrics HTTP 服务，直到 ctx 结束。
func StartServer(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
