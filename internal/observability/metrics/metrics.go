package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 聚合单个 SDK 客户端的执行统计。计数器使用原子操作，
// 费用累计值由独立的互斥锁保护。
type Metrics struct {
	total      atomic.Uint64
	successful atomic.Uint64
	failed     atomic.Uint64
	latencyUS  atomic.Uint64

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	feeMu    sync.Mutex
	totalFee float64
}

// Snapshot 是某一时刻的统计视图。
type Snapshot struct {
	Total            uint64
	Successful       uint64
	Failed           uint64
	TotalFeePaid     float64
	AverageLatencyMs float64
	SuccessRate      float64
	CacheHits        uint64
	CacheMisses      uint64
}

// 统计字段名。
const (
	KeyTotalTransactions      = "total_transactions"
	KeySuccessfulTransactions = "successful_transactions"
	KeyFailedTransactions     = "failed_transactions"
	KeyTotalFeePaid           = "total_fee_paid"
	KeyAverageLatencyMs       = "average_latency_ms"
	KeySuccessRate            = "success_rate"
	KeyMetricsDisabled        = "metrics_disabled"
)

// New 创建一个空的统计聚合器。
func New() *Metrics {
	return &Metrics{}
}

// Record 记录一次执行结果。fee 为负数、NaN 或无穷大时按 0 计入。
func (m *Metrics) Record(success bool, fee float64, latency time.Duration) {
	if m == nil {
		return
	}
	m.total.Add(1)
	if success {
		m.successful.Add(1)
	} else {
		m.failed.Add(1)
	}
	if latency > 0 {
		m.latencyUS.Add(uint64(latency / time.Microsecond))
	}
	if fee > 0 && !math.IsInf(fee, 0) && !math.IsNaN(fee) {
		m.feeMu.Lock()
		m.totalFee += fee
		m.feeMu.Unlock()
	}
}

// RecordCacheHit 记录一次缓存命中。
func (m *Metrics) RecordCacheHit() {
	if m != nil {
		m.cacheHits.Add(1)
	}
}

// RecordCacheMiss 记录一次缓存未命中。
func (m *Metrics) RecordCacheMiss() {
	if m != nil {
		m.cacheMisses.Add(1)
	}
}

// Snapshot 返回当前统计。各计数器分别读取，并发写入时视图可能不完全一致。
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	s := Snapshot{
		Total:       m.total.Load(),
		Successful:  m.successful.Load(),
		Failed:      m.failed.Load(),
		CacheHits:   m.cacheHits.Load(),
		CacheMisses: m.cacheMisses.Load(),
	}
	m.feeMu.Lock()
	s.TotalFeePaid = m.totalFee
	m.feeMu.Unlock()

	if s.Total > 0 {
		latencyMs := float64(m.latencyUS.Load()) / 1000
		s.AverageLatencyMs = latencyMs / float64(s.Total)
		s.SuccessRate = float64(s.Successful) / float64(s.Total)
	}
	return s
}

// Map 以固定字段名导出统计。
func (s Snapshot) Map() map[string]float64 {
	return map[string]float64{
		KeyTotalTransactions:      float64(s.Total),
		KeySuccessfulTransactions: float64(s.Successful),
		KeyFailedTransactions:     float64(s.Failed),
		KeyTotalFeePaid:           s.TotalFeePaid,
		KeyAverageLatencyMs:       s.AverageLatencyMs,
		KeySuccessRate:            s.SuccessRate,
	}
}

// DisabledMap 是关闭统计时返回的占位结果。
func DisabledMap() map[string]float64 {
	return map[string]float64{KeyMetricsDisabled: 1}
}

// Reset 清空所有统计。
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.total.Store(0)
	m.successful.Store(0)
	m.failed.Store(0)
	m.latencyUS.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.feeMu.Lock()
	m.totalFee = 0
	m.feeMu.Unlock()
}
