// Package events publishes transaction lifecycle events to downstream
// consumers. Publishing is best effort: the execution pipeline logs publish
// failures and never returns them to callers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Type 标识事件类型。
type Type string

const (
	TypeSettled Type = "transaction.settled"
	TypeFailed  Type = "transaction.failed"
)

// Event 描述一次执行的结果。
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	ReferenceID string    `json:"reference_id"`
	Intent      string    `json:"intent"`
	Amount      string    `json:"amount"`
	Asset       string    `json:"asset"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockHeight uint64    `json:"block_height,omitempty"`
	Fee         string    `json:"fee,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	LatencyMs   float64   `json:"latency_ms"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Encode 将事件编码为 JSON。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 发布事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher。
func (Nop) Close() error { return nil }

// Memory 将事件保存在内存中，超过容量时丢弃最旧的事件。
type Memory struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewMemory 创建内存发布器。capacity <= 0 时默认为 1024。
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{capacity: capacity}
}

// Publish 实现 Publisher。
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) >= m.capacity {
		m.events = append(m.events[:0], m.events[1:]...)
	}
	m.events = append(m.events, event)
	return nil
}

// Events 返回已发布事件的副本。
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Close 实现 Publisher。
func (m *Memory) Close() error { return nil }
