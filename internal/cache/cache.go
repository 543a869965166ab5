package cache

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// ErrInvalidTTL 表示 TTL 不是正数。
var ErrInvalidTTL = errors.New("cache ttl must be positive")

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// Stats 是累计的缓存计数。
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Option 定义可选配置。
type Option[V any] func(*core[V])

// WithCloner 让 Get 返回 clone(v) 而不是存储的值本身。
func WithCloner[V any](clone func(V) V) Option[V] {
	return func(c *core[V]) { c.clone = clone }
}

// WithClock 替换时间来源。
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *core[V]) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSweepInterval 设置后台清理周期，默认等于 TTL。
func WithSweepInterval[V any](d time.Duration) Option[V] {
	return func(c *core[V]) {
		if d > 0 {
			c.sweepEvery = d
		}
	}
}

// Cache 是可并发使用的 TTL 缓存。
//
// Get 命中过期条目时将其删除并记为未命中；后台 goroutine 按清理周期移除过期条目。
// Close 停止清理；未调用 Close 而 Cache 不再可达时，由运行时停止清理。
type Cache[V any] struct {
	*core[V]
	sw *sweeper
}

type core[V any] struct {
	ttl        time.Duration
	sweepEvery time.Duration
	now        func() time.Time
	clone      func(V) V
	shards     [shardCount]*shard[V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type sweeper struct {
	stop chan struct{}
	once sync.Once
}

func (s *sweeper) close() {
	s.once.Do(func() { close(s.stop) })
}

// New 创建条目存活 ttl 的缓存。
func New[V any](ttl time.Duration, opts ...Option[V]) (*Cache[V], error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	c := &core[V]{ttl: ttl, sweepEvery: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard[V]{entries: make(map[string]entry[V])}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	sw := &sweeper{stop: make(chan struct{})}
	go c.run(sw.stop)

	// 清理 goroutine 只引用 core，外层句柄因此可以被回收。
	outer := &Cache[V]{core: c, sw: sw}
	runtime.AddCleanup(outer, func(s *sweeper) { s.close() }, sw)
	return outer, nil
}

func (c *core[V]) run(stop <-chan struct{}) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-stop:
			return
		}
	}
}

// Close 停止后台清理，可重复调用。
func (c *Cache[V]) Close() {
	if c == nil || c.sw == nil {
		return
	}
	c.sw.close()
}

func (c *core[V]) shardFor(key string) *shard[V] {
	return c.shards[xxhash.Sum64String(key)%shardCount]
}

// Set 写入 key，覆盖旧值并重新计算 TTL。
func (c *core[V]) Set(key string, value V) {
	s := c.shardFor(key)
	expires := c.now().Add(c.ttl)
	s.mu.Lock()
	s.entries[key] = entry[V]{value: value, expiresAt: expires}
	s.mu.Unlock()
}

// Get 返回 key 对应的未过期值，过期条目会被删除。
func (c *core[V]) Get(key string) (V, bool) {
	var zero V
	s := c.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return zero, false
	}

	now := c.now()
	if !now.Before(e.expiresAt) {
		s.mu.Lock()
		// 并发的 Set 可能已刷新该条目。
		if cur, still := s.entries[key]; still && !now.Before(cur.expiresAt) {
			delete(s.entries, key)
			c.evictions.Add(1)
		}
		s.mu.Unlock()
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	if c.clone != nil {
		return c.clone(e.value), true
	}
	return e.value, true
}

// Delete 删除 key，key 不存在时什么也不做。
func (c *core[V]) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len 返回条目数，包含尚未清理的过期条目。
func (c *core[V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// TTL 返回条目存活时间。
func (c *core[V]) TTL() time.Duration { return c.ttl }

// Stats 返回命中、未命中与淘汰计数。
func (c *core[V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Sweep 立即移除所有过期条目。
func (c *core[V]) Sweep() int { return c.sweep() }

func (c *core[V]) sweep() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if !now.Before(e.expiresAt) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.evictions.Add(uint64(removed))
	}
	return removed
}
