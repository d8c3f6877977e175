package rate

import (
	"sync"
	"time"
)

// Limiter counts events per key inside a fixed window.
type Limiter interface {
	// Allow records one event for key and reports whether it is still within
	// limit, along with the time left in the current window.
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
	// Blocked reports whether key has used up limit without recording an event.
	Blocked(key string, limit int) (bool, time.Duration)
	// Reset forgets key.
	Reset(key string)
}

type MemoryLimiter struct {
	mu    sync.Mutex
	store map[string]*bucket
	now   func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
	window  time.Duration
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]*bucket), now: time.Now}
}

func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	b, ok := m.store[key]
	if !ok || now.After(b.resetAt) || b.window != window {
		b = &bucket{count: 0, resetAt: now.Add(window), window: window}
		m.store[key] = b
	}

	if b.count >= limit {
		return false, b.resetAt.Sub(now)
	}

	b.count++
	return true, b.resetAt.Sub(now)
}

func (m *MemoryLimiter) Blocked(key string, limit int) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.store[key]
	if !ok || now.After(b.resetAt) {
		return false, 0
	}
	if b.count >= limit {
		return true, b.resetAt.Sub(now)
	}
	return false, 0
}

func (m *MemoryLimiter) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
}

// sweep drops expired buckets so keys from one-off clients do not pile up.
func (m *MemoryLimiter) sweep(now time.Time) {
	if len(m.store) < 1024 {
		return
	}
	for k, b := range m.store {
		if now.After(b.resetAt) {
			delete(m.store, k)
		}
	}
}
