package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// Memory is an in-process Cache backed by sync.Map with a background
// sweeper, grounded directly on klppl-klistr/internal/ap/client.go's
// objectCache/wfCache pattern. Suitable for single-process deployments or
// as the default when REDIS_URL is unset.
type Memory struct {
	entries sync.Map // string -> memoryEntry
	done    chan struct{}
}

// NewMemory starts a Memory cache with a background sweeper that evicts
// expired entries every sweepInterval.
func NewMemory(sweepInterval time.Duration) *Memory {
	m := &Memory{done: make(chan struct{})}
	go m.sweepLoop(sweepInterval)
	return m
}

func (m *Memory) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.entries.Range(func(k, v interface{}) bool {
				if now.After(v.(memoryEntry).expires) {
					m.entries.Delete(k)
				}
				return true
			})
		case <-m.done:
			return
		}
	}
}

// Close stops the background sweeper.
func (m *Memory) Close() {
	close(m.done)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return "", false, nil
	}
	entry := v.(memoryEntry)
	if time.Now().After(entry.expires) {
		m.entries.Delete(key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.entries.Store(key, memoryEntry{value: value, expires: time.Now().Add(ttl)})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

var _ Cache = (*Memory)(nil)
