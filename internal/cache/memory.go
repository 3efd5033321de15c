package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/pairgate/internal/clock"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Expired entries are dropped lazily
// on read and by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   clock.Clock

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore returns an empty store reading time from c (wall clock if nil).
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		clock:   clock.Or(c),
		stop:    make(chan struct{}),
	}
}

func (m *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: m.clock.Now().Add(ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return "", false
	}
	return e.value, true
}

func (m *MemoryStore) RemainingTTL(_ context.Context, key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return 0, false
	}
	return e.expiresAt.Sub(m.clock.Now()), true
}

func (m *MemoryStore) Len(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	n := 0
	for _, e := range m.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// liveLocked returns the entry for key, evicting it if expired.
func (m *MemoryStore) liveLocked(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

// Sweep removes every expired entry and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until Close.
func (m *MemoryStore) StartSweeper(interval time.Duration) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					slog.Debug("cache: swept expired codes", "removed", n)
				}
			}
		}
	}()
}

func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}
