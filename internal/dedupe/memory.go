package dedupe

import (
	"context"
	"sync"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
)

var _ Cache = (*MemoryDedupe)(nil)

// MemoryDedupe is the single-instance alert cache. Keys are "<chain>:<address>".
type MemoryDedupe struct {
	log logger.Logger
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	deadline map[string]time.Time // zero -> never expires

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewInMemoryDedupe keeps marked keys for ttl (0 keeps them for the process lifetime).
// sweepEvery > 0 starts a goroutine removing expired keys, stopped by Close.
func NewInMemoryDedupe(log logger.Logger, ttl, sweepEvery time.Duration) *MemoryDedupe {
	m := &MemoryDedupe{
		log:      log,
		ttl:      ttl,
		now:      time.Now,
		deadline: make(map[string]time.Time, 1024),
		stopCh:   make(chan struct{}),
	}

	if sweepEvery > 0 && ttl > 0 {
		go m.sweepLoop(sweepEvery)
	}

	return m
}

func (m *MemoryDedupe) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	until, ok := m.deadline[key]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return until.IsZero() || m.now().Before(until), nil
}

func (m *MemoryDedupe) Mark(_ context.Context, key string) error {
	var until time.Time
	if m.ttl > 0 {
		until = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	m.deadline[key] = until
	m.mu.Unlock()

	m.log.Debugf("Marked %s as alerted", key)
	return nil
}

func (m *MemoryDedupe) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.deadline)
}

// sweep drops expired keys and returns how many were removed
func (m *MemoryDedupe) sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, until := range m.deadline {
		if !until.IsZero() && !now.Before(until) {
			delete(m.deadline, k)
			removed++
		}
	}
	return removed
}

func (m *MemoryDedupe) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-t.C:
			if n := m.sweep(); n > 0 {
				m.log.Debugf("Dedupe cache sweep removed %d expired keys", n)
			}
		}
	}
}

// Close stops the sweeper; safe to call more than once
func (m *MemoryDedupe) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
