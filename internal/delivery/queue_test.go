package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

// --- helpers ---

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

type recordingPoster struct {
	mu        sync.Mutex
	delivered []string
	postedAt  []time.Time
	failOnce  map[string]bool
	failAll   bool
	calls     int
	block     chan struct{}
}

func (p *recordingPoster) Name() string { return "test" }

func (p *recordingPoster) Post(_ context.Context, a *domain.PendingAlert) error {
	if p.block != nil {
		<-p.block
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.postedAt = append(p.postedAt, time.Now())

	if p.failAll {
		return errors.New("channel down")
	}
	if p.failOnce[a.Pool] {
		delete(p.failOnce, a.Pool)
		return errors.New("transient")
	}
	p.delivered = append(p.delivered, a.Pool)
	return nil
}

func (p *recordingPoster) got() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.delivered...)
}

// sleepRecorder is a fake clock: sleeping returns at once and moves the clock forward
type sleepRecorder struct {
	mu     sync.Mutex
	pauses []time.Duration
	at     time.Time
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.pauses = append(s.pauses, d)
	s.at = s.at.Add(d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.pauses...)
}

func testConfig() *config.DeliveryConfig {
	return &config.DeliveryConfig{
		MaxPerActivation: 5,
		MinDelay:         30 * time.Second,
		MaxDelay:         120 * time.Second,
	}
}

func newTestQueue(t *testing.T, cfg *config.DeliveryConfig, p Poster, s *sleepRecorder) *Queue {
	t.Helper()
	if s.at.IsZero() {
		s.at = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	q, err := NewQueue(newTestLogger(), cfg, p, WithSleep(s.sleep), WithClock(s.now))
	require.NoError(t, err)
	return q
}

func enqueue(t *testing.T, q *Queue, pools ...string) {
	t.Helper()
	for _, p := range pools {
		_, err := q.Enqueue(domain.PendingAlert{Chain: domain.ChainEthereum, Variant: domain.VariantConstantProduct, Pool: p, Text: "alert " + p})
		require.NoError(t, err)
	}
}

// ========== Pacing Tests ==========

func TestDrain_CapPerActivation(t *testing.T) {
	poster := &recordingPoster{}
	sleeps := &sleepRecorder{}
	q := newTestQueue(t, testConfig(), poster, sleeps)

	enqueue(t, q, "p1", "p2", "p3", "p4", "p5", "p6", "p7")

	n := q.Drain(context.Background())

	assert.Equal(t, 5, n)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, poster.got())
	assert.Equal(t, StateIdle, q.State())

	require.Len(t, sleeps.pauses, 4, "pause only between deliveries")
	for _, d := range sleeps.pauses {
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.LessOrEqual(t, d, 120*time.Second)
	}

	// the next activation still waits before its first post
	n = q.Drain(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, q.Len())
	require.Len(t, sleeps.pauses, 6)
	assert.GreaterOrEqual(t, sleeps.pauses[4], 30*time.Second)
}

func TestDrain_EmptyQueue(t *testing.T) {
	poster := &recordingPoster{}
	q := newTestQueue(t, testConfig(), poster, &sleepRecorder{})

	assert.Equal(t, 0, q.Drain(context.Background()))
	assert.Equal(t, 0, poster.calls)
}

func TestUniform_WithinBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := uniform(30*time.Second, 120*time.Second)
		require.GreaterOrEqual(t, d, 30*time.Second)
		require.LessOrEqual(t, d, 120*time.Second)
	}
	assert.Equal(t, time.Second, uniform(time.Second, time.Second))
}

// ========== Retry Tests ==========

func TestDrain_TransientFailureRequeuesAtTail(t *testing.T) {
	poster := &recordingPoster{failOnce: map[string]bool{"x": true}}
	sleeps := &sleepRecorder{}
	q := newTestQueue(t, testConfig(), poster, sleeps)

	enqueue(t, q, "a", "x", "b", "c")

	n := q.Drain(context.Background())

	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"a", "b", "c", "x"}, poster.got())
	assert.Equal(t, 0, q.Len())

	// a ok, x failed -> penalty, b ok, c ok
	require.Len(t, sleeps.pauses, 4)
	assert.Equal(t, 240*time.Second, sleeps.pauses[1])
}

func TestDrain_FailedAttemptsCountTowardCap(t *testing.T) {
	poster := &recordingPoster{failAll: true}
	sleeps := &sleepRecorder{}
	q := newTestQueue(t, testConfig(), poster, sleeps)

	enqueue(t, q, "a")

	n := q.Drain(context.Background())

	assert.Equal(t, 0, n)
	assert.Equal(t, 5, poster.calls)
	assert.Equal(t, 1, q.Len(), "item stays queued")
	for _, d := range sleeps.pauses {
		assert.Equal(t, 240*time.Second, d)
	}
	assert.Equal(t, 5, q.Pending()[0].Attempts)
}

func TestDrain_MaxAttemptsDrops(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	poster := &recordingPoster{failAll: true}
	q := newTestQueue(t, cfg, poster, &sleepRecorder{})

	enqueue(t, q, "a")

	q.Drain(context.Background())

	assert.Equal(t, 2, poster.calls)
	assert.Equal(t, 0, q.Len())
}

func TestDrain_PenaltyCarriesIntoNextActivation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerActivation = 1
	poster := &recordingPoster{failOnce: map[string]bool{"x": true}}
	sleeps := &sleepRecorder{}
	q := newTestQueue(t, cfg, poster, sleeps)

	enqueue(t, q, "x")

	assert.Equal(t, 0, q.Drain(context.Background()))
	assert.Empty(t, sleeps.pauses, "first post of an idle queue does not wait")

	assert.Equal(t, 1, q.Drain(context.Background()))
	require.Len(t, sleeps.pauses, 1)
	assert.Equal(t, 240*time.Second, sleeps.pauses[0])
	assert.Equal(t, []string{"x"}, poster.got())
}

// ========== Concurrency Tests ==========

func TestDrain_NoReentry(t *testing.T) {
	poster := &recordingPoster{block: make(chan struct{})}
	q := newTestQueue(t, testConfig(), poster, &sleepRecorder{})

	enqueue(t, q, "a")

	done := make(chan int)
	go func() { done <- q.Drain(context.Background()) }()

	require.Eventually(t, func() bool { return q.State() == StateDraining }, time.Second, time.Millisecond)

	assert.Equal(t, 0, q.Drain(context.Background()), "second drain must not start")

	close(poster.block)
	assert.Equal(t, 1, <-done)
	assert.Equal(t, StateIdle, q.State())
}

func TestQueue_StartTriggerStop(t *testing.T) {
	poster := &recordingPoster{}
	q := newTestQueue(t, testConfig(), poster, &sleepRecorder{})

	q.Start(context.Background())
	enqueue(t, q, "a", "b")
	q.Trigger()

	require.Eventually(t, func() bool { return len(poster.got()) == 2 }, 2*time.Second, 5*time.Millisecond)

	enqueue(t, q, "c")
	q.Stop()

	assert.Equal(t, 0, q.Len(), "stop discards pending alerts")
	_, err := q.Enqueue(domain.PendingAlert{Pool: "d"})
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestStop_InterruptsPause(t *testing.T) {
	poster := &recordingPoster{}
	cfg := testConfig()
	q, err := NewQueue(newTestLogger(), cfg, poster)
	require.NoError(t, err)

	q.Start(context.Background())
	enqueue(t, q, "a", "b")
	q.Trigger()

	require.Eventually(t, func() bool { return len(poster.got()) == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop blocked on the 30s pause")
	}
	assert.Equal(t, []string{"a"}, poster.got())
}

func TestEnqueue_AssignsID(t *testing.T) {
	q := newTestQueue(t, testConfig(), &recordingPoster{}, &sleepRecorder{})

	ids := map[string]bool{}
	for i := 0; i < 10; i++ {
		id, err := q.Enqueue(domain.PendingAlert{Pool: fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
		ids[id] = true
	}
	assert.Len(t, ids, 10)
	assert.False(t, q.Pending()[0].EnqueuedAt.IsZero())
}

func TestQueue_LeftoversDeliveredWithoutNewTrigger(t *testing.T) {
	poster := &recordingPoster{failOnce: map[string]bool{"p5": true}}
	sleeps := &sleepRecorder{}
	q := newTestQueue(t, testConfig(), poster, sleeps)

	enqueue(t, q, "p1", "p2", "p3", "p4", "p5", "p6", "p7")

	q.Start(context.Background())
	defer q.Stop()
	q.Trigger()

	require.Eventually(t, func() bool { return len(poster.got()) == 7 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p6", "p7", "p5"}, poster.got())
	assert.Equal(t, 0, q.Len())

	// 8 posts, one pause before each but the first
	require.Eventually(t, func() bool { return len(sleeps.recorded()) == 7 }, time.Second, 5*time.Millisecond)
}

func TestQueue_PacingAcrossActivations(t *testing.T) {
	cfg := &config.DeliveryConfig{
		MaxPerActivation: 5,
		MinDelay:         50 * time.Millisecond,
		MaxDelay:         50 * time.Millisecond,
	}
	poster := &recordingPoster{}
	q, err := NewQueue(newTestLogger(), cfg, poster)
	require.NoError(t, err)

	enqueue(t, q, "p1", "p2", "p3", "p4", "p5", "p6", "p7")

	q.Start(context.Background())
	defer q.Stop()

	q.Trigger()
	require.Eventually(t, func() bool { return q.State() == StateDraining }, time.Second, time.Millisecond)
	q.Trigger()
	q.Trigger()

	require.Eventually(t, func() bool { return len(poster.got()) == 7 }, 3*time.Second, 5*time.Millisecond)

	poster.mu.Lock()
	defer poster.mu.Unlock()
	for i := 1; i < len(poster.postedAt); i++ {
		gap := poster.postedAt[i].Sub(poster.postedAt[i-1])
		assert.GreaterOrEqual(t, gap, 50*time.Millisecond, "posts %d and %d", i, i+1)
	}
}
