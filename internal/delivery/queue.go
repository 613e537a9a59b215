package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"
	"poolwatch/internal/metrics"

	"github.com/google/uuid"
	"gitlab.com/nevasik7/alerting/logger"
)

type State int32

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	if s == StateDraining {
		return "DRAINING"
	}
	return "IDLE"
}

var ErrQueueStopped = errors.New("delivery queue stopped")

// Poster sends one alert to the outbound channel
type Poster interface {
	Post(ctx context.Context, alert *domain.PendingAlert) error
	Name() string
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Queue)

// WithSleep replaces the pause between deliveries
func WithSleep(fn SleepFunc) Option {
	return func(q *Queue) { q.sleep = fn }
}

// WithClock replaces time.Now for the pacing deadline
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithJitter replaces the uniform delay draw in [min, max]
func WithJitter(fn func(lo, hi time.Duration) time.Duration) Option {
	return func(q *Queue) { q.jitter = fn }
}

// Queue is an in-memory FIFO of composed alerts with a single paced consumer.
// Items are lost on restart.
type Queue struct {
	log              logger.Logger
	poster           Poster
	maxPerActivation int
	minDelay         time.Duration
	maxDelay         time.Duration
	maxAttempts      int // 0 -> unlimited

	sleep  SleepFunc
	jitter func(lo, hi time.Duration) time.Duration
	now    func() time.Time

	mu      sync.Mutex
	items   []*domain.PendingAlert
	stopped bool

	// earliest time of the next Post, carried across activations
	nextPostAt time.Time

	state   atomic.Int32
	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewQueue(log logger.Logger, cfg *config.DeliveryConfig, poster Poster, opts ...Option) (*Queue, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the delivery queue")
	}
	if poster == nil {
		return nil, errors.New("poster is required to the delivery queue")
	}

	// sane defaults
	perActivation := cfg.MaxPerActivation
	if perActivation <= 0 {
		perActivation = 5
	}
	minDelay := cfg.MinDelay
	if minDelay < 0 {
		minDelay = 0
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	q := &Queue{
		log:              log,
		poster:           poster,
		maxPerActivation: perActivation,
		minDelay:         minDelay,
		maxDelay:         maxDelay,
		maxAttempts:      cfg.MaxAttempts,
		sleep:            sleepCtx,
		jitter:           uniform,
		now:              time.Now,
		items:            make([]*domain.PendingAlert, 0, 16),
		trigger:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}

	return q, nil
}

// Enqueue appends an alert at the tail
func (q *Queue) Enqueue(alert domain.PendingAlert) (string, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.EnqueuedAt.IsZero() {
		alert.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", ErrQueueStopped
	}
	q.items = append(q.items, &alert)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.AlertsEnqueued.WithLabelValues(string(alert.Chain)).Inc()
	metrics.QueueDepth.Set(float64(depth))
	q.log.Infof("Alert %s enqueued for %s/%s %s, depth=%d", alert.ID, alert.Chain, alert.Variant, alert.Pool, depth)

	return alert.ID, nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) State() State {
	return State(q.state.Load())
}

// Pending returns a copy of the queued alerts, head first
func (q *Queue) Pending() []domain.PendingAlert {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.PendingAlert, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	return out
}

// Start runs the consumer; Trigger wakes it
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.trigger:
				q.Drain(ctx)
				// leftovers past the cap or requeued failures need no new alert to move on
				if ctx.Err() == nil && q.Len() > 0 {
					q.Trigger()
				}
			}
		}
	}()
}

// Trigger asks the consumer for one activation. Never blocks; signals coalesce.
func (q *Queue) Trigger() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels an in-flight drain and discards whatever is still queued
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()

	q.mu.Lock()
	dropped := len(q.items)
	q.items = nil
	q.stopped = true
	q.mu.Unlock()

	metrics.QueueDepth.Set(0)
	if dropped > 0 {
		q.log.Warnf("Delivery queue stopped, %d undelivered alerts discarded", dropped)
	}
}

// Drain is one activation: up to maxPerActivation attempts. Every Post waits for the pacing
// deadline left by the previous one, also across activations. Returns the number delivered.
// A concurrent call while a drain is in progress returns immediately.
func (q *Queue) Drain(ctx context.Context) int {
	if !q.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		q.log.Debugf("Drain already in progress, skip")
		return 0
	}
	defer q.state.Store(int32(StateIdle))

	delivered := 0
	for attempts := 0; attempts < q.maxPerActivation && q.Len() > 0; attempts++ {
		if err := q.waitTurn(ctx); err != nil {
			q.log.Infof("Drain interrupted: %v", err)
			break
		}

		alert := q.pop()
		if alert == nil {
			break
		}

		alert.Attempts++
		if err := q.poster.Post(ctx, alert); err != nil {
			metrics.AlertDeliveries.WithLabelValues(q.poster.Name(), "failed").Inc()
			if q.maxAttempts > 0 && alert.Attempts >= q.maxAttempts {
				metrics.AlertDeliveries.WithLabelValues(q.poster.Name(), "dropped").Inc()
				q.log.Errorf("Alert %s for %s dropped after %d attempts: %v", alert.ID, alert.Pool, alert.Attempts, err)
			} else {
				q.requeue(alert)
				q.log.Warnf("Alert %s for %s failed (attempt %d), requeued: %v", alert.ID, alert.Pool, alert.Attempts, err)
			}
			q.setNextPost(2 * q.maxDelay)
			continue
		}

		delivered++
		metrics.AlertDeliveries.WithLabelValues(q.poster.Name(), "delivered").Inc()
		q.log.Infof("Alert %s delivered via %s (%s/%s %s, attempt %d)",
			alert.ID, q.poster.Name(), alert.Chain, alert.Variant, alert.Pool, alert.Attempts)
		q.setNextPost(q.jitter(q.minDelay, q.maxDelay))
	}

	metrics.QueueDepth.Set(float64(q.Len()))
	return delivered
}

// waitTurn sleeps until the pacing deadline
func (q *Queue) waitTurn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	wait := q.nextPostAt.Sub(q.now())
	q.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return q.sleep(ctx, wait)
}

func (q *Queue) setNextPost(pause time.Duration) {
	q.mu.Lock()
	q.nextPostAt = q.now().Add(pause)
	q.mu.Unlock()
}

func (q *Queue) pop() *domain.PendingAlert {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return it
}

func (q *Queue) requeue(alert *domain.PendingAlert) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.items = append(q.items, alert)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}
