package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"
	"poolwatch/internal/metrics"

	"gitlab.com/nevasik7/alerting/logger"
)

type ActivitySource interface {
	TopActive(ctx context.Context, chain domain.Chain, variant domain.Variant, now time.Time) ([]domain.ActivityWindow, error)
}

type Registry interface {
	IsAlerted(ctx context.Context, chain domain.Chain, address string) (bool, error)
	RecordAlert(ctx context.Context, rec domain.AlertRecord) error
}

type Composer interface {
	Compose(ctx context.Context, aw *domain.ActivityWindow) string
}

type Queue interface {
	Enqueue(alert domain.PendingAlert) (string, error)
	Trigger()
}

// Scheduler scans every chain on a fixed interval, one goroutine per chain.
// A chain whose previous scan is still running is skipped for that tick.
type Scheduler struct {
	log           logger.Logger
	chains        []domain.Chain
	interval      time.Duration
	minTradeCount uint64

	activity ActivitySource
	registry Registry
	composer Composer
	queue    Queue
	now      func() time.Time

	running map[domain.Chain]*atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(
	log logger.Logger,
	cfg *config.SchedulerConfig,
	chains []string,
	activity ActivitySource,
	registry Registry,
	composer Composer,
	queue Queue,
) (*Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the scheduler")
	}
	if activity == nil || registry == nil || composer == nil || queue == nil {
		return nil, errors.New("activity, registry, composer and queue are required to the scheduler")
	}
	if len(chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	minTrades := cfg.MinTradeCount
	if minTrades == 0 {
		minTrades = 1000
	}

	s := &Scheduler{
		log:           log,
		interval:      interval,
		minTradeCount: minTrades,
		activity:      activity,
		registry:      registry,
		composer:      composer,
		queue:         queue,
		now:           func() time.Time { return time.Now().UTC() },
		running:       make(map[domain.Chain]*atomic.Bool, len(chains)),
	}
	for _, c := range chains {
		chain := domain.Chain(strings.ToLower(c))
		s.chains = append(s.chains, chain)
		s.running[chain] = &atomic.Bool{}
	}

	return s, nil
}

// Start runs one cycle immediately and then every interval until Stop or ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()

	s.log.Infof("Scheduler started: chains=%v interval=%s min_trade_count=%d", s.chains, s.interval, s.minTradeCount)
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Infof("Scheduler stopped")
}

// tick launches a scan per chain without waiting for them
func (s *Scheduler) tick(ctx context.Context) {
	for _, chain := range s.chains {
		s.wg.Add(1)
		go func(chain domain.Chain) {
			defer s.wg.Done()
			if _, err := s.RunChain(ctx, chain); err != nil {
				s.log.Errorf("Scan %s failed, next cycle proceeds: %v", chain, err)
			}
		}(chain)
	}
}

// RunChain is one cycle for one chain. Returns the number of alerts enqueued.
func (s *Scheduler) RunChain(ctx context.Context, chain domain.Chain) (int, error) {
	flag, ok := s.running[chain]
	if !ok {
		return 0, fmt.Errorf("%w: chain %q is not scheduled", domain.ErrValidation, chain)
	}
	if !flag.CompareAndSwap(false, true) {
		metrics.SchedulerCycles.WithLabelValues(string(chain), "skipped").Inc()
		s.log.Warnf("Scan %s still running, skip this tick", chain)
		return 0, nil
	}
	defer flag.Store(false)

	now := s.now()
	enqueued := 0

	for _, variant := range domain.Variants {
		n, err := s.scan(ctx, chain, variant, now)
		enqueued += n
		if err != nil {
			metrics.SchedulerCycles.WithLabelValues(string(chain), "failed").Inc()
			if enqueued > 0 {
				s.queue.Trigger()
			}
			return enqueued, err
		}
	}

	metrics.SchedulerCycles.WithLabelValues(string(chain), "ok").Inc()
	if enqueued > 0 {
		s.queue.Trigger()
	}
	s.log.Infof("Scan %s done, %d alerts enqueued", chain, enqueued)
	return enqueued, nil
}

func (s *Scheduler) scan(ctx context.Context, chain domain.Chain, variant domain.Variant, now time.Time) (int, error) {
	windows, err := s.activity.TopActive(ctx, chain, variant, now)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for i := range windows {
		aw := &windows[i]
		if aw.TotalSwaps < s.minTradeCount {
			continue
		}

		alerted, err := s.registry.IsAlerted(ctx, chain, aw.Pool)
		if err != nil {
			return enqueued, err
		}
		if alerted {
			continue
		}
		metrics.Candidates.WithLabelValues(string(chain), string(variant)).Inc()

		text := s.composer.Compose(ctx, aw)
		id, err := s.queue.Enqueue(domain.PendingAlert{
			Chain:   chain,
			Variant: variant,
			Pool:    aw.Pool,
			Text:    text,
		})
		if err != nil {
			return enqueued, fmt.Errorf("enqueue alert for %s: %w", aw.Pool, err)
		}

		// recorded as attempted, not as delivered
		if err = s.registry.RecordAlert(ctx, domain.AlertRecord{
			Chain:         chain,
			Address:       aw.Pool,
			Variant:       variant,
			Token0:        aw.Token0,
			Token1:        aw.Token1,
			TradeCount:    aw.TotalSwaps,
			Fee:           aw.Fee,
			FirstPostedAt: now,
		}); err != nil {
			return enqueued + 1, fmt.Errorf("record alert %s for %s: %w", id, aw.Pool, err)
		}

		enqueued++
		s.log.Infof("Pool %s %s/%s has %d swaps in 24h (buys=%d sells=%d), alert %s queued",
			aw.Pool, chain, variant, aw.TotalSwaps, aw.BuyCount, aw.SellCount, id)
	}

	return enqueued, nil
}
