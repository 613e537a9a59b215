package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

/*
	Trailing window over the event store. Every call recomputes from persisted swaps,
	nothing is cached between calls so a restart never changes the answer.
*/

type WindowEngine interface {
	TopActive(ctx context.Context, chain domain.Chain, variant domain.Variant, now time.Time) ([]domain.ActivityWindow, error)
	PoolActivity(ctx context.Context, chain domain.Chain, variant domain.Variant, pool string, now time.Time) (*domain.ActivityWindow, error)
}

// EventReader is the read side of the event store the engine needs
type EventReader interface {
	TopPoolsBySwapCount(ctx context.Context, chain domain.Chain, variant domain.Variant, since time.Time, limit int) ([]domain.PoolSwapCount, error)
	SwapsSince(ctx context.Context, chain domain.Chain, variant domain.Variant, pool string, since time.Time) ([]domain.SwapEvent, error)
	GetPool(ctx context.Context, chain domain.Chain, variant domain.Variant, address string) (*domain.PoolRecord, error)
}

type Window struct {
	Log    logger.Logger
	Length time.Duration // 24h by default
	TopN   int

	store EventReader
}

func NewWindowEngine(log logger.Logger, cfg *config.WindowConfig, store EventReader) (*Window, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the window engine")
	}
	if store == nil {
		return nil, errors.New("event store is required to the window engine")
	}

	length := cfg.Length
	if length <= 0 {
		length = 24 * time.Hour
	}

	topN := cfg.TopN
	if topN <= 0 {
		topN = 10
	}

	return &Window{
		Log:    log,
		Length: length,
		TopN:   topN,
		store:  store,
	}, nil
}

// TopActive returns up to TopN pools with at least one swap in [now-Length, ...], most swaps first.
// Pools without a creation record are not reported.
func (w *Window) TopActive(ctx context.Context, chain domain.Chain, variant domain.Variant, now time.Time) ([]domain.ActivityWindow, error) {
	now = now.UTC()
	since := now.Add(-w.Length)

	ranked, err := w.store.TopPoolsBySwapCount(ctx, chain, variant, since, w.TopN)
	if err != nil {
		return nil, fmt.Errorf("%w: rank %s %s pools: %v", domain.ErrAggregation, chain, variant, err)
	}

	out := make([]domain.ActivityWindow, 0, len(ranked))
	for _, r := range ranked {
		aw, err := w.compute(ctx, chain, variant, r.Pool, since, now)
		if err != nil {
			return nil, err
		}
		if aw == nil {
			continue
		}
		out = append(out, *aw)
	}

	// swaps may land between the ranking and the per-pool reads
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalSwaps != out[j].TotalSwaps {
			return out[i].TotalSwaps > out[j].TotalSwaps
		}
		return out[i].Pool < out[j].Pool
	})

	w.Log.Debugf("Window %s/%s: %d active pools since %s", chain, variant, len(out), since.Format(time.RFC3339))
	return out, nil
}

// PoolActivity returns domain.ErrNotFound when the pool has no creation record or no swaps in the window
func (w *Window) PoolActivity(ctx context.Context, chain domain.Chain, variant domain.Variant, pool string, now time.Time) (*domain.ActivityWindow, error) {
	now = now.UTC()
	aw, err := w.compute(ctx, chain, variant, domain.NormalizeAddress(pool), now.Add(-w.Length), now)
	if err != nil {
		return nil, err
	}
	if aw == nil {
		return nil, domain.ErrNotFound
	}
	return aw, nil
}

func (w *Window) compute(ctx context.Context, chain domain.Chain, variant domain.Variant, pool string, since, now time.Time) (*domain.ActivityWindow, error) {
	rec, err := w.store.GetPool(ctx, chain, variant, pool)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load pool %s: %v", domain.ErrAggregation, pool, err)
	}

	swaps, err := w.store.SwapsSince(ctx, chain, variant, pool, since)
	if err != nil {
		return nil, fmt.Errorf("%w: load swaps of %s: %v", domain.ErrAggregation, pool, err)
	}

	var a agg
	for i := range swaps {
		d, err := classify(&swaps[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAggregation, err)
		}
		a.add(d)
	}
	if a.trades == 0 {
		return nil, nil
	}

	aw := a.toActivityWindow(rec, since, now)
	return &aw, nil
}
