package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"
	"poolwatch/internal/metrics"

	"github.com/go-playground/validator/v10"
	"gitlab.com/nevasik7/alerting/logger"
)

// EventWriter is the write side of the event store
type EventWriter interface {
	InsertPools(ctx context.Context, pools []domain.PoolRecord) (int64, error)
	InsertSwaps(ctx context.Context, swaps []domain.SwapEvent) (int64, error)
	PoolAddresses(ctx context.Context, chain domain.Chain, variant domain.Variant) ([]string, error)
}

// SwapSink receives persisted swaps best-effort (analytics)
type SwapSink interface {
	EnqueueSwap(ev *domain.SwapEvent) error
}

type Result struct {
	Batches       int   `json:"batches"`
	PoolsInserted int64 `json:"pools_inserted"`
	SwapsInserted int64 `json:"swaps_inserted"`
	SwapsReceived int   `json:"swaps_received"`
	SwapsUnknown  int   `json:"swaps_unknown_pool"`
}

type Gateway struct {
	log           logger.Logger
	store         EventWriter
	sink          SwapSink // optional
	cache         *PoolCache
	validate      *validator.Validate
	chains        map[domain.Chain]struct{}
	filterUnknown bool
}

func NewGateway(log logger.Logger, cfg *config.IngestConfig, chains []string, store EventWriter, sink SwapSink) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required to the ingestion gateway")
	}
	if store == nil {
		return nil, errors.New("event store is required to the ingestion gateway")
	}
	if len(chains) == 0 {
		return nil, errors.New("at least one chain is required")
	}

	set := make(map[domain.Chain]struct{}, len(chains))
	for _, c := range chains {
		set[domain.Chain(strings.ToLower(c))] = struct{}{}
	}

	return &Gateway{
		log:           log,
		store:         store,
		sink:          sink,
		cache:         NewPoolCache(),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		chains:        set,
		filterUnknown: cfg.FilterUnknownPools,
	}, nil
}

// WarmUp fills the pool cache from the event store
func (g *Gateway) WarmUp(ctx context.Context) error {
	chains := make([]domain.Chain, 0, len(g.chains))
	for c := range g.chains {
		chains = append(chains, c)
	}
	if err := g.cache.Load(ctx, g.store, chains); err != nil {
		return fmt.Errorf("failed warm up pool cache, error=%w", err)
	}
	g.log.Infof("Pool cache loaded, %d pools", g.cache.Len())
	return nil
}

func (g *Gateway) Cache() *PoolCache {
	return g.cache
}

func (g *Gateway) SupportsChain(chain domain.Chain) bool {
	_, ok := g.chains[chain]
	return ok
}

// AcceptBatch validates the whole payload, then persists every creation event before any swap.
// Success or failure is for the whole payload; resubmitting it is always safe.
func (g *Gateway) AcceptBatch(ctx context.Context, payload *domain.WebhookPayload) (*Result, error) {
	start := time.Now()
	res, err := g.accept(ctx, payload)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.IngestBatches.WithLabelValues("ok").Inc()
	case errors.Is(err, domain.ErrValidation):
		metrics.IngestBatches.WithLabelValues("invalid").Inc()
	default:
		metrics.IngestBatches.WithLabelValues("failed").Inc()
	}
	return res, err
}

func (g *Gateway) accept(ctx context.Context, payload *domain.WebhookPayload) (*Result, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrValidation)
	}
	if err := g.validate.StructCtx(ctx, payload); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, describe(err))
	}

	res := &Result{Batches: len(payload.Data)}

	var (
		pools []domain.PoolRecord
		swaps []domain.SwapEvent
	)
	for i := range payload.Data {
		b := &payload.Data[i]
		chain := domain.Chain(strings.ToLower(strings.TrimSpace(string(b.Chain))))
		if chain == "" {
			return nil, fmt.Errorf("%w: data[%d]: chain is required", domain.ErrValidation, i)
		}
		if !g.SupportsChain(chain) {
			return nil, fmt.Errorf("%w: data[%d]: unsupported chain %q", domain.ErrValidation, i, b.Chain)
		}

		for j := range b.UniswapV2.PairCreations {
			pools = append(pools, pairToPool(chain, &b.UniswapV2.PairCreations[j]))
		}
		for j := range b.UniswapV3.PoolCreations {
			pools = append(pools, poolCreationToPool(chain, &b.UniswapV3.PoolCreations[j]))
		}
		for j := range b.UniswapV2.Swaps {
			ev, err := swapV2ToEvent(chain, &b.UniswapV2.Swaps[j])
			if err != nil {
				return nil, err
			}
			swaps = append(swaps, ev)
		}
		for j := range b.UniswapV3.Swaps {
			ev, err := swapV3ToEvent(chain, &b.UniswapV3.Swaps[j])
			if err != nil {
				return nil, err
			}
			swaps = append(swaps, ev)
		}
	}
	res.SwapsReceived = len(swaps)

	if len(pools) > 0 {
		n, err := g.store.InsertPools(ctx, pools)
		if err != nil {
			return nil, persistence(err)
		}
		res.PoolsInserted = n
		g.cache.Add(pools)
		countEvents(pools, nil)
	}

	if g.filterUnknown {
		kept := swaps[:0]
		for _, ev := range swaps {
			if g.cache.Has(ev.Chain, ev.Variant, ev.Pool) {
				kept = append(kept, ev)
				continue
			}
			res.SwapsUnknown++
			metrics.UnknownPoolSwaps.WithLabelValues(string(ev.Chain), string(ev.Variant)).Inc()
			g.log.Debugf("Drop swap %s:%d for unknown pool %s", ev.TxHash, ev.LogIndex, ev.Pool)
		}
		swaps = kept
	}

	if len(swaps) > 0 {
		n, err := g.store.InsertSwaps(ctx, swaps)
		if err != nil {
			return nil, persistence(err)
		}
		res.SwapsInserted = n
		countEvents(nil, swaps)

		if g.sink != nil {
			for i := range swaps {
				if err = g.sink.EnqueueSwap(&swaps[i]); err != nil {
					g.log.Warnf("Analytics sink rejected swap %s:%d: %v", swaps[i].TxHash, swaps[i].LogIndex, err)
					break
				}
			}
		}
	}

	g.log.Debugf("Accepted %d batches: pools +%d, swaps +%d/%d, unknown %d",
		res.Batches, res.PoolsInserted, res.SwapsInserted, res.SwapsReceived, res.SwapsUnknown)
	return res, nil
}

func persistence(err error) error {
	if errors.Is(err, domain.ErrPersistence) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
}

func countEvents(pools []domain.PoolRecord, swaps []domain.SwapEvent) {
	for i := range pools {
		metrics.IngestedEvents.WithLabelValues(string(pools[i].Chain), string(pools[i].Variant), "creation").Inc()
	}
	for i := range swaps {
		metrics.IngestedEvents.WithLabelValues(string(swaps[i].Chain), string(swaps[i].Variant), "swap").Inc()
	}
}

// describe flattens validator errors into "field: rule" pairs
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for i, fe := range verrs {
		if i == 5 {
			parts = append(parts, fmt.Sprintf("and %d more", len(verrs)-i))
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
