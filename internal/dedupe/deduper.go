package dedupe

import (
	"context"
	"errors"
	"fmt"

	"poolwatch/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

// Registry answers "has this pool already been alerted on this chain". Entries never expire.
type Registry interface {
	IsAlerted(ctx context.Context, chain domain.Chain, address string) (bool, error)
	RecordAlert(ctx context.Context, rec domain.AlertRecord) error
}

// Cache is a positive-only front of the durable store (redis, in-memory).
// A hit means alerted; a miss says nothing and falls through to the store.
type Cache interface {
	Has(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// AlertStore is the durable registry table
type AlertStore interface {
	Exists(ctx context.Context, chain domain.Chain, address string) (bool, error)
	Upsert(ctx context.Context, rec domain.AlertRecord) error
}

var _ Registry = (*AlertRegistry)(nil)

type AlertRegistry struct {
	log   logger.Logger
	store AlertStore
	cache Cache // optional
}

func NewAlertRegistry(log logger.Logger, store AlertStore, cache Cache) (*AlertRegistry, error) {
	if store == nil {
		return nil, errors.New("alert store is required to the registry")
	}
	return &AlertRegistry{log: log, store: store, cache: cache}, nil
}

func (r *AlertRegistry) IsAlerted(ctx context.Context, chain domain.Chain, address string) (bool, error) {
	key := domain.AlertKey(chain, address)

	if r.cache != nil {
		hit, err := r.cache.Has(ctx, key)
		if err != nil {
			r.log.Warnf("Dedupe cache lookup failed for %s, fall back to store: %v", key, err)
		} else if hit {
			return true, nil
		}
	}

	ok, err := r.store.Exists(ctx, chain, address)
	if err != nil {
		return false, fmt.Errorf("%w: registry lookup %s: %v", domain.ErrPersistence, key, err)
	}

	if ok && r.cache != nil {
		r.mark(ctx, key)
	}
	return ok, nil
}

// RecordAlert upserts the durable row first; the cache is only marked after it is stored
func (r *AlertRegistry) RecordAlert(ctx context.Context, rec domain.AlertRecord) error {
	if err := r.store.Upsert(ctx, rec); err != nil {
		return err
	}
	if r.cache != nil {
		r.mark(ctx, domain.AlertKey(rec.Chain, rec.Address))
	}
	return nil
}

func (r *AlertRegistry) mark(ctx context.Context, key string) {
	if err := r.cache.Mark(ctx, key); err != nil {
		r.log.Warnf("Failed to mark %s in dedupe cache: %v", key, err)
	}
}
