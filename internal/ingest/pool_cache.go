package ingest

import (
	"context"
	"fmt"
	"sync"

	"poolwatch/internal/domain"
)

// PoolCache is the set of pools with a persisted creation record, per chain and variant.
// Owned by the Gateway: loaded once at startup, extended after creation events are stored.
type PoolCache struct {
	mu    sync.RWMutex
	known map[string]struct{}
}

func NewPoolCache() *PoolCache {
	return &PoolCache{known: make(map[string]struct{}, 4096)}
}

func poolKey(chain domain.Chain, variant domain.Variant, address string) string {
	return string(chain) + ":" + string(variant) + ":" + domain.NormalizeAddress(address)
}

type poolLister interface {
	PoolAddresses(ctx context.Context, chain domain.Chain, variant domain.Variant) ([]string, error)
}

func (c *PoolCache) Load(ctx context.Context, store poolLister, chains []domain.Chain) error {
	for _, chain := range chains {
		for _, variant := range domain.Variants {
			addrs, err := store.PoolAddresses(ctx, chain, variant)
			if err != nil {
				return fmt.Errorf("load %s %s pools: %w", chain, variant, err)
			}

			c.mu.Lock()
			for _, a := range addrs {
				c.known[poolKey(chain, variant, a)] = struct{}{}
			}
			c.mu.Unlock()
		}
	}
	return nil
}

func (c *PoolCache) Add(pools []domain.PoolRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range pools {
		c.known[poolKey(pools[i].Chain, pools[i].Variant, pools[i].Address)] = struct{}{}
	}
}

func (c *PoolCache) Has(chain domain.Chain, variant domain.Variant, address string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.known[poolKey(chain, variant, address)]
	return ok
}

func (c *PoolCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.known)
}
