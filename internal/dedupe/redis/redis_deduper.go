package redis

import (
	"context"
	"fmt"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/dedupe"
	rdb "poolwatch/internal/stores/redis"

	"gitlab.com/nevasik7/alerting/logger"
)

var _ dedupe.Cache = (*RedisDedupe)(nil)

type RedisDedupe struct {
	log    logger.Logger
	rdb    *rdb.Client
	ttl    time.Duration
	prefix string
}

// Cluster-wide alert cache on plain keys with optional TTL
// prefix example "poolwatch:alerted:"
func NewRedisDeduper(log logger.Logger, cfg *config.DedupeConfig, rdb *rdb.Client) (*RedisDedupe, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required to the redis deduper")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis deduper")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "poolwatch:alerted:"
	}

	return &RedisDedupe{
		log:    log,
		rdb:    rdb,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

func (d *RedisDedupe) Has(ctx context.Context, key string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.prefix+key).Result()
	if err != nil {
		d.log.Errorf("Redis Exists error=%v", err)
		return false, fmt.Errorf("redis Exists error=%v", err)
	}
	return n > 0, nil
}

// Mark sets the key; ttl 0 keeps it forever
func (d *RedisDedupe) Mark(ctx context.Context, key string) error {
	if err := d.rdb.Set(ctx, d.prefix+key, 1, d.ttl).Err(); err != nil {
		d.log.Errorf("Redis Set error=%v", err)
		return fmt.Errorf("redis Set error=%v", err)
	}
	return nil
}
