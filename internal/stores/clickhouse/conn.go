package clickhouse

import (
	"context"
	"fmt"
	"time"

	"poolwatch/internal/config"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

const createRawSwaps = `
	CREATE TABLE IF NOT EXISTS raw_swaps (
		event_time     DateTime64(3, 'UTC'),
		chain          LowCardinality(String),
		variant        LowCardinality(String),
		tx_hash        String,
		log_index      UInt32,
		event_id       String,
		pool_address   String,
		amount0        String,
		amount1        String,
		block_number   UInt64,
		schema_version UInt16
	)
	ENGINE = ReplacingMergeTree
	PARTITION BY toYYYYMM(event_time)
	ORDER BY (chain, variant, pool_address, event_time, tx_hash, log_index)
`

type Conn struct {
	Native ch.Conn
}

func New(ctx context.Context, cfg *config.ClickHouseConfig) (*Conn, error) {
	if cfg == nil {
		return nil, fmt.Errorf("clickhouse config cannot be nil")
	}
	opts, err := ch.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed parse DSN ch, error=%w", err)
	}

	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	if opts.Compression == nil {
		opts.Compression = &ch.Compression{Method: ch.CompressionLZ4}
	}

	opts.ClientInfo = ch.ClientInfo{
		Products: []struct{ Name, Version string }{
			{
				Name:    "poolwatch",
				Version: "0.1.0",
			},
		},
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed Open ch, error=%w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err = conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("failed ping ch, error=%w", err)
	}

	if err = conn.Exec(ctx, createRawSwaps); err != nil {
		return nil, fmt.Errorf("failed create raw_swaps, error=%w", err)
	}

	return &Conn{Native: conn}, nil
}

func (c *Conn) Health(ctx context.Context) error {
	return c.Native.Ping(ctx)
}

func (c *Conn) Close() error {
	return c.Native.Close()
}
