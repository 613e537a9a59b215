package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"
	"poolwatch/internal/metrics"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"
)

const schemaVersion = 1

var ErrWriterClosed = errors.New("clickhouse writer closed")

// RawSwapRow is one swap in the analytics table. Amounts are net, signed from the pool's side.
type RawSwapRow struct {
	EventTime     time.Time
	Chain         string
	Variant       string
	TxHash        string
	LogIndex      uint32
	EventID       string
	PoolAddress   string
	Amount0       string
	Amount1       string
	BlockNumber   uint64
	SchemaVersion uint16
}

func FromSwap(ev *domain.SwapEvent) RawSwapRow {
	row := RawSwapRow{
		EventTime:     ev.BlockTimestamp.UTC(),
		Chain:         string(ev.Chain),
		Variant:       string(ev.Variant),
		TxHash:        ev.TxHash,
		LogIndex:      ev.LogIndex,
		EventID:       domain.MakeEventID(ev.Chain, ev.Variant, ev.TxHash, ev.LogIndex),
		PoolAddress:   ev.Pool,
		BlockNumber:   ev.BlockNumber,
		SchemaVersion: schemaVersion,
	}

	switch {
	case ev.V2 != nil:
		row.Amount0 = ev.V2.Amount0In.Sub(ev.V2.Amount0Out).String()
		row.Amount1 = ev.V2.Amount1In.Sub(ev.V2.Amount1Out).String()
	case ev.V3 != nil:
		row.Amount0 = ev.V3.Amount0.String()
		row.Amount1 = ev.V3.Amount1.String()
	}
	return row
}

type Writer struct {
	log logger.Logger

	conn ch.Conn
	cfg  config.ClickHouseConfig

	inCh      chan RawSwapRow
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, conn ch.Conn, cfg config.ClickHouseConfig) *Writer {
	// sane defaults
	if cfg.Writer.BatchMaxRows <= 0 {
		cfg.Writer.BatchMaxRows = 1000
	}
	if cfg.Writer.BatchMaxInterval <= 0 {
		cfg.Writer.BatchMaxInterval = 200 * time.Millisecond
	}
	if cfg.Writer.MaxRetries < 0 {
		cfg.Writer.MaxRetries = 0
	}
	if cfg.Writer.RetryBackoff <= 0 {
		cfg.Writer.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:      log,
		conn:     conn,
		cfg:      cfg,
		inCh:     make(chan RawSwapRow, 8192), // ring buffer = expected EPS peak * time_to_level off
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w
}

// EnqueueSwap never blocks: a full buffer drops the row
func (w *Writer) EnqueueSwap(ev *domain.SwapEvent) error {
	return w.Enqueue(FromSwap(ev))
}

func (w *Writer) Enqueue(row RawSwapRow) error {
	select {
	case <-w.closedCh:
		return ErrWriterClosed
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	default:
		metrics.ClickHouseRows.WithLabelValues("dropped").Inc()
		return errors.New("clickhouse writer buffer full")
	}
}

// Close flushes what is buffered and stops the loop
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]RawSwapRow, 0, w.cfg.Writer.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.Writer.BatchMaxInterval)
	defer ticker.Stop()

	add := func(row RawSwapRow) {
		batch = append(batch, row)
		if len(batch) >= w.cfg.Writer.BatchMaxRows {
			batch = w.flush(batch)
		}
	}

	for {
		select {
		case row := <-w.inCh:
			add(row)
		case <-ticker.C:
			batch = w.flush(batch)
		case <-w.closedCh:
			// drain what producers managed to enqueue before Close
			for {
				select {
				case row := <-w.inCh:
					add(row)
				default:
					w.flush(batch)
					return
				}
			}
		}
	}
}

// flush writes the batch and hands back its emptied buffer
func (w *Writer) flush(batch []RawSwapRow) []RawSwapRow {
	if len(batch) == 0 {
		return batch
	}

	// retries included, one flush may not outlive 30s
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := w.insertBatch(ctx, batch); err != nil {
		metrics.ClickHouseRows.WithLabelValues("dropped").Add(float64(len(batch)))
		w.log.Errorf("Dropped %d swap rows after %d attempts, error=%v", len(batch), w.cfg.Writer.MaxRetries+1, err)
	} else {
		metrics.ClickHouseRows.WithLabelValues("flushed").Add(float64(len(batch)))
	}
	return batch[:0]
}

// insertBatch retries with doubling backoff until MaxRetries or ctx is done
func (w *Writer) insertBatch(ctx context.Context, rows []RawSwapRow) error {
	wait := w.cfg.Writer.RetryBackoff

	var err error
	for attempt := 0; ; attempt++ {
		if err = w.send(ctx, rows); err == nil || attempt >= w.cfg.Writer.MaxRetries {
			return err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%v (gave up: %w)", err, ctx.Err())
		case <-t.C:
		}
		wait *= 2
	}
}

func (w *Writer) send(ctx context.Context, rows []RawSwapRow) error {
	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO raw_swaps (
			event_time,
			chain,
			variant,
			tx_hash,
			log_index,
			event_id,
			pool_address,
			amount0,
			amount1,
			block_number,
			schema_version
		)
	`)
	if err != nil {
		return err
	}

	for i := range rows {
		r := &rows[i]
		if err = batch.Append(
			r.EventTime,
			r.Chain,
			r.Variant,
			r.TxHash,
			r.LogIndex,
			r.EventID,
			r.PoolAddress,
			r.Amount0,
			r.Amount1,
			r.BlockNumber,
			r.SchemaVersion,
		); err != nil {
			_ = batch.Abort()
			return err
		}
	}

	return batch.Send()
}
