package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"poolwatch/internal/domain"

	"github.com/shopspring/decimal"
	alog "gitlab.com/nevasik7/alerting/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventStore persists creation and swap events. Inserts are idempotent: a row whose identity
// already exists is skipped by ON CONFLICT DO NOTHING and is not an error.
type EventStore struct {
	log       alog.Logger
	db        *DB
	batchSize int
}

func NewEventStore(log alog.Logger, db *DB, batchSize int) (*EventStore, error) {
	if db == nil {
		return nil, errors.New("database is required to the event store")
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	return &EventStore{log: log, db: db, batchSize: batchSize}, nil
}

// InsertPools returns the number of rows actually created
func (s *EventStore) InsertPools(ctx context.Context, pools []domain.PoolRecord) (int64, error) {
	if len(pools) == 0 {
		return 0, nil
	}

	v2 := make([]v2PairRow, 0, len(pools))
	v3 := make([]v3PoolRow, 0, len(pools))

	for i := range pools {
		p := &pools[i]
		switch p.Variant {
		case domain.VariantConstantProduct:
			v2 = append(v2, v2PairRow{
				Chain:       string(p.Chain),
				Address:     p.Address,
				Token0:      p.Token0,
				Token1:      p.Token1,
				BlockNumber: p.BlockNumber,
				BlockTime:   p.BlockTimestamp.Unix(),
				TxHash:      p.TxHash,
			})
		case domain.VariantConcentratedLiquidity:
			row := v3PoolRow{
				Chain:       string(p.Chain),
				Address:     p.Address,
				Token0:      p.Token0,
				Token1:      p.Token1,
				BlockNumber: p.BlockNumber,
				BlockTime:   p.BlockTimestamp.Unix(),
				TxHash:      p.TxHash,
			}
			if p.Fee != nil {
				row.Fee = *p.Fee
			}
			if p.TickSpacing != nil {
				row.TickSpacing = *p.TickSpacing
			}
			v3 = append(v3, row)
		default:
			return 0, fmt.Errorf("%w: pool %s has unknown variant %q", domain.ErrValidation, p.Address, p.Variant)
		}
	}

	var inserted int64
	if len(v2) > 0 {
		n, err := s.insertIgnore(ctx, &v2)
		if err != nil {
			return inserted, fmt.Errorf("%w: insert v2 pairs: %v", domain.ErrPersistence, err)
		}
		inserted += n
	}
	if len(v3) > 0 {
		n, err := s.insertIgnore(ctx, &v3)
		if err != nil {
			return inserted, fmt.Errorf("%w: insert v3 pools: %v", domain.ErrPersistence, err)
		}
		inserted += n
	}

	return inserted, nil
}

// InsertSwaps returns the number of rows actually created
func (s *EventStore) InsertSwaps(ctx context.Context, swaps []domain.SwapEvent) (int64, error) {
	if len(swaps) == 0 {
		return 0, nil
	}

	v2 := make([]v2SwapRow, 0, len(swaps))
	v3 := make([]v3SwapRow, 0, len(swaps))

	for i := range swaps {
		sw := &swaps[i]
		switch sw.Variant {
		case domain.VariantConstantProduct:
			if sw.V2 == nil {
				return 0, fmt.Errorf("%w: v2 swap %s without amounts", domain.ErrValidation, sw.TxHash)
			}
			v2 = append(v2, v2SwapRow{
				Chain:       string(sw.Chain),
				TxHash:      sw.TxHash,
				LogIndex:    sw.LogIndex,
				Pair:        sw.Pool,
				Sender:      sw.Sender,
				To:          sw.Recipient,
				Amount0In:   sw.V2.Amount0In.String(),
				Amount1In:   sw.V2.Amount1In.String(),
				Amount0Out:  sw.V2.Amount0Out.String(),
				Amount1Out:  sw.V2.Amount1Out.String(),
				BlockNumber: sw.BlockNumber,
				BlockTime:   sw.BlockTimestamp.Unix(),
			})
		case domain.VariantConcentratedLiquidity:
			if sw.V3 == nil {
				return 0, fmt.Errorf("%w: v3 swap %s without amounts", domain.ErrValidation, sw.TxHash)
			}
			v3 = append(v3, v3SwapRow{
				Chain:        string(sw.Chain),
				TxHash:       sw.TxHash,
				LogIndex:     sw.LogIndex,
				Pool:         sw.Pool,
				Sender:       sw.Sender,
				Recipient:    sw.Recipient,
				Amount0:      sw.V3.Amount0.String(),
				Amount1:      sw.V3.Amount1.String(),
				SqrtPriceX96: sw.V3.SqrtPriceX96,
				Liquidity:    sw.V3.Liquidity,
				Tick:         sw.V3.Tick,
				BlockNumber:  sw.BlockNumber,
				BlockTime:    sw.BlockTimestamp.Unix(),
			})
		default:
			return 0, fmt.Errorf("%w: swap %s has unknown variant %q", domain.ErrValidation, sw.TxHash, sw.Variant)
		}
	}

	var inserted int64
	if len(v2) > 0 {
		n, err := s.insertIgnore(ctx, &v2)
		if err != nil {
			return inserted, fmt.Errorf("%w: insert v2 swaps: %v", domain.ErrPersistence, err)
		}
		inserted += n
	}
	if len(v3) > 0 {
		n, err := s.insertIgnore(ctx, &v3)
		if err != nil {
			return inserted, fmt.Errorf("%w: insert v3 swaps: %v", domain.ErrPersistence, err)
		}
		inserted += n
	}

	return inserted, nil
}

func (s *EventStore) insertIgnore(ctx context.Context, rows any) (int64, error) {
	res := s.db.Gorm.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, s.batchSize)
	return res.RowsAffected, res.Error
}

func (s *EventStore) GetPool(ctx context.Context, chain domain.Chain, variant domain.Variant, address string) (*domain.PoolRecord, error) {
	address = domain.NormalizeAddress(address)
	q := s.db.Gorm.WithContext(ctx).Where("chain = ? AND address = ?", string(chain), address)

	switch variant {
	case domain.VariantConstantProduct:
		var row v2PairRow
		if err := q.Take(&row).Error; err != nil {
			return nil, notFoundOr(err)
		}
		rec := row.toDomain()
		return &rec, nil
	case domain.VariantConcentratedLiquidity:
		var row v3PoolRow
		if err := q.Take(&row).Error; err != nil {
			return nil, notFoundOr(err)
		}
		rec := row.toDomain()
		return &rec, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", domain.ErrValidation, variant)
	}
}

// PoolAddresses lists every known pool of a chain/variant, used to warm the ingestion cache
func (s *EventStore) PoolAddresses(ctx context.Context, chain domain.Chain, variant domain.Variant) ([]string, error) {
	var (
		out   []string
		model any
	)
	switch variant {
	case domain.VariantConstantProduct:
		model = &v2PairRow{}
	case domain.VariantConcentratedLiquidity:
		model = &v3PoolRow{}
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", domain.ErrValidation, variant)
	}

	err := s.db.Gorm.WithContext(ctx).
		Model(model).
		Where("chain = ?", string(chain)).
		Pluck("address", &out).Error
	if err != nil {
		return nil, fmt.Errorf("list pool addresses: %w", err)
	}

	return out, nil
}

func (s *EventStore) LatestPools(ctx context.Context, chain domain.Chain, variant domain.Variant, limit int) ([]domain.PoolRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	q := s.db.Gorm.WithContext(ctx).
		Where("chain = ?", string(chain)).
		Order("block_time DESC, address ASC").
		Limit(limit)

	switch variant {
	case domain.VariantConstantProduct:
		var rows []v2PairRow
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("latest v2 pairs: %w", err)
		}
		out := make([]domain.PoolRecord, 0, len(rows))
		for i := range rows {
			out = append(out, rows[i].toDomain())
		}
		return out, nil
	case domain.VariantConcentratedLiquidity:
		var rows []v3PoolRow
		if err := q.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("latest v3 pools: %w", err)
		}
		out := make([]domain.PoolRecord, 0, len(rows))
		for i := range rows {
			out = append(out, rows[i].toDomain())
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", domain.ErrValidation, variant)
	}
}

type poolCountRow struct {
	Pool       string
	TotalSwaps int64
}

// TopPoolsBySwapCount counts swaps with block time >= since for pools that have a creation record,
// ordered by count desc then address.
func (s *EventStore) TopPoolsBySwapCount(ctx context.Context, chain domain.Chain, variant domain.Variant, since time.Time, limit int) ([]domain.PoolSwapCount, error) {
	var swapTable, poolTable, poolCol string
	switch variant {
	case domain.VariantConstantProduct:
		swapTable, poolTable, poolCol = v2SwapRow{}.TableName(), v2PairRow{}.TableName(), "pair"
	case domain.VariantConcentratedLiquidity:
		swapTable, poolTable, poolCol = v3SwapRow{}.TableName(), v3PoolRow{}.TableName(), "pool"
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", domain.ErrValidation, variant)
	}

	q := s.db.Gorm.WithContext(ctx).
		Table(swapTable+" AS s").
		Select("s."+poolCol+" AS pool, COUNT(*) AS total_swaps").
		Joins("JOIN "+poolTable+" AS p ON p.chain = s.chain AND p.address = s."+poolCol).
		Where("s.chain = ? AND s.block_time >= ?", string(chain), lowerBound(since)).
		Group("s." + poolCol).
		Order("total_swaps DESC, pool ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []poolCountRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("top pools by swap count: %w", err)
	}

	out := make([]domain.PoolSwapCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.PoolSwapCount{Pool: r.Pool, TotalSwaps: uint64(r.TotalSwaps)})
	}
	return out, nil
}

// SwapsSince returns raw swaps of one pool with block time >= since, oldest first
func (s *EventStore) SwapsSince(ctx context.Context, chain domain.Chain, variant domain.Variant, pool string, since time.Time) ([]domain.SwapEvent, error) {
	pool = domain.NormalizeAddress(pool)

	switch variant {
	case domain.VariantConstantProduct:
		var rows []v2SwapRow
		err := s.db.Gorm.WithContext(ctx).
			Where("chain = ? AND pair = ? AND block_time >= ?", string(chain), pool, lowerBound(since)).
			Order("block_time ASC, tx_hash ASC, log_index ASC").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("v2 swaps since: %w", err)
		}
		out := make([]domain.SwapEvent, 0, len(rows))
		for i := range rows {
			ev, err := rows[i].toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	case domain.VariantConcentratedLiquidity:
		var rows []v3SwapRow
		err := s.db.Gorm.WithContext(ctx).
			Where("chain = ? AND pool = ? AND block_time >= ?", string(chain), pool, lowerBound(since)).
			Order("block_time ASC, tx_hash ASC, log_index ASC").
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("v3 swaps since: %w", err)
		}
		out := make([]domain.SwapEvent, 0, len(rows))
		for i := range rows {
			ev, err := rows[i].toDomain()
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", domain.ErrValidation, variant)
	}
}

func (s *EventStore) Health(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (r *v2PairRow) toDomain() domain.PoolRecord {
	return domain.PoolRecord{
		Chain:          domain.Chain(r.Chain),
		Variant:        domain.VariantConstantProduct,
		Address:        r.Address,
		Token0:         r.Token0,
		Token1:         r.Token1,
		BlockNumber:    r.BlockNumber,
		BlockTimestamp: time.Unix(r.BlockTime, 0).UTC(),
		TxHash:         r.TxHash,
	}
}

func (r *v3PoolRow) toDomain() domain.PoolRecord {
	fee, tick := r.Fee, r.TickSpacing
	return domain.PoolRecord{
		Chain:          domain.Chain(r.Chain),
		Variant:        domain.VariantConcentratedLiquidity,
		Address:        r.Address,
		Token0:         r.Token0,
		Token1:         r.Token1,
		Fee:            &fee,
		TickSpacing:    &tick,
		BlockNumber:    r.BlockNumber,
		BlockTimestamp: time.Unix(r.BlockTime, 0).UTC(),
		TxHash:         r.TxHash,
	}
}

func (r *v2SwapRow) toDomain() (domain.SwapEvent, error) {
	amounts := domain.V2Amounts{}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&amounts.Amount0In, r.Amount0In},
		{&amounts.Amount1In, r.Amount1In},
		{&amounts.Amount0Out, r.Amount0Out},
		{&amounts.Amount1Out, r.Amount1Out},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return domain.SwapEvent{}, fmt.Errorf("parse stored amount %q of %s:%d: %w", f.src, r.TxHash, r.LogIndex, err)
		}
		*f.dst = d
	}

	return domain.SwapEvent{
		Chain:          domain.Chain(r.Chain),
		Variant:        domain.VariantConstantProduct,
		Pool:           r.Pair,
		Sender:         r.Sender,
		Recipient:      r.To,
		V2:             &amounts,
		BlockNumber:    r.BlockNumber,
		BlockTimestamp: time.Unix(r.BlockTime, 0).UTC(),
		TxHash:         r.TxHash,
		LogIndex:       r.LogIndex,
	}, nil
}

func (r *v3SwapRow) toDomain() (domain.SwapEvent, error) {
	a0, err := decimal.NewFromString(r.Amount0)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("parse stored amount0 %q of %s:%d: %w", r.Amount0, r.TxHash, r.LogIndex, err)
	}
	a1, err := decimal.NewFromString(r.Amount1)
	if err != nil {
		return domain.SwapEvent{}, fmt.Errorf("parse stored amount1 %q of %s:%d: %w", r.Amount1, r.TxHash, r.LogIndex, err)
	}

	return domain.SwapEvent{
		Chain:     domain.Chain(r.Chain),
		Variant:   domain.VariantConcentratedLiquidity,
		Pool:      r.Pool,
		Sender:    r.Sender,
		Recipient: r.Recipient,
		V3: &domain.V3Amounts{
			Amount0:      a0,
			Amount1:      a1,
			SqrtPriceX96: r.SqrtPriceX96,
			Liquidity:    r.Liquidity,
			Tick:         r.Tick,
		},
		BlockNumber:    r.BlockNumber,
		BlockTimestamp: time.Unix(r.BlockTime, 0).UTC(),
		TxHash:         r.TxHash,
		LogIndex:       r.LogIndex,
	}, nil
}

// lowerBound is the first whole block second not older than since
func lowerBound(since time.Time) int64 {
	return since.Add(time.Second - time.Nanosecond).Unix()
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
