package sqldb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"poolwatch/internal/domain"

	"gorm.io/gorm/clause"
)

// AlertStore is the durable side of the dedup registry (posted_activity)
type AlertStore struct {
	db *DB
}

func NewAlertStore(db *DB) (*AlertStore, error) {
	if db == nil {
		return nil, errors.New("database is required to the alert store")
	}
	return &AlertStore{db: db}, nil
}

func (s *AlertStore) Exists(ctx context.Context, chain domain.Chain, address string) (bool, error) {
	var n int64
	err := s.db.Gorm.WithContext(ctx).
		Model(&postedActivityRow{}).
		Where("chain = ? AND address = ?", string(chain), domain.NormalizeAddress(address)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check posted activity: %w", err)
	}
	return n > 0, nil
}

// Upsert inserts the record or, on an existing (chain, address), refreshes the trade count and
// metadata. first_posted_at of the existing row is kept.
func (s *AlertStore) Upsert(ctx context.Context, rec domain.AlertRecord) error {
	posted := rec.FirstPostedAt
	if posted.IsZero() {
		posted = time.Now().UTC()
	}

	row := postedActivityRow{
		Chain:         string(rec.Chain),
		Address:       domain.NormalizeAddress(rec.Address),
		Protocol:      string(rec.Variant),
		Token0:        rec.Token0,
		Token1:        rec.Token1,
		TradeCount:    rec.TradeCount,
		Fee:           rec.Fee,
		FirstPostedAt: posted,
	}

	err := s.db.Gorm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain"}, {Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"protocol", "token0", "token1", "trade_count", "fee", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: upsert posted activity: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *AlertStore) Get(ctx context.Context, chain domain.Chain, address string) (*domain.AlertRecord, error) {
	var row postedActivityRow
	err := s.db.Gorm.WithContext(ctx).
		Where("chain = ? AND address = ?", string(chain), domain.NormalizeAddress(address)).
		Take(&row).Error
	if err != nil {
		return nil, notFoundOr(err)
	}
	rec := row.toDomain()
	return &rec, nil
}

// List returns every recorded alert of a chain, newest first
func (s *AlertStore) List(ctx context.Context, chain domain.Chain, limit int) ([]domain.AlertRecord, error) {
	q := s.db.Gorm.WithContext(ctx).
		Where("chain = ?", string(chain)).
		Order("first_posted_at DESC, address ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []postedActivityRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list posted activity: %w", err)
	}

	out := make([]domain.AlertRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (r *postedActivityRow) toDomain() domain.AlertRecord {
	return domain.AlertRecord{
		Chain:         domain.Chain(r.Chain),
		Address:       r.Address,
		Variant:       domain.Variant(r.Protocol),
		Token0:        r.Token0,
		Token1:        r.Token1,
		TradeCount:    r.TradeCount,
		Fee:           r.Fee,
		FirstPostedAt: r.FirstPostedAt.UTC(),
	}
}
