package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"poolwatch/internal/config"
	"poolwatch/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

// --- helpers ---

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

type memStore struct {
	pools  map[string]domain.PoolRecord
	swaps  []domain.SwapEvent
	failOn string
}

func newMemStore() *memStore {
	return &memStore{pools: map[string]domain.PoolRecord{}}
}

func (m *memStore) addPool(p domain.PoolRecord) { m.pools[p.Address] = p }

func (m *memStore) TopPoolsBySwapCount(_ context.Context, chain domain.Chain, variant domain.Variant, since time.Time, limit int) ([]domain.PoolSwapCount, error) {
	if m.failOn == "rank" {
		return nil, errors.New("store down")
	}
	counts := map[string]uint64{}
	for _, s := range m.swaps {
		if s.Chain != chain || s.Variant != variant || s.BlockTimestamp.Before(since) {
			continue
		}
		if _, ok := m.pools[s.Pool]; !ok {
			continue
		}
		counts[s.Pool]++
	}
	out := make([]domain.PoolSwapCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, domain.PoolSwapCount{Pool: p, TotalSwaps: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSwaps != out[j].TotalSwaps {
			return out[i].TotalSwaps > out[j].TotalSwaps
		}
		return out[i].Pool < out[j].Pool
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SwapsSince(_ context.Context, chain domain.Chain, variant domain.Variant, pool string, since time.Time) ([]domain.SwapEvent, error) {
	if m.failOn == "swaps" {
		return nil, errors.New("store down")
	}
	var out []domain.SwapEvent
	for _, s := range m.swaps {
		if s.Chain == chain && s.Variant == variant && s.Pool == pool && !s.BlockTimestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetPool(_ context.Context, chain domain.Chain, variant domain.Variant, address string) (*domain.PoolRecord, error) {
	p, ok := m.pools[address]
	if !ok || p.Chain != chain || p.Variant != variant {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func pool(addr string, variant domain.Variant) domain.PoolRecord {
	return domain.PoolRecord{
		Chain:   domain.ChainEthereum,
		Variant: variant,
		Address: addr,
		Token0:  "0xt0",
		Token1:  "0xt1",
	}
}

func v2(addr string, ts time.Time, a0in, a1in, a0out, a1out string) domain.SwapEvent {
	return domain.SwapEvent{
		Chain:   domain.ChainEthereum,
		Variant: domain.VariantConstantProduct,
		Pool:    addr,
		V2: &domain.V2Amounts{
			Amount0In:  decimal.RequireFromString(a0in),
			Amount1In:  decimal.RequireFromString(a1in),
			Amount0Out: decimal.RequireFromString(a0out),
			Amount1Out: decimal.RequireFromString(a1out),
		},
		BlockTimestamp: ts,
	}
}

func v3(addr string, ts time.Time, a0, a1 string) domain.SwapEvent {
	return domain.SwapEvent{
		Chain:   domain.ChainEthereum,
		Variant: domain.VariantConcentratedLiquidity,
		Pool:    addr,
		V3: &domain.V3Amounts{
			Amount0: decimal.RequireFromString(a0),
			Amount1: decimal.RequireFromString(a1),
		},
		BlockTimestamp: ts,
	}
}

func newEngine(t *testing.T, store EventReader, topN int) *Window {
	t.Helper()
	w, err := NewWindowEngine(newTestLogger(), &config.WindowConfig{Length: 24 * time.Hour, TopN: topN}, store)
	require.NoError(t, err)
	return w
}

// ========== Classification Tests ==========

func TestClassify_ConstantProduct(t *testing.T) {
	now := time.Now()

	buy := v2("0xp", now, "0", "1000", "500", "0")
	d, err := classify(&buy)
	require.NoError(t, err)
	assert.True(t, d.buy)
	assert.Equal(t, "500", d.vol0.String())
	assert.Equal(t, "1000", d.vol1.String())

	sell := v2("0xp", now, "1000", "0", "0", "500")
	d, err = classify(&sell)
	require.NoError(t, err)
	assert.False(t, d.buy)
	assert.Equal(t, "1000", d.vol0.String())
	assert.Equal(t, "500", d.vol1.String())
}

func TestClassify_ConcentratedLiquidity(t *testing.T) {
	now := time.Now()

	buy := v3("0xp", now, "250", "-100")
	d, err := classify(&buy)
	require.NoError(t, err)
	assert.True(t, d.buy, "pool paying out token1 is a buy")
	assert.Equal(t, "250", d.vol0.String())
	assert.Equal(t, "100", d.vol1.String())

	sell := v3("0xp", now, "-250", "100")
	d, err = classify(&sell)
	require.NoError(t, err)
	assert.False(t, d.buy)
	assert.Equal(t, "250", d.vol0.String())
}

func TestClassify_MissingAmounts(t *testing.T) {
	ev := domain.SwapEvent{Variant: domain.VariantConcentratedLiquidity}
	_, err := classify(&ev)
	assert.Error(t, err)
}

// ========== Window Tests ==========

func TestTopActive_CountsAndVolumes(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	store := newMemStore()
	store.addPool(pool("0xaa", domain.VariantConstantProduct))
	store.addPool(pool("0xbb", domain.VariantConstantProduct))

	for i := 0; i < 3; i++ {
		store.swaps = append(store.swaps, v2("0xaa", now.Add(-time.Hour), "0", "0.1", "1", "0"))
	}
	store.swaps = append(store.swaps,
		v2("0xaa", now.Add(-time.Hour), "2", "0", "0", "0.2"),
		v2("0xbb", now.Add(-time.Minute), "0", "1", "1", "0"),
		// outside the window
		v2("0xbb", now.Add(-25*time.Hour), "0", "1", "1", "0"),
		// unknown pool
		v2("0xcc", now, "0", "1", "1", "0"),
	)

	got, err := newEngine(t, store, 10).TopActive(ctx, domain.ChainEthereum, domain.VariantConstantProduct, now)
	require.NoError(t, err)
	require.Len(t, got, 2)

	a := got[0]
	assert.Equal(t, "0xaa", a.Pool)
	assert.Equal(t, uint64(4), a.TotalSwaps)
	assert.Equal(t, uint64(3), a.BuyCount)
	assert.Equal(t, uint64(1), a.SellCount)
	assert.Equal(t, a.TotalSwaps, a.BuyCount+a.SellCount)
	assert.True(t, a.Token0Volume.Equal(decimal.RequireFromString("5")), a.Token0Volume.String())
	assert.True(t, a.Token1Volume.Equal(decimal.RequireFromString("0.5")), "no float drift: %s", a.Token1Volume.String())
	assert.Equal(t, now.Add(-24*time.Hour), a.WindowStart)
	assert.Equal(t, now, a.WindowEnd)

	assert.Equal(t, "0xbb", got[1].Pool)
	assert.Equal(t, uint64(1), got[1].TotalSwaps)
}

func TestTopActive_TruncatesToTopN(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	store := newMemStore()

	for p := 0; p < 12; p++ {
		addr := fmt.Sprintf("0x%02d", p)
		store.addPool(pool(addr, domain.VariantConcentratedLiquidity))
		for i := 0; i <= p; i++ {
			store.swaps = append(store.swaps, v3(addr, now.Add(-time.Minute), "1", "-1"))
		}
	}

	got, err := newEngine(t, store, 10).TopActive(context.Background(), domain.ChainEthereum, domain.VariantConcentratedLiquidity, now)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, "0x11", got[0].Pool)
	assert.Equal(t, uint64(12), got[0].TotalSwaps)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].TotalSwaps, got[i].TotalSwaps)
	}
}

func TestTopActive_EmptyWindow(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	store.addPool(pool("0xaa", domain.VariantConstantProduct))
	store.swaps = append(store.swaps, v2("0xaa", now.Add(-48*time.Hour), "0", "1", "1", "0"))

	got, err := newEngine(t, store, 10).TopActive(context.Background(), domain.ChainEthereum, domain.VariantConstantProduct, now)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTopActive_StoreFailureIsAggregationError(t *testing.T) {
	store := newMemStore()
	store.failOn = "rank"

	_, err := newEngine(t, store, 10).TopActive(context.Background(), domain.ChainEthereum, domain.VariantConstantProduct, time.Now())
	assert.ErrorIs(t, err, domain.ErrAggregation)
}

func TestPoolActivity_NotFound(t *testing.T) {
	store := newMemStore()
	store.addPool(pool("0xaa", domain.VariantConstantProduct))

	_, err := newEngine(t, store, 10).PoolActivity(context.Background(), domain.ChainEthereum, domain.VariantConstantProduct, "0xAA", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
