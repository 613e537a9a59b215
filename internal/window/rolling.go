package window

import (
	"fmt"
	"time"

	"poolwatch/internal/domain"

	"github.com/shopspring/decimal"
)

// Contribution of one swap to the window
type deltaAgg struct {
	buy  bool
	vol0 decimal.Decimal
	vol1 decimal.Decimal
}

// Running sums over the swaps of one pool
type agg struct {
	trades uint64
	buys   uint64
	sells  uint64
	vol0   decimal.Decimal
	vol1   decimal.Decimal
}

func (a *agg) add(d deltaAgg) {
	a.trades++
	if d.buy {
		a.buys++
	} else {
		a.sells++
	}
	a.vol0 = a.vol0.Add(d.vol0)
	a.vol1 = a.vol1.Add(d.vol1)
}

func (a *agg) toActivityWindow(rec *domain.PoolRecord, since, now time.Time) domain.ActivityWindow {
	return domain.ActivityWindow{
		Chain:        rec.Chain,
		Variant:      rec.Variant,
		Pool:         rec.Address,
		Token0:       rec.Token0,
		Token1:       rec.Token1,
		Fee:          rec.Fee,
		TotalSwaps:   a.trades,
		BuyCount:     a.buys,
		SellCount:    a.sells,
		Token0Volume: a.vol0,
		Token1Volume: a.vol1,
		WindowStart:  since,
		WindowEnd:    now,
	}
}

// classify is the single place where a swap becomes buy or sell.
//
// v2: buy iff token1 flows into the pair (counterpart pays token1, receives token0).
// v3: buy iff amount1 is negative (pool pays out token1).
//
// Volume per token is the positive one of inbound/outbound for that token.
func classify(ev *domain.SwapEvent) (deltaAgg, error) {
	switch ev.Variant {
	case domain.VariantConstantProduct:
		if ev.V2 == nil {
			return deltaAgg{}, fmt.Errorf("v2 swap %s:%d has no amounts", ev.TxHash, ev.LogIndex)
		}
		v := ev.V2
		return deltaAgg{
			buy:  v.Amount1In.IsPositive(),
			vol0: positiveOf(v.Amount0In, v.Amount0Out),
			vol1: positiveOf(v.Amount1In, v.Amount1Out),
		}, nil
	case domain.VariantConcentratedLiquidity:
		if ev.V3 == nil {
			return deltaAgg{}, fmt.Errorf("v3 swap %s:%d has no amounts", ev.TxHash, ev.LogIndex)
		}
		v := ev.V3
		return deltaAgg{
			buy:  v.Amount1.IsNegative(),
			vol0: v.Amount0.Abs(),
			vol1: v.Amount1.Abs(),
		}, nil
	default:
		return deltaAgg{}, fmt.Errorf("swap %s:%d has unknown variant %q", ev.TxHash, ev.LogIndex, ev.Variant)
	}
}

func positiveOf(in, out decimal.Decimal) decimal.Decimal {
	if in.IsPositive() {
		return in
	}
	if out.IsPositive() {
		return out
	}
	return decimal.Zero
}
