package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"poolwatch/internal/domain"
	"poolwatch/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type poolView struct {
	Address        string    `json:"address"`
	Variant        string    `json:"variant"`
	Token0         string    `json:"token0"`
	Token1         string    `json:"token1"`
	Fee            *uint32   `json:"fee,omitempty"`
	TickSpacing    *int32    `json:"tick_spacing,omitempty"`
	BlockNumber    uint64    `json:"block_number"`
	BlockTimestamp time.Time `json:"block_timestamp"`
	TxHash         string    `json:"tx_hash"`
}

type activityView struct {
	Pool         string          `json:"pool"`
	Variant      string          `json:"variant"`
	Token0       string          `json:"token0"`
	Token1       string          `json:"token1"`
	Fee          *uint32         `json:"fee,omitempty"`
	TotalSwaps   uint64          `json:"total_swaps"`
	BuyCount     uint64          `json:"buy_count"`
	SellCount    uint64          `json:"sell_count"`
	Token0Volume decimal.Decimal `json:"token0_volume"`
	Token1Volume decimal.Decimal `json:"token1_volume"`
	WindowStart  time.Time       `json:"window_start"`
	WindowEnd    time.Time       `json:"window_end"`
}

type alertView struct {
	Address       string    `json:"address"`
	Variant       string    `json:"variant"`
	Token0        string    `json:"token0"`
	Token1        string    `json:"token1"`
	TradeCount    uint64    `json:"trade_count"`
	Fee           *uint32   `json:"fee,omitempty"`
	FirstPostedAt time.Time `json:"first_posted_at"`
}

func toPoolView(p *domain.PoolRecord) poolView {
	return poolView{
		Address:        p.Address,
		Variant:        string(p.Variant),
		Token0:         p.Token0,
		Token1:         p.Token1,
		Fee:            p.Fee,
		TickSpacing:    p.TickSpacing,
		BlockNumber:    p.BlockNumber,
		BlockTimestamp: p.BlockTimestamp,
		TxHash:         p.TxHash,
	}
}

func toActivityView(aw *domain.ActivityWindow) activityView {
	return activityView{
		Pool:         aw.Pool,
		Variant:      string(aw.Variant),
		Token0:       aw.Token0,
		Token1:       aw.Token1,
		Fee:          aw.Fee,
		TotalSwaps:   aw.TotalSwaps,
		BuyCount:     aw.BuyCount,
		SellCount:    aw.SellCount,
		Token0Volume: aw.Token0Volume,
		Token1Volume: aw.Token1Volume,
		WindowStart:  aw.WindowStart,
		WindowEnd:    aw.WindowEnd,
	}
}

// LatestPools GET /api/{chain}/{variant}/pools/latest?limit=N
func (a *Handler) LatestPools(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	pools, err := a.Svc.LatestPools(r.Context(), chi.URLParam(r, "chain"), chi.URLParam(r, "variant"), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := make([]poolView, 0, len(pools))
	for i := range pools {
		out = append(out, toPoolView(&pools[i]))
	}
	if err = httputil.OK(w, out); err != nil {
		a.Log.Errorf("LatestPools handler error: %s", err.Error())
	}
}

// ActivePools GET /api/{chain}/{variant}/pools/active
func (a *Handler) ActivePools(w http.ResponseWriter, r *http.Request) {
	windows, err := a.Svc.ActivePools(r.Context(), chi.URLParam(r, "chain"), chi.URLParam(r, "variant"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := make([]activityView, 0, len(windows))
	for i := range windows {
		out = append(out, toActivityView(&windows[i]))
	}
	if err = httputil.OK(w, out); err != nil {
		a.Log.Errorf("ActivePools handler error: %s", err.Error())
	}
}

// PoolActivity GET /api/{chain}/{variant}/pools/{address}/activity
func (a *Handler) PoolActivity(w http.ResponseWriter, r *http.Request) {
	aw, err := a.Svc.PoolActivity(r.Context(), chi.URLParam(r, "chain"), chi.URLParam(r, "variant"), chi.URLParam(r, "address"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if err = httputil.OK(w, toActivityView(aw)); err != nil {
		a.Log.Errorf("PoolActivity handler error: %s", err.Error())
	}
}

// Alerts GET /api/{chain}/alerts?limit=N, most recently posted first
func (a *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	recs, err := a.Svc.RecentAlerts(r.Context(), chi.URLParam(r, "chain"), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	out := make([]alertView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, alertView{
			Address:       rec.Address,
			Variant:       string(rec.Variant),
			Token0:        rec.Token0,
			Token1:        rec.Token1,
			TradeCount:    rec.TradeCount,
			Fee:           rec.Fee,
			FirstPostedAt: rec.FirstPostedAt,
		})
	}
	if err = httputil.OK(w, out); err != nil {
		a.Log.Errorf("Alerts handler error: %s", err.Error())
	}
}

// Queue GET /api/queue
func (a *Handler) Queue(w http.ResponseWriter, _ *http.Request) {
	if err := httputil.OK(w, a.Svc.QueueStatus()); err != nil {
		a.Log.Errorf("Queue handler error: %s", err.Error())
	}
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, name)
	}
	return n, nil
}
