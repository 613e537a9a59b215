package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"poolwatch/internal/api/http/handlers"
	"poolwatch/internal/api/http/mw"
	"poolwatch/internal/config"
	"poolwatch/internal/delivery"
	"poolwatch/internal/ingest"
	"poolwatch/internal/service"
	"poolwatch/internal/stores/sqldb"
	"poolwatch/internal/window"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

const (
	testPair   = "0x1111111111111111111111111111111111111111"
	testToken0 = "0x2222222222222222222222222222222222222222"
	testToken1 = "0x3333333333333333333333333333333333333333"
)

// ========== Test Helpers ==========

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

type testEnv struct {
	router chi.Router
	queue  *delivery.Queue
}

func setupRouter(t *testing.T, m Middlewares, deps ...service.Dependency) *testEnv {
	t.Helper()
	ctx := context.Background()
	lg := newTestLogger()

	db, err := sqldb.Open(ctx, lg, &config.DatabaseConfig{SQLitePath: filepath.Join(t.TempDir(), "api.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	events, err := sqldb.NewEventStore(lg, db, 100)
	require.NoError(t, err)
	alerts, err := sqldb.NewAlertStore(db)
	require.NoError(t, err)

	gw, err := ingest.NewGateway(lg, &config.IngestConfig{}, []string{"ethereum", "base"}, events, nil)
	require.NoError(t, err)
	engine, err := window.NewWindowEngine(lg, &config.WindowConfig{}, events)
	require.NoError(t, err)
	q, err := delivery.NewQueue(lg, &config.DeliveryConfig{}, delivery.NewLogPoster(lg))
	require.NoError(t, err)

	svc, err := service.NewPoolwatchService(lg, gw, events, engine, alerts, q, deps...)
	require.NoError(t, err)
	h, err := handlers.NewHandler(lg, svc, 1<<20)
	require.NoError(t, err)

	return &testEnv{router: BuildRouter(h, m), queue: q}
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func webhookBody(chain string, swaps int) string {
	ts := time.Now().Add(-time.Hour).Unix()
	chainField := ""
	if chain != "" {
		chainField = fmt.Sprintf(`"chain":%q,`, chain)
	}

	var sw []string
	for i := 0; i < swaps; i++ {
		sw = append(sw, fmt.Sprintf(`{"pair":%q,"amount0In":"0","amount1In":"5","amount0Out":"10","amount1Out":"0",
			"blockNumber":2,"blockTimestamp":%d,"transactionHash":"0xswap%d","logIndex":%d}`, testPair, ts, i, i))
	}

	return fmt.Sprintf(`{"data":[{%s"number":2,"hash":"0xblock",
		"uniswapV2":{"pairCreations":[{"pair":%q,"token0":%q,"token1":%q,"blockNumber":1,"blockTimestamp":%d,"transactionHash":"0xcreate"}],
		"swaps":[%s]},"uniswapV3":{}}]}`, chainField, testPair, testToken0, testToken1, ts, strings.Join(sw, ","))
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

// ========== Health Tests ==========

func TestHealthz(t *testing.T) {
	env := setupRouter(t, Middlewares{})
	rec := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec).Status)
}

func TestReadiness(t *testing.T) {
	ok := setupRouter(t, Middlewares{}, service.Dependency{Name: "db", Check: func(context.Context) error { return nil }})
	rec := ok.do(http.MethodGet, "/readiness", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":0`)

	down := setupRouter(t, Middlewares{}, service.Dependency{Name: "redis", Check: func(context.Context) error { return errors.New("refused") }})
	rec = down.do(http.MethodGet, "/readiness", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis: refused")
}

func TestMetricsMounted(t *testing.T) {
	env := setupRouter(t, Middlewares{})
	rec := env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ========== Webhook Tests ==========

func TestWebhook_Accepts(t *testing.T) {
	env := setupRouter(t, Middlewares{})

	rec := env.do(http.MethodPost, "/webhook", webhookBody("ethereum", 3))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res ingest.Result
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &res))
	assert.Equal(t, int64(1), res.PoolsInserted)
	assert.Equal(t, int64(3), res.SwapsInserted)

	// resubmission is safe and inserts nothing new
	rec = env.do(http.MethodPost, "/webhook", webhookBody("ethereum", 3))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &res))
	assert.Equal(t, int64(0), res.SwapsInserted)
}

func TestWebhook_PathChain(t *testing.T) {
	env := setupRouter(t, Middlewares{})

	rec := env.do(http.MethodPost, "/webhook/base", webhookBody("", 1))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/webhook/base", webhookBody("ethereum", 1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode(t, rec).Error.Code)
}

func TestWebhook_Rejects(t *testing.T) {
	env := setupRouter(t, Middlewares{})

	cases := []struct {
		name string
		path string
		body string
	}{
		{"malformed_json", "/webhook", `{"data":[`},
		{"missing_chain", "/webhook", webhookBody("", 1)},
		{"unknown_chain", "/webhook", webhookBody("solana", 1)},
		{"unknown_path_chain", "/webhook/solana", webhookBody("", 1)},
		{"bad_address", "/webhook", strings.Replace(webhookBody("ethereum", 1), testToken0, "0xnothex", 1)},
		{"bad_amount", "/webhook", strings.Replace(webhookBody("ethereum", 1), `"amount1In":"5"`, `"amount1In":"five"`, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.Equal(t, "error", body.Status)
			assert.Equal(t, "validation", body.Error.Code)
		})
	}
}

func TestWebhook_RequiresTokenWhenEnabled(t *testing.T) {
	jwtMW, err := mw.NewJWTMiddleware(rejectAll{})
	require.NoError(t, err)
	env := setupRouter(t, Middlewares{JWT: jwtMW})

	rec := env.do(http.MethodPost, "/webhook", webhookBody("ethereum", 1))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// read api and health stay open
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/queue", "").Code)
}

// ========== Read API Tests ==========

func TestLatestPools(t *testing.T) {
	env := setupRouter(t, Middlewares{})
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/webhook", webhookBody("ethereum", 0)).Code)

	rec := env.do(http.MethodGet, "/api/ethereum/v2/pools/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var pools []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &pools))
	require.Len(t, pools, 1)
	assert.Equal(t, testPair, pools[0]["address"])

	rec = env.do(http.MethodGet, "/api/ethereum/v3/pools/latest?limit=500", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(decode(t, rec).Data))

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/ethereum/v2/pools/latest?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/ethereum/v4/pools/latest", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/solana/v2/pools/latest", "").Code)
}

func TestActivePoolsAndPoolActivity(t *testing.T) {
	env := setupRouter(t, Middlewares{})
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/webhook", webhookBody("ethereum", 4)).Code)

	rec := env.do(http.MethodGet, "/api/ethereum/v2/pools/active", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var active []map[string]any
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &active))
	require.Len(t, active, 1)
	assert.Equal(t, testPair, active[0]["pool"])
	assert.EqualValues(t, 4, active[0]["total_swaps"])
	assert.EqualValues(t, 4, active[0]["buy_count"])
	assert.Equal(t, "40", active[0]["token0_volume"])

	rec = env.do(http.MethodGet, "/api/ethereum/v2/pools/"+testPair+"/activity", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/ethereum/v2/pools/0x9999999999999999999999999999999999999999/activity", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertsAndQueue(t *testing.T) {
	env := setupRouter(t, Middlewares{})

	rec := env.do(http.MethodGet, "/api/base/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(decode(t, rec).Data))

	rec = env.do(http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":0,"state":"IDLE"}`, string(decode(t, rec).Data))
}

type rejectAll struct{}

func (rejectAll) VerifyBearer(string) (*jwt.RegisteredClaims, error) {
	return nil, errors.New("no")
}
