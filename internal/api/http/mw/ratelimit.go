package mw

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"poolwatch/internal/config"
	rds "poolwatch/internal/stores/redis"
	"poolwatch/pkg/httputil"

	"github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

// RateLimitMiddleware keeps two redis token buckets: per client IP and per authenticated producer
type RateLimitMiddleware struct {
	Log logger.Logger
	Cfg *config.RateLimitConfig
	Rdb *rds.Client
	now func() time.Time
}

func NewRateLimit(log logger.Logger, cfg *config.RateLimitConfig, rdb *rds.Client) (*RateLimitMiddleware, error) {
	if cfg == nil {
		return nil, errors.New("rate limit config cannot be nil")
	}
	if rdb == nil {
		return nil, errors.New("redis client is required to the rate limiter")
	}

	// sane defaults
	if cfg.ByJWT.TTL <= 0 {
		cfg.ByJWT.TTL = 2 * time.Minute
	}
	if cfg.ByIP.TTL <= 0 {
		cfg.ByIP.TTL = 2 * time.Minute
	}
	if cfg.ByIP.Burst <= 0 {
		cfg.ByIP.Burst = 20
	}
	if cfg.ByIP.RefillPerSec <= 0 {
		cfg.ByIP.RefillPerSec = 10
	}
	if cfg.ByJWT.Burst <= 0 {
		cfg.ByJWT.Burst = 100
	}
	if cfg.ByJWT.RefillPerSec <= 0 {
		cfg.ByJWT.RefillPerSec = 50
	}

	return &RateLimitMiddleware{Log: log, Cfg: cfg, Rdb: rdb, now: time.Now}, nil
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := m.now()

		ip := clientIP(r)
		okIP, leftIP := m.allow(ctx, "rl:ip:"+ip, now, m.Cfg.ByIP)
		w.Header().Set("X-RateLimit-Limit-IP", strconv.Itoa(m.Cfg.ByIP.Burst))
		w.Header().Set("X-RateLimit-Remaining-IP", strconv.Itoa(int(leftIP)))

		okJWT := true
		if sub := SubjectFromContext(ctx); sub != "" {
			var left float64
			okJWT, left = m.allow(ctx, "rl:jwt:"+sub, now, m.Cfg.ByJWT)
			w.Header().Set("X-RateLimit-Limit-Producer", strconv.Itoa(m.Cfg.ByJWT.Burst))
			w.Header().Set("X-RateLimit-Remaining-Producer", strconv.Itoa(int(left)))
		}

		if !okIP || !okJWT {
			w.Header().Set("Retry-After", "1")
			_ = httputil.Error(w, r, http.StatusTooManyRequests, httputil.CodeRateLimited, "rate limit exceeded", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// --- redis token-bucket (Lua), atomic in one round trip ---
var luaTokenBucket = redis.NewScript(`
-- KEYS[1] = key
-- ARGV[1] = now_ms
-- ARGV[2] = refill_per_sec
-- ARGV[3] = burst
-- ARGV[4] = ttl_seconds
local key   = KEYS[1]
local now   = tonumber(ARGV[1])
local rate  = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl   = tonumber(ARGV[4])

local last_ms = tonumber(redis.call('HGET', key, 'ts') or now)
local tokens  = tonumber(redis.call('HGET', key, 'tok') or burst)

if now > last_ms then
  local delta = (now - last_ms) / 1000.0
  tokens = math.min(burst, tokens + (delta * rate))
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tok', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(tokens)}
`)

// clientIP reads RemoteAddr, already rewritten by chi's RealIP in front of this middleware
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}

// allow fails open: a redis outage must not block ingestion
func (m *RateLimitMiddleware) allow(ctx context.Context, key string, now time.Time, b config.RateBucket) (bool, float64) {
	ttl := int(b.TTL.Seconds())
	if ttl <= 0 {
		ttl = 120
	}

	res, err := luaTokenBucket.Run(ctx, m.Rdb, []string{key},
		now.UnixMilli(),
		b.RefillPerSec,
		b.Burst,
		ttl,
	).Int64Slice()
	if err != nil {
		m.Log.Warnf("Rate limit check for %s failed, allowing: %v", key, err)
		return true, float64(b.Burst)
	}
	if len(res) < 2 {
		return true, float64(b.Burst)
	}

	return res[0] == 1, float64(res[1])
}
