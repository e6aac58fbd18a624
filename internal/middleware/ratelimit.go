package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rajpalom13/move-meal-sub000/internal/metrics"
)

// RateLimitConfig задаёт параметры ограничителя «token bucket».
type RateLimitConfig struct {
	Enabled        bool
	Prefix         string
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	// KeyStrategy: ip, user, route, ip_user, user_route или ip_user_route.
	KeyStrategy string
}

// Состояние ведра хранится в hash: tokens и last_refill_ms.
var limiterScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// RateLimiter ограничивает частоту запросов через redis. Ошибки redis не блокируют запросы.
type RateLimiter struct {
	cfg    RateLimitConfig
	rdb    *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter создаёт RateLimiter.
func NewRateLimiter(cfg RateLimitConfig, rdb *redis.Client, logger *zap.Logger) *RateLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "movemeal:rl"
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 60
	}
	if cfg.RefillTokens <= 0 {
		cfg.RefillTokens = 1
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Second
	}
	if cfg.TTL < time.Second {
		cfg.TTL = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{cfg: cfg, rdb: rdb, logger: logger, now: time.Now}
}

// Middleware возвращает middleware для chi.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !l.cfg.Enabled || l.rdb == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.key(r)
		args := []any{
			l.now().UnixMilli(),
			l.cfg.Capacity,
			l.cfg.RefillTokens,
			l.cfg.RefillInterval.Milliseconds(),
			int64(l.cfg.TTL / time.Second),
		}

		res, err := limiterScript.Run(r.Context(), l.rdb, []string{key}, args...).Int64Slice()
		if err != nil || len(res) != 3 {
			l.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, retryMs := res[0] == 1, res[1], res[2]
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Capacity))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			secs := int(math.Ceil(float64(retryMs) / 1000))
			metrics.RateLimitedTotal.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": secs,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) key(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || ip == "" {
		ip = r.RemoteAddr
	}
	if ip == "" {
		ip = "unknown"
	}

	user := "anon"
	if id, ok := GetUserIDFromContext(r.Context()); ok {
		user = strconv.FormatInt(id, 10)
	}

	route := r.URL.Path
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			route = p
		}
	}
	route = r.Method + " " + route

	parts := []string{l.cfg.Prefix}
	switch strings.ToLower(l.cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", user)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", user)
	case "user_route":
		parts = append(parts, "user", user, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", user, "route", route)
	}
	return strings.Join(parts, ":")
}
