package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ubl-proto/ubl/internal/metrics"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	Whitelist []string // IPs or CIDRs exempt from rate limiting
}

// limiterBackend counts requests per key. The Redis backend gives a shared
// sliding window across instances; the local backend is a per-process token
// bucket used when no Redis is configured.
type limiterBackend interface {
	allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time)
}

// RateLimiter applies per-endpoint limits keyed by user or client IP.
type RateLimiter struct {
	backend      limiterBackend
	limits       map[string]RateLimit
	logger       zerolog.Logger
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool
}

// NewRateLimiter creates a rate limiter. A nil redis client selects the
// in-process backend.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	var backend limiterBackend
	if client != nil {
		backend = &redisBackend{client: client}
	} else {
		backend = newLocalBackend()
	}

	rl := &RateLimiter{
		backend:      backend,
		logger:       logger,
		whitelistIPs: make(map[string]bool),
		limits: map[string]RateLimit{
			"GET /api/whoami":       {240, time.Minute, userOrIPKey},
			"GET /api/rooms":        {240, time.Minute, userOrIPKey},
			"POST /api/rooms":       {60, time.Minute, userKey},
			"POST /api/workspaces/": {120, time.Minute, userKey},
			"GET /api/workspaces/":  {240, time.Minute, userOrIPKey},
			"POST /mcp":             {240, time.Minute, userOrIPKey},
		},
	}

	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// userKey keys the limit by the verified user, falling back to the client IP.
func userKey(r *http.Request) string {
	if userID := r.Header.Get("X-UBL-User-Id"); userID != "" {
		return "ratelimit:user:" + userID
	}
	return "ratelimit:ip:" + RealIP(r)
}

func userOrIPKey(r *http.Request) string {
	return userKey(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		allowed, remaining, resetAt := rl.backend.allow(r.Context(), key, limit.Requests, limit.Window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())))
			metrics.RateLimitHits.WithLabelValues(normalizePath(r.URL.Path)).Inc()

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Str("key", key).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limited","message":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// findLimit finds the matching rate limit for a request.
func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	key := r.Method + " " + r.URL.Path

	for pattern, limit := range rl.limits {
		if strings.HasPrefix(key, pattern) {
			l := limit
			return &l
		}
	}
	return nil
}

// redisBackend implements a sliding window over a Redis sorted set.
type redisBackend struct {
	client *redis.Client
}

func (b *redisBackend) allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()
	windowStart := now.Add(-window)

	windowKey := fmt.Sprintf("%s:%d", key, now.Unix()/int64(window.Seconds()))

	pipe := b.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, windowKey)
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, windowKey, window*2)
	_, _ = pipe.Exec(ctx)

	count := countCmd.Val()
	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < int64(limit), remaining, now.Add(window)
}

// localBackend keeps one token bucket per key in memory.
type localBackend struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLocalBackend() *localBackend {
	return &localBackend{limiters: make(map[string]*rate.Limiter)}
}

func (b *localBackend) allow(_ context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	b.mu.Lock()
	lim, ok := b.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
		b.limiters[key] = lim
	}
	b.mu.Unlock()

	allowed := lim.Allow()
	remaining := int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, time.Now().Add(window)
}
