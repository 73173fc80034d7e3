package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"toybox-api/utils"
)

type RateLimiter struct {
	client *redis.Client
}

type RateLimitConfig struct {
	Class    string
	Requests int
	Window   time.Duration
	Message  string
}

var rateLimitClasses = []struct {
	prefix string
	config RateLimitConfig
}{
	{"/api/auth/login", RateLimitConfig{"login", 5, 15 * time.Minute, "Too many login attempts. Please try again in 15 minutes."}},
	{"/api/auth/register", RateLimitConfig{"register", 5, time.Hour, "Too many sign ups from this address. Please try again later."}},
	{"/api/auth/", RateLimitConfig{"auth", 20, 5 * time.Minute, "Too many authentication requests. Please wait 5 minutes."}},
	{"/api/checkout/", RateLimitConfig{"checkout", 10, 5 * time.Minute, "Too many checkout attempts. Please wait a few minutes."}},
	{"/api/webhooks/", RateLimitConfig{"webhook", 600, time.Minute, "Webhook rate limit exceeded."}},
	{"/api/admin/", RateLimitConfig{"admin", 200, time.Minute, "Admin API rate limit exceeded."}},
}

var defaultRateLimit = RateLimitConfig{"default", 120, time.Minute, "Rate limit exceeded. Please slow down your requests."}

// Sliding window log: one sorted set member per request, scored by its time in ms.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
	local count = redis.call('ZCARD', key)

	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window)
		return {1, limit - count - 1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local reset = now + window
	if oldest[2] then
		reset = tonumber(oldest[2]) + window
	end
	return {0, 0, reset}
`)

func NewRateLimiter(redisURL string) (*RateLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL for rate limiter: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis for rate limiting: %w", err)
	}

	return &RateLimiter{client: client}, nil
}

func NewRateLimiterFromClient(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func (rl *RateLimiter) RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			config := ConfigForPath(r.URL.Path)
			key := rl.rateLimitKey(r, config)

			allowed, remaining, resetTime, err := rl.checkRateLimit(r.Context(), key, config)
			if err != nil {
				// Redis trouble must not take the storefront down with it.
				log.Printf("Rate limit check error: %v", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				log.Printf("Rate limit exceeded for key: %s, endpoint: %s", key, r.URL.Path)
				retryAfter := int64(time.Until(resetTime).Seconds()) + 1
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				utils.SendErrorResponse(w, http.StatusTooManyRequests, config.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ConfigForPath picks the limit class for a request path; the first matching prefix wins.
func ConfigForPath(path string) RateLimitConfig {
	for _, c := range rateLimitClasses {
		if strings.HasPrefix(path, c.prefix) {
			return c.config
		}
	}
	return defaultRateLimit
}

func (rl *RateLimiter) rateLimitKey(r *http.Request, config RateLimitConfig) string {
	ip := ClientIP(r)

	if config.Class == "checkout" {
		// Shoppers behind one NAT should not share a checkout budget.
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			sum := sha256.Sum256([]byte(authHeader))
			return fmt.Sprintf("rate_limit:%s:%s:%s", config.Class, ip, hex.EncodeToString(sum[:6]))
		}
	}

	if config.Class == "default" {
		return fmt.Sprintf("rate_limit:default:%s:%s", ip, r.URL.Path)
	}
	return fmt.Sprintf("rate_limit:%s:%s", config.Class, ip)
}

func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string, config RateLimitConfig) (allowed bool, remaining int, resetTime time.Time, err error) {
	now := time.Now()
	nowMs := now.UnixNano() / int64(time.Millisecond)
	windowMs := config.Window.Milliseconds()

	result, err := slidingWindowScript.Run(ctx, rl.client, []string{key},
		nowMs, windowMs, config.Requests, uuid.New().String()).Result()
	if err != nil {
		return false, 0, time.Time{}, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("unexpected redis result format")
	}

	allowedInt, ok1 := values[0].(int64)
	remainingInt, ok2 := values[1].(int64)
	resetMs, ok3 := values[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return false, 0, time.Time{}, fmt.Errorf("failed to parse redis result")
	}

	resetTime = now.Add(config.Window)
	if resetMs > 0 {
		resetTime = time.Unix(0, resetMs*int64(time.Millisecond))
	}
	return allowedInt == 1, int(remainingInt), resetTime, nil
}

// ClientIP returns the caller's address, honouring the usual proxy headers.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		ips := strings.Split(ip, ",")
		return strings.TrimSpace(ips[0])
	}

	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) Close() error {
	return rl.client.Close()
}
