package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	RequestsPerMinute int
	KeyPrefix         string
	Message           string
}

// DefaultRateLimitConfig returns default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		KeyPrefix:         "chat:ratelimit:user:",
		Message:           "요청이 너무 많습니다. 잠시 후 다시 시도해주세요.",
	}
}

// DefaultUploadRateLimitConfig is the attachment upload budget, counted
// apart from message sends
func DefaultUploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		KeyPrefix:         "chat:ratelimit:upload:",
		Message:           "업로드가 너무 많습니다. 잠시 후 다시 시도해주세요.",
	}
}

// rateLimitScript is an atomic Lua script for sliding window rate limiting
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local window_start = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random(1000000))
    redis.call('EXPIRE', key, math.ceil(window / 1000) + 1)
    return {1, limit - count - 1, 0}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset_at = 0
    if #oldest >= 2 then
        reset_at = tonumber(oldest[2]) + window
    end
    return {0, 0, reset_at}
end
`)

// localLimiters is the per-instance fallback when Redis is not configured
// or not reachable
type localLimiters struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func newLocalLimiters(perMin int) *localLimiters {
	return &localLimiters{perMin: perMin, limiters: make(map[string]*rate.Limiter)}
}

func (l *localLimiters) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimitPerUser limits requests per authenticated user (IP for anonymous).
// Redis keeps the window shared between instances.
func RateLimitPerUser(redisClient *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	local := newLocalLimiters(cfg.RequestsPerMinute)

	reject := func(c *gin.Context, retryAfter int64) {
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   gin.H{"code": "RATE_LIMITED", "message": cfg.Message},
		})
	}

	return func(c *gin.Context) {
		userID := GetUserID(c)
		if userID == "" {
			userID = "ip:" + c.ClientIP()
		}
		key := cfg.KeyPrefix + userID

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))

		if redisClient != nil {
			now := time.Now().UnixMilli()
			windowMs := int64(60 * 1000)
			result, err := rateLimitScript.Run(c.Request.Context(), redisClient, []string{key},
				cfg.RequestsPerMinute, windowMs, now,
			).Int64Slice()
			if err == nil {
				c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result[1]))
				if result[0] != 1 {
					reject(c, (result[2]-now)/1000)
					return
				}
				c.Next()
				return
			}
			// Redis 장애 시 로컬 리미터로 대체
		}

		if !local.allow(key) {
			reject(c, 1)
			return
		}
		c.Next()
	}
}
