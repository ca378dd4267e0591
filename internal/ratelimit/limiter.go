// Package ratelimit enforces connection and history-read limits using Redis
// or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/peroxo/gateway/internal/config"
	"github.com/peroxo/gateway/internal/logging"
	"github.com/peroxo/gateway/internal/metrics"
)

// RateLimiter holds the gateway's rate limiter instances.
type RateLimiter struct {
	wsIP    *limiter.Limiter
	wsUser  *limiter.Limiter
	history *limiter.Limiter
	store   limiter.Store
}

// NewRateLimiter constructs a RateLimiter, using a Redis-backed store when
// redisClient is non-nil so limits are shared across replicas, and an
// in-memory store otherwise.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS user rate: %w", err)
	}
	historyRate, err := limiter.NewRateFromFormatted(cfg.RateLimitHistory)
	if err != nil {
		return nil, fmt.Errorf("invalid history rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "chat_gateway:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store (redis disabled)")
	}

	return &RateLimiter{
		wsIP:    limiter.New(store, wsIPRate),
		wsUser:  limiter.New(store, wsUserRate),
		history: limiter.New(store, historyRate),
		store:   store,
	}, nil
}

// CheckWebSocketIP enforces the per-IP connect limit, writing a 429 and
// returning false if exceeded. Fails open on store errors.
func (rl *RateLimiter) CheckWebSocketIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	lc, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (ip)")
		return true
	}
	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lc.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this ip"})
		return false
	}
	return true
}

// CheckWebSocketUser enforces the per-user connect limit. Call after
// authenticating the token. Fails open on store errors.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userID int32) error {
	lc, err := rl.wsUser.Get(ctx, strconv.FormatInt(int64(userID), 10))
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (user)")
		return nil
	}
	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user %d", userID)
	}
	return nil
}

// HistoryMiddleware enforces the per-user history-read rate limit.
func (rl *RateLimiter) HistoryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := c.ClientIP()
		if uid, exists := c.Get("user_id"); exists {
			key = fmt.Sprintf("%v", uid)
		}

		lc, err := rl.history.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "history rate limiter store failed")
			c.Next()
			return
		}
		if lc.Reached {
			metrics.RateLimitExceeded.WithLabelValues("history", "rate").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
