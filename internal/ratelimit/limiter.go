// Package ratelimit enforces per-IP and per-user request budgets using
// ulule/limiter — Redis-backed when available, falling back to an
// in-memory store.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/netsblox/cloud/internal/config"
	"github.com/netsblox/cloud/internal/logging"
	"github.com/netsblox/cloud/internal/metrics"
)

// RateLimiter holds the per-concern limiter instances.
type RateLimiter struct {
	apiGlobal   *limiter.Limiter
	apiPublic   *limiter.Limiter
	apiRooms    *limiter.Limiter
	apiMessages *limiter.Limiter
	wsIP        *limiter.Limiter
	wsUser      *limiter.Limiter
}

func New(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rates := map[string]string{
		"global":   cfg.RateLimitAPIGlobal,
		"public":   cfg.RateLimitAPIPublic,
		"rooms":    cfg.RateLimitAPIRooms,
		"messages": cfg.RateLimitAPIMessages,
		"wsIP":     cfg.RateLimitWSIP,
		"wsUser":   cfg.RateLimitWSUser,
	}
	parsed := make(map[string]limiter.Rate, len(rates))
	for name, formatted := range rates {
		r, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", name, err)
		}
		parsed[name] = r
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "netsblox:limiter:"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-memory store (redis disabled)")
	}

	return &RateLimiter{
		apiGlobal:   limiter.New(store, parsed["global"]),
		apiPublic:   limiter.New(store, parsed["public"]),
		apiRooms:    limiter.New(store, parsed["rooms"]),
		apiMessages: limiter.New(store, parsed["messages"]),
		wsIP:        limiter.New(store, parsed["wsIP"]),
		wsUser:      limiter.New(store, parsed["wsUser"]),
	}, nil
}

// identity returns the authenticated username, if any (set by the auth
// middleware earlier in the chain), and the client IP as a fallback key.
func identity(c *gin.Context) (key string, authenticated bool) {
	if u, ok := c.Get("username"); ok {
		if s, ok := u.(string); ok && s != "" {
			return s, true
		}
	}
	return c.ClientIP(), false
}

// GlobalMiddleware applies the user-vs-IP global budget across the
// whole REST surface.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, authed := identity(c)
		inst := rl.apiPublic
		limitType := "ip"
		if authed {
			inst = rl.apiGlobal
			limitType = "user"
		}
		rl.enforce(c, inst, key, limitType)
	}
}

// MiddlewareForEndpoint applies a tighter, named budget on top of the
// global one (e.g. "rooms", "messages").
func (rl *RateLimiter) MiddlewareForEndpoint(endpointType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var inst *limiter.Limiter
		switch endpointType {
		case "rooms":
			inst = rl.apiRooms
		case "messages":
			inst = rl.apiMessages
		default:
			inst = rl.apiGlobal
		}
		key, _ := identity(c)
		rl.enforce(c, inst, key, endpointType)
	}
}

func (rl *RateLimiter) enforce(c *gin.Context, inst *limiter.Limiter, key, limitType string) {
	ctx := c.Request.Context()
	lctx, err := inst.Get(ctx, key)
	if err != nil {
		// Fail open: availability over strict enforcement when the store
		// (often Redis) is unreachable.
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		c.Next()
		return
	}

	c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many requests",
			"retry_after": lctx.Reset,
		})
		return
	}

	metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
	c.Next()
}

// CheckWebSocketIP enforces the per-IP connection budget before upgrade.
func (rl *RateLimiter) CheckWebSocketIP(c *gin.Context) bool {
	ctx := c.Request.Context()
	lctx, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (ip)", zap.Error(err))
		return true
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}
	return true
}

// CheckWebSocketUser enforces the per-user connection budget after the
// client id has been resolved to a username.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, username string) error {
	lctx, err := rl.wsUser.Get(ctx, username)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (user)", zap.Error(err))
		return nil
	}
	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user")
	}
	return nil
}
