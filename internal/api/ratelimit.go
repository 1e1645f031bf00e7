package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter 按用户限流，启动时创建一次
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter perMinute <= 0 时不限流
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    limit,
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow 消耗 key 对应的一个令牌
func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.limit == rate.Inf {
		return true
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.limiters[key]
	if !ok {
		r.evictIdle(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// evictIdle 调用方持有锁
func (r *RateLimiter) evictIdle(now time.Time) {
	for key, entry := range r.limiters {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.limiters, key)
		}
	}
}

// Middleware 登录用户按 id 限流，其余按客户端 IP
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if user := CurrentUser(c); user != nil {
			key = "user:" + strconv.FormatUint(uint64(user.ID), 10)
		}
		if !r.Allow(key) {
			logrus.WithFields(logrus.Fields{
				"key":  key,
				"path": c.FullPath(),
			}).Warn("rate_limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, APIError{
				Code:    ErrCodeRateLimited,
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}
