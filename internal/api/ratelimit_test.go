package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterAllow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		perMinute int
		burst     int
		calls     int
		advance   time.Duration
		wantAllow int
	}{
		{name: "突发上限", perMinute: 60, burst: 3, calls: 5, wantAllow: 3},
		{name: "时间推进后补充", perMinute: 60, burst: 1, calls: 3, advance: time.Second, wantAllow: 3},
		{name: "未配置不限流", perMinute: 0, burst: 1, calls: 10, wantAllow: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewRateLimiter(tt.perMinute, tt.burst)
			current := base
			limiter.now = func() time.Time { return current }

			allowed := 0
			for i := 0; i < tt.calls; i++ {
				if limiter.Allow("user:1") {
					allowed++
				}
				current = current.Add(tt.advance)
			}
			if allowed != tt.wantAllow {
				t.Errorf("expected %d allowed, got %d", tt.wantAllow, allowed)
			}
		})
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	if !limiter.Allow("user:1") || !limiter.Allow("user:2") {
		t.Fatal("first request per key should pass")
	}
	if limiter.Allow("user:1") {
		t.Fatal("second request for the same key should be limited")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	limiter.Allow("user:1")
	current = current.Add(time.Hour)
	limiter.Allow("user:2")

	if _, ok := limiter.limiters["user:1"]; ok {
		t.Fatal("idle limiter should be evicted")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(1, 1)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(currentUserContextKey, &RequestUser{ID: 7})
		c.Next()
	})
	router.POST("/submit", limiter.Middleware(), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusAccepted || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}
}
