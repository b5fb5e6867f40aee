// 文件路径: internal/api/middleware/security.go
// 模块说明: 按客户端 IP 的固定窗口限流，保护对外提供的配置与报告下载。
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RateLimiter 固定窗口计数，过期条目由 go-cache 清理。
type RateLimiter struct {
	mu      sync.Mutex
	entries *gocache.Cache
	limit   int
	window  time.Duration
}

type rateLimitEntry struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter 创建新的限流器
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		entries: gocache.New(window, 2*window),
		limit:   limit,
		window:  window,
	}
}

// Allow reports whether key may proceed, the remaining budget and the window reset time.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if raw, ok := rl.entries.Get(key); ok {
		entry := raw.(*rateLimitEntry)
		if entry.count >= rl.limit {
			return false, 0, entry.resetAt
		}
		entry.count++
		return true, rl.limit - entry.count, entry.resetAt
	}
	entry := &rateLimitEntry{count: 1, resetAt: now.Add(rl.window)}
	rl.entries.Set(key, entry, rl.window)
	return true, rl.limit - 1, entry.resetAt
}

// RateLimitConfig Rate Limit 配置
type RateLimitConfig struct {
	Limit   int
	Window  time.Duration
	KeyFunc func(*http.Request) string
}

// RateLimit Rate Limiting 中间件
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	if config.Limit <= 0 {
		config.Limit = 60
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.KeyFunc == nil {
		config.KeyFunc = clientIP
	}
	limiter := NewRateLimiter(config.Limit, config.Window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, resetAt := limiter.Allow(config.KeyFunc(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retry := int(time.Until(resetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP 取连接对端地址；chi 的 RealIP 已处理可信代理头。
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
