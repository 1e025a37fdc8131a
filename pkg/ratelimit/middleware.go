package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"mailroute/pkg/metrics"
)

type Limiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// FromSeconds builds a config from the second-based values used in the
// management config file. Zero values fall back to DefaultConfig.
func FromSeconds(rps float64, burst, cleanupSeconds, maxAgeSeconds int) RateLimitConfig {
	cfg := DefaultConfig()
	if rps > 0 {
		cfg.RPS = rps
	}
	if burst > 0 {
		cfg.Burst = burst
	}
	if cleanupSeconds > 0 {
		cfg.CleanupInterval = time.Duration(cleanupSeconds) * time.Second
	}
	if maxAgeSeconds > 0 {
		cfg.MaxAge = time.Duration(maxAgeSeconds) * time.Second
	}
	return cfg
}

// Store keeps one token bucket per client IP.
type Store struct {
	config   RateLimitConfig
	limiters map[string]*Limiter
	mu       sync.RWMutex
}

func NewStore(config RateLimitConfig) *Store {
	return &Store{
		config:   config,
		limiters: make(map[string]*Limiter),
	}
}

func (s *Store) get(ip string) *Limiter {
	s.mu.RLock()
	limiter, exists := s.limiters[ip]
	s.mu.RUnlock()
	if exists {
		return limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, exists = s.limiters[ip]
	if !exists {
		limiter = &Limiter{
			limiter:  rate.NewLimiter(rate.Limit(s.config.RPS), s.config.Burst),
			lastSeen: time.Now(),
		}
		s.limiters[ip] = limiter
	}
	return limiter
}

// Cleanup drops limiters idle for longer than MaxAge and returns how many were removed.
func (s *Store) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for ip, limiter := range s.limiters {
		limiter.mu.Lock()
		lastSeen := limiter.lastSeen
		limiter.mu.Unlock()
		if now.Sub(lastSeen) > s.config.MaxAge {
			delete(s.limiters, ip)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}

// Run evicts idle limiters every CleanupInterval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Cleanup(now)
		}
	}
}

func (s *Store) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		limiter := s.get(clientIP)
		limiter.mu.Lock()
		limiter.lastSeen = time.Now()
		limiter.mu.Unlock()

		c.Header("X-RateLimit-Limit", formatRate(s.config.RPS))

		if !limiter.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// RateLimitMiddleware is a convenience wrapper whose cleanup loop stops with ctx.
func RateLimitMiddleware(ctx context.Context, config RateLimitConfig) gin.HandlerFunc {
	store := NewStore(config)
	go store.Run(ctx)
	return store.Middleware()
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}
