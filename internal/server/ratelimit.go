package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"filevault/internal/api"
)

// RateLimitConfig throttles token issue attempts per client address.
type RateLimitConfig struct {
	Enabled     bool
	LoginLimit  int
	LoginWindow time.Duration
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.LoginLimit <= 0 {
		c.LoginLimit = 10
	}
	if c.LoginWindow <= 0 {
		c.LoginWindow = time.Minute
	}
	return c
}

var errTooManyRequests = errors.New("too many requests")

// rateLimitStore counts attempts per key inside a rolling window. A Redis
// implementation shares the counters between replicas.
type rateLimitStore interface {
	Allow(key string, limit int, window time.Duration) (bool, error)
}

type attemptWindow struct {
	start time.Time
	count int
}

type memoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*attemptWindow
	now     func() time.Time
}

func newMemoryRateLimitStore() *memoryRateLimitStore {
	return &memoryRateLimitStore{
		windows: make(map[string]*attemptWindow),
		now:     time.Now,
	}
}

func (s *memoryRateLimitStore) Allow(key string, limit int, window time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.windows[key]
	if !ok || now.Sub(current.start) >= window {
		current = &attemptWindow{start: now}
		s.windows[key] = current
	}
	current.count++
	return current.count <= limit, nil
}

type redisRateLimitStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

func newRedisRateLimitStore(client redis.UniversalClient) *redisRateLimitStore {
	return &redisRateLimitStore{
		client:  client,
		prefix:  "filevault:ratelimit:",
		timeout: 2 * time.Second,
	}
}

func (s *redisRateLimitStore) Allow(key string, limit int, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	fullKey := s.prefix + key
	count, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("expire rate counter: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if !s.rateLimit.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/connect" {
			allowed, err := s.rateStore.Allow(extractClientIP(r), s.rateLimit.LoginLimit, s.rateLimit.LoginWindow)
			if err != nil {
				// A broken limiter store must not lock everyone out.
				s.logger.Warn("rate limit check failed", "error", err.Error())
			} else if !allowed {
				api.WriteError(w, http.StatusTooManyRequests, errTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func extractClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
