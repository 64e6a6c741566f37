package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/novatrade/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Rule limits requests whose route starts with Prefix
type Rule struct {
	Prefix string
	Limit  rate.Limit
	Burst  int
}

// DefaultRules throttle the endpoints that move money or change bot state
var DefaultRules = []Rule{
	{Prefix: "/api/trade", Limit: rate.Limit(10.0 / 60.0), Burst: 3}, // 10 requests per minute
	{Prefix: "/api/bot/", Limit: rate.Limit(30.0 / 60.0), Burst: 5},  // 30 requests per minute
}

// RateLimiter keeps one token bucket per client and route
type RateLimiter struct {
	rules []Rule
	idle  time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(rules []Rule) *RateLimiter {
	return &RateLimiter{
		rules:    rules,
		idle:     3 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

func (l *RateLimiter) getLimiter(path, clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := clientIP + ":" + path
	v, exists := l.visitors[key]

	if !exists {
		limit, burst := rate.Inf, 1 // No limit for other paths
		for _, r := range l.rules {
			if strings.HasPrefix(path, r.Prefix) {
				limit, burst = r.Limit, r.Burst
				break
			}
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, burst),
			lastSeen: time.Now(),
		}
		l.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops idle visitors every minute until ctx ends
func (l *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(time.Now())
		}
	}
}

func (l *RateLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, key)
		}
	}
}

func (l *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		limiter := l.getLimiter(path, c.ClientIP())
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLogger logs every /api request with its status and latency
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("component", "http").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}
