// Package ratelimit provides the token-bucket limiter the tool
// dispatcher applies per tool name. The HTTP surface has its own
// per-client-IP limiter in infrastructure/middleware.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// RateLimitConfig sizes one limiter: a steady refill rate plus a burst
// allowance for short spikes.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig suits an interactive tool surface.
func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 25,
		Burst:             50,
	}
}

// RateLimiter is a non-blocking token bucket. Callers that are over
// budget get a refusal, never a wait — a tool call held back by the
// limiter must fail fast so the client sees a classified error rather
// than a stall.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New builds a RateLimiter; non-positive config fields fall back to
// DefaultConfig values.
func New(cfg RateLimitConfig) *RateLimiter {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Allow reports whether one more call fits the budget right now.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}
