package http

import (
	"math"

	"golang.org/x/time/rate"

	"github.com/okcorral/roombroker/internal/config"
)

// rateLimiter is a per-connection token bucket. A nil limiter allows everything.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(cfg config.RateLimit) *rateLimiter {
	if cfg.MessagesPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(cfg.MessagesPerSecond)))
	}
	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), burst)}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}
