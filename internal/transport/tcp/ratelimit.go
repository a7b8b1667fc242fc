package tcp

import (
	"golang.org/x/time/rate"

	"github.com/vovakirdan/wirerelay/internal/config"
)

// newRateLimiter returns a per-connection token bucket, or nil when limiting is off.
// A burst below one is raised to one so the configured rate is reachable.
func newRateLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if !cfg.Enabled() {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), burst)
}
