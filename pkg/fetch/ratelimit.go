package fetch

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter spaces out requests to the same host
type RateLimiter struct {
	hostLastRequest   map[string]time.Time // host -> last request attempt time
	hostLastRequestMu sync.Mutex
	delay             time.Duration // Minimum spacing; <= 0 disables the limiter
	log               *logrus.Entry
}

// NewRateLimiter creates a RateLimiter
func NewRateLimiter(delay time.Duration, log *logrus.Entry) *RateLimiter {
	return &RateLimiter{
		hostLastRequest: make(map[string]time.Time),
		delay:           delay,
		log:             log,
	}
}

// Wait blocks until at least the configured delay (+/- 10% jitter) has passed since
// the last request to host, or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if rl == nil || rl.delay <= 0 {
		return nil
	}

	rl.hostLastRequestMu.Lock()
	last, exists := rl.hostLastRequest[host]
	rl.hostLastRequestMu.Unlock()
	if !exists {
		return nil
	}

	remaining := rl.delay - time.Since(last)
	if remaining <= 0 {
		return nil
	}
	if jitterRange := int64(remaining) / 5; jitterRange > 0 {
		remaining += time.Duration(rand.Int64N(jitterRange)) - remaining/10
	}

	rl.log.WithFields(logrus.Fields{"host": host, "sleep": remaining}).Debug("Rate limit applying sleep")
	return sleepContext(ctx, remaining)
}

// Touch records now as the last request attempt time for host.
// Call this after the request attempt.
func (rl *RateLimiter) Touch(host string) {
	if rl == nil || rl.delay <= 0 {
		return
	}
	rl.hostLastRequestMu.Lock()
	rl.hostLastRequest[host] = time.Now()
	rl.hostLastRequestMu.Unlock()
}
