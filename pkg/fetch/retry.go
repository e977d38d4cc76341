package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"syscall"
	"time"

	"github.com/Sriram-PR/media-harvester/pkg/config"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

// RetryPolicy decides which failed attempts are repeated and how long to wait between them.
// It is applied by the Fetcher's attempt loop.
type RetryPolicy struct {
	Retryable   []error       // Sentinel kinds that trigger another attempt, checked in order
	MaxAttempts int           // Total attempts including the first
	MinBackoff  time.Duration // Lower bound of the uniform delay between attempts
	MaxBackoff  time.Duration // Upper bound of the uniform delay between attempts
	Timeout     time.Duration // Budget for all attempts of one fetch; 0 = unbounded
}

// DefaultRetryPolicy retries transient connection failures three times with a 3-10s random wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retryable:   []error{utils.ErrTransientNetwork},
		MaxAttempts: 3,
		MinBackoff:  3 * time.Second,
		MaxBackoff:  10 * time.Second,
		Timeout:     300 * time.Second,
	}
}

// PolicyFromConfig builds the policy from validated configuration.
func PolicyFromConfig(cfg *config.AppConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = cfg.MaxAttempts
	p.MinBackoff = cfg.MinBackoff
	p.MaxBackoff = cfg.MaxBackoff
	p.Timeout = cfg.FetchTimeout
	return p
}

// RetryKind returns the retryable sentinel err matches, or nil.
func (p RetryPolicy) RetryKind(err error) error {
	for _, kind := range p.Retryable {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// ShouldRetry reports whether another attempt follows a failed attempt number `attempt` (1-based).
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	return p.RetryKind(err) != nil
}

// Backoff draws a delay uniformly from [MinBackoff, MaxBackoff].
func (p RetryPolicy) Backoff() time.Duration {
	lo, hi := p.MinBackoff, p.MaxBackoff
	if hi <= lo {
		return max(lo, 0)
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classifyTransportError wraps an error from the HTTP round trip or body read with
// the sentinel the retry policy and CategorizeError understand.
// Context errors are returned unchanged so the caller can tell timeouts apart.
func classifyTransportError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: connection refused: %w", utils.ErrTransientNetwork, err)
	case errors.Is(err, syscall.ECONNRESET):
		return fmt.Errorf("%w: connection reset by peer: %w", utils.ErrTransientNetwork, err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF), errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: server disconnected: %w", utils.ErrTransientNetwork, err)
	}
	return fmt.Errorf("%w: %w", utils.ErrNetwork, err)
}
