package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/chainsight/responder/pkg/schema"
)

// IsRetryableError classifies whether a step failure should be retried
// against its collaborator. Transient collaborator conditions retry;
// contract violations and cancellation never do.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Step deadline overruns retry; cancellation means the run is shutting down.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rerr *schema.ResponderError
	if errors.As(err, &rerr) {
		return rerr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// ComputeBackoff returns the delay before retry attempt n (zero-based),
// doubling from base with a cap.
func ComputeBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

// WaitForBackoff sleeps for the delay or returns early on context cancellation.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
