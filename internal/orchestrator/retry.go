package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

// RetryConfig defines retry behavior for source HTTP calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 = no retries).
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// JitterFactor adds randomness to delays (0.0-1.0).
	JitterFactor float64
}

// DefaultRetryConfig returns sensible defaults for flaky content APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// isRetryableStatusCode reports whether an HTTP status warrants a retry.
func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isRetryableError reports whether a transport error warrants a retry.
// Context cancellation and deadline expiry are terminal for the attempt
// budget: the caller's timeout governs.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// executeWithRetry runs fn with bounded retries and exponential backoff.
// fn is retried on transport errors and retryable status codes; retryable
// responses have their bodies closed before the next attempt.
func executeWithRetry(ctx context.Context, config RetryConfig, fn func() (*http.Response, error)) (*http.Response, error) {
	delay := config.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("cancelled before attempt %d: %w", attempt+1, ctx.Err())
		default:
		}

		resp, err := fn()

		if err == nil && resp != nil && !isRetryableStatusCode(resp.StatusCode) {
			return resp, nil
		}

		if resp != nil && isRetryableStatusCode(resp.StatusCode) {
			lastErr = fmt.Errorf("HTTP %d: retryable server error", resp.StatusCode)
			resp.Body.Close()
		} else if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				return nil, err
			}
		}

		if attempt >= config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("cancelled during backoff: %w", ctx.Err())
		case <-time.After(addJitter(delay, config.JitterFactor)):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", config.MaxRetries+1, lastErr)
}

// addJitter randomizes a delay. Jitter does not need cryptographic
// randomness.
func addJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	jitterRange := float64(d) * factor
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = 0
	}
	return result
}
