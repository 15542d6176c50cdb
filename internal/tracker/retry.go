package tracker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// RetryOptions configures retry behavior
type RetryOptions struct {
	MaxRetries int           // Maximum number of retries
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
}

// DefaultRetryOptions keeps a search well inside its 30s query budget.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Second,
	}
}

// WithRetry executes an operation with exponential backoff retry.
// It respects context cancellation and the Retry-After header.
func WithRetry[T any](ctx context.Context, op func() (T, error), opts RetryOptions) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}
		if !isRetryableError(lastErr) || attempt >= opts.MaxRetries {
			return result, lastErr
		}

		// 1s, 2s, 4s... capped at MaxDelay
		delay := opts.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		}

		// Give up early rather than sleep past the caller's deadline.
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return result, lastErr
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	return result, lastErr
}

// isRetryableError reports whether err is a rate limit, a 5xx, or a network
// failure. Client errors such as 401, 404 and 422 are permanent.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		case http.StatusForbidden:
			// Secondary rate limits arrive as 403 with Retry-After.
			return apiErr.RetryAfter > 0
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
