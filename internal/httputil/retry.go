// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers for the retrieval client.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// DefaultBaseDelay is the first backoff delay when a policy leaves it unset.
const DefaultBaseDelay = 500 * time.Millisecond

// RetryPolicy bounds the retries performed after connection-level failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt. Zero
	// disables retrying.
	MaxRetries int

	// BaseDelay is the backoff before the first retry; it doubles for each
	// further retry (0.5s, 1s, 2s with the default).
	BaseDelay time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real sleeps; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backoff returns the delay before retry number attempt (0-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return time.Duration(math.Pow(2, float64(attempt))) * base
}

// RetriesExhaustedError is returned when every attempt failed at the
// transport level.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// DoWithRetry executes an HTTP request and retries when the transport
// fails before a response arrives (connection refused, reset, DNS, dial
// or per-request timeout). Any HTTP response, whatever its status, is
// returned to the caller as-is and never retried.
//
// If ctx is cancelled during a request or a backoff wait the function
// returns ctx.Err(). After exhausting retries it returns a
// *RetriesExhaustedError wrapping the last transport error.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	sleep := policy.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !IsTransient(err) {
			return nil, err
		}
		if attempt >= policy.MaxRetries {
			return nil, &RetriesExhaustedError{Attempts: attempt + 1, Err: err}
		}

		if err := sleep(ctx, policy.Backoff(attempt)); err != nil {
			return nil, err
		}
	}
}

// IsTransient reports whether err is a connection-level failure worth
// retrying: dial, DNS, reset or truncated responses, and timeouts.
// Cancellation and malformed requests are not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
