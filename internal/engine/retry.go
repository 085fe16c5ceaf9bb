// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/tabular"
)

// retryableKeywords mark transient failures worth another attempt. The
// remote client embeds these in its error messages deliberately.
var retryableKeywords = []string{
	"network",
	"timeout",
	"timed out",
	"connection",
	"rate limit",
	"temporary",
	"unavailable",
}

// IsRetryable classifies an error for the whole-sync retry loop.
//
// Not retryable: authentication failures (retrying cannot mint a
// credential), validation failures (the data will not improve), context
// cancellation, and anything unrecognized. Unknown errors default to
// non-retryable so a persistent bug cannot spin the retry loop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, tabular.ErrUnauthorized) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// The breaker recovers on its own; a delayed attempt may pass.
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "validation") || strings.Contains(msg, "authentication") {
		return false
	}
	for _, keyword := range retryableKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

// Retrier runs an operation with bounded attempts and exponential backoff.
type Retrier struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewRetrier creates a retrier from sync configuration.
func NewRetrier(cfg config.SyncConfig) *Retrier {
	return &Retrier{
		attempts:  cfg.RetryAttempts,
		baseDelay: cfg.RetryBaseDelay,
		maxDelay:  cfg.RetryMaxDelay,
	}
}

// backoffDelay returns the delay before the given retry (attempt >= 1):
// baseDelay doubled per attempt, capped at maxDelay.
func (r *Retrier) backoffDelay(attempt int) time.Duration {
	delay := r.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.maxDelay {
			return r.maxDelay
		}
	}
	if delay > r.maxDelay {
		return r.maxDelay
	}
	return delay
}

// Do runs fn up to the configured attempt count, backing off between
// attempts. Non-retryable errors abort immediately; the last error is
// returned when all attempts fail.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			logging.Debug().
				Err(lastErr).
				Str("operation", op).
				Msg("Error not retryable, giving up")
			return lastErr
		}
		if attempt == r.attempts {
			break
		}

		delay := r.backoffDelay(attempt)
		logging.Warn().
			Err(lastErr).
			Str("operation", op).
			Int("attempt", attempt).
			Int("max_attempts", r.attempts).
			Dur("delay", delay).
			Msg("Operation failed, retrying after backoff")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}
