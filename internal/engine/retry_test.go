// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rosterhq/rostersync/internal/tabular"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network failure", errors.New("network request failed: connection refused"), true},
		{"timeout", errors.New("request timed out"), true},
		{"rate limit", errors.New("rate limit exceeded (status 429)"), true},
		{"server error", errors.New("temporary remote error (status 503)"), true},
		{"breaker open", gobreaker.ErrOpenState, true},
		{"unauthorized", fmt.Errorf("read range: %w", tabular.ErrUnauthorized), false},
		{"validation", errors.New("validation failed for volunteers: missing required field \"name\""), false},
		{"context canceled", context.Canceled, false},
		{"unknown", errors.New("something odd happened"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	cfg := testSyncConfig()
	cfg.RetryBaseDelay = time.Second
	cfg.RetryMaxDelay = 10 * time.Second
	r := NewRetrier(cfg)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{6, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := r.backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetrierRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	r := NewRetrier(testSyncConfig())
	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("temporary remote error (status 502)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrierStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	r := NewRetrier(testSyncConfig())
	calls := 0
	wantErr := fmt.Errorf("remote: %w", tabular.ErrUnauthorized)
	err := r.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, tabular.ErrUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", calls)
	}
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	t.Parallel()

	cfg := testSyncConfig()
	cfg.RetryAttempts = 3
	r := NewRetrier(cfg)

	calls := 0
	err := r.Do(context.Background(), "test", func(context.Context) error {
		calls++
		return errors.New("network request failed")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrierHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	cfg := testSyncConfig()
	cfg.RetryBaseDelay = time.Minute
	cfg.RetryMaxDelay = time.Minute
	r := NewRetrier(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, "test", func(context.Context) error {
		return errors.New("network request failed")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
