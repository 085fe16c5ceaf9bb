// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"

	"github.com/rosterhq/rostersync/internal/metrics"
	"github.com/rosterhq/rostersync/internal/tabular"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	remote := tabular.NewMemory()
	remote.Err = errors.New("connection refused")
	b := NewBreakerTable(remote)
	ctx := context.Background()

	if b.State() != gobreaker.StateClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}

	for i := 0; i < 5; i++ {
		if err := b.Ping(ctx); err == nil {
			t.Fatalf("Ping %d should fail", i)
		}
	}

	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open after 5 consecutive failures", b.State())
	}
	if got := testutil.ToFloat64(metrics.BreakerState); got != float64(gobreaker.StateOpen) {
		t.Errorf("breaker state gauge = %v, want %v", got, float64(gobreaker.StateOpen))
	}

	// An open breaker sheds load without hitting the remote, and its
	// error is classified retryable so sync attempts back off and retry.
	err := b.Ping(ctx)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want ErrOpenState", err)
	}
	if !IsRetryable(err) {
		t.Error("open breaker errors must be retryable")
	}
}

func TestBreakerPassesThroughWhenHealthy(t *testing.T) {
	remote := tabular.NewMemory()
	remote.Seed("Volunteers", []tabular.Row{{"id"}, {"v1"}})
	b := NewBreakerTable(remote)
	ctx := context.Background()

	rows, err := b.ReadRange(ctx, "Volunteers")
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows = %d, want 2", len(rows))
	}
	if err := b.AppendRows(ctx, "Volunteers", []tabular.Row{{"v2"}}); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}
