// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/metrics"
	"github.com/rosterhq/rostersync/internal/tabular"
)

// BreakerTable wraps a RemoteTable with a circuit breaker so a failing
// remote service sheds load quickly instead of timing out every call.
// One breaker guards the whole service: reads and writes share fate.
type BreakerTable struct {
	inner tabular.RemoteTable
	cb    *gobreaker.CircuitBreaker[[]tabular.Row]
}

// NewBreakerTable wraps a remote table with circuit breaking.
func NewBreakerTable(inner tabular.RemoteTable) *BreakerTable {
	settings := gobreaker.Settings{
		Name:        "remote-table",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Remote table circuit breaker state changed")
		},
	}
	return &BreakerTable{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[[]tabular.Row](settings),
	}
}

// State returns the current breaker state.
func (b *BreakerTable) State() gobreaker.State {
	return b.cb.State()
}

// Ping verifies the remote service through the breaker.
func (b *BreakerTable) Ping(ctx context.Context) error {
	_, err := b.cb.Execute(func() ([]tabular.Row, error) {
		return nil, b.inner.Ping(ctx)
	})
	return err
}

// ReadRange reads a named range through the breaker.
func (b *BreakerTable) ReadRange(ctx context.Context, rangeName string) ([]tabular.Row, error) {
	return b.cb.Execute(func() ([]tabular.Row, error) {
		return b.inner.ReadRange(ctx, rangeName)
	})
}

// WriteRange writes rows through the breaker.
func (b *BreakerTable) WriteRange(ctx context.Context, rangeName string, startRow int, rows []tabular.Row) error {
	_, err := b.cb.Execute(func() ([]tabular.Row, error) {
		return nil, b.inner.WriteRange(ctx, rangeName, startRow, rows)
	})
	return err
}

// AppendRows appends rows through the breaker.
func (b *BreakerTable) AppendRows(ctx context.Context, rangeName string, rows []tabular.Row) error {
	_, err := b.cb.Execute(func() ([]tabular.Row, error) {
		return nil, b.inner.AppendRows(ctx, rangeName, rows)
	})
	return err
}

// Configured reports readiness of the wrapped client when it exposes one.
func (b *BreakerTable) Configured() bool {
	type readiness interface{ Configured() bool }
	if r, ok := b.inner.(readiness); ok {
		return r.Configured()
	}
	return true
}

var _ tabular.RemoteTable = (*BreakerTable)(nil)
