// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package tabular

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-memory RemoteTable. It backs tests and the dev profile
// where no sheet service is available. Behavior mirrors the remote model:
// row 1 is the header, writes address 1-based row indexes, appends land
// after the last populated row.
type Memory struct {
	mu     sync.Mutex
	ranges map[string][]Row

	// Err, when set, is returned by every operation. Tests use it to
	// simulate remote outages.
	Err error

	// ErrByRange scopes failure injection to individual ranges so
	// partial-failure isolation can be exercised.
	ErrByRange map[string]error
}

// NewMemory creates an empty in-memory table service.
func NewMemory() *Memory {
	return &Memory{
		ranges:     make(map[string][]Row),
		ErrByRange: make(map[string]error),
	}
}

// Seed replaces the contents of a named range, header row included.
func (m *Memory) Seed(rangeName string, rows []Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]Row, len(rows))
	for i, r := range rows {
		copied[i] = append(Row(nil), r...)
	}
	m.ranges[rangeName] = copied
}

// Rows returns a copy of the current contents of a named range.
func (m *Memory) Rows(rangeName string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.ranges[rangeName]
	copied := make([]Row, len(rows))
	for i, r := range rows {
		copied[i] = append(Row(nil), r...)
	}
	return copied
}

func (m *Memory) failure(rangeName string) error {
	if m.Err != nil {
		return m.Err
	}
	if err, ok := m.ErrByRange[rangeName]; ok && err != nil {
		return err
	}
	return nil
}

// Ping verifies the service is reachable.
func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

// ReadRange returns all populated rows of a named range.
func (m *Memory) ReadRange(_ context.Context, rangeName string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(rangeName); err != nil {
		return nil, err
	}

	rows := m.ranges[rangeName]
	copied := make([]Row, len(rows))
	for i, r := range rows {
		copied[i] = append(Row(nil), r...)
	}
	return copied, nil
}

// WriteRange overwrites rows starting at the given 1-based row index.
func (m *Memory) WriteRange(_ context.Context, rangeName string, startRow int, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(rangeName); err != nil {
		return err
	}
	if startRow < 1 {
		return fmt.Errorf("write range %s: start row %d out of range", rangeName, startRow)
	}

	existing := m.ranges[rangeName]
	for i, r := range rows {
		idx := startRow - 1 + i
		for len(existing) <= idx {
			existing = append(existing, Row{})
		}
		existing[idx] = append(Row(nil), r...)
	}
	m.ranges[rangeName] = existing
	return nil
}

// AppendRows appends rows after the last populated row of the range.
func (m *Memory) AppendRows(_ context.Context, rangeName string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failure(rangeName); err != nil {
		return err
	}

	for _, r := range rows {
		m.ranges[rangeName] = append(m.ranges[rangeName], append(Row(nil), r...))
	}
	return nil
}

var _ RemoteTable = (*Memory)(nil)
