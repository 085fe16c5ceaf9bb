// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

// Package tabular provides access to the remote tabular backing store: a
// spreadsheet-style service addressed by document and named ranges.
//
// The remote model is deliberately primitive. A range is an ordered list of
// rows; a row is an ordered list of string cells. Row 1 of every range is a
// header row and must be preserved on overwrite; data rows begin at row 2;
// column A of every data row carries the record id. There are no
// transactions and no change notifications.
package tabular

import (
	"context"
	"errors"
)

// Row is one remote table row: an ordered list of string cells.
type Row []string

// ID returns the record id carried in column A, or "" for an empty row.
func (r Row) ID() string {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

// ErrUnauthorized indicates the credential was rejected by the remote
// service. Not retryable; the caller must refresh credentials.
var ErrUnauthorized = errors.New("authentication rejected by remote store")

// ErrRangeNotFound indicates the named range does not exist in the document.
var ErrRangeNotFound = errors.New("named range not found")

// RemoteTable is the remote tabular store consumed by the sync engine.
type RemoteTable interface {
	// Ping verifies the remote service and document are reachable.
	Ping(ctx context.Context) error

	// ReadRange returns all populated rows of a named range, header row
	// first. An existing but empty range yields an empty slice.
	ReadRange(ctx context.Context, rangeName string) ([]Row, error)

	// WriteRange overwrites rows of a named range starting at the given
	// 1-based row index. Callers writing data rows start at row 2 to
	// preserve the header.
	WriteRange(ctx context.Context, rangeName string, startRow int, rows []Row) error

	// AppendRows appends rows after the last populated row of the range.
	// The service applies the whole batch as one call.
	AppendRows(ctx context.Context, rangeName string, rows []Row) error
}

// CredentialSource reports and restores the authentication state used by
// the remote client. Token lifecycle itself is an external concern; the
// engine only consumes this narrow surface.
type CredentialSource interface {
	// IsAuthenticated reports whether a usable credential is present.
	IsAuthenticated() bool

	// Refresh attempts to restore a usable credential.
	Refresh(ctx context.Context) error
}

// StaticCredentials is a CredentialSource backed by a fixed token.
// Refresh cannot mint a new token; it only re-validates presence.
type StaticCredentials struct {
	Token string
}

// IsAuthenticated reports whether a token is configured.
func (s StaticCredentials) IsAuthenticated() bool {
	return s.Token != ""
}

// Refresh is a no-op for static credentials; it fails when no token is
// configured since there is nothing to restore it from.
func (s StaticCredentials) Refresh(context.Context) error {
	if s.Token == "" {
		return errors.New("no credential configured: authentication unavailable")
	}
	return nil
}
