// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/rosterhq/rostersync/internal/models"
	"github.com/rosterhq/rostersync/internal/tabular"
)

// Transformer converts between local records and remote rows using the
// per-entity descriptor table. Conversion is lossy only for malformed
// input: bad cells become safe defaults rather than failing the batch.
type Transformer struct {
	validate *validator.Validate
}

// NewTransformer creates a transformer with a fresh validator instance.
func NewTransformer() *Transformer {
	return &Transformer{validate: validator.New()}
}

// ToRow converts one record into its remote row per the descriptor:
// cells follow the descriptor column order, values are sanitized, and
// required fields and field rules are enforced before conversion.
func (t *Transformer) ToRow(desc models.EntityDescriptor, rec models.Record) (tabular.Row, error) {
	for _, field := range desc.Required {
		if strings.TrimSpace(rec[field]) == "" {
			return nil, fmt.Errorf("validation failed for %s: missing required field %q", desc.Type, field)
		}
	}

	for field, rule := range desc.FieldRules {
		if err := t.validate.Var(rec[field], rule); err != nil {
			return nil, fmt.Errorf("validation failed for %s field %q: %w", desc.Type, field, err)
		}
	}

	row := make(tabular.Row, len(desc.Columns))
	for i, col := range desc.Columns {
		row[i] = sanitizeCell(rec[col])
	}
	return row, nil
}

// FromRow converts one remote row into a record per the descriptor.
// Missing trailing cells become empty fields; malformed timestamps are
// replaced with the current time so inbound data never fails conversion.
// Rows without an id in column A are rejected.
func (t *Transformer) FromRow(desc models.EntityDescriptor, row tabular.Row) (models.Record, error) {
	if row.ID() == "" {
		return nil, fmt.Errorf("row for %s has no id in column A", desc.Type)
	}

	rec := make(models.Record, len(desc.Columns))
	for i, col := range desc.Columns {
		val := ""
		if i < len(row) {
			val = restoreCell(row[i])
		}
		rec[col] = val
	}

	for _, field := range []string{models.FieldCreatedAt, models.FieldUpdatedAt} {
		if rec[field] == "" {
			continue
		}
		if ts, ok := models.ParseTimestamp(rec[field]); ok {
			rec[field] = models.FormatTimestamp(ts)
		} else {
			rec[field] = models.NowTimestamp()
		}
	}

	return rec, nil
}

// FromRows converts a full range read into records, skipping the header
// row and tolerating malformed rows: each bad row yields an error in the
// second return value while the rest of the batch converts normally.
func (t *Transformer) FromRows(desc models.EntityDescriptor, rows []tabular.Row) ([]models.Record, []error) {
	if len(rows) <= 1 {
		return nil, nil
	}

	records := make([]models.Record, 0, len(rows)-1)
	var errs []error
	for i, row := range rows[1:] {
		if len(row) == 0 || row.ID() == "" {
			// Blank rows are remnants of remote-side deletes.
			continue
		}
		rec, err := t.FromRow(desc, row)
		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i+2, err))
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

// HeaderRow returns the header row for an entity's remote range.
func HeaderRow(desc models.EntityDescriptor) tabular.Row {
	return tabular.Row(desc.Columns)
}

// sanitizeCell prepares a local value for the remote tabular store:
// control characters are stripped, whitespace runs collapse to single
// spaces, and double quotes are doubled per tabular quoting rules.
func sanitizeCell(val string) string {
	var b strings.Builder
	b.Grow(len(val))

	lastSpace := false
	for _, r := range val {
		switch {
		case r == '\n' || r == '\t' || unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastSpace = true
		case unicode.IsControl(r):
			// dropped
		case r == '"':
			b.WriteString(`""`)
			lastSpace = false
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// restoreCell reverses the quote doubling applied by sanitizeCell.
// Whitespace normalization and control stripping are one-way.
func restoreCell(val string) string {
	return strings.ReplaceAll(val, `""`, `"`)
}
