// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

// Package metrics exposes Prometheus instrumentation for the sync engine
// and the HTTP surface, served on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncDuration observes whole sync cycle durations by plan type.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rostersync_sync_duration_seconds",
			Help:    "Duration of sync cycles in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"plan"},
	)

	// SyncTotal counts sync cycles by outcome.
	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rostersync_syncs_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"outcome"}, // "success", "failure", "skipped"
	)

	// UploadedRecords counts records pushed to the remote store.
	UploadedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rostersync_uploaded_records_total",
			Help: "Total number of records uploaded to the remote store",
		},
		[]string{"entity"},
	)

	// DownloadedRecords counts records pulled from the remote store.
	DownloadedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rostersync_downloaded_records_total",
			Help: "Total number of records downloaded from the remote store",
		},
		[]string{"entity"},
	)

	// ConflictsResolved counts last-writer-wins conflict resolutions.
	ConflictsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rostersync_conflicts_resolved_total",
			Help: "Total number of conflicts resolved by last-writer-wins",
		},
	)

	// PendingChanges gauges tracked unsynced changes per entity.
	PendingChanges = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rostersync_pending_changes",
			Help: "Current number of unsynced tracked changes",
		},
		[]string{"entity"},
	)

	// BreakerState gauges the remote table circuit breaker state
	// (0=closed, 1=half-open, 2=open).
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rostersync_remote_breaker_state",
			Help: "Remote table circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// HTTPRequestDuration observes API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rostersync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveSync records the outcome of one sync cycle.
func ObserveSync(plan string, success bool, duration time.Duration) {
	SyncDuration.WithLabelValues(plan).Observe(duration.Seconds())
	outcome := "failure"
	if success {
		outcome = "success"
	}
	SyncTotal.WithLabelValues(outcome).Inc()
}

// ObserveSkippedSync records a sync that did not run.
func ObserveSkippedSync() {
	SyncTotal.WithLabelValues("skipped").Inc()
}
