// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

// Package config loads RosterSync configuration with layered sources:
// built-in defaults, an optional YAML file, and environment variables,
// in increasing order of precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the rostersyncd service.
type Config struct {
	Remote  RemoteConfig  `koanf:"remote"`
	Sync    SyncConfig    `koanf:"sync"`
	Store   StoreConfig   `koanf:"store"`
	Events  EventsConfig  `koanf:"events"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// RemoteConfig holds connection settings for the remote tabular store
// (a spreadsheet-style service addressed by document and named ranges).
type RemoteConfig struct {
	// URL is the base URL of the sheet service API.
	URL string `koanf:"url"`

	// Document identifies the spreadsheet document holding the ranges.
	Document string `koanf:"document"`

	// Token authenticates requests. An empty token means the service
	// is unauthenticated and every sync fails its prerequisite check.
	Token string `koanf:"token"`

	// Timeout bounds individual HTTP requests.
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the client-side request budget per second.
	// Zero disables client-side limiting.
	RateLimit float64 `koanf:"rate_limit"`
}

// SyncConfig holds the synchronization thresholds and schedules.
// Strategy selection is purely data-driven: changing these values never
// requires code changes.
type SyncConfig struct {
	// Interval is the periodic full-evaluation sync cadence.
	Interval time.Duration `koanf:"interval"`

	// DeltaInterval is the shorter cadence used between full intervals
	// when unsynced local changes are pending. Zero disables it.
	DeltaInterval time.Duration `koanf:"delta_interval"`

	// FullSyncDays forces a full sync when the last sync is older.
	FullSyncDays int `koanf:"full_sync_days"`

	// DeltaThreshold is the change-count boundary between delta and
	// smart/full strategies.
	DeltaThreshold int `koanf:"delta_threshold"`

	// BatchSize caps rows per remote append call.
	BatchSize int `koanf:"batch_size"`

	// RetryAttempts is the maximum number of whole-sync attempts for
	// retryable failures.
	RetryAttempts int `koanf:"retry_attempts"`

	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration `koanf:"retry_max_delay"`

	// RetentionDays bounds how long synced change entries are kept.
	RetentionDays int `koanf:"retention_days"`

	// SyncOnMutation schedules a debounced sync after local mutations.
	SyncOnMutation bool `koanf:"sync_on_mutation"`

	// MutationDebounce is the quiet period before a mutation-triggered
	// sync fires.
	MutationDebounce time.Duration `koanf:"mutation_debounce"`
}

// StoreConfig holds local record store settings.
type StoreConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory selects the non-durable in-memory store.
	InMemory bool `koanf:"in_memory"`
}

// EventsConfig holds emitted-event transport settings.
type EventsConfig struct {
	// NATSURL, when set, publishes sync events to NATS JetStream in
	// addition to the in-process bus.
	NATSURL string `koanf:"nats_url"`

	// TopicPrefix namespaces the event topics.
	TopicPrefix string `koanf:"topic_prefix"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			URL:       "",
			Document:  "",
			Token:     "",
			Timeout:   30 * time.Second,
			RateLimit: 5,
		},
		Sync: SyncConfig{
			Interval:         5 * time.Minute,
			DeltaInterval:    time.Minute,
			FullSyncDays:     7,
			DeltaThreshold:   50,
			BatchSize:        100,
			RetryAttempts:    3,
			RetryBaseDelay:   time.Second,
			RetryMaxDelay:    30 * time.Second,
			RetentionDays:    7,
			SyncOnMutation:   true,
			MutationDebounce: 5 * time.Second,
		},
		Store: StoreConfig{
			Path:     "/data/rostersync",
			InMemory: false,
		},
		Events: EventsConfig{
			NATSURL:     "",
			TopicPrefix: "rostersync",
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8484,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Sync.DeltaThreshold <= 0 {
		return fmt.Errorf("sync.delta_threshold must be positive, got %d", c.Sync.DeltaThreshold)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.FullSyncDays <= 0 {
		return fmt.Errorf("sync.full_sync_days must be positive, got %d", c.Sync.FullSyncDays)
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("sync.retry_attempts must be at least 1, got %d", c.Sync.RetryAttempts)
	}
	if c.Sync.RetryBaseDelay <= 0 {
		return fmt.Errorf("sync.retry_base_delay must be positive, got %s", c.Sync.RetryBaseDelay)
	}
	if c.Sync.RetryMaxDelay < c.Sync.RetryBaseDelay {
		return fmt.Errorf("sync.retry_max_delay %s is below retry_base_delay %s", c.Sync.RetryMaxDelay, c.Sync.RetryBaseDelay)
	}
	if c.Sync.RetentionDays < 1 {
		return fmt.Errorf("sync.retention_days must be at least 1, got %d", c.Sync.RetentionDays)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	return nil
}
