// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/models"
)

// Event topics, suffixed onto the configured topic prefix.
const (
	TopicSyncStarted   = "sync.started"
	TopicSyncCompleted = "sync.completed"
	TopicSyncFailed    = "sync.failed"
	TopicStatus        = "status"
)

// SyncStartedEvent is published when a sync cycle begins.
type SyncStartedEvent struct {
	ForceFull    bool      `json:"forceFull"`
	DownloadOnly bool      `json:"downloadOnly"`
	StartedAt    time.Time `json:"startedAt"`
}

// SyncCompletedEvent is published when a sync cycle finishes, whether it
// uploaded anything or resolved to a no-op plan.
type SyncCompletedEvent struct {
	Result *models.SyncResult `json:"result"`
}

// SyncFailedEvent is published when a sync cycle fails hard.
type SyncFailedEvent struct {
	Error     string    `json:"error"`
	StartedAt time.Time `json:"startedAt"`
}

// StatusEvent is published after each sync cycle with the engine's
// current view: connectivity, pending work, per-entity sync times, and
// the cumulative stats.
type StatusEvent struct {
	Syncing        bool                             `json:"syncing"`
	Online         bool                             `json:"online"`
	PendingChanges int                              `json:"pendingChanges"`
	LastSync       map[models.EntityType]*time.Time `json:"lastSync,omitempty"`
	Stats          models.SyncStats                 `json:"stats"`
}

// EventBus publishes sync lifecycle events. Events always flow to the
// in-process channel bus; when a NATS URL is configured they are
// mirrored to JetStream for external consumers. Publishing is
// best-effort: a failed publish is logged, never fails a sync.
type EventBus struct {
	prefix  string
	local   *gochannel.GoChannel
	remote  message.Publisher
	mu      sync.Mutex
	closed  bool
	wmlog   watermill.LoggerAdapter
}

// NewEventBus creates the event bus from events configuration.
func NewEventBus(cfg config.EventsConfig) (*EventBus, error) {
	wmlog := watermill.NewSlogLogger(logging.NewSlogLogger())

	bus := &EventBus{
		prefix: cfg.TopicPrefix,
		local:  gochannel.NewGoChannel(gochannel.Config{}, wmlog),
		wmlog:  wmlog,
	}

	if cfg.NATSURL != "" {
		pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
			URL: cfg.NATSURL,
			NatsOptions: []natsgo.Option{
				natsgo.RetryOnFailedConnect(true),
				natsgo.MaxReconnects(-1),
				natsgo.ReconnectWait(2 * time.Second),
			},
			Marshaler: &wmNats.NATSMarshaler{},
			JetStream: wmNats.JetStreamConfig{
				AutoProvision: true,
			},
		}, wmlog)
		if err != nil {
			return nil, fmt.Errorf("create nats publisher: %w", err)
		}
		bus.remote = pub
	}

	return bus, nil
}

// topic builds the full topic name for a suffix.
func (b *EventBus) topic(suffix string) string {
	if b.prefix == "" {
		return suffix
	}
	return b.prefix + "." + suffix
}

// Publish serializes the payload and publishes it to the given topic
// suffix on all configured transports.
func (b *EventBus) Publish(suffix string, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Str("topic", suffix).Msg("Failed to marshal event payload")
		return
	}

	topic := b.topic(suffix)
	msg := message.NewMessage(watermill.NewUUID(), data)

	if err := b.local.Publish(topic, msg); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("Failed to publish event locally")
	}
	if b.remote != nil {
		remoteMsg := message.NewMessage(msg.UUID, data)
		if err := b.remote.Publish(topic, remoteMsg); err != nil {
			logging.Warn().Err(err).Str("topic", topic).Msg("Failed to publish event to NATS")
		}
	}
}

// Subscribe returns a channel of messages for a topic suffix on the
// in-process bus. Intended for API streaming and tests.
func (b *EventBus) Subscribe(ctx context.Context, suffix string) (<-chan *message.Message, error) {
	return b.local.Subscribe(ctx, b.topic(suffix))
}

// Close shuts down all transports.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.local.Close()
	if b.remote != nil {
		if rerr := b.remote.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
