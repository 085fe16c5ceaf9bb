// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rosterhq/rostersync/internal/config"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	t.Parallel()

	bus, err := NewEventBus(config.EventsConfig{TopicPrefix: "test"})
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	t.Cleanup(func() {
		_ = bus.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicSyncStarted)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	started := time.Now().UTC().Truncate(time.Second)
	bus.Publish(TopicSyncStarted, SyncStartedEvent{ForceFull: true, StartedAt: started})

	select {
	case msg := <-msgs:
		var event SyncStartedEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if !event.ForceFull || !event.StartedAt.Equal(started) {
			t.Errorf("event = %+v", event)
		}
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusPublishAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	bus, err := NewEventBus(config.EventsConfig{TopicPrefix: "test"})
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Must not panic or block.
	bus.Publish(TopicSyncCompleted, SyncCompletedEvent{})

	if err := bus.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestEventBusTopicPrefix(t *testing.T) {
	t.Parallel()

	bus, err := NewEventBus(config.EventsConfig{TopicPrefix: "rostersync"})
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	t.Cleanup(func() {
		_ = bus.Close()
	})

	if got := bus.topic(TopicSyncFailed); got != "rostersync.sync.failed" {
		t.Errorf("topic = %q", got)
	}

	bare, err := NewEventBus(config.EventsConfig{})
	if err != nil {
		t.Fatalf("NewEventBus: %v", err)
	}
	t.Cleanup(func() {
		_ = bare.Close()
	})
	if got := bare.topic(TopicStatus); got != TopicStatus {
		t.Errorf("topic = %q, want unprefixed", got)
	}
}
