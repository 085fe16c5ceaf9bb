// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

// Package main is the entry point for the rostersyncd service.
//
// RosterSync keeps a local volunteer roster (volunteers, events, attendance)
// in a durable BadgerDB store and reconciles it with a remote spreadsheet
// backend. All reads and writes hit the local store first; a background
// engine tracks local mutations, picks a sync strategy based on change
// volume and sync age, and pushes/pulls data with last-writer-wins conflict
// resolution.
//
// The process runs two supervised services:
//
//  1. The sync manager: periodic syncs, a shorter delta cadence while
//     changes are pending, debounced sync-on-mutation, and retention
//     cleanup of synced change entries.
//  2. The HTTP server: roster CRUD, sync control (status/trigger/reset),
//     health probes, and Prometheus metrics.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): ROSTERSYNC_* environment variables, an optional YAML
// config file, and built-in defaults. See internal/config.
//
// The server shuts down gracefully on SIGINT and SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rosterhq/rostersync/internal/api"
	"github.com/rosterhq/rostersync/internal/config"
	"github.com/rosterhq/rostersync/internal/engine"
	"github.com/rosterhq/rostersync/internal/logging"
	"github.com/rosterhq/rostersync/internal/store"
	"github.com/rosterhq/rostersync/internal/supervisor"
	"github.com/rosterhq/rostersync/internal/tabular"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("rostersyncd", Version)
		return
	}

	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("rostersyncd failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().Str("version", Version).Msg("Starting rostersyncd")

	// Local storage: one Badger instance shared by the record store, the
	// change tracker, and the sync state store, under disjoint prefixes.
	var (
		recordStore store.Store
		tracker     engine.ChangeTracker
		states      engine.StateStore
		db          *badger.DB
	)
	if cfg.Store.InMemory {
		recordStore = store.NewMemoryStore()
		tracker = engine.NewMemoryTracker()
		states = engine.NewMemoryStateStore()
		logging.Warn().Msg("Using in-memory store; data will not survive restarts")
	} else {
		db, err = store.OpenBadger(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open local store at %s: %w", cfg.Store.Path, err)
		}
		defer func() {
			if cerr := db.Close(); cerr != nil {
				logging.Error().Err(cerr).Msg("Failed to close local store")
			}
		}()
		go func() {
			ticker := time.NewTicker(30 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				store.RunGC(db)
			}
		}()

		recordStore = store.NewBadgerStore(db)
		tracker = engine.NewBadgerTracker(db)
		states = engine.NewBadgerStateStore(db)
	}

	events, err := engine.NewEventBus(cfg.Events)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	defer func() {
		if cerr := events.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("Failed to close event bus")
		}
	}()

	remote := engine.NewBreakerTable(tabular.NewClient(cfg.Remote))
	executor := engine.NewExecutor(cfg.Sync, engine.Deps{
		Store:   recordStore,
		Tracker: tracker,
		Remote:  remote,
		Creds:   tabular.StaticCredentials{Token: cfg.Remote.Token},
		States:  states,
		Events:  events,
	})
	manager := engine.NewManager(cfg.Sync, executor, tracker, states, events)
	manager.WatchStore(recordStore)

	router := api.NewRouter(recordStore, manager)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	supCfg := supervisor.DefaultConfig()
	sup := supervisor.New(logging.NewSlogLogger(), supCfg)
	sup.Add(manager)
	sup.Add(supervisor.NewHTTPService(httpServer, supCfg.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", httpServer.Addr).Msg("Serving")
	err = sup.Serve(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Msg("Shutdown complete")
	return nil
}
