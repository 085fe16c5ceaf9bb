// RosterSync - Offline-First Roster Synchronization Service
// Copyright 2026 RosterHQ
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rosterhq/rostersync

// Package api provides the HTTP surface: roster CRUD, sync control, health,
// and Prometheus metrics, routed with chi.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rosterhq/rostersync/internal/engine"
	"github.com/rosterhq/rostersync/internal/store"
)

// Router builds the HTTP handler tree.
type Router struct {
	handler *Handler
}

// NewRouter creates a router over the record store and sync manager.
func NewRouter(s store.Store, manager *engine.Manager) *Router {
	return &Router{handler: NewHandler(s, manager)}
}

// Setup assembles the chi handler with the full middleware stack.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", rt.handler.HealthLive)
		r.Get("/ready", rt.handler.HealthReady)
	})

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Get("/status", rt.handler.SyncStatus)
		r.Post("/trigger", rt.handler.SyncTrigger)
		r.Post("/reset", rt.handler.SyncReset)
	})

	r.Route("/api/v1/{entity}", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Use(rt.handler.RequireEntity)
		r.Get("/", rt.handler.ListRecords)
		r.Post("/", rt.handler.CreateRecord)
		r.Get("/{id}", rt.handler.GetRecord)
		r.Put("/{id}", rt.handler.UpdateRecord)
		r.Delete("/{id}", rt.handler.DeleteRecord)
	})

	return r
}
