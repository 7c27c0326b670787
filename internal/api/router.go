// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/botwatch/internal/config"
)

// NewRouter builds the HTTP routing table. Ingestion endpoints are rate
// limited per client IP; reads get a more permissive limit so dashboards
// can poll freely.
func NewRouter(handler *Handler, serverCfg config.ServerConfig, ingestCfg config.IngestConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   serverCfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Operational endpoints, outside the versioned API.
	r.Get("/healthz", handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Write path: plugin sightings, scraper snapshots, moderator
		// overrides.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(ingestCfg.RateLimitReqs, ingestCfg.RateLimitWindow))
			r.Post("/sightings", handler.Sighting)
			r.Post("/hiscores", handler.Hiscores)
			r.Post("/overrides", handler.Override)
		})

		// Read path.
		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(1000, time.Minute))
			r.Get("/players/{name}/state", handler.PlayerState)
			r.Get("/players/{name}/evidence", handler.PlayerEvidence)
		})

		r.Get("/ws", handler.WebSocket)
	})

	return r
}
