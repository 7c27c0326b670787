// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package metrics provides Prometheus instrumentation for the pipeline:
// ingestion outcomes, evidence store throughput, aggregation runs and CAS
// contention, classifier call health, hiscore reconciliation, and verdict
// streaming.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion

	SightingsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botwatch_sightings_accepted_total",
			Help: "Total sighting reports accepted by the normalizer",
		},
	)

	SightingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botwatch_sightings_rejected_total",
			Help: "Total sighting reports rejected by the normalizer",
		},
		[]string{"reason"},
	)

	// Evidence store

	EvidenceAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botwatch_evidence_appends_total",
			Help: "Total evidence records appended, by kind",
		},
		[]string{"kind"},
	)

	StateCASConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botwatch_state_cas_conflicts_total",
			Help: "Total optimistic-concurrency conflicts on aggregate state",
		},
	)

	// Aggregation

	AggregationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botwatch_aggregation_runs_total",
			Help: "Total per-player aggregation runs, by outcome",
		},
		[]string{"outcome"}, // updated, no_evidence, deferred, error
	)

	AggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botwatch_aggregation_duration_seconds",
			Help:    "Duration of one per-player aggregation run",
			Buckets: prometheus.DefBuckets,
		},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botwatch_state_transitions_total",
			Help: "Total ban state transitions applied",
		},
		[]string{"from", "to"},
	)

	// Prediction client

	PredictionCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botwatch_prediction_calls_total",
			Help: "Total ML classifier calls, by outcome",
		},
		[]string{"outcome"}, // ok, timeout, error, breaker_open
	)

	PredictionCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botwatch_prediction_call_duration_seconds",
			Help:    "Duration of ML classifier calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	PredictionBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botwatch_prediction_batch_size",
			Help:    "Players per classifier batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	// Hiscore reconciler

	HiscoreSnapshots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botwatch_hiscore_snapshots_total",
			Help: "Total hiscore snapshots ingested, by outcome",
		},
		[]string{"outcome"}, // ingested, duplicate, error
	)

	HiscoreAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botwatch_hiscore_anomalies_total",
			Help: "Total hiscore anomaly evidence events emitted",
		},
		[]string{"type"},
	)

	// Event bus

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botwatch_events_published_total",
			Help: "Total messages published to the event bus, by topic",
		},
		[]string{"topic"},
	)

	EventsPoisoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botwatch_events_poisoned_total",
			Help: "Total messages routed to the poison queue",
		},
	)

	// Verdict stream

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botwatch_websocket_clients",
			Help: "Connected verdict stream consumers",
		},
	)
)

// ObserveAggregation records one aggregation run.
func ObserveAggregation(outcome string, start time.Time) {
	AggregationRuns.WithLabelValues(outcome).Inc()
	AggregationDuration.Observe(time.Since(start).Seconds())
}

// ObservePredictionCall records one classifier call.
func ObservePredictionCall(outcome string, start time.Time) {
	PredictionCalls.WithLabelValues(outcome).Inc()
	PredictionCallDuration.Observe(time.Since(start).Seconds())
}
