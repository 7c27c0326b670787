// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package config provides layered configuration loading for Botwatch using
// Koanf v2: struct defaults, then an optional YAML file, then environment
// variables (highest priority).
//
// Policy parameters that tune the scoring pipeline (decay half-life, state
// thresholds, trust weights, anomaly thresholds) deliberately live here
// rather than as code constants: they are operational policy, not mechanics.
package config

import "time"

// Config is the root configuration for the Botwatch server.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Store      StoreConfig      `koanf:"store"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Hiscore    HiscoreConfig    `koanf:"hiscore"`
	Prediction PredictionConfig `koanf:"prediction"`
	NATS       NATSConfig       `koanf:"nats"`
	API        APIConfig        `koanf:"api"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
	// CORSOrigins lists allowed origins for downstream consumers
	// (Discord/Twitter bots, website) reading aggregate state.
	CORSOrigins []string `koanf:"cors_origins"`
}

// StoreConfig holds evidence store (BadgerDB) settings.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty selects an in-memory store
	// (tests only).
	Path string `koanf:"path"`

	// SyncWrites forces fsync on every commit. Durable but slower.
	SyncWrites bool `koanf:"sync_writes"`

	// GCInterval is how often value-log garbage collection runs.
	GCInterval time.Duration `koanf:"gc_interval"`

	// GCDiscardRatio is the badger value-log GC threshold.
	GCDiscardRatio float64 `koanf:"gc_discard_ratio"`
}

// IngestConfig holds sighting ingestion settings.
type IngestConfig struct {
	// ClockSkewTolerance is how far in the future a client timestamp may
	// lie before the report is rejected.
	ClockSkewTolerance time.Duration `koanf:"clock_skew_tolerance"`

	// DefaultReporterTrust is the trust weight attached to sightings from
	// reporters without an explicit trust entry.
	DefaultReporterTrust float64 `koanf:"default_reporter_trust"`

	// ReporterTrust maps reporter IDs to explicit trust weights.
	ReporterTrust map[string]float64 `koanf:"reporter_trust"`

	// RateLimitReqs / RateLimitWindow bound per-client ingestion rate.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// ScoringConfig holds the aggregator's policy parameters.
type ScoringConfig struct {
	// DecayHalfLife controls how fast an old score fades: the prior score
	// is scaled by 2^(-age/half_life) before blending in new evidence.
	DecayHalfLife time.Duration `koanf:"decay_half_life"`

	// BlendWeight is the weight of the new evidence contribution in the
	// exponential blend (0..1).
	BlendWeight float64 `koanf:"blend_weight"`

	// AnomalyWeight is the fixed weak-evidence weight of one hiscore
	// anomaly.
	AnomalyWeight float64 `koanf:"anomaly_weight"`

	// ModelTrust scales a fresh prediction's probability contribution.
	ModelTrust float64 `koanf:"model_trust"`

	// StaleModelDiscount multiplies ModelTrust when a prediction's
	// feature version is older than Prediction.FeatureVersion.
	StaleModelDiscount float64 `koanf:"stale_model_discount"`

	// State thresholds on the bounded [-1, 1] confidence score.
	SuspiciousThreshold float64 `koanf:"suspicious_threshold"`
	ConfirmedThreshold  float64 `koanf:"confirmed_threshold"`
	BanThreshold        float64 `koanf:"ban_threshold"`

	// MaxCASAttempts bounds the optimistic-concurrency retry loop; after
	// this many conflicts the update defers to the next trigger.
	MaxCASAttempts int `koanf:"max_cas_attempts"`
}

// HiscoreConfig holds the hiscore reconciler settings.
type HiscoreConfig struct {
	Enabled bool `koanf:"enabled"`

	// PollInterval is how often the reconciler polls its snapshot source.
	// Snapshots may also be pushed via the API regardless of polling.
	PollInterval time.Duration `koanf:"poll_interval"`

	// SourceURL is the external scraper endpoint. Empty disables polling;
	// push ingestion stays available.
	SourceURL string `koanf:"source_url"`

	// RankJumpThreshold is the rank improvement within one snapshot
	// interval considered implausible.
	RankJumpThreshold int `koanf:"rank_jump_threshold"`

	// RequestTimeout bounds one poll request.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// PredictionConfig holds the ML classifier client settings.
type PredictionConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// FeatureVersion is the feature-vector version this deployment
	// computes; predictions against older versions are discounted.
	FeatureVersion int `koanf:"feature_version"`

	// BatchSize caps players per classifier call.
	BatchSize int `koanf:"batch_size"`

	// Interval is how often pending players are collected into a batch.
	Interval time.Duration `koanf:"interval"`

	// Timeout bounds one classifier call; a call exceeding it is
	// abandoned and its late result discarded.
	Timeout time.Duration `koanf:"timeout"`

	// Retry policy: bounded exponential backoff.
	MaxAttempts    int           `koanf:"max_attempts"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker.
	BreakerThreshold uint32 `koanf:"breaker_threshold"`

	// RatePerSecond paces outbound classifier calls (0 = unpaced).
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// NATSConfig holds event bus settings.
type NATSConfig struct {
	// EmbeddedServer runs an in-process NATS JetStream server.
	EmbeddedServer bool   `koanf:"embedded_server"`
	URL            string `koanf:"url"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`

	StreamName  string `koanf:"stream_name"`
	DurableName string `koanf:"durable_name"`
	QueueGroup  string `koanf:"queue_group"`

	// Router middleware settings.
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterRetryMaxInterval     time.Duration `koanf:"router_retry_max_interval"`
	RouterPoisonQueueTopic     string        `koanf:"router_poison_queue_topic"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// APIConfig holds read API paging limits.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
