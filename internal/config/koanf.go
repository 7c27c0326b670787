// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/botwatch/config.yaml",
	"/etc/botwatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3857,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Path:           "/data/botwatch/evidence",
			SyncWrites:     true, // evidence is the source of truth
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Ingest: IngestConfig{
			ClockSkewTolerance:   2 * time.Minute,
			DefaultReporterTrust: 0.5,
			ReporterTrust:        map[string]float64{},
			RateLimitReqs:        120,
			RateLimitWindow:      time.Minute,
		},
		Scoring: ScoringConfig{
			DecayHalfLife:       7 * 24 * time.Hour,
			BlendWeight:         0.3,
			AnomalyWeight:       0.15,
			ModelTrust:          0.8,
			StaleModelDiscount:  0.5,
			SuspiciousThreshold: 0.5,
			ConfirmedThreshold:  0.75,
			BanThreshold:        0.9,
			MaxCASAttempts:      5,
		},
		Hiscore: HiscoreConfig{
			Enabled:           true,
			PollInterval:      time.Hour,
			SourceURL:         "",
			RankJumpThreshold: 10000,
			RequestTimeout:    30 * time.Second,
		},
		Prediction: PredictionConfig{
			Enabled:          true,
			URL:              "",
			FeatureVersion:   1,
			BatchSize:        100,
			Interval:         time.Minute,
			Timeout:          10 * time.Second,
			MaxAttempts:      4,
			BackoffInitial:   500 * time.Millisecond,
			BackoffMax:       15 * time.Second,
			BreakerThreshold: 5,
			RatePerSecond:    2,
		},
		NATS: NATSConfig{
			EmbeddedServer:             true,
			URL:                        "nats://127.0.0.1:4222",
			StoreDir:                   "/data/botwatch/jetstream",
			MaxMemory:                  1 << 30,  // 1GB
			MaxStore:                   10 << 30, // 10GB
			StreamName:                 "BOTWATCH",
			DurableName:                "evidence-processor",
			QueueGroup:                 "aggregators",
			RouterRetryCount:           3,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterRetryMaxInterval:     time.Minute,
			RouterPoisonQueueTopic:     "dlq.evidence",
			RouterCloseTimeout:         30 * time.Second,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (if present)
//  3. Environment variables: override any setting
//
// Precedence: ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// BOTWATCH_PREDICTION_BATCH_SIZE -> prediction.batch_size
	envProvider := env.Provider("BOTWATCH_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// configSections are the top-level keys used to split env var names.
var configSections = []string{
	"server", "store", "ingest", "scoring", "hiscore",
	"prediction", "nats", "api", "logging",
}

// envTransformFunc maps BOTWATCH_* environment variables onto koanf paths.
// The first underscore-delimited token selects the section; the remainder is
// the field name:
//
//	BOTWATCH_SERVER_PORT             -> server.port
//	BOTWATCH_SCORING_DECAY_HALF_LIFE -> scoring.decay_half_life
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "BOTWATCH_"))

	for _, section := range configSections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}

	// Unknown prefix: pass through so koanf ignores it.
	return key
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when they arrive from env vars as plain strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML or defaults): nothing to do.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}
