// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"BOTWATCH_SERVER_PORT", "server.port"},
		{"BOTWATCH_SERVER_CORS_ORIGINS", "server.cors_origins"},
		{"BOTWATCH_SCORING_DECAY_HALF_LIFE", "scoring.decay_half_life"},
		{"BOTWATCH_PREDICTION_BATCH_SIZE", "prediction.batch_size"},
		{"BOTWATCH_NATS_STREAM_NAME", "nats.stream_name"},
		{"BOTWATCH_LOGGING_LEVEL", "logging.level"},
		// Unknown section falls through untouched.
		{"BOTWATCH_MYSTERY_KNOB", "mystery_knob"},
	}
	for _, tc := range tests {
		t.Run(tc.env, func(t *testing.T) {
			if got := envTransformFunc(tc.env); got != tc.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tc.env, got, tc.want)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.NATS.StreamName != "BOTWATCH" {
		t.Errorf("NATS.StreamName = %q, want BOTWATCH", cfg.NATS.StreamName)
	}
	if !cfg.Store.SyncWrites {
		t.Error("Store.SyncWrites = false, evidence must default to synchronous writes")
	}
	if cfg.Scoring.DecayHalfLife != 7*24*time.Hour {
		t.Errorf("Scoring.DecayHalfLife = %v, want one week", cfg.Scoring.DecayHalfLife)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"gc discard ratio", func(c *Config) { c.Store.GCDiscardRatio = 1.5 }},
		{"negative skew tolerance", func(c *Config) { c.Ingest.ClockSkewTolerance = -time.Second }},
		{"reporter trust above one", func(c *Config) { c.Ingest.ReporterTrust = map[string]float64{"p": 1.2} }},
		{"zero half life", func(c *Config) { c.Scoring.DecayHalfLife = 0 }},
		{"blend weight zero", func(c *Config) { c.Scoring.BlendWeight = 0 }},
		{"threshold out of score range", func(c *Config) { c.Scoring.BanThreshold = 1.5 }},
		{"thresholds not escalating", func(c *Config) { c.Scoring.SuspiciousThreshold = c.Scoring.BanThreshold }},
		{"zero cas attempts", func(c *Config) { c.Scoring.MaxCASAttempts = 0 }},
		{"rank jump threshold", func(c *Config) { c.Hiscore.RankJumpThreshold = 0 }},
		{"prediction batch size", func(c *Config) { c.Prediction.BatchSize = 0 }},
		{"backoff bounds inverted", func(c *Config) { c.Prediction.BackoffMax = c.Prediction.BackoffInitial / 2 }},
		{"empty stream name", func(c *Config) { c.NATS.StreamName = "" }},
		{"page sizes inconsistent", func(c *Config) { c.API.MaxPageSize = c.API.DefaultPageSize - 1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}

	t.Run("disabled subsystems skip their checks", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.Hiscore.Enabled = false
		cfg.Hiscore.RankJumpThreshold = 0
		cfg.Prediction.Enabled = false
		cfg.Prediction.BatchSize = 0
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil", err)
		}
	})
}

func TestLoadWithKoanf(t *testing.T) {
	t.Run("env overrides file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")
		yaml := "server:\n  port: 9001\ningest:\n  default_reporter_trust: 0.9\n"
		if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}

		t.Setenv(ConfigPathEnvVar, path)
		t.Setenv("BOTWATCH_SERVER_PORT", "9002")
		t.Setenv("BOTWATCH_LOGGING_LEVEL", "debug")

		cfg, err := LoadWithKoanf()
		if err != nil {
			t.Fatalf("LoadWithKoanf: %v", err)
		}

		if cfg.Server.Port != 9002 {
			t.Errorf("Server.Port = %d, want env override 9002", cfg.Server.Port)
		}
		if cfg.Ingest.DefaultReporterTrust != 0.9 {
			t.Errorf("DefaultReporterTrust = %v, want file value 0.9", cfg.Ingest.DefaultReporterTrust)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
		}
		if cfg.Scoring.AnomalyWeight != 0.15 {
			t.Errorf("AnomalyWeight = %v, want untouched default", cfg.Scoring.AnomalyWeight)
		}
	})

	t.Run("cors origins from comma-separated env", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("BOTWATCH_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

		cfg, err := LoadWithKoanf()
		if err != nil {
			t.Fatalf("LoadWithKoanf: %v", err)
		}
		want := []string{"https://a.example", "https://b.example"}
		if len(cfg.Server.CORSOrigins) != len(want) {
			t.Fatalf("CORSOrigins = %v, want %v", cfg.Server.CORSOrigins, want)
		}
		for i := range want {
			if cfg.Server.CORSOrigins[i] != want[i] {
				t.Errorf("CORSOrigins[%d] = %q, want %q", i, cfg.Server.CORSOrigins[i], want[i])
			}
		}
	})

	t.Run("invalid env value fails validation", func(t *testing.T) {
		t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
		t.Setenv("BOTWATCH_SERVER_PORT", "99999")

		if _, err := LoadWithKoanf(); err == nil {
			t.Error("LoadWithKoanf() = nil error, want validation failure")
		}
	})
}
