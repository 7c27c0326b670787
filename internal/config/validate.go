// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package config

import "fmt"

// Validate checks the configuration for values that would break the pipeline
// at runtime. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}

	if c.Store.GCDiscardRatio <= 0 || c.Store.GCDiscardRatio >= 1 {
		return fmt.Errorf("store.gc_discard_ratio %v must be in (0, 1)", c.Store.GCDiscardRatio)
	}

	if c.Ingest.ClockSkewTolerance < 0 {
		return fmt.Errorf("ingest.clock_skew_tolerance must not be negative")
	}
	if c.Ingest.DefaultReporterTrust < 0 || c.Ingest.DefaultReporterTrust > 1 {
		return fmt.Errorf("ingest.default_reporter_trust %v must be in [0, 1]", c.Ingest.DefaultReporterTrust)
	}
	for id, w := range c.Ingest.ReporterTrust {
		if w < 0 || w > 1 {
			return fmt.Errorf("ingest.reporter_trust[%s] %v must be in [0, 1]", id, w)
		}
	}

	if err := c.validateScoring(); err != nil {
		return err
	}

	if c.Hiscore.Enabled && c.Hiscore.RankJumpThreshold <= 0 {
		return fmt.Errorf("hiscore.rank_jump_threshold must be positive")
	}

	if c.Prediction.Enabled {
		if c.Prediction.BatchSize <= 0 {
			return fmt.Errorf("prediction.batch_size must be positive")
		}
		if c.Prediction.MaxAttempts <= 0 {
			return fmt.Errorf("prediction.max_attempts must be positive")
		}
		if c.Prediction.Timeout <= 0 {
			return fmt.Errorf("prediction.timeout must be positive")
		}
		if c.Prediction.BackoffInitial <= 0 || c.Prediction.BackoffMax < c.Prediction.BackoffInitial {
			return fmt.Errorf("prediction backoff bounds are inconsistent")
		}
	}

	if c.NATS.StreamName == "" {
		return fmt.Errorf("nats.stream_name must not be empty")
	}

	if c.API.DefaultPageSize <= 0 || c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api page sizes are inconsistent")
	}

	return nil
}

// validateScoring checks the scoring policy block.
func (c *Config) validateScoring() error {
	s := c.Scoring

	if s.DecayHalfLife <= 0 {
		return fmt.Errorf("scoring.decay_half_life must be positive")
	}
	if s.BlendWeight <= 0 || s.BlendWeight > 1 {
		return fmt.Errorf("scoring.blend_weight %v must be in (0, 1]", s.BlendWeight)
	}
	if s.ModelTrust < 0 || s.ModelTrust > 1 {
		return fmt.Errorf("scoring.model_trust %v must be in [0, 1]", s.ModelTrust)
	}
	if s.StaleModelDiscount < 0 || s.StaleModelDiscount > 1 {
		return fmt.Errorf("scoring.stale_model_discount %v must be in [0, 1]", s.StaleModelDiscount)
	}

	// Thresholds sit on the [-1, 1] score axis and must escalate.
	for name, v := range map[string]float64{
		"suspicious_threshold": s.SuspiciousThreshold,
		"confirmed_threshold":  s.ConfirmedThreshold,
		"ban_threshold":        s.BanThreshold,
	} {
		if v < -1 || v > 1 {
			return fmt.Errorf("scoring.%s %v out of score range [-1, 1]", name, v)
		}
	}
	if !(s.SuspiciousThreshold < s.ConfirmedThreshold && s.ConfirmedThreshold < s.BanThreshold) {
		return fmt.Errorf("scoring thresholds must satisfy suspicious < confirmed < ban")
	}

	if s.MaxCASAttempts <= 0 {
		return fmt.Errorf("scoring.max_cas_attempts must be positive")
	}

	return nil
}
