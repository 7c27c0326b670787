// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package aggregate combines sightings, hiscore anomalies, and model
// predictions into a per-player confidence score and proposed verdict.
//
// The aggregator is triggered per player by evidence-appended events, reads
// the log from the player's last-processed cursor, and folds new evidence
// into the prior score with an exponential-decay blend so recent behavior
// outweighs distant history. Updates go through the store's
// compare-and-swap; conflicts re-read and recompute rather than overwrite.
package aggregate

import (
	"math"
	"time"

	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/model"
)

// contribution is the folded weight of one batch of new evidence.
type contribution struct {
	sum         float64
	count       int
	lastSeq     uint64
	lastPredSeq uint64
	override    *model.ModeratorOverride
}

// observe folds one evidence record into the contribution.
func (c *contribution) observe(ev *model.Evidence, policy config.ScoringConfig, currentFeatureVersion int) {
	c.count++
	if ev.Seq > c.lastSeq {
		c.lastSeq = ev.Seq
	}

	switch ev.Kind {
	case model.KindSighting:
		c.sum += ev.Sighting.TrustWeight * ev.Sighting.Label.Polarity()

	case model.KindHiscoreAnomaly:
		// The weight was attached by the reconciler from the policy in
		// effect at emission time; fall back only for legacy records.
		w := ev.Anomaly.Weight
		if w == 0 {
			w = policy.AnomalyWeight
		}
		c.sum += w

	case model.KindPrediction:
		// Prefer the trust stamped at ingestion; fall back to policy.
		trust := ev.Prediction.TrustWeight
		if trust == 0 {
			trust = policy.ModelTrust
		}
		if ev.Prediction.FeatureVersion < currentFeatureVersion {
			// Never treat a stale prediction as fresh.
			trust *= policy.StaleModelDiscount
		}
		// Map probability [0,1] onto the [-1,1] score axis.
		c.sum += (2*ev.Prediction.Probability - 1) * trust
		if ev.Seq > c.lastPredSeq {
			c.lastPredSeq = ev.Seq
		}

	case model.KindOverride:
		// Overrides steer the state machine, not the numeric score.
		// The last override in a batch wins.
		c.override = ev.Override
	}
}

// blend combines the batch contribution with the prior score.
//
// The prior decays by 2^(-age/halfLife) so stale convictions fade, then the
// clamped contribution is mixed in with the configured blend weight. With no
// prior (ScoreKnown false) the contribution stands alone: an undefined score
// is never defaulted and never pulls the blend toward neutral.
func blend(prior float64, priorKnown bool, priorAt time.Time, contrib float64, policy config.ScoringConfig, now time.Time) float64 {
	contrib = clampScore(contrib)
	if !priorKnown {
		return contrib
	}

	age := now.Sub(priorAt)
	if age < 0 {
		age = 0
	}
	decayed := prior * math.Exp2(-age.Hours()/policy.DecayHalfLife.Hours())

	return clampScore(policy.BlendWeight*contrib + (1-policy.BlendWeight)*decayed)
}

// clampScore bounds a score to the [-1, 1] axis.
func clampScore(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}

// proposeState maps a known score onto the escalation ladder. It only ever
// proposes movement toward banned; the state machine enforces that the
// proposal cannot downgrade.
func proposeState(score float64, current model.BanState, policy config.ScoringConfig) model.BanState {
	switch {
	case score >= policy.BanThreshold:
		return model.StateBanned
	case score >= policy.ConfirmedThreshold:
		return model.StateConfirmedBot
	case score >= policy.SuspiciousThreshold:
		return model.StateSuspicious
	default:
		return current
	}
}
