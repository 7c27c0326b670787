// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package prediction

import "github.com/tomtom215/botwatch/internal/model"

// FeatureVector is the per-player input the classifier scores against,
// summarized from the aggregate state at collection time. The layout is
// versioned by config.PredictionConfig.FeatureVersion; adding or changing
// fields requires bumping it so stale predictions get discounted.
type FeatureVector struct {
	EvidenceCount int     `json:"evidence_count"`
	Score         float64 `json:"score"`
	ScoreKnown    bool    `json:"score_known"`
	State         string  `json:"state"`

	// NewEvidence is how many evidence records arrived since the last
	// prediction for this player.
	NewEvidence uint64 `json:"new_evidence"`
}

// Candidate pairs a player with the features to classify them against.
type Candidate struct {
	Player   model.PlayerID
	Features FeatureVector
}

// featuresFromState derives the feature vector from an aggregate state.
func featuresFromState(state *model.AggregateState) FeatureVector {
	return FeatureVector{
		EvidenceCount: state.EvidenceCount,
		Score:         state.Score,
		ScoreKnown:    state.ScoreKnown,
		State:         string(state.State),
		NewEvidence:   state.Cursor - state.LastPredictionSeq,
	}
}
