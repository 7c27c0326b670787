// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EvidenceSchemaVersion is the current evidence record schema version.
// Increment this when making breaking changes to Evidence.
const EvidenceSchemaVersion = 1

// EvidenceKind discriminates the payload carried by an Evidence envelope.
type EvidenceKind string

const (
	// KindSighting is one reporter's observation of a player.
	KindSighting EvidenceKind = "sighting"

	// KindHiscoreAnomaly is a leaderboard presence/rank anomaly emitted by
	// the hiscore reconciler.
	KindHiscoreAnomaly EvidenceKind = "hiscore_anomaly"

	// KindPrediction is one ML classifier verdict.
	KindPrediction EvidenceKind = "prediction"

	// KindOverride is a privileged moderator action. It is the only
	// evidence kind that can move a player out of a terminal ban state.
	KindOverride EvidenceKind = "moderator_override"
)

// Valid reports whether the kind is one of the known evidence kinds.
func (k EvidenceKind) Valid() bool {
	switch k {
	case KindSighting, KindHiscoreAnomaly, KindPrediction, KindOverride:
		return true
	}
	return false
}

// SuspicionLabel is the reporter-assigned classification on a sighting.
type SuspicionLabel string

const (
	LabelLikelyBot  SuspicionLabel = "likely_bot"
	LabelLikelyReal SuspicionLabel = "likely_real"
	LabelUnknown    SuspicionLabel = "unknown"
)

// Valid reports whether the label is a member of the fixed enumerated set.
func (l SuspicionLabel) Valid() bool {
	switch l {
	case LabelLikelyBot, LabelLikelyReal, LabelUnknown:
		return true
	}
	return false
}

// Polarity maps the label onto the scoring axis: positive means bot-like.
func (l SuspicionLabel) Polarity() float64 {
	switch l {
	case LabelLikelyBot:
		return 1.0
	case LabelLikelyReal:
		return -1.0
	default:
		return 0.0
	}
}

// Sighting is one reporter's timestamped observation of a player.
// TrustWeight is the reporter trust policy value in effect at ingestion
// time; it is attached to the record so later policy changes never rewrite
// history.
type Sighting struct {
	ReporterID  string            `json:"reporter_id"`
	Label       SuspicionLabel    `json:"label"`
	TrustWeight float64           `json:"trust_weight"`
	ObservedAt  time.Time         `json:"observed_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AnomalyType classifies a hiscore anomaly.
type AnomalyType string

const (
	// AnomalyDisappearance marks a player who held a rank in the previous
	// snapshot and is absent from the current one. Ambiguous (ban or rank
	// drop below cutoff), so it carries weak-evidence weight.
	AnomalyDisappearance AnomalyType = "disappearance"

	// AnomalyGain marks an implausible rank jump within one snapshot
	// interval.
	AnomalyGain AnomalyType = "anomalous_gain"
)

// HiscoreAnomaly is a leaderboard anomaly derived from two consecutive
// snapshots. PrevRank/NewRank of 0 mean "not ranked".
type HiscoreAnomaly struct {
	LeaderboardID string      `json:"leaderboard_id"`
	Type          AnomalyType `json:"type"`
	PrevRank      int         `json:"prev_rank"`
	NewRank       int         `json:"new_rank"`
	Weight        float64     `json:"weight"`
	CapturedAt    time.Time   `json:"captured_at"`

	// SnapshotHash is the content hash of the snapshot the anomaly was
	// diffed against. Combined with the leaderboard and anomaly type it
	// identifies the anomaly deterministically, so a replayed diff appends
	// nothing new.
	SnapshotHash string `json:"snapshot_hash,omitempty"`
}

// PredictionLabel is one ML service verdict. FeatureVersion records the
// feature-vector version the prediction was computed against so the
// aggregator can discount predictions made against outdated features.
type PredictionLabel struct {
	Probability    float64   `json:"probability"`
	ModelVersion   string    `json:"model_version"`
	FeatureVersion int       `json:"feature_version"`
	TrustWeight    float64   `json:"trust_weight"`
	PredictedAt    time.Time `json:"predicted_at"`
}

// ModeratorOverride is a privileged evidence record representing a manual
// moderator decision. It forces the ban state to TargetState regardless of
// score, and is the only path out of the banned and cleared states.
type ModeratorOverride struct {
	ModeratorID string   `json:"moderator_id"`
	TargetState BanState `json:"target_state"`
	Reason      string   `json:"reason,omitempty"`
}

// Evidence is the immutable envelope stored in the evidence log. Exactly one
// payload pointer is set, matching Kind. Seq is assigned by the store on
// append and orders the per-player log; client timestamps are never used for
// ordering (clock skew).
type Evidence struct {
	SchemaVersion int          `json:"schema_version"`
	ID            string       `json:"id"`
	Player        PlayerID     `json:"player"`
	Kind          EvidenceKind `json:"kind"`
	RecordedAt    time.Time    `json:"recorded_at"`
	Seq           uint64       `json:"seq,omitempty"`

	// DedupKey, when set, makes the append idempotent: a second append
	// for the same player carrying the same key is rejected by the store.
	DedupKey string `json:"dedup_key,omitempty"`

	Sighting   *Sighting          `json:"sighting,omitempty"`
	Anomaly    *HiscoreAnomaly    `json:"anomaly,omitempty"`
	Prediction *PredictionLabel   `json:"prediction,omitempty"`
	Override   *ModeratorOverride `json:"override,omitempty"`
}

// NewEvidence creates an envelope with a unique ID, timestamp, and schema
// version. The caller sets exactly one payload field.
func NewEvidence(player PlayerID, kind EvidenceKind) *Evidence {
	return &Evidence{
		SchemaVersion: EvidenceSchemaVersion,
		ID:            uuid.New().String(),
		Player:        player,
		Kind:          kind,
		RecordedAt:    time.Now().UTC(),
	}
}

// Validate checks envelope integrity: a known kind and exactly one payload
// matching it.
func (e *Evidence) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown evidence kind %q", e.Kind)
	}
	if e.Player.IsZero() {
		return fmt.Errorf("evidence %s has no player identity", e.ID)
	}

	set := 0
	var match bool
	if e.Sighting != nil {
		set++
		match = match || e.Kind == KindSighting
	}
	if e.Anomaly != nil {
		set++
		match = match || e.Kind == KindHiscoreAnomaly
	}
	if e.Prediction != nil {
		set++
		match = match || e.Kind == KindPrediction
	}
	if e.Override != nil {
		set++
		match = match || e.Kind == KindOverride
	}
	if set != 1 || !match {
		return fmt.Errorf("evidence %s payload does not match kind %q", e.ID, e.Kind)
	}
	return nil
}
