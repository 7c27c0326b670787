// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package model

import "time"

// BanState is the enumerated lifecycle stage of a player's moderation status.
type BanState string

const (
	StateUnknown      BanState = "unknown"
	StateSuspicious   BanState = "suspicious"
	StateConfirmedBot BanState = "confirmed_bot"
	StateBanned       BanState = "banned"
	StateCleared      BanState = "cleared"
)

// Valid reports whether the state is a member of the enumeration.
func (s BanState) Valid() bool {
	switch s {
	case StateUnknown, StateSuspicious, StateConfirmedBot, StateBanned, StateCleared:
		return true
	}
	return false
}

// Terminal reports whether the state requires an explicit moderator override
// to leave.
func (s BanState) Terminal() bool {
	return s == StateBanned || s == StateCleared
}

// AggregateState is the single authoritative derived record per player.
// It is a cache recomputable from the evidence log; the log is the source of
// truth. Revision strictly increases on every successful update and is the
// compare-and-swap token for optimistic concurrency.
//
// ScoreKnown is false until at least one scoring-relevant evidence record has
// been processed; a player with zero evidence has an undefined score and is
// reported as "insufficient data", never defaulted to innocent or guilty.
type AggregateState struct {
	Player        PlayerID  `json:"player"`
	Revision      uint64    `json:"revision"`
	Score         float64   `json:"score"`
	ScoreKnown    bool      `json:"score_known"`
	EvidenceCount int       `json:"evidence_count"`
	State         BanState  `json:"state"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Cursor is the highest evidence sequence number folded into Score.
	Cursor uint64 `json:"cursor"`

	// LastPredictionSeq is the evidence cursor at the time of the most
	// recent prediction request for this player; the prediction client
	// batches players whose Cursor has advanced past it.
	LastPredictionSeq uint64 `json:"last_prediction_seq,omitempty"`
}

// NewAggregateState returns the initial state for a player: revision zero,
// unknown ban state, no score.
func NewAggregateState(player PlayerID) *AggregateState {
	return &AggregateState{
		Player: player,
		State:  StateUnknown,
	}
}

// Clone returns a deep copy, used by the aggregator's CAS retry loop so a
// failed swap never leaks partial mutations into a re-read state.
func (s *AggregateState) Clone() *AggregateState {
	cp := *s
	return &cp
}
