// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package events provides the NATS JetStream event plumbing: an optional
// embedded server, stream provisioning, a circuit-breaker-protected
// publisher, durable queue-group subscribers, and a Watermill router with
// retry and poison-queue middleware.
//
// Two subjects flow through the stream: evidence.appended fans appended
// evidence out to the aggregation workers, and verdict.changed notifies
// downstream consumers (websocket hub, external integrations) when a
// player's aggregate state moves.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/botwatch/internal/model"
)

// Subjects carried on the evidence stream.
const (
	TopicEvidenceAppended = "evidence.appended"
	TopicVerdictChanged   = "verdict.changed"
)

// EvidenceAppended is published after every durable append to the evidence
// log. It carries only the coordinates of the append; the aggregator reads
// the log itself, so a lost or duplicated event is harmless.
type EvidenceAppended struct {
	EvidenceID string             `json:"evidence_id"`
	Player     model.PlayerID     `json:"player"`
	Kind       model.EvidenceKind `json:"kind"`
	Seq        uint64             `json:"seq"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// VerdictChanged is published after a successful aggregate state swap.
type VerdictChanged struct {
	Player        model.PlayerID `json:"player"`
	Revision      uint64         `json:"revision"`
	Score         float64        `json:"score"`
	ScoreKnown    bool           `json:"score_known"`
	PreviousState model.BanState `json:"previous_state"`
	State         model.BanState `json:"state"`
	EvidenceCount int            `json:"evidence_count"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Changed reports whether the verdict actually moved, as opposed to a
// score-only refresh.
func (v *VerdictChanged) Changed() bool {
	return v.PreviousState != v.State
}

// MarshalEvidenceAppended serializes the event payload.
func MarshalEvidenceAppended(ev *EvidenceAppended) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence appended: %w", err)
	}
	return data, nil
}

// UnmarshalEvidenceAppended deserializes the event payload.
func UnmarshalEvidenceAppended(data []byte) (*EvidenceAppended, error) {
	var ev EvidenceAppended
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal evidence appended: %w", err)
	}
	return &ev, nil
}

// MarshalVerdictChanged serializes the event payload.
func MarshalVerdictChanged(v *VerdictChanged) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal verdict changed: %w", err)
	}
	return data, nil
}

// UnmarshalVerdictChanged deserializes the event payload.
func UnmarshalVerdictChanged(data []byte) (*VerdictChanged, error) {
	var v VerdictChanged
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal verdict changed: %w", err)
	}
	return &v, nil
}
