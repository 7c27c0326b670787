// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package ingest implements the sighting ingestion normalizer.
//
// The normalizer is purely functional: a raw report either becomes a
// validated, canonicalized report or a rejection with a machine-readable
// reason. It never judges report content plausibility -- weighing evidence is
// the aggregator's job -- and it has no side effects, so instances run fully
// in parallel with no shared mutable state.
package ingest

import (
	"strings"
	"time"

	"github.com/tomtom215/botwatch/internal/model"
	"github.com/tomtom215/botwatch/internal/validation"
)

// RejectionReason is the machine-readable classification returned to callers
// for rejected reports.
type RejectionReason string

const (
	ReasonMalformedReporter RejectionReason = "malformed_reporter_id"
	ReasonMalformedName     RejectionReason = "malformed_player_name"
	ReasonUnknownLabel      RejectionReason = "unknown_suspicion_label"
	ReasonTimestampInFuture RejectionReason = "timestamp_in_future"
	ReasonTimestampMissing  RejectionReason = "timestamp_missing"
	ReasonMalformedReport   RejectionReason = "malformed_report"
)

// RejectionError is the validation-class error for malformed input. It is
// reported to the caller and never retried automatically.
type RejectionError struct {
	Reason RejectionReason
	Detail string
}

// Error implements error.
func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Detail
}

// RawReport is one sighting report as submitted by a reporter plugin.
type RawReport struct {
	ReporterID      string            `json:"reporter_id" validate:"required,reporterid"`
	PlayerName      string            `json:"player_name" validate:"required,playername"`
	SuspicionLabel  string            `json:"suspicion_label" validate:"required,suspicion"`
	ClientTimestamp time.Time         `json:"client_timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty" validate:"omitempty,max=16"`
}

// Report is a validated, canonicalized sighting ready for the evidence store.
// TrustWeight is resolved from the reporter trust policy at normalization
// time and travels with the record from then on.
type Report struct {
	ReporterID    string
	CanonicalName string
	Label         model.SuspicionLabel
	TrustWeight   float64
	ObservedAt    time.Time
	Metadata      map[string]string
}

// Normalizer validates and canonicalizes raw sighting reports.
type Normalizer struct {
	skewTolerance time.Duration
	defaultTrust  float64
	reporterTrust map[string]float64
	now           func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithReporterTrust sets explicit per-reporter trust weights.
func WithReporterTrust(trust map[string]float64) Option {
	return func(n *Normalizer) { n.reporterTrust = trust }
}

// NewNormalizer creates a normalizer with the given clock-skew tolerance and
// default reporter trust weight.
func NewNormalizer(skewTolerance time.Duration, defaultTrust float64, opts ...Option) *Normalizer {
	n := &Normalizer{
		skewTolerance: skewTolerance,
		defaultTrust:  defaultTrust,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates raw and returns the canonicalized report, or a
// *RejectionError classifying why it was rejected.
func (n *Normalizer) Normalize(raw RawReport) (Report, error) {
	if err := validation.ValidateStruct(&raw); err != nil {
		return Report{}, rejectionFromValidation(err)
	}

	if raw.ClientTimestamp.IsZero() {
		return Report{}, &RejectionError{Reason: ReasonTimestampMissing}
	}
	if raw.ClientTimestamp.After(n.now().Add(n.skewTolerance)) {
		return Report{}, &RejectionError{
			Reason: ReasonTimestampInFuture,
			Detail: raw.ClientTimestamp.UTC().Format(time.RFC3339),
		}
	}

	canonical := CanonicalName(raw.PlayerName)
	if canonical == "" {
		return Report{}, &RejectionError{Reason: ReasonMalformedName, Detail: raw.PlayerName}
	}

	return Report{
		ReporterID:    raw.ReporterID,
		CanonicalName: canonical,
		Label:         model.SuspicionLabel(raw.SuspicionLabel),
		TrustWeight:   n.trustFor(raw.ReporterID),
		ObservedAt:    raw.ClientTimestamp.UTC(),
		Metadata:      raw.Metadata,
	}, nil
}

// trustFor resolves the trust weight for a reporter.
func (n *Normalizer) trustFor(reporterID string) float64 {
	if w, ok := n.reporterTrust[reporterID]; ok {
		return w
	}
	return n.defaultTrust
}

// CanonicalName folds a display name to its canonical form: separator
// characters (space, underscore, hyphen) unified to single spaces, outer
// whitespace trimmed, lowercased. The game treats these separators as
// interchangeable, so "Bot_Hunter" and "bot hunter" are the same player.
func CanonicalName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	prevSpace := true // leading separators are dropped
	for _, r := range name {
		switch r {
		case ' ', '_', '-':
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(unicodeLower(r))
			prevSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// unicodeLower lowers ASCII letters; player names are ASCII by validation.
func unicodeLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

// rejectionFromValidation maps a validation error onto a rejection reason.
func rejectionFromValidation(err error) *RejectionError {
	ve, ok := err.(*validation.RequestValidationError)
	if !ok || ve.First() == nil {
		return &RejectionError{Reason: ReasonMalformedReport, Detail: err.Error()}
	}

	first := ve.First()
	reason := ReasonMalformedReport
	switch first.Tag() {
	case "reporterid":
		reason = ReasonMalformedReporter
	case "playername":
		reason = ReasonMalformedName
	case "suspicion":
		reason = ReasonUnknownLabel
	case "required":
		switch first.Field() {
		case "ReporterID":
			reason = ReasonMalformedReporter
		case "PlayerName":
			reason = ReasonMalformedName
		case "SuspicionLabel":
			reason = ReasonUnknownLabel
		}
	}

	return &RejectionError{Reason: reason, Detail: first.Error()}
}
