// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package events

import (
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/botwatch/internal/model"
)

func TestEvidenceAppendedRoundTrip(t *testing.T) {
	in := &EvidenceAppended{
		EvidenceID: "ev-1",
		Player:     model.PlayerID{Name: "bot hunter", CreatedEpoch: 100},
		Kind:       model.KindSighting,
		Seq:        42,
		RecordedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := MarshalEvidenceAppended(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := UnmarshalEvidenceAppended(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if *out != *in {
		t.Errorf("Round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestUnmarshalEvidenceAppendedMalformed(t *testing.T) {
	if _, err := UnmarshalEvidenceAppended([]byte("not json")); err == nil {
		t.Error("Expected error for malformed payload")
	}
}

func TestVerdictChangedChanged(t *testing.T) {
	v := &VerdictChanged{
		PreviousState: model.StateUnknown,
		State:         model.StateSuspicious,
	}
	if !v.Changed() {
		t.Error("State transition must report Changed")
	}

	refresh := &VerdictChanged{
		PreviousState: model.StateSuspicious,
		State:         model.StateSuspicious,
	}
	if refresh.Changed() {
		t.Error("Score-only refresh must not report Changed")
	}
}

func TestDefaultStreamConfigCarriesAllSubjects(t *testing.T) {
	cfg := DefaultStreamConfig()

	want := map[string]bool{"evidence.>": false, "verdict.>": false, "dlq.>": false}
	for _, s := range cfg.Subjects {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for subject, seen := range want {
		if !seen {
			t.Errorf("Stream subjects missing %q", subject)
		}
	}
	if cfg.DuplicateWindow <= 0 {
		t.Error("Duplicate window must be set for idempotent publishes")
	}
}

func TestDefaultSubscriberConfigBindsStream(t *testing.T) {
	cfg := DefaultSubscriberConfig("nats://localhost:4222")
	if cfg.StreamName == "" {
		t.Error("Subscriber must bind the provisioned stream, not auto-provision")
	}
	if cfg.DurableName == "" || cfg.QueueGroup == "" {
		t.Error("Evidence consumption must be durable and queue-grouped")
	}
	if cfg.MaxDeliver <= 1 {
		t.Error("Redelivery must be enabled for transient handler failures")
	}
}

func TestNewCircuitBreakerOpensOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test-breaker")
	cfg.FailureThreshold = 2
	cb := NewCircuitBreaker(cfg)

	if cb.Name() != "test-breaker" {
		t.Errorf("Name = %q", cb.Name())
	}

	fail := func() (interface{}, error) { return nil, errors.New("test failure") }
	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(fail); err == nil {
			t.Fatal("Expected failure")
		}
	}
	if cb.State().String() != "open" {
		t.Errorf("State = %q, want open after threshold failures", cb.State())
	}
}
