// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package aggregate

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/model"
	"github.com/tomtom215/botwatch/internal/store"
)

var (
	testPlayer = model.PlayerID{Name: "bot hunter", CreatedEpoch: 1}
	testNow    = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
)

func testPolicy() config.ScoringConfig {
	return config.ScoringConfig{
		DecayHalfLife:       24 * time.Hour,
		BlendWeight:         0.5,
		AnomalyWeight:       0.15,
		ModelTrust:          0.5,
		StaleModelDiscount:  0.5,
		SuspiciousThreshold: 0.3,
		ConfirmedThreshold:  0.6,
		BanThreshold:        0.9,
		MaxCASAttempts:      3,
	}
}

// memStore is an in-memory EvidenceStore double with injectable conflicts.
type memStore struct {
	evidence  []*model.Evidence
	state     *model.AggregateState
	conflicts int
	casCalls  int
}

func (m *memStore) add(kind model.EvidenceKind, fill func(*model.Evidence)) {
	ev := model.NewEvidence(testPlayer, kind)
	ev.Seq = uint64(len(m.evidence) + 1)
	fill(ev)
	m.evidence = append(m.evidence, ev)
}

func (m *memStore) addSighting(label model.SuspicionLabel, trust float64) {
	m.add(model.KindSighting, func(ev *model.Evidence) {
		ev.Sighting = &model.Sighting{ReporterID: "r1", Label: label, TrustWeight: trust, ObservedAt: testNow}
	})
}

func (m *memStore) ForEachSince(_ context.Context, player model.PlayerID, cursor uint64, fn func(*model.Evidence) error) error {
	for _, ev := range m.evidence {
		if ev.Player == player && ev.Seq > cursor {
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *memStore) GetState(_ context.Context, player model.PlayerID) (*model.AggregateState, error) {
	if m.state == nil {
		return model.NewAggregateState(player), nil
	}
	return m.state.Clone(), nil
}

func (m *memStore) CompareAndSwapState(_ context.Context, player model.PlayerID, expectedRevision uint64, newState *model.AggregateState) error {
	m.casCalls++
	if m.conflicts > 0 {
		m.conflicts--
		return store.ErrRevisionConflict
	}
	var current uint64
	if m.state != nil {
		current = m.state.Revision
	}
	if current != expectedRevision {
		return store.ErrRevisionConflict
	}
	newState.Player = player
	newState.Revision = expectedRevision + 1
	m.state = newState.Clone()
	return nil
}

type capturePublisher struct {
	prev, next *model.AggregateState
	err        error
	calls      int
}

func (p *capturePublisher) PublishVerdictChanged(_ context.Context, prev, next *model.AggregateState) error {
	p.calls++
	p.prev, p.next = prev, next
	return p.err
}

func newTestAggregator(st *memStore, opts ...Option) *Aggregator {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(st, testPolicy(), 2, opts...)
}

func TestOpposingReportsStayNeutral(t *testing.T) {
	st := &memStore{}
	st.addSighting(model.LabelLikelyBot, 1)
	st.addSighting(model.LabelLikelyReal, 1)

	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}

	if !st.state.ScoreKnown {
		t.Fatal("ScoreKnown must be true after scoring evidence")
	}
	if st.state.Score != 0 {
		t.Errorf("Score = %v, want 0 for opposing equal-trust reports", st.state.Score)
	}
	if st.state.State != model.StateUnknown {
		t.Errorf("State = %q, want unknown", st.state.State)
	}
	if st.state.Cursor != 2 || st.state.EvidenceCount != 2 {
		t.Errorf("Cursor=%d EvidenceCount=%d, want 2/2", st.state.Cursor, st.state.EvidenceCount)
	}
}

func TestThresholdLadder(t *testing.T) {
	tests := []struct {
		name  string
		trust float64
		want  model.BanState
	}{
		{"below suspicious", 0.2, model.StateUnknown},
		{"suspicious", 0.4, model.StateSuspicious},
		{"confirmed", 0.7, model.StateConfirmedBot},
		{"banned", 0.95, model.StateBanned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &memStore{}
			st.addSighting(model.LabelLikelyBot, tt.trust)

			agg := newTestAggregator(st)
			if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
				t.Fatalf("ProcessPlayer: %v", err)
			}
			if st.state.State != tt.want {
				t.Errorf("State = %q, want %q", st.state.State, tt.want)
			}
		})
	}
}

func TestPriorScoreDecays(t *testing.T) {
	st := &memStore{
		state: &model.AggregateState{
			Player:     testPlayer,
			Revision:   1,
			Score:      0.8,
			ScoreKnown: true,
			State:      model.StateConfirmedBot,
			UpdatedAt:  testNow.Add(-24 * time.Hour), // exactly one half-life
		},
	}
	// One neutral sighting so there is a batch to fold.
	st.addSighting(model.LabelUnknown, 1)

	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}

	// blend = 0.5*0 + 0.5*(0.8 * 2^-1) = 0.2
	if math.Abs(st.state.Score-0.2) > 1e-9 {
		t.Errorf("Score = %v, want 0.2 after one half-life of decay", st.state.Score)
	}
	// Automatic transitions never downgrade.
	if st.state.State != model.StateConfirmedBot {
		t.Errorf("State = %q, decayed score must not downgrade", st.state.State)
	}
}

func TestTerminalStateIgnoresScore(t *testing.T) {
	st := &memStore{
		state: &model.AggregateState{
			Player:     testPlayer,
			Revision:   1,
			Score:      0.95,
			ScoreKnown: true,
			State:      model.StateBanned,
			UpdatedAt:  testNow.Add(-time.Hour),
		},
	}
	st.addSighting(model.LabelLikelyReal, 1)

	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}

	if st.state.State != model.StateBanned {
		t.Errorf("State = %q, banned must survive automatic evidence", st.state.State)
	}
}

func TestOverrideOnlyBatchLeavesScoreUntouched(t *testing.T) {
	st := &memStore{}
	st.add(model.KindOverride, func(ev *model.Evidence) {
		ev.Override = &model.ModeratorOverride{ModeratorID: "mod1", TargetState: model.StateBanned}
	})

	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}

	if st.state.ScoreKnown {
		t.Error("Override-only batch must not manufacture a score")
	}
	if st.state.State != model.StateBanned {
		t.Errorf("State = %q, want banned from override", st.state.State)
	}
	if st.state.Cursor != 1 {
		t.Errorf("Cursor = %d, override must still advance the cursor", st.state.Cursor)
	}
}

func TestOverrideExitsTerminalState(t *testing.T) {
	st := &memStore{
		state: &model.AggregateState{
			Player:     testPlayer,
			Revision:   1,
			Score:      1,
			ScoreKnown: true,
			State:      model.StateBanned,
			UpdatedAt:  testNow.Add(-time.Hour),
		},
	}
	st.add(model.KindOverride, func(ev *model.Evidence) {
		ev.Override = &model.ModeratorOverride{ModeratorID: "mod1", TargetState: model.StateCleared, Reason: "appeal"}
	})

	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}
	if st.state.State != model.StateCleared {
		t.Errorf("State = %q, override must leave banned", st.state.State)
	}
}

func TestStalePredictionDiscount(t *testing.T) {
	policy := testPolicy()

	fresh := &contribution{}
	fresh.observe(&model.Evidence{
		Kind: model.KindPrediction,
		Seq:  1,
		Prediction: &model.PredictionLabel{
			Probability:    1,
			FeatureVersion: 2,
			TrustWeight:    0.5,
		},
	}, policy, 2)
	if math.Abs(fresh.sum-0.5) > 1e-9 {
		t.Errorf("Fresh prediction sum = %v, want 0.5", fresh.sum)
	}

	stale := &contribution{}
	stale.observe(&model.Evidence{
		Kind: model.KindPrediction,
		Seq:  1,
		Prediction: &model.PredictionLabel{
			Probability:    1,
			FeatureVersion: 1,
			TrustWeight:    0.5,
		},
	}, policy, 2)
	if math.Abs(stale.sum-0.25) > 1e-9 {
		t.Errorf("Stale prediction sum = %v, want 0.25 after discount", stale.sum)
	}
}

func TestPredictionAdvancesPredictionCursor(t *testing.T) {
	st := &memStore{}
	st.addSighting(model.LabelLikelyBot, 0.2)
	st.add(model.KindPrediction, func(ev *model.Evidence) {
		ev.Prediction = &model.PredictionLabel{Probability: 0.5, FeatureVersion: 2, TrustWeight: 0.5}
	})

	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}
	if st.state.LastPredictionSeq != 2 {
		t.Errorf("LastPredictionSeq = %d, want 2", st.state.LastPredictionSeq)
	}
}

func TestNoEvidenceNoSwap(t *testing.T) {
	st := &memStore{}
	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}
	if st.casCalls != 0 {
		t.Errorf("casCalls = %d, want 0 with nothing to fold", st.casCalls)
	}
}

func TestConflictRetryThenSuccess(t *testing.T) {
	st := &memStore{conflicts: 2}
	st.addSighting(model.LabelLikelyBot, 0.4)

	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}
	if st.casCalls != 3 {
		t.Errorf("casCalls = %d, want 3 (two conflicts then success)", st.casCalls)
	}
	if st.state == nil || st.state.State != model.StateSuspicious {
		t.Error("Expected successful swap after retries")
	}
}

func TestConflictExhaustionDefers(t *testing.T) {
	st := &memStore{conflicts: 10}
	st.addSighting(model.LabelLikelyBot, 0.4)

	agg := newTestAggregator(st)
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("Deferral must not surface an error: %v", err)
	}
	if st.casCalls != testPolicy().MaxCASAttempts {
		t.Errorf("casCalls = %d, want %d", st.casCalls, testPolicy().MaxCASAttempts)
	}
	if st.state != nil {
		t.Error("State must remain unswapped after deferral")
	}
}

func TestVerdictPublishedOnSwap(t *testing.T) {
	st := &memStore{}
	st.addSighting(model.LabelLikelyBot, 0.7)
	pub := &capturePublisher{}

	agg := newTestAggregator(st, WithPublisher(pub))
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("ProcessPlayer: %v", err)
	}

	if pub.calls != 1 {
		t.Fatalf("Publish calls = %d, want 1", pub.calls)
	}
	if pub.prev.State != model.StateUnknown || pub.next.State != model.StateConfirmedBot {
		t.Errorf("Published transition %q -> %q, want unknown -> confirmed_bot", pub.prev.State, pub.next.State)
	}
}

func TestPublishFailureTolerated(t *testing.T) {
	st := &memStore{}
	st.addSighting(model.LabelLikelyBot, 0.7)
	pub := &capturePublisher{err: errors.New("broker down")}

	agg := newTestAggregator(st, WithPublisher(pub))
	if err := agg.ProcessPlayer(context.Background(), testPlayer); err != nil {
		t.Fatalf("Publish failure must not fail the update: %v", err)
	}
	if st.state == nil {
		t.Error("State swap must persist despite publish failure")
	}
}

func TestClampScore(t *testing.T) {
	if clampScore(3) != 1 || clampScore(-3) != -1 || clampScore(0.5) != 0.5 {
		t.Error("clampScore bounds violated")
	}
}
