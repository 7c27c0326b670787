// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package prediction

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/botwatch/internal/model"
)

type memStates struct {
	states []*model.AggregateState
}

func (m *memStates) ForEachState(_ context.Context, fn func(*model.AggregateState) error) error {
	for _, s := range m.states {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

type memPredictionRecorder struct {
	recorded []Prediction
}

func (m *memPredictionRecorder) RecordPrediction(_ context.Context, player model.PlayerID, pred model.PredictionLabel) (*model.Evidence, error) {
	m.recorded = append(m.recorded, Prediction{Player: player, Label: pred})
	ev := model.NewEvidence(player, model.KindPrediction)
	p := pred
	ev.Prediction = &p
	return ev, nil
}

func pendingState(name string, cursor, lastPred uint64, state model.BanState) *model.AggregateState {
	return &model.AggregateState{
		Player:            model.PlayerID{Name: name, CreatedEpoch: 1},
		State:             state,
		Cursor:            cursor,
		LastPredictionSeq: lastPred,
	}
}

func TestCollectSelectsOnlyPendingPlayers(t *testing.T) {
	states := &memStates{states: []*model.AggregateState{
		pendingState("fresh evidence", 5, 2, model.StateUnknown),    // pending
		pendingState("already asked", 5, 5, model.StateSuspicious),  // cursor not past
		pendingState("no evidence", 0, 0, model.StateUnknown),       // nothing to classify
		pendingState("banned", 9, 1, model.StateBanned),             // terminal
		pendingState("cleared", 9, 1, model.StateCleared),           // terminal
		pendingState("also pending", 3, 0, model.StateConfirmedBot), // pending
	}}

	cfg := testClientConfig("http://unused.invalid")
	l := NewLoop(NewClient(cfg), states, &memPredictionRecorder{}, cfg, 0.5)

	pending, err := l.collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("collected %d players, want 2: %v", len(pending), pending)
	}
	if pending[0].Player.Name != "fresh evidence" || pending[1].Player.Name != "also pending" {
		t.Errorf("collected %v", pending)
	}
	// Features mirror the aggregate: cursor 5, last asked at 2.
	if got := pending[0].Features.NewEvidence; got != 3 {
		t.Errorf("NewEvidence = %d, want 3", got)
	}
	if pending[0].Features.State != string(model.StateUnknown) {
		t.Errorf("State feature = %q", pending[0].Features.State)
	}
}

func TestFeaturesFromState(t *testing.T) {
	state := &model.AggregateState{
		Player:            model.PlayerID{Name: "x", CreatedEpoch: 1},
		Score:             0.72,
		ScoreKnown:        true,
		EvidenceCount:     9,
		State:             model.StateSuspicious,
		Cursor:            14,
		LastPredictionSeq: 10,
	}
	got := featuresFromState(state)
	want := FeatureVector{
		EvidenceCount: 9,
		Score:         0.72,
		ScoreKnown:    true,
		State:         string(model.StateSuspicious),
		NewEvidence:   4,
	}
	if got != want {
		t.Errorf("featuresFromState = %+v, want %+v", got, want)
	}
}

func TestCollectHonorsBatchSize(t *testing.T) {
	states := &memStates{}
	for i := 0; i < 20; i++ {
		states.states = append(states.states, pendingState(string(rune('a'+i)), 5, 0, model.StateUnknown))
	}

	cfg := testClientConfig("http://unused.invalid")
	cfg.BatchSize = 7
	l := NewLoop(NewClient(cfg), states, &memPredictionRecorder{}, cfg, 0.5)

	pending, err := l.collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(pending) != 7 {
		t.Errorf("collected %d players, want batch size 7", len(pending))
	}
}

func TestRunOnceRecordsVerdictsWithModelTrust(t *testing.T) {
	player := model.PlayerID{Name: "bot hunter", CreatedEpoch: 1}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(batchResponse{Predictions: []wirePrediction{
			{PlayerID: player.String(), Probability: 0.9, ModelVersion: "m3", FeatureVersion: 2},
		}})
	}))
	defer srv.Close()

	states := &memStates{states: []*model.AggregateState{
		{Player: player, Cursor: 4, LastPredictionSeq: 1, State: model.StateUnknown},
	}}
	rec := &memPredictionRecorder{}
	cfg := testClientConfig(srv.URL)
	l := NewLoop(NewClient(cfg), states, rec, cfg, 0.6)

	if err := l.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if len(rec.recorded) != 1 {
		t.Fatalf("recorded %d predictions, want 1", len(rec.recorded))
	}
	if rec.recorded[0].Label.TrustWeight != 0.6 {
		t.Errorf("TrustWeight = %v, want the loop's model trust", rec.recorded[0].Label.TrustWeight)
	}
}

func TestRunOnceDegradesWhenClassifierDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	states := &memStates{states: []*model.AggregateState{
		pendingState("bot hunter", 4, 1, model.StateUnknown),
	}}
	rec := &memPredictionRecorder{}
	cfg := testClientConfig(srv.URL)
	cfg.MaxAttempts = 2
	l := NewLoop(NewClient(cfg), states, rec, cfg, 0.5)

	if err := l.runOnce(context.Background()); err != nil {
		t.Fatalf("Outage must degrade, not fail the sweep: %v", err)
	}
	if len(rec.recorded) != 0 {
		t.Error("No predictions should be recorded during an outage")
	}

	// The player stays pending for the next sweep.
	pending, err := l.collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Pending players lost after outage: %v", pending)
	}
}

func TestRunOnceNoPendingNoCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("No HTTP call expected with nothing pending")
	}))
	defer srv.Close()

	cfg := testClientConfig(srv.URL)
	l := NewLoop(NewClient(cfg), &memStates{}, &memPredictionRecorder{}, cfg, 0.5)
	if err := l.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
}
