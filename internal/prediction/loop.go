// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package prediction

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/model"
)

// StateLister walks every player's aggregate state.
type StateLister interface {
	ForEachState(ctx context.Context, fn func(*model.AggregateState) error) error
}

// EvidenceRecorder appends prediction evidence.
type EvidenceRecorder interface {
	RecordPrediction(ctx context.Context, player model.PlayerID, pred model.PredictionLabel) (*model.Evidence, error)
}

// Loop periodically collects players with evidence newer than their last
// prediction and requests fresh classifier verdicts for them in batches.
type Loop struct {
	client     *Client
	states     StateLister
	recorder   EvidenceRecorder
	cfg        config.PredictionConfig
	modelTrust float64
}

// NewLoop creates the prediction scheduling loop. modelTrust is stamped
// onto appended prediction evidence.
func NewLoop(client *Client, states StateLister, recorder EvidenceRecorder, cfg config.PredictionConfig, modelTrust float64) *Loop {
	return &Loop{
		client:     client,
		states:     states,
		recorder:   recorder,
		cfg:        cfg,
		modelTrust: modelTrust,
	}
}

// RunWithContext runs the loop until the context is canceled. Classifier
// outages degrade the pipeline to sighting and hiscore evidence only; the
// skipped players stay pending and are retried on later ticks.
func (l *Loop) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.runOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				logging.Warn().Err(err).Msg("prediction sweep failed")
			}
		}
	}
}

// runOnce collects one batch of pending players and records the verdicts.
func (l *Loop) runOnce(ctx context.Context) error {
	pending, err := l.collect(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	preds, err := l.client.Predict(ctx, pending)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			logging.Warn().
				Err(err).
				Int("pending", len(pending)).
				Msg("classifier unavailable, continuing without predictions")
			return nil
		}
		return err
	}

	for _, pred := range preds {
		pred.Label.TrustWeight = l.modelTrust
		if _, err := l.recorder.RecordPrediction(ctx, pred.Player, pred.Label); err != nil {
			return err
		}
	}

	logging.Debug().
		Int("requested", len(pending)).
		Int("recorded", len(preds)).
		Msg("prediction sweep completed")
	return nil
}

// collect returns up to one batch of players whose evidence log has grown
// past their last prediction, each paired with the feature vector derived
// from their current aggregate state. Terminal players are skipped: a
// verdict is already settled and only an override changes it.
func (l *Loop) collect(ctx context.Context) ([]Candidate, error) {
	pending := make([]Candidate, 0, l.cfg.BatchSize)
	err := l.states.ForEachState(ctx, func(state *model.AggregateState) error {
		if state.State.Terminal() {
			return nil
		}
		if state.Cursor <= state.LastPredictionSeq {
			return nil
		}
		pending = append(pending, Candidate{
			Player:   state.Player,
			Features: featuresFromState(state),
		})
		if len(pending) >= l.cfg.BatchSize {
			return errBatchFull
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return nil, err
	}
	return pending, nil
}

var errBatchFull = errors.New("batch full")
