// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/botwatch/internal/banstate"
	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/metrics"
	"github.com/tomtom215/botwatch/internal/model"
	"github.com/tomtom215/botwatch/internal/store"
)

// EvidenceStore is the slice of the store the aggregator needs.
type EvidenceStore interface {
	ForEachSince(ctx context.Context, player model.PlayerID, cursor uint64, fn func(*model.Evidence) error) error
	GetState(ctx context.Context, player model.PlayerID) (*model.AggregateState, error)
	CompareAndSwapState(ctx context.Context, player model.PlayerID, expectedRevision uint64, newState *model.AggregateState) error
}

// VerdictPublisher receives the updated aggregate after a successful swap.
// Publishing is best-effort; the durable state already carries the verdict.
type VerdictPublisher interface {
	PublishVerdictChanged(ctx context.Context, prev, next *model.AggregateState) error
}

// Aggregator recomputes per-player aggregate state from appended evidence.
type Aggregator struct {
	store          EvidenceStore
	publisher      VerdictPublisher
	policy         config.ScoringConfig
	featureVersion int
	now            func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithPublisher attaches a verdict-changed publisher.
func WithPublisher(p VerdictPublisher) Option {
	return func(a *Aggregator) { a.publisher = p }
}

// New creates an Aggregator. featureVersion is the pipeline's current
// feature schema; predictions computed against an older one are discounted.
func New(st EvidenceStore, policy config.ScoringConfig, featureVersion int, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:          st,
		policy:         policy,
		featureVersion: featureVersion,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProcessPlayer reads all evidence past the player's cursor, recomputes the
// score and ban state, and swaps the new aggregate in. On a revision
// conflict it re-reads and recomputes from the fresh state; after the
// configured number of attempts it gives up and defers to the next trigger,
// which is safe because the cursor only advances on a successful swap.
func (a *Aggregator) ProcessPlayer(ctx context.Context, player model.PlayerID) error {
	start := time.Now()

	for attempt := 0; attempt < a.policy.MaxCASAttempts; attempt++ {
		prev, err := a.store.GetState(ctx, player)
		if err != nil {
			metrics.AggregationRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("aggregate: read state for %s: %w", player, err)
		}

		next, changed, err := a.recompute(ctx, prev)
		if err != nil {
			metrics.AggregationRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("aggregate: recompute %s: %w", player, err)
		}
		if !changed {
			metrics.AggregationRuns.WithLabelValues("no_evidence").Inc()
			return nil
		}

		err = a.store.CompareAndSwapState(ctx, player, prev.Revision, next)
		if errors.Is(err, store.ErrRevisionConflict) {
			logging.Debug().
				Str("player", player.String()).
				Int("attempt", attempt+1).
				Msg("aggregate state conflict, recomputing")
			continue
		}
		if err != nil {
			metrics.AggregationRuns.WithLabelValues("error").Inc()
			return fmt.Errorf("aggregate: swap state for %s: %w", player, err)
		}

		metrics.ObserveAggregation("updated", start)
		if prev.State != next.State {
			metrics.StateTransitions.WithLabelValues(string(prev.State), string(next.State)).Inc()
			logging.Info().
				Str("player", player.String()).
				Str("from", string(prev.State)).
				Str("to", string(next.State)).
				Float64("score", next.Score).
				Msg("player ban state changed")
		}

		if a.publisher != nil {
			if err := a.publisher.PublishVerdictChanged(ctx, prev, next); err != nil {
				logging.Warn().
					Err(err).
					Str("player", player.String()).
					Msg("verdict publish failed, state remains durable")
			}
		}
		return nil
	}

	metrics.AggregationRuns.WithLabelValues("deferred").Inc()
	logging.Warn().
		Str("player", player.String()).
		Int("attempts", a.policy.MaxCASAttempts).
		Msg("aggregation deferred after repeated conflicts")
	return nil
}

// recompute folds the evidence past the state's cursor into a successor
// state. changed is false when there is nothing new to process.
func (a *Aggregator) recompute(ctx context.Context, prev *model.AggregateState) (*model.AggregateState, bool, error) {
	var c contribution
	err := a.store.ForEachSince(ctx, prev.Player, prev.Cursor, func(ev *model.Evidence) error {
		c.observe(ev, a.policy, a.featureVersion)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if c.count == 0 {
		return nil, false, nil
	}

	now := a.now().UTC()
	next := prev.Clone()
	next.Cursor = c.lastSeq
	next.EvidenceCount += c.count
	next.UpdatedAt = now
	if c.lastPredSeq > next.LastPredictionSeq {
		next.LastPredictionSeq = c.lastPredSeq
	}

	// A batch of nothing but overrides carries no scoring signal; the score
	// stays exactly as it was, including "no score yet".
	scoringCount := c.count
	if c.override != nil {
		scoringCount--
	}
	if scoringCount > 0 {
		next.Score = blend(prev.Score, prev.ScoreKnown, prev.UpdatedAt, c.sum, a.policy, now)
		next.ScoreKnown = true
	}

	if next.ScoreKnown {
		proposed := proposeState(next.Score, next.State, a.policy)
		advanced, err := banstate.Advance(next.State, proposed)
		if err != nil {
			return nil, false, err
		}
		next.State = advanced
	}

	if c.override != nil {
		applied, err := banstate.ApplyOverride(next.State, c.override.TargetState)
		if err != nil {
			return nil, false, err
		}
		next.State = applied
	}

	return next, true, nil
}
