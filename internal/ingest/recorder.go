// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/model"
)

// EvidenceStore is the slice of the store the recorder needs.
type EvidenceStore interface {
	ResolvePlayer(ctx context.Context, name string, observedAt time.Time) (*model.Player, error)
	Append(ctx context.Context, ev *model.Evidence) (uint64, error)
}

// Publisher notifies the aggregation workers of a durable append.
type Publisher interface {
	PublishEvidenceAppended(ctx context.Context, ev *model.Evidence) error
}

// Recorder is the single write path into the evidence log: resolve the
// player identity, append durably, then notify the aggregators. Every
// evidence source (plugin sightings, hiscore anomalies, classifier
// predictions, moderator overrides) goes through it.
type Recorder struct {
	store     EvidenceStore
	publisher Publisher
}

// NewRecorder creates a Recorder. publisher may be nil, which disables
// aggregation triggers (tests).
func NewRecorder(store EvidenceStore, publisher Publisher) *Recorder {
	return &Recorder{store: store, publisher: publisher}
}

// RecordSighting appends a normalized sighting report.
func (r *Recorder) RecordSighting(ctx context.Context, rep *Report) (*model.Evidence, error) {
	return r.record(ctx, rep.CanonicalName, rep.ObservedAt, model.KindSighting, func(ev *model.Evidence) {
		ev.Sighting = &model.Sighting{
			ReporterID:  rep.ReporterID,
			Label:       rep.Label,
			TrustWeight: rep.TrustWeight,
			ObservedAt:  rep.ObservedAt,
			Metadata:    rep.Metadata,
		}
	})
}

// RecordAnomaly appends a hiscore anomaly for the named player. Anomalies
// are derived deterministically from snapshot pairs, so the append carries
// a dedup key: replaying the same diff after a crash never double-counts.
func (r *Recorder) RecordAnomaly(ctx context.Context, name string, anomaly model.HiscoreAnomaly) (*model.Evidence, error) {
	return r.record(ctx, name, anomaly.CapturedAt, model.KindHiscoreAnomaly, func(ev *model.Evidence) {
		a := anomaly
		ev.Anomaly = &a
		if a.SnapshotHash != "" {
			ev.DedupKey = fmt.Sprintf("hiscore:%s:%s:%s", a.LeaderboardID, a.Type, a.SnapshotHash)
		}
	})
}

// RecordPrediction appends one classifier verdict for a known player.
// Predictions target players already in the store, so the identity is
// passed directly rather than resolved by name.
func (r *Recorder) RecordPrediction(ctx context.Context, player model.PlayerID, pred model.PredictionLabel) (*model.Evidence, error) {
	ev := model.NewEvidence(player, model.KindPrediction)
	p := pred
	ev.Prediction = &p
	return ev, r.append(ctx, ev)
}

// RecordOverride appends a moderator override.
func (r *Recorder) RecordOverride(ctx context.Context, name string, override model.ModeratorOverride) (*model.Evidence, error) {
	return r.record(ctx, name, time.Now().UTC(), model.KindOverride, func(ev *model.Evidence) {
		o := override
		ev.Override = &o
	})
}

func (r *Recorder) record(ctx context.Context, name string, observedAt time.Time, kind model.EvidenceKind, fill func(*model.Evidence)) (*model.Evidence, error) {
	player, err := r.store.ResolvePlayer(ctx, name, observedAt)
	if err != nil {
		return nil, fmt.Errorf("resolve player %q: %w", name, err)
	}

	ev := model.NewEvidence(player.ID, kind)
	fill(ev)
	return ev, r.append(ctx, ev)
}

// append writes the record and then triggers aggregation. A publish failure
// after a durable append is logged and tolerated: the evidence is safe, the
// cursor has not moved, and the next trigger for the player picks it up.
func (r *Recorder) append(ctx context.Context, ev *model.Evidence) error {
	if _, err := r.store.Append(ctx, ev); err != nil {
		return err
	}

	if r.publisher != nil {
		if err := r.publisher.PublishEvidenceAppended(ctx, ev); err != nil {
			logging.Warn().
				Err(err).
				Str("evidence_id", ev.ID).
				Str("player", ev.Player.String()).
				Msg("aggregation trigger publish failed, evidence remains durable")
		}
	}
	return nil
}
