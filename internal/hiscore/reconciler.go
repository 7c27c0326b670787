// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package hiscore reconciles consecutive leaderboard snapshots into anomaly
// evidence. Two signals come out of a diff: disappearances (ranked before,
// absent now, ambiguous between a ban and an ordinary rank drop) and
// anomalous gains (rank improvements too large for one snapshot interval).
package hiscore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/ingest"
	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/metrics"
	"github.com/tomtom215/botwatch/internal/model"
	"github.com/tomtom215/botwatch/internal/store"
)

// Entry is one leaderboard row. Rank 1 is best.
type Entry struct {
	Name  string `json:"name" validate:"required,playername"`
	Rank  int    `json:"rank" validate:"required,gt=0"`
	Score int64  `json:"score" validate:"gte=0"`
}

// Snapshot is one leaderboard capture. Partial marks a capture that covers
// only a slice of the board (a paginated scrape that did not finish, or a
// targeted refresh): absence from a partial capture says nothing about a
// player, so partial snapshots never produce disappearances.
type Snapshot struct {
	LeaderboardID string    `json:"leaderboard_id" validate:"required,max=64"`
	CapturedAt    time.Time `json:"captured_at" validate:"required"`
	Partial       bool      `json:"partial,omitempty"`
	Entries       []Entry   `json:"entries" validate:"required,dive"`
}

// Result summarizes one reconciliation.
type Result struct {
	Ingested       bool `json:"ingested"`
	Duplicate      bool `json:"duplicate"`
	Disappearances int  `json:"disappearances"`
	Gains          int  `json:"gains"`
}

// SnapshotStore persists the last processed snapshot per leaderboard.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, leaderboardID string) (*store.SnapshotRecord, error)
	PutSnapshot(ctx context.Context, rec *store.SnapshotRecord) error
}

// EvidenceRecorder appends anomaly evidence for a player by name.
type EvidenceRecorder interface {
	RecordAnomaly(ctx context.Context, name string, anomaly model.HiscoreAnomaly) (*model.Evidence, error)
}

// Reconciler diffs incoming snapshots against the stored previous snapshot
// and emits anomaly evidence. One Reconciler serves all leaderboards; state
// is keyed per leaderboard in the snapshot store.
type Reconciler struct {
	snapshots     SnapshotStore
	recorder      EvidenceRecorder
	cfg           config.HiscoreConfig
	anomalyWeight float64
}

// NewReconciler creates a Reconciler. anomalyWeight is the weak-evidence
// weight stamped onto emitted anomalies.
func NewReconciler(snapshots SnapshotStore, recorder EvidenceRecorder, cfg config.HiscoreConfig, anomalyWeight float64) *Reconciler {
	return &Reconciler{
		snapshots:     snapshots,
		recorder:      recorder,
		cfg:           cfg,
		anomalyWeight: anomalyWeight,
	}
}

// Ingest processes one snapshot. A snapshot whose content hash matches the
// stored one is a duplicate and emits nothing. The stored snapshot only
// advances after the full diff is appended, so a crash mid-diff replays the
// diff on the next ingest; each anomaly append carries a key derived from
// the snapshot hash, so the replay appends only what the crash cut off and
// no transition ever double-counts.
//
// A partial snapshot is first merged over the previous one: players it
// covers get their new rank, players it omits keep their old one. The diff
// then runs against the merged view, so a partial capture can surface
// anomalous gains but never a spurious disappearance.
func (r *Reconciler) Ingest(ctx context.Context, snap *Snapshot) (*Result, error) {
	ranks := make(map[string]int, len(snap.Entries))
	for i := range snap.Entries {
		name := ingest.CanonicalName(snap.Entries[i].Name)
		if name == "" {
			continue
		}
		// On duplicate names keep the better rank.
		if prev, ok := ranks[name]; !ok || snap.Entries[i].Rank < prev {
			ranks[name] = snap.Entries[i].Rank
		}
	}

	prev, err := r.snapshots.GetSnapshot(ctx, snap.LeaderboardID)
	if err != nil {
		metrics.HiscoreSnapshots.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("hiscore: load previous snapshot: %w", err)
	}

	if snap.Partial && prev != nil {
		merged := make(map[string]int, len(prev.Ranks)+len(ranks))
		for name, rank := range prev.Ranks {
			merged[name] = rank
		}
		for name, rank := range ranks {
			merged[name] = rank
		}
		ranks = merged
	}

	hash := contentHash(snap.LeaderboardID, ranks)

	if prev != nil && prev.Hash == hash {
		metrics.HiscoreSnapshots.WithLabelValues("duplicate").Inc()
		logging.Debug().
			Str("leaderboard", snap.LeaderboardID).
			Msg("duplicate hiscore snapshot skipped")
		return &Result{Duplicate: true}, nil
	}

	res := &Result{Ingested: true}
	if prev != nil {
		if err := r.emitDiff(ctx, snap, prev, ranks, hash, res); err != nil {
			metrics.HiscoreSnapshots.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	err = r.snapshots.PutSnapshot(ctx, &store.SnapshotRecord{
		LeaderboardID: snap.LeaderboardID,
		Hash:          hash,
		CapturedAt:    snap.CapturedAt,
		Ranks:         ranks,
	})
	if err != nil {
		metrics.HiscoreSnapshots.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("hiscore: store snapshot: %w", err)
	}

	metrics.HiscoreSnapshots.WithLabelValues("ingested").Inc()
	logging.Info().
		Str("leaderboard", snap.LeaderboardID).
		Int("entries", len(ranks)).
		Int("disappearances", res.Disappearances).
		Int("gains", res.Gains).
		Msg("hiscore snapshot reconciled")
	return res, nil
}

// emitDiff appends anomaly evidence for every signal in prev -> current.
// Anomalies carry the incoming snapshot's hash, which makes each append
// idempotent: a replayed diff finds its records already stored and skips
// them without counting.
func (r *Reconciler) emitDiff(ctx context.Context, snap *Snapshot, prev *store.SnapshotRecord, ranks map[string]int, hash string, res *Result) error {
	for _, name := range sortedNames(prev.Ranks) {
		prevRank := prev.Ranks[name]
		newRank, present := ranks[name]

		switch {
		case !present:
			anomaly := model.HiscoreAnomaly{
				LeaderboardID: snap.LeaderboardID,
				Type:          model.AnomalyDisappearance,
				PrevRank:      prevRank,
				NewRank:       0,
				Weight:        r.anomalyWeight,
				CapturedAt:    snap.CapturedAt,
				SnapshotHash:  hash,
			}
			emitted, err := r.emitAnomaly(ctx, name, anomaly)
			if err != nil {
				return fmt.Errorf("hiscore: record disappearance for %q: %w", name, err)
			}
			if emitted {
				res.Disappearances++
			}

		case prevRank-newRank > r.cfg.RankJumpThreshold:
			anomaly := model.HiscoreAnomaly{
				LeaderboardID: snap.LeaderboardID,
				Type:          model.AnomalyGain,
				PrevRank:      prevRank,
				NewRank:       newRank,
				Weight:        r.anomalyWeight,
				CapturedAt:    snap.CapturedAt,
				SnapshotHash:  hash,
			}
			emitted, err := r.emitAnomaly(ctx, name, anomaly)
			if err != nil {
				return fmt.Errorf("hiscore: record gain for %q: %w", name, err)
			}
			if emitted {
				res.Gains++
			}
		}
	}
	return nil
}

// emitAnomaly records one anomaly. A duplicate from a replayed diff is not
// an error; it reports emitted=false so the result reflects only fresh
// evidence.
func (r *Reconciler) emitAnomaly(ctx context.Context, name string, anomaly model.HiscoreAnomaly) (bool, error) {
	if _, err := r.recorder.RecordAnomaly(ctx, name, anomaly); err != nil {
		if errors.Is(err, store.ErrDuplicateEvidence) {
			logging.Debug().
				Str("player", name).
				Str("leaderboard", anomaly.LeaderboardID).
				Str("type", string(anomaly.Type)).
				Msg("replayed anomaly already recorded")
			return false, nil
		}
		return false, err
	}
	metrics.HiscoreAnomalies.WithLabelValues(string(anomaly.Type)).Inc()
	return true, nil
}

// contentHash fingerprints the canonicalized snapshot content. Capture time
// is deliberately excluded: two captures of identical standings are the
// same snapshot.
func contentHash(leaderboardID string, ranks map[string]int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", leaderboardID)
	for _, name := range sortedNames(ranks) {
		fmt.Fprintf(h, "%s\x00%d\n", name, ranks[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedNames(ranks map[string]int) []string {
	names := make([]string, 0, len(ranks))
	for name := range ranks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
