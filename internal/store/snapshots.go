// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const snapshotKeyPrefix = "hs:"

// SnapshotRecord is the persisted form of the last processed hiscore
// snapshot for one leaderboard. It carries the content hash for duplicate
// detection and the rank map the reconciler diffs the next snapshot against.
// Persisting it keeps disappearance emission exactly-once across restarts.
type SnapshotRecord struct {
	LeaderboardID string         `json:"leaderboard_id"`
	Hash          string         `json:"hash"`
	CapturedAt    time.Time      `json:"captured_at"`
	Ranks         map[string]int `json:"ranks"`
}

// GetSnapshot reads the last processed snapshot for a leaderboard. It
// returns nil with no error when no snapshot has been processed yet.
func (s *Store) GetSnapshot(ctx context.Context, leaderboardID string) (*SnapshotRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *SnapshotRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKeyPrefix + leaderboardID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			rec = &SnapshotRecord{}
			if err := json.Unmarshal(val, rec); err != nil {
				return fmt.Errorf("%w: decode snapshot for %q: %v", ErrDataIntegrity, leaderboardID, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PutSnapshot replaces the stored snapshot for a leaderboard.
func (s *Store) PutSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot for %q: %w", rec.LeaderboardID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKeyPrefix+rec.LeaderboardID), data)
	})
	if err != nil {
		return fmt.Errorf("put snapshot for %q: %w", rec.LeaderboardID, err)
	}
	return nil
}
