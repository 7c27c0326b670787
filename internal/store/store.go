// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package store implements the durable evidence store on BadgerDB.
//
// Layout:
//
//	ev:<player>:<seq>   immutable evidence records, seq big-endian uint64
//	state:<player>      AggregateState (revision-guarded)
//	name:<canonical>    current name -> identity binding
//	player:<id>         Player record (display name, seen range, renames)
//
// The evidence log is append-only and the source of truth; AggregateState is
// a derived cache guarded by optimistic concurrency. Sequence numbers are
// store-assigned from a single monotonic badger sequence, so per-player order
// never depends on client clocks. Appends are independent and uncontended;
// the only contended write is the per-player state compare-and-swap.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/metrics"
	"github.com/tomtom215/botwatch/internal/model"
)

// Key prefixes for BadgerDB storage.
const (
	evidenceKeyPrefix = "ev:"
	stateKeyPrefix    = "state:"
	nameKeyPrefix     = "name:"
	playerKeyPrefix   = "player:"
	dedupKeyPrefix    = "dedup:"

	sequenceKey       = "seq:evidence"
	sequenceBandwidth = 128
)

// Store is the BadgerDB-backed evidence store.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	cfg config.StoreConfig

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store at cfg.Path. An empty path opens an
// in-memory store, used by tests.
func Open(cfg config.StoreConfig) (*Store, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Path, err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lease evidence sequence: %w", err)
	}

	return &Store{db: db, seq: seq, cfg: cfg}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.seq.Release(); err != nil {
		logging.Err(err).Msg("release evidence sequence")
	}
	return s.db.Close()
}

// checkOpen returns ErrClosed after Close.
func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// evidenceKey builds the log key for one record.
func evidenceKey(player model.PlayerID, seq uint64) []byte {
	id := player.String()
	key := make([]byte, 0, len(evidenceKeyPrefix)+len(id)+1+8)
	key = append(key, evidenceKeyPrefix...)
	key = append(key, id...)
	key = append(key, ':')
	key = binary.BigEndian.AppendUint64(key, seq)
	return key
}

// evidencePrefix is the per-player log prefix.
func evidencePrefix(player model.PlayerID) []byte {
	return []byte(evidenceKeyPrefix + player.String() + ":")
}

// dedupKey builds the idempotency marker key for one record.
func dedupKey(player model.PlayerID, key string) []byte {
	return []byte(dedupKeyPrefix + player.String() + ":" + key)
}

// Append durably stores one immutable evidence record and returns its
// store-assigned sequence number. Records without a DedupKey are stored
// as-is even when their content repeats: deduplication of organic reports
// is a semantic decision that belongs to the aggregator. Records carrying
// a DedupKey are appended at most once per player; a replay returns
// ErrDuplicateEvidence. Append never mutates or replaces an existing
// record.
func (s *Store) Append(ctx context.Context, ev *model.Evidence) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := ev.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDataIntegrity, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	next, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next evidence sequence: %w", err)
	}
	// Sequence numbers start at 1 so that cursor 0 means "from the start".
	ev.Seq = next + 1

	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("marshal evidence %s: %w", ev.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if ev.DedupKey != "" {
			marker := dedupKey(ev.Player, ev.DedupKey)
			switch _, err := txn.Get(marker); {
			case err == nil:
				return ErrDuplicateEvidence
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			if err := txn.Set(marker, []byte{}); err != nil {
				return err
			}
		}
		return txn.Set(evidenceKey(ev.Player, ev.Seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("append evidence %s: %w", ev.ID, err)
	}

	metrics.EvidenceAppends.WithLabelValues(string(ev.Kind)).Inc()
	return ev.Seq, nil
}

// ForEachSince streams the player's evidence records with sequence numbers
// strictly greater than cursor, in ascending sequence order. Iteration is
// lazy over a read-only snapshot and restartable: callers resume by passing
// the last sequence they processed. Returning an error from fn stops the
// walk and propagates the error.
func (s *Store) ForEachSince(ctx context.Context, player model.PlayerID, cursor uint64, fn func(*model.Evidence) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	prefix := evidencePrefix(player)
	start := evidenceKey(player, cursor+1)

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			var ev model.Evidence
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return fmt.Errorf("%w: decode %q: %v", ErrDataIntegrity, item.Key(), err)
			}
			if err := fn(&ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadSince returns up to limit evidence records newer than cursor. It is
// the paged form of ForEachSince used by the read API.
func (s *Store) ReadSince(ctx context.Context, player model.PlayerID, cursor uint64, limit int) ([]*model.Evidence, error) {
	out := make([]*model.Evidence, 0, limit)
	err := s.ForEachSince(ctx, player, cursor, func(ev *model.Evidence) error {
		out = append(out, ev)
		if len(out) >= limit {
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, err
	}
	return out, nil
}

// errStopIteration is an internal sentinel for early iterator exit.
var errStopIteration = errors.New("stop iteration")

// GetState reads the player's aggregate state. A player with no stored state
// gets the initial state (revision 0, unknown, no score), so callers can
// CAS against revision 0 to create it.
func (s *Store) GetState(ctx context.Context, player model.PlayerID) (*model.AggregateState, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var state *model.AggregateState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKeyPrefix + player.String()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			state = model.NewAggregateState(player)
			return nil
		}
		if err != nil {
			return fmt.Errorf("get state: %w", err)
		}
		return item.Value(func(val []byte) error {
			state = &model.AggregateState{}
			if err := json.Unmarshal(val, state); err != nil {
				return fmt.Errorf("%w: decode state for %s: %v", ErrDataIntegrity, player, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// CompareAndSwapState writes newState only if the stored revision still
// equals expectedRevision, and stamps newState with expectedRevision+1.
// ErrRevisionConflict signals the caller to re-read and recompute; exactly
// one of any set of concurrent swaps against the same prior revision
// succeeds, so the revision strictly increases across successful updates.
func (s *Store) CompareAndSwapState(ctx context.Context, player model.PlayerID, expectedRevision uint64, newState *model.AggregateState) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := []byte(stateKeyPrefix + player.String())

	err := s.db.Update(func(txn *badger.Txn) error {
		var current uint64
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			current = 0
		case err != nil:
			return fmt.Errorf("read state: %w", err)
		default:
			var stored model.AggregateState
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return fmt.Errorf("%w: decode state for %s: %v", ErrDataIntegrity, player, err)
			}
			current = stored.Revision
		}

		if current != expectedRevision {
			return ErrRevisionConflict
		}

		newState.Player = player
		newState.Revision = expectedRevision + 1
		newState.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(newState)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		return txn.Set(key, data)
	})

	// Badger's own SSI conflict detection fires when two Update
	// transactions race on the key; that is the same logical outcome.
	if errors.Is(err, badger.ErrConflict) {
		err = ErrRevisionConflict
	}
	if errors.Is(err, ErrRevisionConflict) {
		metrics.StateCASConflicts.Inc()
	}
	return err
}

// ForEachState streams all stored aggregate states. Used by the prediction
// client to collect players with evidence newer than their last prediction.
func (s *Store) ForEachState(ctx context.Context, fn func(*model.AggregateState) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	prefix := []byte(stateKeyPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var state model.AggregateState
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			})
			if err != nil {
				return fmt.Errorf("%w: decode %q: %v", ErrDataIntegrity, it.Item().Key(), err)
			}
			if err := fn(&state); err != nil {
				if errors.Is(err, errStopIteration) {
					return nil
				}
				return err
			}
		}
		return nil
	})
}
