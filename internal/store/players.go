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

	"github.com/tomtom215/botwatch/internal/model"
)

// resolveRetries bounds the retry loop for racing identity creation.
const resolveRetries = 3

// ResolvePlayer returns the identity bound to a canonical name, creating it
// on first sight. Identity is immutable once assigned: the creation epoch is
// the first-seen time, and later renames move the name binding without
// touching the ID.
func (s *Store) ResolvePlayer(ctx context.Context, canonicalName string, observedAt time.Time) (*model.Player, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var player *model.Player
	var err error
	for attempt := 0; attempt < resolveRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		player, err = s.resolveOnce(canonicalName, observedAt)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		// Two reporters raced on a brand-new player; the loser re-reads
		// the winner's binding.
	}
	return player, err
}

// resolveOnce performs one get-or-create transaction.
func (s *Store) resolveOnce(canonicalName string, observedAt time.Time) (*model.Player, error) {
	var player model.Player

	err := s.db.Update(func(txn *badger.Txn) error {
		nameKey := []byte(nameKeyPrefix + canonicalName)

		item, err := txn.Get(nameKey)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// First sight: mint the identity from this observation.
			player = model.Player{
				ID: model.PlayerID{
					Name:         canonicalName,
					CreatedEpoch: observedAt.UTC().Unix(),
				},
				DisplayName: canonicalName,
				FirstSeen:   observedAt.UTC(),
				LastSeen:    observedAt.UTC(),
			}
			if err := txn.Set(nameKey, []byte(player.ID.String())); err != nil {
				return fmt.Errorf("bind name: %w", err)
			}
			return s.putPlayer(txn, &player)

		case err != nil:
			return fmt.Errorf("lookup name binding: %w", err)
		}

		var id model.PlayerID
		if err := item.Value(func(val []byte) error {
			id, err = model.ParsePlayerID(string(val))
			return err
		}); err != nil {
			return fmt.Errorf("%w: name binding for %q: %v", ErrDataIntegrity, canonicalName, err)
		}

		existing, err := s.getPlayer(txn, id)
		if err != nil {
			return err
		}
		player = *existing

		if observedAt.After(player.LastSeen) {
			player.LastSeen = observedAt.UTC()
			return s.putPlayer(txn, &player)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// RecordRename moves the name binding from oldName to newName and appends the
// change to the player's history. The identity itself never changes.
func (s *Store) RecordRename(ctx context.Context, oldName, newName string, observedAt time.Time) (*model.Player, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var player model.Player
	err := s.db.Update(func(txn *badger.Txn) error {
		oldKey := []byte(nameKeyPrefix + oldName)

		item, err := txn.Get(oldKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", ErrPlayerNotFound, oldName)
		}
		if err != nil {
			return fmt.Errorf("lookup name binding: %w", err)
		}

		var id model.PlayerID
		if err := item.Value(func(val []byte) error {
			id, err = model.ParsePlayerID(string(val))
			return err
		}); err != nil {
			return fmt.Errorf("%w: name binding for %q: %v", ErrDataIntegrity, oldName, err)
		}

		existing, err := s.getPlayer(txn, id)
		if err != nil {
			return err
		}
		player = *existing

		player.DisplayName = newName
		player.NameHistory = append(player.NameHistory, model.NameChange{
			From:       oldName,
			To:         newName,
			ObservedAt: observedAt.UTC(),
		})
		if observedAt.After(player.LastSeen) {
			player.LastSeen = observedAt.UTC()
		}

		if err := txn.Delete(oldKey); err != nil {
			return fmt.Errorf("unbind old name: %w", err)
		}
		if err := txn.Set([]byte(nameKeyPrefix+newName), []byte(id.String())); err != nil {
			return fmt.Errorf("bind new name: %w", err)
		}
		return s.putPlayer(txn, &player)
	})
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// LookupPlayer returns the identity currently bound to a canonical name.
func (s *Store) LookupPlayer(ctx context.Context, canonicalName string) (*model.Player, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var player *model.Player
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(nameKeyPrefix + canonicalName))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %q", ErrPlayerNotFound, canonicalName)
		}
		if err != nil {
			return fmt.Errorf("lookup name binding: %w", err)
		}

		var id model.PlayerID
		if err := item.Value(func(val []byte) error {
			id, err = model.ParsePlayerID(string(val))
			return err
		}); err != nil {
			return fmt.Errorf("%w: name binding for %q: %v", ErrDataIntegrity, canonicalName, err)
		}

		player, err = s.getPlayer(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// getPlayer loads a player record inside a transaction.
func (s *Store) getPlayer(txn *badger.Txn, id model.PlayerID) (*model.Player, error) {
	item, err := txn.Get([]byte(playerKeyPrefix + id.String()))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: dangling identity %s", ErrDataIntegrity, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get player: %w", err)
	}

	var player model.Player
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &player)
	}); err != nil {
		return nil, fmt.Errorf("%w: decode player %s: %v", ErrDataIntegrity, id, err)
	}
	return &player, nil
}

// putPlayer writes a player record inside a transaction.
func (s *Store) putPlayer(txn *badger.Txn, player *model.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("marshal player %s: %w", player.ID, err)
	}
	return txn.Set([]byte(playerKeyPrefix+player.ID.String()), data)
}
