// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package model defines the canonical data model shared across the pipeline:
// player identities, the append-only evidence records, and the derived
// per-player aggregate state.
//
// Evidence records (Sighting, HiscoreAnomaly, PredictionLabel,
// ModeratorOverride) are immutable once stored. AggregateState is the single
// mutable record per player and is guarded by a monotonically increasing
// revision number for optimistic concurrency.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PlayerID is the immutable identity of a player: the canonicalized name the
// player held when first observed plus the account-creation epoch. Display
// names are reused over time, so identity must survive renames; renames are
// recorded as history on Player, never by mutating the ID.
type PlayerID struct {
	Name         string `json:"name"`
	CreatedEpoch int64  `json:"created_epoch"`
}

// String renders the ID in "name#epoch" form, used as the storage key prefix.
func (id PlayerID) String() string {
	return id.Name + "#" + strconv.FormatInt(id.CreatedEpoch, 10)
}

// IsZero reports whether the ID is unset.
func (id PlayerID) IsZero() bool {
	return id.Name == "" && id.CreatedEpoch == 0
}

// ParsePlayerID parses the "name#epoch" form produced by String.
func ParsePlayerID(s string) (PlayerID, error) {
	idx := strings.LastIndexByte(s, '#')
	if idx <= 0 || idx == len(s)-1 {
		return PlayerID{}, fmt.Errorf("malformed player id %q", s)
	}
	epoch, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return PlayerID{}, fmt.Errorf("malformed player id %q: %w", s, err)
	}
	return PlayerID{Name: s[:idx], CreatedEpoch: epoch}, nil
}

// NameChange records one rename in a player's history.
type NameChange struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	ObservedAt time.Time `json:"observed_at"`
}

// Player holds the mutable attributes attached to an immutable identity.
type Player struct {
	ID          PlayerID     `json:"id"`
	DisplayName string       `json:"display_name"`
	FirstSeen   time.Time    `json:"first_seen"`
	LastSeen    time.Time    `json:"last_seen"`
	NameHistory []NameChange `json:"name_history,omitempty"`
}
