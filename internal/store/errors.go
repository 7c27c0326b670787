// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package store

import "errors"

var (
	// ErrRevisionConflict is returned by CompareAndSwapState when the
	// expected revision does not match the stored one. The caller re-reads
	// state and evidence cursor and retries; this is the normal outcome of
	// two aggregator triggers racing for the same player.
	ErrRevisionConflict = errors.New("aggregate state revision conflict")

	// ErrPlayerNotFound is returned when no identity is bound to a name.
	ErrPlayerNotFound = errors.New("player not found")

	// ErrDuplicateEvidence is returned by Append when the record carries a
	// DedupKey already recorded for the player. The record was appended by
	// an earlier call; replaying the same derivation is not an error worth
	// surfacing to clients.
	ErrDuplicateEvidence = errors.New("duplicate evidence")

	// ErrDataIntegrity marks evidence log corruption or an impossible
	// stored state. Fatal for the affected player: surfaced for operator
	// intervention, never auto-recovered.
	ErrDataIntegrity = errors.New("evidence store integrity error")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("evidence store is closed")
)
