// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package store

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/botwatch/internal/logging"
)

// RunGC runs badger value-log garbage collection on the configured interval
// until the context is canceled. Designed for suture supervision; returns
// ctx.Err() on normal shutdown.
//
// GC only reclaims space from rewritten value-log segments (state updates);
// evidence records are never deleted, so the log itself is untouched.
func (s *Store) RunGC(ctx context.Context) error {
	if s.cfg.Path == "" || s.cfg.GCInterval <= 0 {
		// In-memory store or GC disabled: just wait for shutdown.
		<-ctx.Done()
		return ctx.Err()
	}

	logging.Info().
		Dur("interval", s.cfg.GCInterval).
		Float64("discard_ratio", s.cfg.GCDiscardRatio).
		Msg("evidence store GC started")

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("evidence store GC stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runGCOnce()
		}
	}
}

// runGCOnce runs value-log GC until badger reports nothing left to rewrite.
func (s *Store) runGCOnce() {
	if err := s.checkOpen(); err != nil {
		return
	}

	for {
		err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return
		}
		if err != nil {
			logging.Err(err).Msg("value log GC")
			return
		}
	}
}
