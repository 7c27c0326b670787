// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package hiscore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/logging"
)

// maxSnapshotBody bounds one poll response read.
const maxSnapshotBody = 64 << 20

// Poller periodically fetches leaderboard snapshots from the external
// scraper endpoint and feeds them through the reconciler. Push ingestion via
// the API works independently of the poller.
type Poller struct {
	reconciler *Reconciler
	cfg        config.HiscoreConfig
	client     *http.Client
}

// NewPoller creates a Poller.
func NewPoller(reconciler *Reconciler, cfg config.HiscoreConfig) *Poller {
	return &Poller{
		reconciler: reconciler,
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// RunWithContext polls until the context is canceled. A failed poll is
// logged and retried on the next tick; the reconciler's duplicate detection
// makes overlapping captures harmless.
func (p *Poller) RunWithContext(ctx context.Context) error {
	if p.cfg.SourceURL == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				logging.Warn().
					Err(err).
					Str("url", p.cfg.SourceURL).
					Msg("hiscore poll failed")
			}
		}
	}
}

// pollOnce fetches and reconciles one batch of snapshots.
func (p *Poller) pollOnce(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.cfg.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch snapshots: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch snapshots: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBody))
	if err != nil {
		return fmt.Errorf("read snapshot body: %w", err)
	}

	var snaps []Snapshot
	if err := json.Unmarshal(body, &snaps); err != nil {
		// Some scrapers serve a single snapshot object.
		var single Snapshot
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return fmt.Errorf("decode snapshots: %w", err)
		}
		snaps = []Snapshot{single}
	}

	for i := range snaps {
		if _, err := p.reconciler.Ingest(ctx, &snaps[i]); err != nil {
			return err
		}
	}
	return nil
}
