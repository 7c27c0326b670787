// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package hiscore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/botwatch/internal/config"
)

func newPollerAgainst(t *testing.T, body string, status int) (*Poller, *memRecorder) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	snaps := &memSnapshots{}
	rec := &memRecorder{}
	cfg := config.HiscoreConfig{
		SourceURL:         srv.URL,
		RequestTimeout:    5 * time.Second,
		RankJumpThreshold: 100,
	}
	return NewPoller(NewReconciler(snaps, rec, cfg, 0.15), cfg), rec
}

func TestPollOnceSnapshotArray(t *testing.T) {
	body := `[{"leaderboard_id":"overall","captured_at":"2026-08-01T00:00:00Z",` +
		`"entries":[{"name":"zezima","rank":1,"score":100}]}]`
	p, _ := newPollerAgainst(t, body, http.StatusOK)

	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
}

func TestPollOnceSingleObjectFallback(t *testing.T) {
	body := `{"leaderboard_id":"overall","captured_at":"2026-08-01T00:00:00Z",` +
		`"entries":[{"name":"zezima","rank":1,"score":100}]}`
	p, _ := newPollerAgainst(t, body, http.StatusOK)

	if err := p.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
}

func TestPollOnceUpstreamErrors(t *testing.T) {
	t.Run("bad status", func(t *testing.T) {
		p, _ := newPollerAgainst(t, "oops", http.StatusInternalServerError)
		if err := p.pollOnce(context.Background()); err == nil {
			t.Error("Expected error for non-200 response")
		}
	})

	t.Run("undecodable body", func(t *testing.T) {
		p, _ := newPollerAgainst(t, "not json", http.StatusOK)
		if err := p.pollOnce(context.Background()); err == nil {
			t.Error("Expected error for undecodable body")
		}
	})
}
