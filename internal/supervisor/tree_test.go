// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// mockService counts starts and can fail a configured number of times
// before running until canceled.
type mockService struct {
	name       string
	starts     atomic.Int32
	failsLeft  atomic.Int32
	serveDelay time.Duration
}

func newMockService(name string) *mockService {
	return &mockService{name: name}
}

func (m *mockService) Serve(ctx context.Context) error {
	m.starts.Add(1)
	if m.failsLeft.Add(-1) >= 0 {
		time.Sleep(m.serveDelay)
		return errors.New(m.name + " induced failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewTree(t *testing.T) {
	t.Run("builds three layers", func(t *testing.T) {
		tree, err := NewTree(testLogger(), DefaultTreeConfig())
		if err != nil {
			t.Fatalf("NewTree: %v", err)
		}
		if tree.root == nil || tree.data == nil || tree.messaging == nil || tree.api == nil {
			t.Error("tree has nil supervisors")
		}
	})

	t.Run("zero config gets defaults", func(t *testing.T) {
		tree, err := NewTree(testLogger(), TreeConfig{})
		if err != nil {
			t.Fatalf("NewTree: %v", err)
		}
		if tree.config.FailureThreshold != 5.0 {
			t.Errorf("FailureThreshold = %f, want 5.0", tree.config.FailureThreshold)
		}
		if tree.config.FailureDecay != 30.0 {
			t.Errorf("FailureDecay = %f, want 30.0", tree.config.FailureDecay)
		}
		if tree.config.FailureBackoff != 15*time.Second {
			t.Errorf("FailureBackoff = %v, want 15s", tree.config.FailureBackoff)
		}
		if tree.config.ShutdownTimeout != 10*time.Second {
			t.Errorf("ShutdownTimeout = %v, want 10s", tree.config.ShutdownTimeout)
		}
	})
}

func TestTreeLifecycle(t *testing.T) {
	tree, err := NewTree(testLogger(), TreeConfig{
		FailureBackoff:  100 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	dataSvc := newMockService("mock-store-gc")
	msgSvc := newMockService("mock-router")
	apiSvc := newMockService("mock-http")
	tree.AddDataService(dataSvc)
	tree.AddMessagingService(msgSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down")
	}

	if dataSvc.starts.Load() < 1 {
		t.Error("data service never started")
	}
	if msgSvc.starts.Load() < 1 {
		t.Error("messaging service never started")
	}
	if apiSvc.starts.Load() < 1 {
		t.Error("api service never started")
	}
}

func TestFailingServiceIsRestarted(t *testing.T) {
	tree, err := NewTree(testLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	failing := newMockService("failing")
	failing.failsLeft.Store(2)
	stable := newMockService("stable")

	tree.AddMessagingService(failing)
	tree.AddAPIService(stable)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go func() { _ = tree.Serve(ctx) }()
	time.Sleep(250 * time.Millisecond)

	if got := failing.starts.Load(); got < 3 {
		t.Errorf("failing service starts = %d, want at least 3", got)
	}
	if stable.starts.Load() < 1 {
		t.Error("a failure in one layer stopped the api layer")
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %f, want 5.0", cfg.FailureThreshold)
	}
	if cfg.FailureBackoff != 15*time.Second {
		t.Errorf("FailureBackoff = %v, want 15s", cfg.FailureBackoff)
	}
}
