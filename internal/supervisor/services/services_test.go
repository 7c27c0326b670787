// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package services

import (
	"context"
	"errors"
	"testing"
)

type fakeRunner struct {
	called bool
	err    error
}

func (f *fakeRunner) RunWithContext(_ context.Context) error {
	f.called = true
	return f.err
}

func TestService(t *testing.T) {
	errRun := errors.New("run failed")
	runner := &fakeRunner{err: errRun}
	svc := New("evidence-gc", runner)

	if got := svc.String(); got != "evidence-gc" {
		t.Errorf("String() = %q, want evidence-gc", got)
	}
	if err := svc.Serve(context.Background()); !errors.Is(err, errRun) {
		t.Errorf("Serve() = %v, want wrapped runner error", err)
	}
	if !runner.called {
		t.Error("Serve did not invoke the runner")
	}
}

func TestFuncService(t *testing.T) {
	var gotCtx context.Context
	svc := NewFunc("event-router", func(ctx context.Context) error {
		gotCtx = ctx
		return nil
	})

	if got := svc.String(); got != "event-router" {
		t.Errorf("String() = %q, want event-router", got)
	}

	ctx := context.WithValue(context.Background(), struct{}{}, "marker")
	if err := svc.Serve(ctx); err != nil {
		t.Errorf("Serve() = %v, want nil", err)
	}
	if gotCtx != ctx {
		t.Error("Serve did not pass the context through")
	}
}
