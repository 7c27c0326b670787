// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package services wraps pipeline components as suture services. Each
// wrapper adapts a RunWithContext-style component behind a small interface
// so the supervisor never imports the component packages directly.
package services

import "context"

// Runner is any long-running component with context-bound lifecycle.
//
// Satisfied by the store GC loop, websocket hub, verdict subscriber,
// hiscore poller, prediction loop, and HTTP server.
type Runner interface {
	RunWithContext(ctx context.Context) error
}

// Service adapts a Runner into a named suture.Service.
type Service struct {
	runner Runner
	name   string
}

// New wraps a runner with a service name for supervisor logs.
func New(name string, runner Runner) *Service {
	return &Service{runner: runner, name: name}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *Service) String() string {
	return s.name
}

// FuncService adapts a bare run function, for components whose entry point
// is not named RunWithContext (the event router, embedded broker shutdown).
type FuncService struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFunc wraps a run function with a service name.
func NewFunc(name string, fn func(ctx context.Context) error) *FuncService {
	return &FuncService{name: name, fn: fn}
}

// Serve implements suture.Service.
func (s *FuncService) Serve(ctx context.Context) error {
	return s.fn(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *FuncService) String() string {
	return s.name
}
