// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package banstate implements the verdict lifecycle state machine.
//
// Automatic (score-driven) transitions only ever move toward confirmed_bot
// and banned; they never downgrade. The asymmetry is deliberate: a missed bot
// self-corrects as more evidence arrives, while a silently reversed false
// positive would undermine auditability. Downgrades, including leaving the
// terminal banned and cleared states, require a moderator override recorded
// as privileged evidence.
package banstate

import (
	"errors"
	"fmt"

	"github.com/tomtom215/botwatch/internal/model"
)

// ErrInvalidState marks a transition involving a state outside the
// enumeration. This is an integrity failure: it halts processing for the
// affected player and is surfaced for operator intervention.
var ErrInvalidState = errors.New("invalid ban state")

// severity orders the escalation ladder for automatic transitions.
// cleared is deliberately absent: it is unreachable by score.
var severity = map[model.BanState]int{
	model.StateUnknown:      0,
	model.StateSuspicious:   1,
	model.StateConfirmedBot: 2,
	model.StateBanned:       3,
}

// Advance applies a score-driven proposal to the current state and returns
// the resulting state. The proposal is clamped by the one-directional rule:
//
//   - terminal states (banned, cleared) ignore automatic proposals entirely
//   - a proposal at or below the current severity leaves the state unchanged
//   - cleared can never be proposed automatically
//
// A state outside the enumeration returns ErrInvalidState.
func Advance(current, proposed model.BanState) (model.BanState, error) {
	if !current.Valid() {
		return current, fmt.Errorf("%w: current %q", ErrInvalidState, current)
	}
	if !proposed.Valid() {
		return current, fmt.Errorf("%w: proposed %q", ErrInvalidState, proposed)
	}

	if current.Terminal() {
		return current, nil
	}

	curSev, ok := severity[current]
	if !ok {
		// cleared is terminal and handled above; anything else is a bug.
		return current, fmt.Errorf("%w: current %q has no severity", ErrInvalidState, current)
	}
	propSev, ok := severity[proposed]
	if !ok {
		// Automatic path cannot propose cleared.
		return current, nil
	}

	if propSev <= curSev {
		return current, nil
	}
	return proposed, nil
}

// ApplyOverride applies a moderator override, the privileged path that can
// set any valid state, including leaving banned or cleared.
func ApplyOverride(current, target model.BanState) (model.BanState, error) {
	if !current.Valid() {
		return current, fmt.Errorf("%w: current %q", ErrInvalidState, current)
	}
	if !target.Valid() {
		return current, fmt.Errorf("%w: override target %q", ErrInvalidState, target)
	}
	return target, nil
}
