// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package banstate

import (
	"errors"
	"testing"

	"github.com/tomtom215/botwatch/internal/model"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		name     string
		current  model.BanState
		proposed model.BanState
		want     model.BanState
	}{
		{"unknown to suspicious", model.StateUnknown, model.StateSuspicious, model.StateSuspicious},
		{"unknown to banned", model.StateUnknown, model.StateBanned, model.StateBanned},
		{"suspicious to confirmed", model.StateSuspicious, model.StateConfirmedBot, model.StateConfirmedBot},
		{"confirmed to banned", model.StateConfirmedBot, model.StateBanned, model.StateBanned},
		{"no downgrade to unknown", model.StateConfirmedBot, model.StateUnknown, model.StateConfirmedBot},
		{"no downgrade to suspicious", model.StateConfirmedBot, model.StateSuspicious, model.StateConfirmedBot},
		{"same severity unchanged", model.StateSuspicious, model.StateSuspicious, model.StateSuspicious},
		{"banned ignores proposals", model.StateBanned, model.StateConfirmedBot, model.StateBanned},
		{"cleared ignores proposals", model.StateCleared, model.StateBanned, model.StateCleared},
		{"cleared cannot be proposed", model.StateSuspicious, model.StateCleared, model.StateSuspicious},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Advance(tt.current, tt.proposed)
			if err != nil {
				t.Fatalf("Advance(%s, %s) unexpected error: %v", tt.current, tt.proposed, err)
			}
			if got != tt.want {
				t.Errorf("Advance(%s, %s) = %s, want %s", tt.current, tt.proposed, got, tt.want)
			}
		})
	}
}

func TestAdvanceInvalidStates(t *testing.T) {
	t.Run("invalid current", func(t *testing.T) {
		_, err := Advance(model.BanState("bogus"), model.StateSuspicious)
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("invalid proposed", func(t *testing.T) {
		_, err := Advance(model.StateUnknown, model.BanState("bogus"))
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("invalid current preserved in result", func(t *testing.T) {
		got, _ := Advance(model.BanState("bogus"), model.StateSuspicious)
		if got != model.BanState("bogus") {
			t.Errorf("Expected current state returned on error, got %s", got)
		}
	})
}

func TestApplyOverride(t *testing.T) {
	tests := []struct {
		name    string
		current model.BanState
		target  model.BanState
	}{
		{"leave banned", model.StateBanned, model.StateCleared},
		{"leave cleared", model.StateCleared, model.StateUnknown},
		{"downgrade confirmed", model.StateConfirmedBot, model.StateUnknown},
		{"direct ban", model.StateUnknown, model.StateBanned},
		{"clear suspicious", model.StateSuspicious, model.StateCleared},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyOverride(tt.current, tt.target)
			if err != nil {
				t.Fatalf("ApplyOverride(%s, %s) unexpected error: %v", tt.current, tt.target, err)
			}
			if got != tt.target {
				t.Errorf("ApplyOverride(%s, %s) = %s, want %s", tt.current, tt.target, got, tt.target)
			}
		})
	}

	t.Run("invalid target rejected", func(t *testing.T) {
		got, err := ApplyOverride(model.StateBanned, model.BanState("bogus"))
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
		if got != model.StateBanned {
			t.Errorf("Expected state unchanged on invalid override, got %s", got)
		}
	})
}
