// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package validation

import (
	"errors"
	"testing"
)

type sightingFixture struct {
	ReporterID     string `validate:"required,reporterid"`
	PlayerName     string `validate:"required,playername"`
	SuspicionLabel string `validate:"required,suspicion"`
}

func validFixture() sightingFixture {
	return sightingFixture{
		ReporterID:     "plugin-1.2:abc",
		PlayerName:     "Bot_Hunter",
		SuspicionLabel: "likely_bot",
	}
}

func TestValidateStructValid(t *testing.T) {
	f := validFixture()
	if err := ValidateStruct(&f); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidateStructFieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*sightingFixture)
		wantTag string
	}{
		{"missing reporter", func(f *sightingFixture) { f.ReporterID = "" }, "required"},
		{"reporter bad charset", func(f *sightingFixture) { f.ReporterID = "has spaces!" }, "reporterid"},
		{"player name too long", func(f *sightingFixture) { f.PlayerName = "thirteenchars" }, "playername"},
		{"player name bad rune", func(f *sightingFixture) { f.PlayerName = "zezïma" }, "playername"},
		{"unknown label", func(f *sightingFixture) { f.SuspicionLabel = "definitely_bot" }, "suspicion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFixture()
			tt.mutate(&f)

			err := ValidateStruct(&f)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			var ve *RequestValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected *RequestValidationError, got %T", err)
			}
			if ve.First() == nil {
				t.Fatal("Expected at least one field error")
			}
			if ve.First().Tag() != tt.wantTag {
				t.Errorf("First().Tag() = %q, want %q", ve.First().Tag(), tt.wantTag)
			}
		})
	}
}

func TestPlayerNameBoundaries(t *testing.T) {
	valid := []string{"a", "Zezima", "bot hunter", "a-b_c", "123456789012"}
	for _, name := range valid {
		f := validFixture()
		f.PlayerName = name
		if err := ValidateStruct(&f); err != nil {
			t.Errorf("Expected %q to validate, got %v", name, err)
		}
	}
}
