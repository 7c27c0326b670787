// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package validation provides struct validation using go-playground/validator
// v10. It exposes a thread-safe singleton validator with custom rules for
// application-specific formats:
//
//   - "playername": observed player display name (1-12 chars, letters,
//     digits, spaces, underscores, hyphens)
//   - "suspicion": member of the fixed suspicion label set
//   - "reporterid": well-formed reporter identifier
//
// Example:
//
//	type SightingRequest struct {
//	    ReporterID string `validate:"required,reporterid"`
//	    PlayerName string `validate:"required,playername"`
//	}
//	if err := validation.ValidateStruct(&req); err != nil { ... }
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Player display names: 1-12 of letters, digits, and the three separator
// characters the game treats as interchangeable.
var playerNameRe = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,12}$`)

// Reporter IDs: plugin-issued identifiers, conservative charset.
var reporterIDRe = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// suspicionLabels is the fixed enumerated set accepted from reporters.
var suspicionLabels = map[string]struct{}{
	"likely_bot":  {},
	"likely_real": {},
	"unknown":     {},
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	field   string
	tag     string
	message string
}

// Field returns the struct field name that failed validation.
func (e *ValidationError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *ValidationError) Tag() string { return e.tag }

// Error returns a human-readable error message.
func (e *ValidationError) Error() string { return e.message }

// RequestValidationError is a collection of field validation errors.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the individual field errors.
func (ve *RequestValidationError) Errors() []ValidationError { return ve.errors }

// Error joins the field messages.
func (ve *RequestValidationError) Error() string {
	msgs := make([]string, len(ve.errors))
	for i, e := range ve.errors {
		msgs[i] = e.message
	}
	return strings.Join(msgs, "; ")
}

// First returns the first field error, or nil.
func (ve *RequestValidationError) First() *ValidationError {
	if len(ve.errors) == 0 {
		return nil
	}
	return &ve.errors[0]
}

// getValidator returns the singleton, initializing custom validators once.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Registration only fails for empty tag names.
		_ = validate.RegisterValidation("playername", func(fl validator.FieldLevel) bool {
			return playerNameRe.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("reporterid", func(fl validator.FieldLevel) bool {
			return reporterIDRe.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("suspicion", func(fl validator.FieldLevel) bool {
			_, ok := suspicionLabels[fl.Field().String()]
			return ok
		})
	})
	return validate
}

// ValidateStruct validates a struct using its validate tags.
// Returns *RequestValidationError on failure, nil on success.
func ValidateStruct(s interface{}) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("validation setup error: %w", err)
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	ve := &RequestValidationError{}
	for _, fe := range verrs {
		ve.errors = append(ve.errors, ValidationError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			message: fieldMessage(fe),
		})
	}
	return ve
}

// fieldMessage converts one field error to a readable message.
func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "playername":
		return fmt.Sprintf("%s is not a valid player name", fe.Field())
	case "reporterid":
		return fmt.Sprintf("%s is not a well-formed reporter id", fe.Field())
	case "suspicion":
		return fmt.Sprintf("%s is not a recognized suspicion label", fe.Field())
	case "max":
		return fmt.Sprintf("%s exceeds maximum %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s is below minimum %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
