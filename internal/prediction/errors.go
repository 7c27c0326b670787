// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package prediction

import "errors"

// ErrUpstreamUnavailable marks classifier failures after retries and
// breaker checks. The pipeline degrades to sighting and hiscore evidence
// only; it never blocks on the classifier.
var ErrUpstreamUnavailable = errors.New("prediction service unavailable")
