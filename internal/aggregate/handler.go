// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package aggregate

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/botwatch/internal/events"
	"github.com/tomtom215/botwatch/internal/logging"
)

// HandlerName identifies the aggregation consumer on the router.
const HandlerName = "evidence-aggregator"

// NewEvidenceHandler returns the router handler that triggers aggregation
// for the player named in each evidence-appended event. A malformed payload
// is a permanent failure and belongs in the poison queue, so the error is
// returned rather than swallowed.
func NewEvidenceHandler(agg *Aggregator) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ev, err := events.UnmarshalEvidenceAppended(msg.Payload)
		if err != nil {
			return fmt.Errorf("decode evidence appended %s: %w", msg.UUID, err)
		}

		logging.Debug().
			Str("player", ev.Player.String()).
			Str("kind", string(ev.Kind)).
			Uint64("seq", ev.Seq).
			Msg("aggregation triggered")

		return agg.ProcessPlayer(msg.Context(), ev.Player)
	}
}
