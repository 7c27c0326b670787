// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package websocket

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/botwatch/internal/events"
	"github.com/tomtom215/botwatch/internal/logging"
)

// VerdictSource is the slice of the event subscriber the bridge needs.
type VerdictSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// VerdictSubscriber bridges verdict-changed events from the bus into the
// hub. It runs as its own supervised service so a broken subscription
// restarts without touching connected clients.
type VerdictSubscriber struct {
	source VerdictSource
	hub    *Hub
}

// NewVerdictSubscriber creates the bridge.
func NewVerdictSubscriber(source VerdictSource, hub *Hub) *VerdictSubscriber {
	return &VerdictSubscriber{source: source, hub: hub}
}

// RunWithContext consumes verdict events until the context is canceled.
// Undecodable payloads are acked and dropped: replaying them cannot help,
// and the durable state is unaffected.
func (s *VerdictSubscriber) RunWithContext(ctx context.Context) error {
	messages, err := s.source.Subscribe(ctx, events.TopicVerdictChanged)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", events.TopicVerdictChanged, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			verdict, err := events.UnmarshalVerdictChanged(msg.Payload)
			if err != nil {
				logging.Warn().
					Err(err).
					Str("message_uuid", msg.UUID).
					Msg("dropping undecodable verdict event")
				msg.Ack()
				continue
			}

			s.hub.BroadcastVerdict(verdict)
			msg.Ack()
		}
	}
}
