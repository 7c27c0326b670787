// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/botwatch/internal/metrics"
	"github.com/tomtom215/botwatch/internal/model"
)

// Publisher wraps a Watermill NATS publisher with reconnection handling and
// optional circuit breaker protection.
type Publisher struct {
	publisher      message.Publisher
	circuitBreaker *gobreaker.CircuitBreaker[interface{}]
	mu             sync.RWMutex
	closed         bool
	logger         watermill.LoggerAdapter
}

// NewPublisher creates a JetStream publisher. Message IDs are tracked so the
// duplicate window deduplicates republished appends.
func NewPublisher(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is pre-created by StreamManager
			TrackMsgId:    cfg.EnableTrackMsgID,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &Publisher{
		publisher: pub,
		logger:    logger,
	}, nil
}

// SetCircuitBreaker configures the circuit breaker for publish operations.
func (p *Publisher) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[interface{}]) {
	p.circuitBreaker = cb
}

// Publish sends a message to the given topic. The message UUID doubles as
// the Nats-Msg-Id so JetStream deduplication catches republished appends.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *message.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	if msg.Metadata.Get(natsgo.MsgIdHdr) == "" {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	var err error
	if p.circuitBreaker != nil {
		_, err = p.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, p.publisher.Publish(topic, msg)
		})
	} else {
		err = p.publisher.Publish(topic, msg)
	}

	if err == nil {
		metrics.EventsPublished.WithLabelValues(topic).Inc()
	}

	return err
}

// PublishEvidenceAppended publishes an append notification for a freshly
// written evidence record. The evidence ID keys deduplication.
func (p *Publisher) PublishEvidenceAppended(ctx context.Context, ev *model.Evidence) error {
	payload, err := MarshalEvidenceAppended(&EvidenceAppended{
		EvidenceID: ev.ID,
		Player:     ev.Player,
		Kind:       ev.Kind,
		Seq:        ev.Seq,
		RecordedAt: ev.RecordedAt,
	})
	if err != nil {
		return err
	}

	msg := message.NewMessage(ev.ID, payload)
	msg.Metadata.Set("player", ev.Player.String())
	msg.Metadata.Set("kind", string(ev.Kind))

	return p.Publish(ctx, TopicEvidenceAppended, msg)
}

// PublishVerdictChanged publishes the outcome of an aggregate state swap.
// The revision keys deduplication: each revision is published at most once.
func (p *Publisher) PublishVerdictChanged(ctx context.Context, prev, next *model.AggregateState) error {
	payload, err := MarshalVerdictChanged(&VerdictChanged{
		Player:        next.Player,
		Revision:      next.Revision,
		Score:         next.Score,
		ScoreKnown:    next.ScoreKnown,
		PreviousState: prev.State,
		State:         next.State,
		EvidenceCount: next.EvidenceCount,
		UpdatedAt:     next.UpdatedAt,
	})
	if err != nil {
		return err
	}

	msgID := fmt.Sprintf("%s@%d", next.Player, next.Revision)
	msg := message.NewMessage(msgID, payload)
	msg.Metadata.Set("player", next.Player.String())
	msg.Metadata.Set("state", string(next.State))

	return p.Publish(ctx, TopicVerdictChanged, msg)
}

// Close gracefully shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	return p.publisher.Close()
}

// WatermillPublisher returns the underlying Watermill publisher, for
// components that need the native interface such as the poison queue.
func (p *Publisher) WatermillPublisher() message.Publisher {
	return p.publisher
}
