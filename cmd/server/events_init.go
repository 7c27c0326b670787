// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/tomtom215/botwatch/internal/aggregate"
	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/events"
	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/store"
)

// EventsComponents holds the event pipeline for lifecycle management: the
// optional embedded NATS server, the JetStream stream, the publisher, the
// aggregation router, and the subscribers feeding it.
type EventsComponents struct {
	server             *events.EmbeddedServer
	natsConn           *natsgo.Conn
	streams            *events.StreamManager
	publisher          *events.Publisher
	router             *events.Router
	evidenceSubscriber *events.Subscriber
	verdictSubscriber  *events.Subscriber

	mu      sync.Mutex
	stopped bool
}

// InitEvents brings up the event pipeline: embedded server (optional),
// connection, stream provisioning, publisher with circuit breaker, and the
// aggregation router consuming evidence triggers. The returned components
// are wired but not running; the router is started by the supervisor.
func InitEvents(cfg *config.Config, st *store.Store) (*EventsComponents, error) {
	components := &EventsComponents{}
	wmLogger := events.NewLoggerAdapter()

	var natsURL string
	if cfg.NATS.EmbeddedServer {
		serverCfg := events.DefaultServerConfig()
		if cfg.NATS.StoreDir != "" {
			serverCfg.StoreDir = cfg.NATS.StoreDir
		}
		if cfg.NATS.MaxMemory > 0 {
			serverCfg.JetStreamMaxMem = cfg.NATS.MaxMemory
		}
		if cfg.NATS.MaxStore > 0 {
			serverCfg.JetStreamMaxStore = cfg.NATS.MaxStore
		}

		server, err := events.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS server: %w", err)
		}
		components.server = server
		natsURL = server.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	} else {
		natsURL = cfg.NATS.URL
		logging.Info().Str("url", natsURL).Msg("Using external NATS server")
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	components.natsConn = nc

	streamCfg := events.DefaultStreamConfig()
	if cfg.NATS.StreamName != "" {
		streamCfg.Name = cfg.NATS.StreamName
	}
	streams, err := events.NewStreamManager(nc, &streamCfg)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create stream manager: %w", err)
	}
	components.streams = streams

	stream, err := streams.EnsureStream(context.Background())
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("ensure stream exists: %w", err)
	}
	streamInfo := stream.CachedInfo()
	logging.Info().
		Str("name", streamInfo.Config.Name).
		Strs("subjects", streamInfo.Config.Subjects).
		Dur("max_age", streamInfo.Config.MaxAge).
		Msg("JetStream stream ready")

	publisher, err := events.NewPublisher(events.DefaultPublisherConfig(natsURL), wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	publisher.SetCircuitBreaker(events.NewCircuitBreaker(events.DefaultBreakerConfig("event-publish")))
	components.publisher = publisher

	// Evidence consumer: durable queue-group subscription so recomputation
	// survives restarts and spreads across replicas.
	evidenceCfg := events.DefaultSubscriberConfig(natsURL)
	evidenceCfg.StreamName = streamCfg.Name
	if cfg.NATS.DurableName != "" {
		evidenceCfg.DurableName = cfg.NATS.DurableName
	}
	if cfg.NATS.QueueGroup != "" {
		evidenceCfg.QueueGroup = cfg.NATS.QueueGroup
	}
	evidenceSub, err := events.NewSubscriber(&evidenceCfg, wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create evidence subscriber: %w", err)
	}
	components.evidenceSubscriber = evidenceSub

	routerCfg := events.DefaultRouterConfig()
	if cfg.NATS.RouterRetryCount > 0 {
		routerCfg.RetryMaxRetries = cfg.NATS.RouterRetryCount
	}
	if cfg.NATS.RouterRetryInitialInterval > 0 {
		routerCfg.RetryInitialInterval = cfg.NATS.RouterRetryInitialInterval
	}
	if cfg.NATS.RouterRetryMaxInterval > 0 {
		routerCfg.RetryMaxInterval = cfg.NATS.RouterRetryMaxInterval
	}
	if cfg.NATS.RouterPoisonQueueTopic != "" {
		routerCfg.PoisonQueueTopic = cfg.NATS.RouterPoisonQueueTopic
	}
	if cfg.NATS.RouterCloseTimeout > 0 {
		routerCfg.CloseTimeout = cfg.NATS.RouterCloseTimeout
	}

	router, err := events.NewRouter(&routerCfg, publisher.WatermillPublisher(), wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create router: %w", err)
	}
	components.router = router

	aggregator := aggregate.New(st, cfg.Scoring, cfg.Prediction.FeatureVersion,
		aggregate.WithPublisher(publisher))
	router.AddConsumerHandler(
		aggregate.HandlerName,
		events.TopicEvidenceAppended,
		evidenceSub.WatermillSubscriber(),
		aggregate.NewEvidenceHandler(aggregator),
	)
	logging.Info().
		Str("handler", aggregate.HandlerName).
		Str("topic", events.TopicEvidenceAppended).
		Str("durable", evidenceCfg.DurableName).
		Msg("Evidence aggregation handler registered")

	// Verdict fanout: separate durable without a queue group so every node
	// sees every verdict for its own websocket clients.
	verdictCfg := events.DefaultSubscriberConfig(natsURL)
	verdictCfg.StreamName = streamCfg.Name
	verdictCfg.DurableName = evidenceCfg.DurableName + "-fanout"
	verdictCfg.QueueGroup = ""
	verdictCfg.SubscribersCount = 1
	verdictSub, err := events.NewSubscriber(&verdictCfg, wmLogger)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create verdict subscriber: %w", err)
	}
	components.verdictSubscriber = verdictSub

	return components, nil
}

// Publisher returns the evidence/verdict publisher.
func (c *EventsComponents) Publisher() *events.Publisher {
	return c.publisher
}

// Router returns the aggregation router for supervision.
func (c *EventsComponents) Router() *events.Router {
	return c.router
}

// VerdictSource returns the subscriber feeding websocket fanout.
func (c *EventsComponents) VerdictSource() *events.Subscriber {
	return c.verdictSubscriber
}

// Shutdown stops the pipeline in consume-to-produce order: router first so
// no handler is mid-message, then subscribers, publisher, connection, and
// finally the embedded server.
func (c *EventsComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	if c.router != nil {
		if err := c.router.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing router")
		}
	}
	if c.evidenceSubscriber != nil {
		if err := c.evidenceSubscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing evidence subscriber")
		}
	}
	if c.verdictSubscriber != nil {
		if err := c.verdictSubscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing verdict subscriber")
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}
	if c.natsConn != nil {
		c.natsConn.Close()
	}
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
		}
	}
	logging.Info().Msg("Event pipeline stopped")
}
