// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

// Package prediction integrates the external ML bot classifier. The client
// batches players, enforces per-call timeouts, retries with bounded
// exponential backoff, and sits behind a circuit breaker so a degraded
// classifier never stalls the rest of the pipeline.
package prediction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/metrics"
	"github.com/tomtom215/botwatch/internal/model"
)

const maxResponseBody = 16 << 20

// Prediction pairs a player with one classifier verdict.
type Prediction struct {
	Player model.PlayerID
	Label  model.PredictionLabel
}

// batchRequest is the classifier wire request: one entry per player with
// the feature vector it should be scored against.
type batchRequest struct {
	Players []wireCandidate `json:"players"`
}

type wireCandidate struct {
	PlayerID             string        `json:"player_id"`
	FeatureVector        FeatureVector `json:"feature_vector"`
	FeatureVectorVersion int           `json:"feature_vector_version"`
}

// batchResponse is the classifier wire response.
type batchResponse struct {
	Predictions []wirePrediction `json:"predictions"`
}

type wirePrediction struct {
	PlayerID       string  `json:"player_id"`
	Probability    float64 `json:"probability"`
	ModelVersion   string  `json:"model_version"`
	FeatureVersion int     `json:"feature_version,omitempty"`
}

// Client calls the external classifier service.
type Client struct {
	cfg     config.PredictionConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*batchResponse]
	limiter *rate.Limiter
}

// NewClient creates a classifier client from config.
func NewClient(cfg config.PredictionConfig) *Client {
	settings := gobreaker.Settings{
		Name:        "prediction",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     cfg.BackoffMax,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		// A canceled caller says nothing about upstream health; counting
		// shutdown as failure would trip the breaker open for the restart.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("prediction circuit breaker state changed")
		},
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[*batchResponse](settings),
		limiter: limiter,
	}
}

// Predict classifies one batch of players. Failures after retries surface
// as ErrUpstreamUnavailable; a call that outlives its timeout is abandoned
// and any late result discarded by the transport.
func (c *Client) Predict(ctx context.Context, batch []Candidate) ([]Prediction, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	metrics.PredictionBatchSize.Observe(float64(len(batch)))

	entries := make([]wireCandidate, len(batch))
	byName := make(map[string]model.PlayerID, len(batch))
	for i, cand := range batch {
		id := cand.Player.String()
		entries[i] = wireCandidate{
			PlayerID:             id,
			FeatureVector:        cand.Features,
			FeatureVectorVersion: c.cfg.FeatureVersion,
		}
		byName[id] = cand.Player
	}

	body, err := json.Marshal(batchRequest{Players: entries})
	if err != nil {
		return nil, fmt.Errorf("prediction: marshal batch: %w", err)
	}

	resp, err := c.callWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make([]Prediction, 0, len(resp.Predictions))
	now := time.Now().UTC()
	for _, wp := range resp.Predictions {
		player, ok := byName[wp.PlayerID]
		if !ok {
			logging.Warn().
				Str("player", wp.PlayerID).
				Msg("classifier returned prediction for unrequested player")
			continue
		}
		if wp.Probability < 0 || wp.Probability > 1 {
			logging.Warn().
				Str("player", wp.PlayerID).
				Float64("probability", wp.Probability).
				Msg("classifier returned out-of-range probability")
			continue
		}
		// A classifier that omits the version answered against the
		// features it was sent.
		featureVersion := wp.FeatureVersion
		if featureVersion == 0 {
			featureVersion = c.cfg.FeatureVersion
		}
		out = append(out, Prediction{
			Player: player,
			Label: model.PredictionLabel{
				Probability:    wp.Probability,
				ModelVersion:   wp.ModelVersion,
				FeatureVersion: featureVersion,
				PredictedAt:    now,
			},
		})
	}
	return out, nil
}

// callWithRetry runs one batch call with bounded exponential backoff.
func (c *Client) callWithRetry(ctx context.Context, body []byte) (*batchResponse, error) {
	backoff := c.cfg.BackoffInitial
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		resp, err := c.breaker.Execute(func() (*batchResponse, error) {
			return c.callOnce(ctx, body)
		})
		if err == nil {
			metrics.ObservePredictionCall("ok", start)
			return resp, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.ObservePredictionCall("breaker_open", start)
			// No point retrying while the breaker is open.
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		case errors.Is(err, context.DeadlineExceeded):
			metrics.ObservePredictionCall("timeout", start)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			metrics.ObservePredictionCall("error", start)
		}

		if attempt < c.cfg.MaxAttempts {
			logging.Debug().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("prediction call failed, backing off")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.BackoffMax {
				backoff = c.cfg.BackoffMax
			}
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

// callOnce performs a single HTTP call with the per-call timeout.
func (c *Client) callOnce(ctx context.Context, body []byte) (*batchResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out batchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
