// Botwatch - Crowd-Sourced Player Bot Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/botwatch

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/botwatch/internal/config"
	"github.com/tomtom215/botwatch/internal/hiscore"
	"github.com/tomtom215/botwatch/internal/ingest"
	"github.com/tomtom215/botwatch/internal/logging"
	"github.com/tomtom215/botwatch/internal/metrics"
	"github.com/tomtom215/botwatch/internal/model"
	"github.com/tomtom215/botwatch/internal/store"
	"github.com/tomtom215/botwatch/internal/validation"
	"github.com/tomtom215/botwatch/internal/websocket"
)

// maxRequestBody bounds one ingestion request. Hiscore snapshots are the
// largest payloads.
const maxRequestBody = 32 << 20

// Handler holds the dependencies for all HTTP endpoints.
type Handler struct {
	normalizer *ingest.Normalizer
	recorder   *ingest.Recorder
	reconciler *hiscore.Reconciler
	store      *store.Store
	hub        *websocket.Hub
	cfg        config.APIConfig
}

// NewHandler creates the endpoint handler. hub may be nil, which disables
// the websocket endpoint.
func NewHandler(
	normalizer *ingest.Normalizer,
	recorder *ingest.Recorder,
	reconciler *hiscore.Reconciler,
	st *store.Store,
	hub *websocket.Hub,
	cfg config.APIConfig,
) *Handler {
	return &Handler{
		normalizer: normalizer,
		recorder:   recorder,
		reconciler: reconciler,
		store:      st,
		hub:        hub,
		cfg:        cfg,
	}
}

// sightingResponse acknowledges one accepted sighting.
type sightingResponse struct {
	EvidenceID string         `json:"evidence_id"`
	Player     model.PlayerID `json:"player"`
	Seq        uint64         `json:"seq"`
}

// Sighting handles POST /api/v1/sightings: one report per call, normalized
// then appended. Rejections return the machine-readable reason; an accepted
// report returns 202 because the verdict recomputes asynchronously.
func (h *Handler) Sighting(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var raw ingest.RawReport
	if err := decodeBody(r, &raw); err != nil {
		metrics.SightingsRejected.WithLabelValues(string(ingest.ReasonMalformedReport)).Inc()
		rw.BadRequest(fmt.Sprintf("decode report: %v", err))
		return
	}

	report, err := h.normalizer.Normalize(raw)
	if err != nil {
		var rej *ingest.RejectionError
		if errors.As(err, &rej) {
			metrics.SightingsRejected.WithLabelValues(string(rej.Reason)).Inc()
			rw.ValidationFailed(rej.Error(), map[string]string{"reason": string(rej.Reason)})
			return
		}
		rw.InternalError("normalize report")
		return
	}

	ev, err := h.recorder.RecordSighting(r.Context(), &report)
	if err != nil {
		logging.Error().Err(err).Str("reporter", report.ReporterID).Msg("sighting append failed")
		rw.InternalError("store sighting")
		return
	}

	metrics.SightingsAccepted.Inc()
	rw.Accepted(sightingResponse{
		EvidenceID: ev.ID,
		Player:     ev.Player,
		Seq:        ev.Seq,
	})
}

// Hiscores handles POST /api/v1/hiscores: one pushed leaderboard snapshot.
// Duplicates are acknowledged without effect.
func (h *Handler) Hiscores(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var snap hiscore.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		rw.BadRequest(fmt.Sprintf("decode snapshot: %v", err))
		return
	}
	if err := validation.ValidateStruct(&snap); err != nil {
		rw.ValidationFailed("invalid snapshot", validationDetail(err))
		return
	}

	result, err := h.reconciler.Ingest(r.Context(), &snap)
	if err != nil {
		logging.Error().Err(err).Str("leaderboard", snap.LeaderboardID).Msg("snapshot reconcile failed")
		rw.InternalError("reconcile snapshot")
		return
	}

	rw.Accepted(result)
}

// overrideRequest is one moderator decision.
type overrideRequest struct {
	PlayerName  string `json:"player_name" validate:"required,playername"`
	ModeratorID string `json:"moderator_id" validate:"required,reporterid"`
	TargetState string `json:"target_state" validate:"required"`
	Reason      string `json:"reason,omitempty" validate:"max=512"`
}

// Override handles POST /api/v1/overrides. Overrides are evidence like any
// other: nothing ever rewrites the log, so every decision stays auditable.
func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req overrideRequest
	if err := decodeBody(r, &req); err != nil {
		rw.BadRequest(fmt.Sprintf("decode override: %v", err))
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		rw.ValidationFailed("invalid override", validationDetail(err))
		return
	}

	target := model.BanState(req.TargetState)
	if !target.Valid() {
		rw.ValidationFailed("invalid override", fmt.Sprintf("unknown target state %q", req.TargetState))
		return
	}

	ev, err := h.recorder.RecordOverride(r.Context(), req.PlayerName, model.ModeratorOverride{
		ModeratorID: req.ModeratorID,
		TargetState: target,
		Reason:      req.Reason,
	})
	if err != nil {
		logging.Error().Err(err).Str("moderator", req.ModeratorID).Msg("override append failed")
		rw.InternalError("store override")
		return
	}

	logging.Info().
		Str("moderator", req.ModeratorID).
		Str("player", ev.Player.String()).
		Str("target_state", string(target)).
		Msg("moderator override recorded")
	rw.Accepted(sightingResponse{
		EvidenceID: ev.ID,
		Player:     ev.Player,
		Seq:        ev.Seq,
	})
}

// stateResponse is the aggregate verdict read model.
type stateResponse struct {
	Player        model.PlayerID `json:"player"`
	DisplayName   string         `json:"display_name"`
	State         model.BanState `json:"state"`
	Score         *float64       `json:"score,omitempty"`
	EvidenceCount int            `json:"evidence_count"`
	Revision      uint64         `json:"revision"`
	UpdatedAt     interface{}    `json:"updated_at,omitempty"`
}

// PlayerState handles GET /api/v1/players/{name}/state. A player with no
// scoring evidence reports no score at all rather than a fabricated
// neutral value.
func (h *Handler) PlayerState(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	player, ok := h.lookupPlayer(rw, r)
	if !ok {
		return
	}

	state, err := h.store.GetState(r.Context(), player.ID)
	if err != nil {
		logging.Error().Err(err).Str("player", player.ID.String()).Msg("state read failed")
		rw.InternalError("read state")
		return
	}

	resp := stateResponse{
		Player:        state.Player,
		DisplayName:   player.DisplayName,
		State:         state.State,
		EvidenceCount: state.EvidenceCount,
		Revision:      state.Revision,
	}
	if state.ScoreKnown {
		score := state.Score
		resp.Score = &score
	}
	if !state.UpdatedAt.IsZero() {
		resp.UpdatedAt = state.UpdatedAt
	}

	rw.Success(resp)
}

// PlayerEvidence handles GET /api/v1/players/{name}/evidence with cursor
// paging over the append-only log.
func (h *Handler) PlayerEvidence(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	player, ok := h.lookupPlayer(rw, r)
	if !ok {
		return
	}

	cursor, err := parseUintParam(r, "cursor", 0)
	if err != nil {
		rw.BadRequest("invalid cursor")
		return
	}
	limit, err := parseIntParam(r, "limit", h.cfg.DefaultPageSize)
	if err != nil || limit <= 0 {
		rw.BadRequest("invalid limit")
		return
	}
	if limit > h.cfg.MaxPageSize {
		limit = h.cfg.MaxPageSize
	}

	// Read one extra record to detect a further page.
	records, err := h.store.ReadSince(r.Context(), player.ID, cursor, limit+1)
	if err != nil {
		logging.Error().Err(err).Str("player", player.ID.String()).Msg("evidence read failed")
		rw.InternalError("read evidence")
		return
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	pagination := &PaginationMeta{
		Count:   len(records),
		Limit:   limit,
		HasMore: hasMore,
	}
	if hasMore {
		pagination.NextCursor = strconv.FormatUint(records[len(records)-1].Seq, 10)
	}

	rw.SuccessWithPagination(records, pagination)
}

// WebSocket handles GET /api/v1/ws, upgrading to the verdict stream.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		NewResponseWriter(w, r).Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "verdict stream disabled")
		return
	}
	websocket.ServeWS(h.hub, w, r)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// lookupPlayer resolves the {name} path parameter to a known player.
func (h *Handler) lookupPlayer(rw *ResponseWriter, r *http.Request) (*model.Player, bool) {
	name := ingest.CanonicalName(chi.URLParam(r, "name"))
	if name == "" {
		rw.BadRequest("invalid player name")
		return nil, false
	}

	player, err := h.store.LookupPlayer(r.Context(), name)
	if errors.Is(err, store.ErrPlayerNotFound) {
		rw.NotFound(fmt.Sprintf("player %q not known", name))
		return nil, false
	}
	if err != nil {
		logging.Error().Err(err).Str("name", name).Msg("player lookup failed")
		rw.InternalError("lookup player")
		return nil, false
	}
	return player, true
}

// decodeBody decodes a JSON request body with a size cap.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	return dec.Decode(dst)
}

// validationDetail extracts the first field failure for the error body.
func validationDetail(err error) interface{} {
	var ve *validation.RequestValidationError
	if errors.As(err, &ve) {
		if first := ve.First(); first != nil {
			return map[string]string{
				"field":   first.Field(),
				"message": first.Error(),
			}
		}
	}
	return err.Error()
}

func parseUintParam(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
