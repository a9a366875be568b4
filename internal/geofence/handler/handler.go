package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"safezone/internal/geofence/models"
	"safezone/internal/platform/metrics"
	"safezone/internal/platform/middleware"
	id "safezone/pkg/domain"
	dErrors "safezone/pkg/domain-errors"
	"safezone/pkg/platform/httputil"
	"safezone/pkg/requestcontext"
)

// Service defines the geofence operations exposed over HTTP.
type Service interface {
	SubmitLocation(ctx context.Context, patientID id.PatientID, req models.SubmitLocationRequest) (*models.SubmitResult, error)
	GetLocationHistory(ctx context.Context, patientID id.PatientID, limit int) ([]*models.LocationSample, error)
	GetZone(ctx context.Context, patientID id.PatientID) (*models.Zone, error)
	SetZone(ctx context.Context, patientID id.PatientID, req models.SetZoneRequest) (*models.Zone, error)
	SetOverride(ctx context.Context, patientID id.PatientID, req models.SetOverrideRequest) (*models.Zone, error)
	DeleteZone(ctx context.Context, patientID id.PatientID) error
}

// Handler handles the patient location and safe-zone endpoints.
type Handler struct {
	logger         *slog.Logger
	geofence       Service
	metrics        *metrics.Metrics
	jwtValidator   middleware.JWTValidator
	requestTimeout time.Duration
}

func New(
	geofence Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator,
	requestTimeout time.Duration) *Handler {
	return &Handler{
		logger:         logger,
		geofence:       geofence,
		metrics:        metrics,
		jwtValidator:   jwtValidator,
		requestTimeout: requestTimeout,
	}
}

const maxBodyBytes = 1 << 16

// Register mounts the routes under /v1/patients/{patientID}.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/patients/{patientID}", func(pr chi.Router) {
		pr.Use(middleware.Recovery(h.logger))
		pr.Use(middleware.RequestID)
		pr.Use(middleware.RequestTime)
		pr.Use(middleware.Logger(h.logger, h.metrics))
		pr.Use(middleware.Timeout(h.requestTimeout))
		pr.Use(middleware.ContentTypeJSON)
		pr.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		pr.Post("/locations", h.handleSubmitLocation)
		pr.Get("/locations", h.handleGetLocationHistory)
		pr.Get("/zone", h.handleGetZone)
		pr.Put("/zone", h.handleSetZone)
		pr.Delete("/zone", h.handleDeleteZone)
		pr.Post("/zone/safe-exit", h.handleSetOverride)
	})
}

func (h *Handler) handleSubmitLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, ok := h.patientID(w, r)
	if !ok {
		return
	}

	var req models.SubmitLocationRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(ctx, w, "invalid location sample", err)
		return
	}

	result, err := h.geofence.SubmitLocation(ctx, patientID, req)
	if err != nil {
		h.writeError(ctx, w, "failed to submit location", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, SubmitLocationResponse{
		Sample:         toSampleResponse(result.Sample),
		AlertTriggered: result.AlertTriggered,
	})
}

func (h *Handler) handleGetLocationHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, ok := h.patientID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	samples, err := h.geofence.GetLocationHistory(ctx, patientID, limit)
	if err != nil {
		h.writeError(ctx, w, "failed to list location history", err)
		return
	}
	resp := HistoryResponse{Samples: make([]LocationSampleResponse, 0, len(samples)), Count: len(samples)}
	for _, s := range samples {
		resp.Samples = append(resp.Samples, toSampleResponse(s))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetZone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, ok := h.patientID(w, r)
	if !ok {
		return
	}
	zone, err := h.geofence.GetZone(ctx, patientID)
	if err != nil {
		h.writeError(ctx, w, "failed to load safe zone", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toZoneResponse(zone))
}

func (h *Handler) handleSetZone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, ok := h.patientID(w, r)
	if !ok {
		return
	}

	var req models.SetZoneRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(ctx, w, "invalid safe zone", err)
		return
	}
	zone, err := h.geofence.SetZone(ctx, patientID, req)
	if err != nil {
		h.writeError(ctx, w, "failed to set safe zone", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toZoneResponse(zone))
}

func (h *Handler) handleDeleteZone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, ok := h.patientID(w, r)
	if !ok {
		return
	}
	if err := h.geofence.DeleteZone(ctx, patientID); err != nil {
		h.writeError(ctx, w, "failed to delete safe zone", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetOverride accepts an empty body, which flips the current value.
func (h *Handler) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, ok := h.patientID(w, r)
	if !ok {
		return
	}

	var req models.SetOverrideRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	zone, err := h.geofence.SetOverride(ctx, patientID, req)
	if err != nil {
		h.writeError(ctx, w, "failed to update safe exit", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toOverrideResponse(zone))
}

func (h *Handler) patientID(w http.ResponseWriter, r *http.Request) (id.PatientID, bool) {
	patientID, err := id.ParsePatientID(chi.URLParam(r, "patientID"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "invalid patient id",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return id.PatientID{}, false
	}
	return patientID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	h.logger.WarnContext(r.Context(), "invalid request body",
		"request_id", requestcontext.RequestID(r.Context()),
		"error", err.Error(),
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
	return false
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}
