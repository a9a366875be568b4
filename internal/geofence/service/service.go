package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"safezone/internal/caregiver"
	"safezone/internal/geofence/containment"
	"safezone/internal/geofence/detector"
	"safezone/internal/geofence/metrics"
	"safezone/internal/geofence/models"
	id "safezone/pkg/domain"
	dErrors "safezone/pkg/domain-errors"
	"safezone/pkg/platform/sentinel"
	"safezone/pkg/requestcontext"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

type ZoneStore interface {
	FindByPatient(ctx context.Context, patientID id.PatientID) (*models.Zone, error)
	Replace(ctx context.Context, zone *models.Zone) error
	SetSafeExit(ctx context.Context, patientID id.PatientID, active bool, updatedAt time.Time) (*models.Zone, error)
	Delete(ctx context.Context, patientID id.PatientID) error
}

// Ledger is the append-only sample log plus the per-patient tracking row.
// Record must persist both or neither.
type Ledger interface {
	Tracking(ctx context.Context, patientID id.PatientID) (*models.Tracking, error)
	Record(ctx context.Context, sample *models.LocationSample, next models.Tracking) error
	ListRecent(ctx context.Context, patientID id.PatientID, limit int) ([]*models.LocationSample, error)
	Purge(ctx context.Context, patientID id.PatientID) error
}

type Directory interface {
	Relation(ctx context.Context, actor id.UserID, patientID id.PatientID) (caregiver.Relation, error)
}

// AlertDispatcher receives committed exits. DispatchAsync must return without
// waiting on delivery.
type AlertDispatcher interface {
	DispatchAsync(ctx context.Context, event models.AlertEvent)
}

// Service owns containment evaluation, transition detection and zone
// administration for patients.
type Service struct {
	zones        ZoneStore
	ledger       Ledger
	directory    Directory
	tx           TrackingTx
	dispatcher   AlertDispatcher
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	historyLimit int
	historyMax   int
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTx(tx TrackingTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithDispatcher(d AlertDispatcher) Option {
	return func(s *Service) {
		s.dispatcher = d
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// WithHistoryLimits sets the default and maximum page size of
// GetLocationHistory.
func WithHistoryLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.historyLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.historyMax = maxLimit
		}
	}
}

func New(zones ZoneStore, ledger Ledger, directory Directory, opts ...Option) *Service {
	s := &Service{
		zones:        zones,
		ledger:       ledger,
		directory:    directory,
		historyLimit: DefaultHistoryLimit,
		historyMax:   MaxHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = newShardedTrackingTx()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("safezone/geofence")
	}
	if s.historyLimit > s.historyMax {
		s.historyLimit = s.historyMax
	}
	return s
}

// SubmitLocation classifies a sample against the patient's zone, appends it to
// the ledger together with the new tracking state, and hands a newly detected
// exit to the dispatcher after the transaction commits. Only the patient may
// submit their own location.
func (s *Service) SubmitLocation(ctx context.Context, patientID id.PatientID, req models.SubmitLocationRequest) (*models.SubmitResult, error) {
	start := time.Now()
	defer s.metrics.ObserveIngestion(start)

	ctx, span := s.startSpan(ctx, "geofence.SubmitLocation", patientID)
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, endSpan(span, err)
	}
	rel, err := s.relation(ctx, patientID)
	if err != nil {
		return nil, endSpan(span, err)
	}
	if rel != caregiver.RelationSelf {
		return nil, endSpan(span, dErrors.New(dErrors.CodeForbidden, "only the patient may submit location samples"))
	}

	coord := req.Coordinate()
	var (
		result *models.SubmitResult
		alert  *models.AlertEvent
	)
	err = s.tx.RunInTx(ctx, patientID, func(txCtx context.Context) error {
		zone, err := s.zones.FindByPatient(txCtx, patientID)
		if err != nil {
			return wrapZoneErr(err, "load safe zone")
		}
		current, err := s.currentTracking(txCtx, patientID, zone.ID)
		if err != nil {
			return err
		}

		recordedAt := requestcontext.Now(txCtx).UTC()
		if current.LastRecordedAt.After(recordedAt) {
			recordedAt = current.LastRecordedAt
		}
		sample := &models.LocationSample{
			ID:         id.NewSampleID(),
			PatientID:  patientID,
			ZoneID:     zone.ID,
			Coordinate: coord,
			Verdict:    containment.Evaluate(*zone, coord),
			RecordedAt: recordedAt,
			ReportedAt: req.ReportedAt,
		}

		decision := detector.Decide(current, *sample, zone.SafeExitActive)
		if err := s.ledger.Record(txCtx, sample, decision.Next); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record location")
		}

		result = &models.SubmitResult{Sample: sample, Verdict: sample.Verdict, AlertTriggered: decision.Alert}
		if decision.Alert {
			event := models.NewAlertEvent(*sample, decision.Next)
			alert = &event
		} else if decision.Reason == detector.ReasonAlreadyOutside || decision.Reason == detector.ReasonOverrideActive {
			s.metrics.IncrementExitSuppressed(string(decision.Reason))
		}
		return nil
	})
	if err != nil {
		return nil, endSpan(span, asDomainErr(err, "failed to record location"))
	}

	s.metrics.IncrementSample(string(result.Verdict))
	span.SetAttributes(
		attribute.String("verdict", string(result.Verdict)),
		attribute.Bool("alert_triggered", result.AlertTriggered),
	)

	if alert != nil {
		s.metrics.IncrementExitDetected()
		s.logger.InfoContext(ctx, "zone exit detected",
			"patient_id", patientID.String(),
			"zone_id", alert.ZoneID.String(),
			"sample_id", alert.SampleID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		if s.dispatcher != nil {
			s.dispatcher.DispatchAsync(ctx, *alert)
		}
	}
	return result, nil
}

// GetLocationHistory returns up to limit samples, newest first. A missing zone
// is reported as not found, distinct from an empty history.
func (s *Service) GetLocationHistory(ctx context.Context, patientID id.PatientID, limit int) ([]*models.LocationSample, error) {
	ctx, span := s.startSpan(ctx, "geofence.GetLocationHistory", patientID)
	defer span.End()

	if err := s.authorize(ctx, patientID); err != nil {
		return nil, endSpan(span, err)
	}
	if _, err := s.zones.FindByPatient(ctx, patientID); err != nil {
		return nil, endSpan(span, wrapZoneErr(err, "load safe zone"))
	}

	samples, err := s.ledger.ListRecent(ctx, patientID, s.clampLimit(limit))
	if err != nil {
		return nil, endSpan(span, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list location history"))
	}
	return samples, nil
}

func (s *Service) GetZone(ctx context.Context, patientID id.PatientID) (*models.Zone, error) {
	ctx, span := s.startSpan(ctx, "geofence.GetZone", patientID)
	defer span.End()

	if err := s.authorize(ctx, patientID); err != nil {
		return nil, endSpan(span, err)
	}
	zone, err := s.zones.FindByPatient(ctx, patientID)
	if err != nil {
		return nil, endSpan(span, wrapZoneErr(err, "load safe zone"))
	}
	return zone, nil
}

// SetZone creates or replaces the patient's zone. Replacing purges the ledger
// and tracking state so the new zone starts with no history.
func (s *Service) SetZone(ctx context.Context, patientID id.PatientID, req models.SetZoneRequest) (*models.Zone, error) {
	ctx, span := s.startSpan(ctx, "geofence.SetZone", patientID)
	defer span.End()

	if err := s.authorize(ctx, patientID); err != nil {
		return nil, endSpan(span, err)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, endSpan(span, err)
	}

	var zone *models.Zone
	err := s.tx.RunInTx(ctx, patientID, func(txCtx context.Context) error {
		now := requestcontext.Now(txCtx).UTC()
		z := &models.Zone{
			ID:           id.NewZoneID(),
			PatientID:    patientID,
			Center:       req.Center(),
			RadiusMeters: *req.RadiusMeters,
			Address:      req.Address,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.zones.Replace(txCtx, z); err != nil {
			return wrapZoneErr(err, "save safe zone")
		}
		if err := s.ledger.Purge(txCtx, patientID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset location history")
		}
		zone = z
		return nil
	})
	if err != nil {
		return nil, endSpan(span, asDomainErr(err, "failed to save safe zone"))
	}

	s.metrics.IncrementZoneMutation("set")
	s.logger.InfoContext(ctx, "safe zone replaced",
		"patient_id", patientID.String(),
		"zone_id", zone.ID.String(),
		"radius_meters", zone.RadiusMeters,
		"actor_id", requestcontext.UserID(ctx).String(),
	)
	return zone, nil
}

// SetOverride sets safe exit to *req.Active, or flips it when Active is nil.
func (s *Service) SetOverride(ctx context.Context, patientID id.PatientID, req models.SetOverrideRequest) (*models.Zone, error) {
	ctx, span := s.startSpan(ctx, "geofence.SetOverride", patientID)
	defer span.End()

	if err := s.authorize(ctx, patientID); err != nil {
		return nil, endSpan(span, err)
	}

	var zone *models.Zone
	err := s.tx.RunInTx(ctx, patientID, func(txCtx context.Context) error {
		current, err := s.zones.FindByPatient(txCtx, patientID)
		if err != nil {
			return wrapZoneErr(err, "load safe zone")
		}
		active := !current.SafeExitActive
		if req.Active != nil {
			active = *req.Active
		}
		updated, err := s.zones.SetSafeExit(txCtx, patientID, active, requestcontext.Now(txCtx).UTC())
		if err != nil {
			return wrapZoneErr(err, "update safe exit")
		}
		zone = updated
		return nil
	})
	if err != nil {
		return nil, endSpan(span, asDomainErr(err, "failed to update safe exit"))
	}

	s.metrics.IncrementZoneMutation("override")
	s.logger.InfoContext(ctx, "safe exit override changed",
		"patient_id", patientID.String(),
		"safe_exit_active", zone.SafeExitActive,
		"actor_id", requestcontext.UserID(ctx).String(),
	)
	return zone, nil
}

// DeleteZone tears down the patient's zone and purges its sample history.
func (s *Service) DeleteZone(ctx context.Context, patientID id.PatientID) error {
	ctx, span := s.startSpan(ctx, "geofence.DeleteZone", patientID)
	defer span.End()

	if err := s.authorize(ctx, patientID); err != nil {
		return endSpan(span, err)
	}
	err := s.tx.RunInTx(ctx, patientID, func(txCtx context.Context) error {
		if err := s.zones.Delete(txCtx, patientID); err != nil {
			return wrapZoneErr(err, "delete safe zone")
		}
		if err := s.ledger.Purge(txCtx, patientID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge location history")
		}
		return nil
	})
	if err != nil {
		return endSpan(span, asDomainErr(err, "failed to delete safe zone"))
	}

	s.metrics.IncrementZoneMutation("delete")
	s.logger.InfoContext(ctx, "safe zone deleted",
		"patient_id", patientID.String(),
		"actor_id", requestcontext.UserID(ctx).String(),
	)
	return nil
}

// currentTracking loads the tracking row, treating a missing row or one left
// from another zone generation as unknown.
func (s *Service) currentTracking(ctx context.Context, patientID id.PatientID, zoneID id.ZoneID) (models.Tracking, error) {
	t, err := s.ledger.Tracking(ctx, patientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.UnknownTracking(patientID, zoneID), nil
		}
		return models.Tracking{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load tracking state")
	}
	if t.ZoneID != zoneID {
		return models.UnknownTracking(patientID, zoneID), nil
	}
	return *t, nil
}

func (s *Service) relation(ctx context.Context, patientID id.PatientID) (caregiver.Relation, error) {
	actor := requestcontext.UserID(ctx)
	if actor.IsNil() {
		return caregiver.RelationNone, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	rel, err := s.directory.Relation(ctx, actor, patientID)
	if err != nil {
		return caregiver.RelationNone, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve patient relation")
	}
	return rel, nil
}

// authorize admits the patient and their linked caregivers.
func (s *Service) authorize(ctx context.Context, patientID id.PatientID) error {
	rel, err := s.relation(ctx, patientID)
	if err != nil {
		return err
	}
	if !rel.CanAct() {
		return dErrors.New(dErrors.CodeForbidden, "actor is not linked to this patient")
	}
	return nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.historyLimit
	}
	if limit > s.historyMax {
		return s.historyMax
	}
	return limit
}

func (s *Service) startSpan(ctx context.Context, name string, patientID id.PatientID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("patient_id", patientID.String())))
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func wrapZoneErr(err error, action string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "no safe zone configured")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
}

func asDomainErr(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
