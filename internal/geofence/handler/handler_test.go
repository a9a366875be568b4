package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"safezone/internal/geofence/handler/mocks"
	"safezone/internal/geofence/models"
	"safezone/internal/platform/middleware"
	id "safezone/pkg/domain"
	dErrors "safezone/pkg/domain-errors"
	"safezone/pkg/requestcontext"
	"safezone/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/service-mocks.go -package=mocks Service

type stubValidator struct {
	userID string
}

func (v stubValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &middleware.JWTClaims{UserID: v.userID}, nil
}

type GeofenceHandlerSuite struct {
	suite.Suite
	router  chi.Router
	service *mocks.MockService
	actor   id.UserID
	patient id.PatientID
	zone    *models.Zone
}

func TestGeofenceHandlerSuite(t *testing.T) {
	suite.Run(t, new(GeofenceHandlerSuite))
}

func (s *GeofenceHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.actor = id.UserID(uuid.New())
	s.patient = id.PatientID(uuid.New())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(s.service, logger, nil, stubValidator{userID: s.actor.String()}, time.Second)
	s.router = chi.NewRouter()
	h.Register(s.router)

	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s.zone = &models.Zone{
		ID:           id.NewZoneID(),
		PatientID:    s.patient,
		Center:       models.CoordinateFromDegrees(37.774929, -122.419416),
		RadiusMeters: 150,
		Address:      "1 Main St",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *GeofenceHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	return testutil.DoRequest(s.router, testutil.WithBearer(req, "good"))
}

func (s *GeofenceHandlerSuite) path(suffix string) string {
	return "/v1/patients/" + s.patient.String() + suffix
}

func (s *GeofenceHandlerSuite) decode(rec *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), dst))
}

func (s *GeofenceHandlerSuite) TestSubmitLocation() {
	sample := &models.LocationSample{
		ID:         id.NewSampleID(),
		PatientID:  s.patient,
		ZoneID:     s.zone.ID,
		Coordinate: models.CoordinateFromDegrees(37.78, -122.41),
		Verdict:    models.VerdictOutside,
		RecordedAt: time.Date(2026, 7, 1, 9, 5, 0, 0, time.UTC),
	}
	s.service.EXPECT().
		SubmitLocation(gomock.Any(), s.patient, models.SubmitLocationRequest{Latitude: models.Degrees(37.78), Longitude: models.Degrees(-122.41)}).
		DoAndReturn(func(ctx context.Context, _ id.PatientID, _ models.SubmitLocationRequest) (*models.SubmitResult, error) {
			s.Equal(s.actor, requestcontext.UserID(ctx))
			s.NotEmpty(requestcontext.RequestID(ctx))
			return &models.SubmitResult{Sample: sample, Verdict: sample.Verdict, AlertTriggered: true}, nil
		})

	// the client-side flag is accepted in the body but never reaches the service
	rec := s.do(http.MethodPost, s.path("/locations"), map[string]any{
		"latitude": 37.78, "longitude": -122.41, "is_out_of_zone": false,
	})

	s.Equal(http.StatusCreated, rec.Code)
	var resp SubmitLocationResponse
	s.decode(rec, &resp)
	s.True(resp.AlertTriggered)
	s.True(resp.Sample.IsOutOfZone)
	s.Equal("outside", resp.Sample.Verdict)
	s.Equal(sample.ID.String(), resp.Sample.ID)
}

func (s *GeofenceHandlerSuite) TestSubmitLocationInvalidBody() {
	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, s.path("/locations"), "{")
	rec := testutil.DoRequest(s.router, testutil.WithBearer(req, "good"))

	testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, "bad_request")
}

func (s *GeofenceHandlerSuite) TestSubmitLocationWithoutCoordinates() {
	// no service call is expected for any of these bodies
	for _, body := range []map[string]any{
		{},
		{"is_out_of_zone": true},
		{"timestamp": "2026-07-01T09:00:00Z"},
		{"latitude": 45.5},
	} {
		rec := s.do(http.MethodPost, s.path("/locations"), body)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, "validation_error")
	}
}

func (s *GeofenceHandlerSuite) TestSetZoneWithoutCenter() {
	rec := s.do(http.MethodPut, s.path("/zone"), map[string]any{"radius_meters": 50})
	testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, "validation_error")

	rec = s.do(http.MethodPut, s.path("/zone"), map[string]any{"latitude": 1, "longitude": 1, "radius_meters": 3_000_000_000})
	testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, "validation_error")
}

func (s *GeofenceHandlerSuite) TestSubmitLocationOutOfRange() {
	rec := s.do(http.MethodPost, s.path("/locations"), map[string]any{"latitude": 91, "longitude": 0})
	testutil.AssertStatusAndError(s.T(), rec, http.StatusBadRequest, "validation_error")
}

func (s *GeofenceHandlerSuite) TestHistory() {
	samples := []*models.LocationSample{
		{ID: id.NewSampleID(), ZoneID: s.zone.ID, Verdict: models.VerdictInside},
		{ID: id.NewSampleID(), ZoneID: s.zone.ID, Verdict: models.VerdictOutside},
	}
	s.service.EXPECT().GetLocationHistory(gomock.Any(), s.patient, 25).Return(samples, nil)

	rec := s.do(http.MethodGet, s.path("/locations?limit=25"), nil)
	s.Equal(http.StatusOK, rec.Code)
	resp := testutil.UnmarshalResponse[HistoryResponse](s.T(), rec)
	s.Equal(2, resp.Count)
	s.False(resp.Samples[0].IsOutOfZone)
	s.True(resp.Samples[1].IsOutOfZone)
}

func (s *GeofenceHandlerSuite) TestHistoryDefaultsLimitAndRendersEmptyList() {
	s.service.EXPECT().GetLocationHistory(gomock.Any(), s.patient, 0).Return(nil, nil)

	rec := s.do(http.MethodGet, s.path("/locations"), nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"samples":[],"count":0}`, rec.Body.String())
}

func (s *GeofenceHandlerSuite) TestHistoryBadLimit() {
	for _, limit := range []string{"abc", "0", "-3"} {
		rec := s.do(http.MethodGet, s.path("/locations?limit="+limit), nil)
		s.Equal(http.StatusBadRequest, rec.Code, limit)
	}
}

func (s *GeofenceHandlerSuite) TestHistoryNoZone() {
	s.service.EXPECT().GetLocationHistory(gomock.Any(), s.patient, 0).
		Return(nil, dErrors.New(dErrors.CodeNotFound, "no safe zone configured"))

	rec := s.do(http.MethodGet, s.path("/locations"), nil)
	testutil.AssertStatusAndError(s.T(), rec, http.StatusNotFound, "not_found")
}

func (s *GeofenceHandlerSuite) TestGetZone() {
	s.service.EXPECT().GetZone(gomock.Any(), s.patient).Return(s.zone, nil)

	rec := s.do(http.MethodGet, s.path("/zone"), nil)
	s.Equal(http.StatusOK, rec.Code)
	var resp ZoneResponse
	s.decode(rec, &resp)
	s.Equal(s.zone.ID.String(), resp.ID)
	s.Equal(150, resp.RadiusMeters)
	s.InDelta(37.774929, resp.Latitude, 1e-9)
}

func (s *GeofenceHandlerSuite) TestSetZone() {
	radius := 150
	want := models.SetZoneRequest{Latitude: models.Degrees(37.774929), Longitude: models.Degrees(-122.419416), RadiusMeters: &radius, Address: "1 Main St"}
	s.service.EXPECT().SetZone(gomock.Any(), s.patient, want).Return(s.zone, nil)

	rec := s.do(http.MethodPut, s.path("/zone"), want)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *GeofenceHandlerSuite) TestSetZoneForbidden() {
	s.service.EXPECT().SetZone(gomock.Any(), s.patient, gomock.Any()).
		Return(nil, dErrors.New(dErrors.CodeForbidden, "actor is not linked to this patient"))

	rec := s.do(http.MethodPut, s.path("/zone"), models.SetZoneRequest{Latitude: models.Degrees(1), Longitude: models.Degrees(1)})
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *GeofenceHandlerSuite) TestDeleteZone() {
	s.service.EXPECT().DeleteZone(gomock.Any(), s.patient).Return(nil)

	rec := s.do(http.MethodDelete, s.path("/zone"), nil)
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *GeofenceHandlerSuite) TestSetOverrideExplicit() {
	active := true
	zone := *s.zone
	zone.SafeExitActive = true
	s.service.EXPECT().SetOverride(gomock.Any(), s.patient, models.SetOverrideRequest{Active: &active}).Return(&zone, nil)

	rec := s.do(http.MethodPost, s.path("/zone/safe-exit"), map[string]bool{"active": true})
	s.Equal(http.StatusOK, rec.Code)
	var resp OverrideResponse
	s.decode(rec, &resp)
	s.True(resp.SafeExitActive)
	s.Equal("Safe exit activated", resp.Message)
}

func (s *GeofenceHandlerSuite) TestSetOverrideEmptyBodyToggles() {
	s.service.EXPECT().SetOverride(gomock.Any(), s.patient, models.SetOverrideRequest{}).Return(s.zone, nil)

	rec := s.do(http.MethodPost, s.path("/zone/safe-exit"), nil)
	s.Equal(http.StatusOK, rec.Code)
	var resp OverrideResponse
	s.decode(rec, &resp)
	s.Equal("Safe exit deactivated", resp.Message)
}

func (s *GeofenceHandlerSuite) TestInternalErrorHidesDetails() {
	s.service.EXPECT().GetZone(gomock.Any(), s.patient).
		Return(nil, dErrors.Wrap(errors.New("connection reset"), dErrors.CodeInternal, "failed to load safe zone"))

	rec := s.do(http.MethodGet, s.path("/zone"), nil)
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.NotContains(rec.Body.String(), "connection reset")
}

func (s *GeofenceHandlerSuite) TestInvalidPatientID() {
	rec := s.do(http.MethodGet, "/v1/patients/not-a-uuid/zone", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *GeofenceHandlerSuite) TestRequiresBearerToken() {
	rec := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, s.path("/zone"), nil))
	testutil.AssertStatusAndError(s.T(), rec, http.StatusUnauthorized, "unauthorized")

	req := testutil.WithBearer(testutil.NewJSONRequest(s.T(), http.MethodGet, s.path("/zone"), nil), "bad")
	rec = testutil.DoRequest(s.router, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}
