package zone

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"safezone/internal/geofence/models"
	id "safezone/pkg/domain"
	"safezone/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store   *InMemoryStore
	patient id.PatientID
	now     time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.patient = id.PatientID(uuid.New())
	s.now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) zone() *models.Zone {
	return &models.Zone{
		ID:           id.NewZoneID(),
		PatientID:    s.patient,
		Center:       models.CoordinateFromDegrees(51.5, -0.12),
		RadiusMeters: 100,
		CreatedAt:    s.now,
		UpdatedAt:    s.now,
	}
}

func (s *InMemoryStoreSuite) TestReplaceKeepsSingleZone() {
	ctx := context.Background()
	first := s.zone()
	second := s.zone()
	s.Require().NoError(s.store.Replace(ctx, first))
	s.Require().NoError(s.store.Replace(ctx, second))

	got, err := s.store.FindByPatient(ctx, s.patient)
	s.Require().NoError(err)
	s.Equal(second.ID, got.ID)
	s.Len(s.store.zones, 1)
}

func (s *InMemoryStoreSuite) TestSetSafeExit() {
	ctx := context.Background()
	s.Require().NoError(s.store.Replace(ctx, s.zone()))

	later := s.now.Add(time.Hour)
	z, err := s.store.SetSafeExit(ctx, s.patient, true, later)
	s.Require().NoError(err)
	s.True(z.SafeExitActive)
	s.Equal(later, z.UpdatedAt)

	_, err = s.store.SetSafeExit(ctx, id.PatientID(uuid.New()), true, later)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.store.Replace(ctx, s.zone()))
	s.Require().NoError(s.store.Delete(ctx, s.patient))

	_, err := s.store.FindByPatient(ctx, s.patient)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, s.patient), sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestReturnedZoneIsACopy() {
	ctx := context.Background()
	s.Require().NoError(s.store.Replace(ctx, s.zone()))
	got, err := s.store.FindByPatient(ctx, s.patient)
	s.Require().NoError(err)
	got.RadiusMeters = 5

	again, err := s.store.FindByPatient(ctx, s.patient)
	s.Require().NoError(err)
	s.Equal(100, again.RadiusMeters)
}

var zoneRowColumns = []string{"id", "patient_id", "latitude", "longitude", "radius_meters", "address", "safe_exit_active", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_FindByPatient(t *testing.T) {
	store, mock := newMockStore(t)
	zoneID, patient := uuid.New(), uuid.New()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM safe_zones WHERE patient_id = $1")).
		WithArgs(patient).
		WillReturnRows(sqlmock.NewRows(zoneRowColumns).
			AddRow(zoneID.String(), patient.String(), "51.500000", "-0.120000", 150, "1 Main St", true, now, now))

	z, err := store.FindByPatient(context.Background(), id.PatientID(patient))
	require.NoError(t, err)
	assert.Equal(t, id.ZoneID(zoneID), z.ID)
	assert.Equal(t, int64(51_500_000), z.Center.LatE6)
	assert.Equal(t, int64(-120_000), z.Center.LonE6)
	assert.Equal(t, 150, z.RadiusMeters)
	assert.True(t, z.SafeExitActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByPatientMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM safe_zones")).
		WillReturnRows(sqlmock.NewRows(zoneRowColumns))

	_, err := store.FindByPatient(context.Background(), id.PatientID(uuid.New()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresStore_Replace(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	z := &models.Zone{
		ID:           id.NewZoneID(),
		PatientID:    id.PatientID(uuid.New()),
		Center:       models.CoordinateFromDegrees(-33.868820, 151.209296),
		RadiusMeters: 100,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	t.Run("upserts on patient", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (patient_id) DO UPDATE")).
			WithArgs(uuid.UUID(z.ID), uuid.UUID(z.PatientID), "-33.868820", "151.209296", 100, "", false, now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Replace(context.Background(), z))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown patient maps to not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO safe_zones")).
			WillReturnError(&pq.Error{Code: "23503"})

		err := store.Replace(context.Background(), z)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestPostgresStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)
	patient := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM safe_zones")).
		WithArgs(patient).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Delete(context.Background(), id.PatientID(patient))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
