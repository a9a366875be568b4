package ledger

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
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
	zone    id.ZoneID
	clock   time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.patient = id.PatientID(uuid.New())
	s.zone = id.NewZoneID()
	s.clock = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
}

func (s *InMemoryStoreSuite) record(v models.Verdict) models.LocationSample {
	s.clock = s.clock.Add(time.Second)
	sample := models.LocationSample{
		ID:         id.NewSampleID(),
		PatientID:  s.patient,
		ZoneID:     s.zone,
		Verdict:    v,
		RecordedAt: s.clock,
	}
	next := models.Tracking{
		PatientID:      s.patient,
		ZoneID:         s.zone,
		State:          models.StateFor(v),
		LastSampleID:   sample.ID,
		LastRecordedAt: sample.RecordedAt,
	}
	s.Require().NoError(s.store.Record(context.Background(), &sample, next))
	return sample
}

func (s *InMemoryStoreSuite) TestListRecentNewestFirst() {
	first := s.record(models.VerdictInside)
	second := s.record(models.VerdictOutside)
	third := s.record(models.VerdictInside)

	got, err := s.store.ListRecent(context.Background(), s.patient, 100)
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal(third.ID, got[0].ID)
	s.Equal(second.ID, got[1].ID)
	s.Equal(first.ID, got[2].ID)

	limited, err := s.store.ListRecent(context.Background(), s.patient, 2)
	s.Require().NoError(err)
	s.Len(limited, 2)
	s.Equal(third.ID, limited[0].ID)
}

func (s *InMemoryStoreSuite) TestRecordUpdatesTracking() {
	_, err := s.store.Tracking(context.Background(), s.patient)
	s.ErrorIs(err, sentinel.ErrNotFound)

	last := s.record(models.VerdictOutside)
	tr, err := s.store.Tracking(context.Background(), s.patient)
	s.Require().NoError(err)
	s.Equal(models.StateOutside, tr.State)
	s.Equal(last.ID, tr.LastSampleID)
}

func (s *InMemoryStoreSuite) TestPurge() {
	s.record(models.VerdictInside)
	s.Require().NoError(s.store.Purge(context.Background(), s.patient))

	got, err := s.store.ListRecent(context.Background(), s.patient, 100)
	s.Require().NoError(err)
	s.Empty(got)
	_, err = s.store.Tracking(context.Background(), s.patient)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func testSample() (*models.LocationSample, models.Tracking) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	sample := &models.LocationSample{
		ID:         id.NewSampleID(),
		PatientID:  id.PatientID(uuid.New()),
		ZoneID:     id.NewZoneID(),
		Coordinate: models.CoordinateFromDegrees(10.5, 20.25),
		Verdict:    models.VerdictOutside,
		RecordedAt: now,
	}
	next := models.Tracking{
		PatientID:        sample.PatientID,
		ZoneID:           sample.ZoneID,
		State:            models.StateOutside,
		LastSampleID:     sample.ID,
		LastRecordedAt:   now,
		ExcursionStartID: sample.ID,
		ExcursionStartAt: now,
	}
	return sample, next
}

func TestPostgresStore_RecordIsAtomic(t *testing.T) {
	t.Run("sample and tracking commit together", func(t *testing.T) {
		store, mock := newMockStore(t)
		sample, next := testSample()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO location_samples")).
			WithArgs(uuid.UUID(sample.ID), uuid.UUID(sample.PatientID), uuid.UUID(sample.ZoneID),
				"10.500000", "20.250000", "outside", sample.RecordedAt, nil).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO patient_tracking")).
			WithArgs(uuid.UUID(next.PatientID), uuid.UUID(next.ZoneID), "outside", uuid.UUID(next.LastSampleID),
				next.LastRecordedAt, uuid.UUID(next.ExcursionStartID).String(), next.ExcursionStartAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Record(context.Background(), sample, next))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tracking failure rolls back the sample", func(t *testing.T) {
		store, mock := newMockStore(t)
		sample, next := testSample()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO location_samples")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO patient_tracking")).
			WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		err := store.Record(context.Background(), sample, next)
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Tracking(t *testing.T) {
	store, mock := newMockStore(t)
	patient, zone, last := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM patient_tracking")).
		WithArgs(patient).
		WillReturnRows(sqlmock.NewRows([]string{"zone_id", "state", "last_sample_id", "last_recorded_at", "excursion_start_id", "excursion_start_at"}).
			AddRow(zone.String(), "inside", last.String(), at, nil, nil))

	tr, err := store.Tracking(context.Background(), id.PatientID(patient))
	require.NoError(t, err)
	assert.Equal(t, models.StateInside, tr.State)
	assert.Equal(t, id.ZoneID(zone), tr.ZoneID)
	assert.True(t, tr.ExcursionStartID.IsNil())
	assert.True(t, tr.ExcursionStartAt.IsZero())
}

func TestPostgresStore_ListRecent(t *testing.T) {
	store, mock := newMockStore(t)
	patient, zone := uuid.New(), uuid.New()
	newer, older := uuid.New(), uuid.New()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY recorded_at DESC, seq DESC")).
		WithArgs(patient, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "zone_id", "latitude", "longitude", "verdict", "recorded_at", "reported_at"}).
			AddRow(newer.String(), zone.String(), "1.000001", "2.000002", "outside", at.Add(time.Second), at).
			AddRow(older.String(), zone.String(), "1.000000", "2.000000", "inside", at, nil))

	got, err := store.ListRecent(context.Background(), id.PatientID(patient), 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, id.SampleID(newer), got[0].ID)
	assert.Equal(t, models.VerdictOutside, got[0].Verdict)
	assert.Equal(t, int64(1_000_001), got[0].Coordinate.LatE6)
	require.NotNil(t, got[0].ReportedAt)
	assert.Nil(t, got[1].ReportedAt)
}

func TestPostgresStore_Purge(t *testing.T) {
	store, mock := newMockStore(t)
	patient := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM location_samples")).WithArgs(patient).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM patient_tracking")).WithArgs(patient).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Purge(context.Background(), id.PatientID(patient)))
	require.NoError(t, mock.ExpectationsWereMet())
}
