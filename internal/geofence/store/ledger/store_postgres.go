package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"safezone/internal/geofence/models"
	id "safezone/pkg/domain"
	"safezone/pkg/platform/sentinel"
	txcontext "safezone/pkg/platform/tx"
)

// PostgresStore keeps samples in location_samples and the per-patient state
// in patient_tracking. seq breaks ties between samples sharing recorded_at.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Tracking(ctx context.Context, patientID id.PatientID) (*models.Tracking, error) {
	query := `
		SELECT zone_id, state, last_sample_id, last_recorded_at, excursion_start_id, excursion_start_at
		FROM patient_tracking
		WHERE patient_id = $1
	`
	var (
		t                    models.Tracking
		zoneID, lastSampleID uuid.UUID
		state                string
		excursionID          uuid.NullUUID
		excursionAt          sql.NullTime
	)
	err := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(patientID)).
		Scan(&zoneID, &state, &lastSampleID, &t.LastRecordedAt, &excursionID, &excursionAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tracking for patient %s: %w", patientID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find tracking: %w", err)
	}
	t.PatientID = patientID
	t.ZoneID = id.ZoneID(zoneID)
	t.State = models.TrackingState(state)
	t.LastSampleID = id.SampleID(lastSampleID)
	if excursionID.Valid {
		t.ExcursionStartID = id.SampleID(excursionID.UUID)
	}
	if excursionAt.Valid {
		t.ExcursionStartAt = excursionAt.Time
	}
	return &t, nil
}

// Record appends sample and upserts the tracking row in one transaction,
// joining the caller's transaction when ctx carries one.
func (s *PostgresStore) Record(ctx context.Context, sample *models.LocationSample, next models.Tracking) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecerFrom(ctx, s.db)

		insertSample := `
			INSERT INTO location_samples (id, patient_id, zone_id, latitude, longitude, verdict, recorded_at, reported_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := exec.ExecContext(ctx, insertSample,
			uuid.UUID(sample.ID),
			uuid.UUID(sample.PatientID),
			uuid.UUID(sample.ZoneID),
			models.FormatDegrees(sample.Coordinate.LatE6),
			models.FormatDegrees(sample.Coordinate.LonE6),
			string(sample.Verdict),
			sample.RecordedAt,
			nullTime(sample.ReportedAt),
		)
		if err != nil {
			return fmt.Errorf("insert location sample: %w", err)
		}

		upsertTracking := `
			INSERT INTO patient_tracking (patient_id, zone_id, state, last_sample_id, last_recorded_at, excursion_start_id, excursion_start_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (patient_id) DO UPDATE SET
				zone_id = EXCLUDED.zone_id,
				state = EXCLUDED.state,
				last_sample_id = EXCLUDED.last_sample_id,
				last_recorded_at = EXCLUDED.last_recorded_at,
				excursion_start_id = EXCLUDED.excursion_start_id,
				excursion_start_at = EXCLUDED.excursion_start_at
		`
		_, err = exec.ExecContext(ctx, upsertTracking,
			uuid.UUID(next.PatientID),
			uuid.UUID(next.ZoneID),
			string(next.State),
			uuid.UUID(next.LastSampleID),
			next.LastRecordedAt,
			nullSampleID(next.ExcursionStartID),
			nullZeroTime(next.ExcursionStartAt),
		)
		if err != nil {
			return fmt.Errorf("upsert tracking: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListRecent(ctx context.Context, patientID id.PatientID, limit int) ([]*models.LocationSample, error) {
	query := `
		SELECT id, zone_id, latitude, longitude, verdict, recorded_at, reported_at
		FROM location_samples
		WHERE patient_id = $1
		ORDER BY recorded_at DESC, seq DESC
		LIMIT $2
	`
	rows, err := txcontext.ExecerFrom(ctx, s.db).QueryContext(ctx, query, uuid.UUID(patientID), limit)
	if err != nil {
		return nil, fmt.Errorf("list location samples: %w", err)
	}
	defer rows.Close()

	var out []*models.LocationSample
	for rows.Next() {
		var (
			sample           models.LocationSample
			sampleID, zoneID uuid.UUID
			lat, lon         string
			verdict          string
			reportedAt       sql.NullTime
		)
		if err := rows.Scan(&sampleID, &zoneID, &lat, &lon, &verdict, &sample.RecordedAt, &reportedAt); err != nil {
			return nil, fmt.Errorf("scan location sample: %w", err)
		}
		if sample.Coordinate.LatE6, err = models.ParseDegrees(lat); err != nil {
			return nil, err
		}
		if sample.Coordinate.LonE6, err = models.ParseDegrees(lon); err != nil {
			return nil, err
		}
		sample.ID = id.SampleID(sampleID)
		sample.PatientID = patientID
		sample.ZoneID = id.ZoneID(zoneID)
		sample.Verdict = models.Verdict(verdict)
		if reportedAt.Valid {
			sample.ReportedAt = &reportedAt.Time
		}
		out = append(out, &sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate location samples: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Purge(ctx context.Context, patientID id.PatientID) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		exec := txcontext.ExecerFrom(ctx, s.db)
		if _, err := exec.ExecContext(ctx, `DELETE FROM location_samples WHERE patient_id = $1`, uuid.UUID(patientID)); err != nil {
			return fmt.Errorf("purge location samples: %w", err)
		}
		if _, err := exec.ExecContext(ctx, `DELETE FROM patient_tracking WHERE patient_id = $1`, uuid.UUID(patientID)); err != nil {
			return fmt.Errorf("purge tracking: %w", err)
		}
		return nil
	})
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullZeroTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullSampleID(sid id.SampleID) uuid.NullUUID {
	if sid.IsNil() {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(sid), Valid: true}
}
