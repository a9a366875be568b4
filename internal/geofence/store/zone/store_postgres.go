package zone

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"safezone/internal/geofence/models"
	id "safezone/pkg/domain"
	"safezone/pkg/platform/sentinel"
	txcontext "safezone/pkg/platform/tx"
)

// pgForeignKeyViolation is raised when the patient row does not exist.
const pgForeignKeyViolation = "23503"

// PostgresStore persists zones in safe_zones. patient_id is unique, so an
// upsert both creates and replaces.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const zoneColumns = `id, patient_id, latitude, longitude, radius_meters, COALESCE(address, ''), safe_exit_active, created_at, updated_at`

func (s *PostgresStore) FindByPatient(ctx context.Context, patientID id.PatientID) (*models.Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM safe_zones WHERE patient_id = $1`
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(patientID))
	z, err := scanZone(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("zone for patient %s: %w", patientID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find zone: %w", err)
	}
	return z, nil
}

func (s *PostgresStore) Replace(ctx context.Context, zone *models.Zone) error {
	query := `
		INSERT INTO safe_zones (id, patient_id, latitude, longitude, radius_meters, address, safe_exit_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		ON CONFLICT (patient_id) DO UPDATE SET
			id = EXCLUDED.id,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			radius_meters = EXCLUDED.radius_meters,
			address = EXCLUDED.address,
			safe_exit_active = EXCLUDED.safe_exit_active,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(zone.ID),
		uuid.UUID(zone.PatientID),
		models.FormatDegrees(zone.Center.LatE6),
		models.FormatDegrees(zone.Center.LonE6),
		zone.RadiusMeters,
		zone.Address,
		zone.SafeExitActive,
		zone.CreatedAt,
		zone.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgForeignKeyViolation {
			return fmt.Errorf("patient %s: %w", zone.PatientID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("replace zone: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetSafeExit(ctx context.Context, patientID id.PatientID, active bool, updatedAt time.Time) (*models.Zone, error) {
	query := `
		UPDATE safe_zones SET safe_exit_active = $2, updated_at = $3
		WHERE patient_id = $1
		RETURNING ` + zoneColumns
	row := txcontext.ExecerFrom(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(patientID), active, updatedAt)
	z, err := scanZone(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("zone for patient %s: %w", patientID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("update safe exit: %w", err)
	}
	return z, nil
}

func (s *PostgresStore) Delete(ctx context.Context, patientID id.PatientID) error {
	res, err := txcontext.ExecerFrom(ctx, s.db).ExecContext(ctx, `DELETE FROM safe_zones WHERE patient_id = $1`, uuid.UUID(patientID))
	if err != nil {
		return fmt.Errorf("delete zone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete zone rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("zone for patient %s: %w", patientID, sentinel.ErrNotFound)
	}
	return nil
}

func scanZone(row *sql.Row) (*models.Zone, error) {
	var (
		z                 models.Zone
		zoneID, patientID uuid.UUID
		lat, lon          string
	)
	if err := row.Scan(&zoneID, &patientID, &lat, &lon, &z.RadiusMeters, &z.Address, &z.SafeExitActive, &z.CreatedAt, &z.UpdatedAt); err != nil {
		return nil, err
	}
	latE6, err := models.ParseDegrees(lat)
	if err != nil {
		return nil, err
	}
	lonE6, err := models.ParseDegrees(lon)
	if err != nil {
		return nil, err
	}
	z.ID = id.ZoneID(zoneID)
	z.PatientID = id.PatientID(patientID)
	z.Center = models.Coordinate{LatE6: latE6, LonE6: lonE6}
	return &z, nil
}
