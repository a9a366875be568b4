package caregiver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	id "safezone/pkg/domain"
	"safezone/pkg/platform/sentinel"
)

// PostgresDirectory reads the users and caregiver_links tables maintained by
// the account modules.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Patient(ctx context.Context, patientID id.PatientID) (*Patient, error) {
	query := `
		SELECT id, username, first_name, last_name
		FROM users
		WHERE id = $1 AND user_type = 'patient'
	`
	var (
		p     Patient
		rawID uuid.UUID
	)
	err := d.db.QueryRowContext(ctx, query, uuid.UUID(patientID)).Scan(&rawID, &p.Username, &p.FirstName, &p.LastName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", patientID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find patient: %w", err)
	}
	p.ID = id.PatientID(rawID)
	return &p, nil
}

func (d *PostgresDirectory) LinkedCaregivers(ctx context.Context, patientID id.PatientID) ([]Caregiver, error) {
	query := `
		SELECT u.id, u.username, u.first_name, u.last_name, COALESCE(u.push_token, '')
		FROM caregiver_links l
		JOIN users u ON u.id = l.caregiver_id
		WHERE l.patient_id = $1
		ORDER BY u.id
	`
	rows, err := d.db.QueryContext(ctx, query, uuid.UUID(patientID))
	if err != nil {
		return nil, fmt.Errorf("list linked caregivers: %w", err)
	}
	defer rows.Close()

	var out []Caregiver
	for rows.Next() {
		var (
			c     Caregiver
			rawID uuid.UUID
		)
		if err := rows.Scan(&rawID, &c.Username, &c.FirstName, &c.LastName, &c.PushToken); err != nil {
			return nil, fmt.Errorf("scan caregiver: %w", err)
		}
		c.ID = id.UserID(rawID)
		c.PatientID = patientID
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate caregivers: %w", err)
	}
	return out, nil
}

func (d *PostgresDirectory) Relation(ctx context.Context, actor id.UserID, patientID id.PatientID) (Relation, error) {
	query := `
		SELECT CASE
			WHEN p.id = $1 THEN 'self'
			WHEN l.caregiver_id IS NOT NULL THEN 'caregiver'
			ELSE 'none'
		END
		FROM users p
		LEFT JOIN caregiver_links l ON l.patient_id = p.id AND l.caregiver_id = $1
		WHERE p.id = $2 AND p.user_type = 'patient'
	`
	var rel string
	err := d.db.QueryRowContext(ctx, query, uuid.UUID(actor), uuid.UUID(patientID)).Scan(&rel)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RelationNone, nil
		}
		return RelationNone, fmt.Errorf("resolve relation: %w", err)
	}
	return Relation(rel), nil
}
