package main

import (
	"context"
	"database/sql"
	"time"

	geofenceservice "safezone/internal/geofence/service"
	id "safezone/pkg/domain"
	dErrors "safezone/pkg/domain-errors"
	txcontext "safezone/pkg/platform/tx"
)

const defaultTrackingTxTimeout = 5 * time.Second

// trackingPostgresTx serializes a patient's read-decide-append with a
// transaction-scoped advisory lock keyed by the patient ID.
type trackingPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

var _ geofenceservice.TrackingTx = (*trackingPostgresTx)(nil)

func newTrackingPostgresTx(db *sql.DB) *trackingPostgresTx {
	return &trackingPostgresTx{db: db}
}

func (t *trackingPostgresTx) RunInTx(ctx context.Context, patientID id.PatientID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTrackingTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, patientID.String()); err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "timed out waiting for patient lock")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire patient lock")
	}

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit transaction")
	}
	return nil
}
