package sentinel

import "errors"

// Sentinel errors for storage and infrastructure facts. Stores return these,
// optionally wrapped with fmt.Errorf("...: %w"), and services translate them
// into domain errors:
//   - ErrNotFound: no zone, patient, or caregiver row exists
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrAlreadyUsed: an alert idempotency key was already claimed
//   - ErrUnavailable: backing service is down or the circuit is open
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadyUsed = errors.New("already used")
	ErrUnavailable = errors.New("unavailable")
)
