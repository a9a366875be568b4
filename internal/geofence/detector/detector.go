// Package detector decides whether a newly classified sample opens a fresh
// zone exit. It is pure: callers load the patient's tracking state, call
// Decide, and persist Decision.Next atomically with the sample.
package detector

import (
	"safezone/internal/geofence/models"
)

// SuppressReason explains why an outside sample did not alert.
type SuppressReason string

const (
	ReasonNone           SuppressReason = ""
	ReasonAlreadyOutside SuppressReason = "already_outside"
	ReasonOverrideActive SuppressReason = "override_active"
	ReasonInsideZone     SuppressReason = "inside"
)

// Decision is the outcome of one sample: the state to persist, whether it
// opens an alertable excursion, and why an alert was withheld otherwise.
type Decision struct {
	From   models.TrackingState
	Next   models.Tracking
	Alert  bool
	Reason SuppressReason
}

// Decide applies one sample to the patient's tracking state.
//
// A new exit is declared iff the sample is outside, the prior state is not
// outside, and safe exit is off. Outside samples always advance the state,
// so an excursion that began under override does not alert when the override
// is cleared partway through it. Tracking left over from another zone
// generation counts as unknown.
func Decide(current models.Tracking, sample models.LocationSample, overrideActive bool) Decision {
	prior := current.State
	if prior == "" || current.ZoneID != sample.ZoneID {
		prior = models.StateUnknown
	}

	next := models.Tracking{
		PatientID:      sample.PatientID,
		ZoneID:         sample.ZoneID,
		State:          models.StateFor(sample.Verdict),
		LastSampleID:   sample.ID,
		LastRecordedAt: sample.RecordedAt,
	}

	if sample.Verdict != models.VerdictOutside {
		return Decision{From: prior, Next: next, Reason: ReasonInsideZone}
	}

	if prior == models.StateOutside {
		next.ExcursionStartID = current.ExcursionStartID
		next.ExcursionStartAt = current.ExcursionStartAt
		return Decision{From: prior, Next: next, Reason: ReasonAlreadyOutside}
	}

	next.ExcursionStartID = sample.ID
	next.ExcursionStartAt = sample.RecordedAt
	if overrideActive {
		return Decision{From: prior, Next: next, Reason: ReasonOverrideActive}
	}
	return Decision{From: prior, Next: next, Alert: true}
}
