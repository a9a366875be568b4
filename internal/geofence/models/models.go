package models

import (
	"fmt"
	"math"
	"strconv"
	"time"

	id "safezone/pkg/domain"
)

// Verdict is the server-computed containment classification of a sample.
type Verdict string

const (
	VerdictInside  Verdict = "inside"
	VerdictOutside Verdict = "outside"
)

func (v Verdict) IsValid() bool {
	return v == VerdictInside || v == VerdictOutside
}

// TrackingState is the per-patient transition state the detector keys on.
type TrackingState string

const (
	StateUnknown TrackingState = "unknown"
	StateInside  TrackingState = "inside"
	StateOutside TrackingState = "outside"
)

// StateFor maps a verdict onto the state it leaves the patient in.
func StateFor(v Verdict) TrackingState {
	if v == VerdictOutside {
		return StateOutside
	}
	return StateInside
}

const (
	DefaultRadiusMeters = 100
	MaxRadiusMeters     = 1_000_000
	MaxAddressLength    = 255
	// microDegrees is the scale of the six fractional digits stored for every
	// coordinate.
	microDegrees = 1_000_000
)

// Coordinate is a latitude/longitude pair in fixed-point micro-degrees.
type Coordinate struct {
	LatE6 int64
	LonE6 int64
}

// CoordinateFromDegrees quantizes to six fractional digits. It does not
// range-check; see Validate.
func CoordinateFromDegrees(lat, lon float64) Coordinate {
	return Coordinate{
		LatE6: int64(math.Round(lat * microDegrees)),
		LonE6: int64(math.Round(lon * microDegrees)),
	}
}

func (c Coordinate) Latitude() float64  { return float64(c.LatE6) / microDegrees }
func (c Coordinate) Longitude() float64 { return float64(c.LonE6) / microDegrees }

func (c Coordinate) String() string {
	return FormatDegrees(c.LatE6) + "," + FormatDegrees(c.LonE6)
}

// FormatDegrees renders micro-degrees as a NUMERIC(9,6) literal.
func FormatDegrees(e6 int64) string {
	sign := ""
	if e6 < 0 {
		sign = "-"
		e6 = -e6
	}
	return fmt.Sprintf("%s%d.%06d", sign, e6/microDegrees, e6%microDegrees)
}

// ParseDegrees reads a decimal literal back into micro-degrees.
func ParseDegrees(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse degrees %q: %w", s, err)
	}
	return int64(math.Round(f * microDegrees)), nil
}

// Zone is a patient's single active geofence. ID identifies the zone
// generation: replacing a zone always mints a new ID.
type Zone struct {
	ID             id.ZoneID
	PatientID      id.PatientID
	Center         Coordinate
	RadiusMeters   int
	Address        string
	SafeExitActive bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LocationSample is an immutable ledger entry. ZoneID records the zone
// generation the verdict was computed against.
type LocationSample struct {
	ID         id.SampleID
	PatientID  id.PatientID
	ZoneID     id.ZoneID
	Coordinate Coordinate
	Verdict    Verdict
	RecordedAt time.Time
	ReportedAt *time.Time
}

// Tracking is the per-patient "current state" row updated in the same atomic
// step as each ledger append.
type Tracking struct {
	PatientID        id.PatientID
	ZoneID           id.ZoneID
	State            TrackingState
	LastSampleID     id.SampleID
	LastRecordedAt   time.Time
	ExcursionStartID id.SampleID
	ExcursionStartAt time.Time
}

// UnknownTracking is the state before any sample under zoneID.
func UnknownTracking(patientID id.PatientID, zoneID id.ZoneID) Tracking {
	return Tracking{PatientID: patientID, ZoneID: zoneID, State: StateUnknown}
}

// AlertEvent is the logical "patient left zone" event handed to dispatch.
type AlertEvent struct {
	PatientID        id.PatientID
	PatientName      string
	ZoneID           id.ZoneID
	SampleID         id.SampleID
	ExcursionStartID id.SampleID
	Coordinate       Coordinate
	RecordedAt       time.Time
}

// Key is the idempotency key: one dispatch per patient, zone generation and
// excursion.
func (e AlertEvent) Key() string {
	return "alert:" + e.PatientID.String() + ":" + e.ZoneID.String() + ":" + e.ExcursionStartID.String()
}

// NewAlertEvent builds the event for the sample that opened an excursion.
func NewAlertEvent(sample LocationSample, next Tracking) AlertEvent {
	return AlertEvent{
		PatientID:        sample.PatientID,
		ZoneID:           sample.ZoneID,
		SampleID:         sample.ID,
		ExcursionStartID: next.ExcursionStartID,
		Coordinate:       sample.Coordinate,
		RecordedAt:       sample.RecordedAt,
	}
}
