package models

import (
	"math"
	"strings"
	"time"

	dErrors "safezone/pkg/domain-errors"
)

// SubmitLocationRequest carries raw device coordinates. Any containment flag
// a client sends is not part of this type and never reaches the evaluator.
// Coordinates are pointers so an omitted field is rejected rather than read
// as zero.
type SubmitLocationRequest struct {
	Latitude   *float64   `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	ReportedAt *time.Time `json:"timestamp,omitempty"`
}

func (r *SubmitLocationRequest) Validate() error {
	return validateCoordinate(r.Latitude, r.Longitude)
}

// Coordinate returns the quantized position. Call after Validate.
func (r *SubmitLocationRequest) Coordinate() Coordinate {
	return CoordinateFromDegrees(*r.Latitude, *r.Longitude)
}

type SubmitResult struct {
	Sample         *LocationSample
	Verdict        Verdict
	AlertTriggered bool
}

// SetZoneRequest creates or replaces a patient's zone. A nil radius takes the
// default.
type SetZoneRequest struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters *int     `json:"radius_meters,omitempty"`
	Address      string   `json:"address,omitempty"`
}

func (r *SetZoneRequest) Normalize() {
	r.Address = strings.TrimSpace(r.Address)
	if r.RadiusMeters == nil {
		radius := DefaultRadiusMeters
		r.RadiusMeters = &radius
	}
}

func (r *SetZoneRequest) Validate() error {
	if err := validateCoordinate(r.Latitude, r.Longitude); err != nil {
		return err
	}
	if r.RadiusMeters != nil && (*r.RadiusMeters <= 0 || *r.RadiusMeters > MaxRadiusMeters) {
		return dErrors.New(dErrors.CodeValidation, "radius_meters must be between 1 and 1000000")
	}
	if len(r.Address) > MaxAddressLength {
		return dErrors.New(dErrors.CodeValidation, "address must be at most 255 characters")
	}
	return nil
}

// Center returns the quantized zone center. Call after Validate.
func (r *SetZoneRequest) Center() Coordinate {
	return CoordinateFromDegrees(*r.Latitude, *r.Longitude)
}

// SetOverrideRequest sets safe-exit to Active, or flips it when Active is nil.
type SetOverrideRequest struct {
	Active *bool `json:"active,omitempty"`
}

// Degrees returns a pointer to v for building requests in code.
func Degrees(v float64) *float64 {
	return &v
}

func validateCoordinate(latPtr, lonPtr *float64) error {
	if latPtr == nil {
		return dErrors.New(dErrors.CodeValidation, "latitude is required")
	}
	if lonPtr == nil {
		return dErrors.New(dErrors.CodeValidation, "longitude is required")
	}
	lat, lon := *latPtr, *lonPtr
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return dErrors.New(dErrors.CodeValidation, "latitude must be between -90 and 90")
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return dErrors.New(dErrors.CodeValidation, "longitude must be between -180 and 180")
	}
	return nil
}
