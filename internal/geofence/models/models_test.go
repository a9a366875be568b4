package models

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "safezone/pkg/domain"
	dErrors "safezone/pkg/domain-errors"
)

func TestCoordinatePrecision(t *testing.T) {
	c := CoordinateFromDegrees(37.7749291, -122.4194157)
	assert.Equal(t, int64(37774929), c.LatE6)
	assert.Equal(t, int64(-122419416), c.LonE6)
	assert.Equal(t, "37.774929,-122.419416", c.String())
}

func TestDegreesRoundTrip(t *testing.T) {
	for _, e6 := range []int64{0, 1, -1, 90_000_000, -179_999_999, 51_507_351} {
		got, err := ParseDegrees(FormatDegrees(e6))
		require.NoError(t, err)
		assert.Equal(t, e6, got, FormatDegrees(e6))
	}
	assert.Equal(t, "-0.000001", FormatDegrees(-1))

	_, err := ParseDegrees("north")
	assert.Error(t, err)
}

func TestSetZoneRequestValidation(t *testing.T) {
	radius := func(n int) *int { return &n }

	tests := []struct {
		name string
		req  SetZoneRequest
		ok   bool
	}{
		{"valid with default radius", SetZoneRequest{Latitude: Degrees(10), Longitude: Degrees(20)}, true},
		{"valid at null island", SetZoneRequest{Latitude: Degrees(0), Longitude: Degrees(0)}, true},
		{"missing latitude", SetZoneRequest{Longitude: Degrees(20), RadiusMeters: radius(50)}, false},
		{"missing longitude", SetZoneRequest{Latitude: Degrees(10)}, false},
		{"missing both", SetZoneRequest{RadiusMeters: radius(50)}, false},
		{"latitude out of range", SetZoneRequest{Latitude: Degrees(91), Longitude: Degrees(0)}, false},
		{"longitude out of range", SetZoneRequest{Latitude: Degrees(0), Longitude: Degrees(-180.5)}, false},
		{"NaN latitude", SetZoneRequest{Latitude: Degrees(math.NaN()), Longitude: Degrees(0)}, false},
		{"zero radius", SetZoneRequest{Latitude: Degrees(1), Longitude: Degrees(1), RadiusMeters: radius(0)}, false},
		{"negative radius", SetZoneRequest{Latitude: Degrees(1), Longitude: Degrees(1), RadiusMeters: radius(-5)}, false},
		{"radius at cap", SetZoneRequest{Latitude: Degrees(1), Longitude: Degrees(1), RadiusMeters: radius(MaxRadiusMeters)}, true},
		{"radius beyond cap", SetZoneRequest{Latitude: Degrees(1), Longitude: Degrees(1), RadiusMeters: radius(MaxRadiusMeters + 1)}, false},
		{"address too long", SetZoneRequest{Latitude: Degrees(1), Longitude: Degrees(1), Address: strings.Repeat("x", 256)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestSubmitLocationRequestRequiresCoordinates(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitLocationRequest
		ok   bool
	}{
		{"both present", SubmitLocationRequest{Latitude: Degrees(45.5), Longitude: Degrees(-73.6)}, true},
		{"zero is a real position", SubmitLocationRequest{Latitude: Degrees(0), Longitude: Degrees(0)}, true},
		{"empty", SubmitLocationRequest{}, false},
		{"timestamp only", SubmitLocationRequest{ReportedAt: &time.Time{}}, false},
		{"missing longitude", SubmitLocationRequest{Latitude: Degrees(1)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestSetZoneRequestNormalize(t *testing.T) {
	req := SetZoneRequest{Address: "  12 Elm St  "}
	req.Normalize()
	require.NotNil(t, req.RadiusMeters)
	assert.Equal(t, DefaultRadiusMeters, *req.RadiusMeters)
	assert.Equal(t, "12 Elm St", req.Address)
}

func TestAlertEventKeyIdentifiesExcursion(t *testing.T) {
	patient := id.PatientID(uuid.New())
	zone := id.ZoneID(uuid.New())
	start := id.SampleID(uuid.New())

	first := AlertEvent{PatientID: patient, ZoneID: zone, ExcursionStartID: start, SampleID: start}
	retry := AlertEvent{PatientID: patient, ZoneID: zone, ExcursionStartID: start, SampleID: id.NewSampleID()}
	nextZone := AlertEvent{PatientID: patient, ZoneID: id.NewZoneID(), ExcursionStartID: start}

	assert.Equal(t, first.Key(), retry.Key())
	assert.NotEqual(t, first.Key(), nextZone.Key())
	assert.True(t, strings.HasPrefix(first.Key(), "alert:"+patient.String()+":"))
}

func TestStateFor(t *testing.T) {
	assert.Equal(t, StateOutside, StateFor(VerdictOutside))
	assert.Equal(t, StateInside, StateFor(VerdictInside))
	assert.False(t, Verdict("maybe").IsValid())
}
