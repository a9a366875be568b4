package handler

import (
	"time"

	"safezone/internal/geofence/models"
)

type LocationSampleResponse struct {
	ID          string     `json:"id"`
	ZoneID      string     `json:"zone_id"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Verdict     string     `json:"verdict"`
	IsOutOfZone bool       `json:"is_out_of_zone"`
	RecordedAt  time.Time  `json:"recorded_at"`
	ReportedAt  *time.Time `json:"reported_at,omitempty"`
}

type SubmitLocationResponse struct {
	Sample         LocationSampleResponse `json:"sample"`
	AlertTriggered bool                   `json:"alert_triggered"`
}

type HistoryResponse struct {
	Samples []LocationSampleResponse `json:"samples"`
	Count   int                      `json:"count"`
}

type ZoneResponse struct {
	ID             string    `json:"id"`
	PatientID      string    `json:"patient_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	RadiusMeters   int       `json:"radius_meters"`
	Address        string    `json:"address,omitempty"`
	SafeExitActive bool      `json:"safe_exit_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type OverrideResponse struct {
	SafeExitActive bool   `json:"safe_exit_active"`
	Message        string `json:"message"`
}

func toSampleResponse(s *models.LocationSample) LocationSampleResponse {
	return LocationSampleResponse{
		ID:          s.ID.String(),
		ZoneID:      s.ZoneID.String(),
		Latitude:    s.Coordinate.Latitude(),
		Longitude:   s.Coordinate.Longitude(),
		Verdict:     string(s.Verdict),
		IsOutOfZone: s.Verdict == models.VerdictOutside,
		RecordedAt:  s.RecordedAt,
		ReportedAt:  s.ReportedAt,
	}
}

func toZoneResponse(z *models.Zone) ZoneResponse {
	return ZoneResponse{
		ID:             z.ID.String(),
		PatientID:      z.PatientID.String(),
		Latitude:       z.Center.Latitude(),
		Longitude:      z.Center.Longitude(),
		RadiusMeters:   z.RadiusMeters,
		Address:        z.Address,
		SafeExitActive: z.SafeExitActive,
		CreatedAt:      z.CreatedAt,
		UpdatedAt:      z.UpdatedAt,
	}
}

func toOverrideResponse(z *models.Zone) OverrideResponse {
	msg := "Safe exit deactivated"
	if z.SafeExitActive {
		msg = "Safe exit activated"
	}
	return OverrideResponse{SafeExitActive: z.SafeExitActive, Message: msg}
}
