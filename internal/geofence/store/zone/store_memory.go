package zone

import (
	"context"
	"fmt"
	"sync"
	"time"

	"safezone/internal/geofence/models"
	id "safezone/pkg/domain"
	"safezone/pkg/platform/sentinel"
)

// InMemoryStore keeps one zone per patient.
type InMemoryStore struct {
	mu    sync.RWMutex
	zones map[id.PatientID]models.Zone
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{zones: make(map[id.PatientID]models.Zone)}
}

func (s *InMemoryStore) FindByPatient(_ context.Context, patientID id.PatientID) (*models.Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[patientID]
	if !ok {
		return nil, fmt.Errorf("zone for patient %s: %w", patientID, sentinel.ErrNotFound)
	}
	return &z, nil
}

// Replace stores zone as the patient's only zone, retiring any previous one.
func (s *InMemoryStore) Replace(_ context.Context, zone *models.Zone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[zone.PatientID] = *zone
	return nil
}

func (s *InMemoryStore) SetSafeExit(_ context.Context, patientID id.PatientID, active bool, updatedAt time.Time) (*models.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	z, ok := s.zones[patientID]
	if !ok {
		return nil, fmt.Errorf("zone for patient %s: %w", patientID, sentinel.ErrNotFound)
	}
	z.SafeExitActive = active
	z.UpdatedAt = updatedAt
	s.zones[patientID] = z
	return &z, nil
}

func (s *InMemoryStore) Delete(_ context.Context, patientID id.PatientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[patientID]; !ok {
		return fmt.Errorf("zone for patient %s: %w", patientID, sentinel.ErrNotFound)
	}
	delete(s.zones, patientID)
	return nil
}
