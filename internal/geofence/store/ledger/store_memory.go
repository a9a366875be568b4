package ledger

import (
	"context"
	"fmt"
	"sync"

	"safezone/internal/geofence/models"
	id "safezone/pkg/domain"
	"safezone/pkg/platform/sentinel"
)

// InMemoryStore holds each patient's samples in append order together with
// the tracking row, both guarded by one lock so Record is atomic.
type InMemoryStore struct {
	mu       sync.RWMutex
	samples  map[id.PatientID][]models.LocationSample
	tracking map[id.PatientID]models.Tracking
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		samples:  make(map[id.PatientID][]models.LocationSample),
		tracking: make(map[id.PatientID]models.Tracking),
	}
}

func (s *InMemoryStore) Tracking(_ context.Context, patientID id.PatientID) (*models.Tracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracking[patientID]
	if !ok {
		return nil, fmt.Errorf("tracking for patient %s: %w", patientID, sentinel.ErrNotFound)
	}
	return &t, nil
}

func (s *InMemoryStore) Record(_ context.Context, sample *models.LocationSample, next models.Tracking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.PatientID] = append(s.samples[sample.PatientID], *sample)
	s.tracking[sample.PatientID] = next
	return nil
}

// ListRecent returns up to limit samples, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, patientID id.PatientID, limit int) ([]*models.LocationSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.samples[patientID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]*models.LocationSample, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		sample := all[i]
		out = append(out, &sample)
	}
	return out, nil
}

// Purge drops the patient's samples and tracking row.
func (s *InMemoryStore) Purge(_ context.Context, patientID id.PatientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.samples, patientID)
	delete(s.tracking, patientID)
	return nil
}
