package caregiver

import (
	"context"
	"fmt"
	"sync"

	id "safezone/pkg/domain"
	"safezone/pkg/platform/sentinel"
)

// InMemoryDirectory is a Directory backed by maps, used in tests and local
// runs without Postgres.
type InMemoryDirectory struct {
	mu         sync.RWMutex
	patients   map[id.PatientID]Patient
	caregivers map[id.UserID]Caregiver
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		patients:   make(map[id.PatientID]Patient),
		caregivers: make(map[id.UserID]Caregiver),
	}
}

func (d *InMemoryDirectory) AddPatient(p Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

// Link assigns c to c.PatientID, replacing any previous assignment.
func (d *InMemoryDirectory) Link(c Caregiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caregivers[c.ID] = c
}

func (d *InMemoryDirectory) Patient(_ context.Context, patientID id.PatientID) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, sentinel.ErrNotFound)
	}
	return &p, nil
}

func (d *InMemoryDirectory) LinkedCaregivers(_ context.Context, patientID id.PatientID) ([]Caregiver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Caregiver
	for _, c := range d.caregivers {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *InMemoryDirectory) Relation(_ context.Context, actor id.UserID, patientID id.PatientID) (Relation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.patients[patientID]; !ok {
		return RelationNone, nil
	}
	if actor == patientID.AsUser() {
		return RelationSelf, nil
	}
	if c, ok := d.caregivers[actor]; ok && c.PatientID == patientID {
		return RelationCaregiver, nil
	}
	return RelationNone, nil
}
