// Package caregiver resolves the patient/caregiver relationship graph owned by
// the account modules: who may act for a patient, the patient's display name,
// and which caregivers should receive zone-exit alerts.
package caregiver

import (
	"strings"

	id "safezone/pkg/domain"
)

// Relation is how an actor is related to a patient.
type Relation string

const (
	RelationNone      Relation = "none"
	RelationSelf      Relation = "self"
	RelationCaregiver Relation = "caregiver"
)

// CanAct reports whether the relation grants read/write on the patient's
// zone and history.
func (r Relation) CanAct() bool {
	return r == RelationSelf || r == RelationCaregiver
}

type Patient struct {
	ID        id.PatientID
	Username  string
	FirstName string
	LastName  string
}

// DisplayName is "First Last", falling back to the username when both name
// parts are blank.
func (p Patient) DisplayName() string {
	return displayName(p.FirstName, p.LastName, p.Username)
}

// Caregiver is a user linked to exactly one patient. PushToken is empty when
// the caregiver has not registered a device.
type Caregiver struct {
	ID        id.UserID
	PatientID id.PatientID
	Username  string
	FirstName string
	LastName  string
	PushToken string
}

func (c Caregiver) DisplayName() string {
	return displayName(c.FirstName, c.LastName, c.Username)
}

func (c Caregiver) HasPushToken() bool {
	return strings.TrimSpace(c.PushToken) != ""
}

func displayName(first, last, username string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name == "" {
		return username
	}
	return name
}
