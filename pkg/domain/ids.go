// Package domain holds typed identifiers shared across modules.
//
// Each ID is a distinct named UUID type so a ZoneID can never be passed
// where a PatientID is expected. Parse functions are the trust boundary for
// identifiers arriving in URLs and token claims.
package domain

import (
	"github.com/google/uuid"

	dErrors "safezone/pkg/domain-errors"
)

type (
	UserID    uuid.UUID
	PatientID uuid.UUID
	ZoneID    uuid.UUID
	SampleID  uuid.UUID
)

// maxIDLength bounds input before it reaches uuid.Parse. The longest accepted
// form is the urn-prefixed one.
const maxIDLength = 45

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

func ParsePatientID(s string) (PatientID, error) {
	u, err := parseUUID(s, "patient id")
	return PatientID(u), err
}

func ParseZoneID(s string) (ZoneID, error) {
	u, err := parseUUID(s, "zone id")
	return ZoneID(u), err
}

func ParseSampleID(s string) (SampleID, error) {
	u, err := parseUUID(s, "sample id")
	return SampleID(u), err
}

func NewZoneID() ZoneID     { return ZoneID(uuid.New()) }
func NewSampleID() SampleID { return SampleID(uuid.New()) }

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id PatientID) String() string { return uuid.UUID(id).String() }
func (id ZoneID) String() string    { return uuid.UUID(id).String() }
func (id SampleID) String() string  { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PatientID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ZoneID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SampleID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// AsUser views a patient as the user account that owns the record.
func (id PatientID) AsUser() UserID { return UserID(id) }

// MarshalText lets IDs appear directly in JSON bodies and log attributes.
func (id UserID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id PatientID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id ZoneID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id SampleID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
