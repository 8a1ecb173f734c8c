package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Emergency break-glass disclosures return this fixed minimal field set
// and nothing else, regardless of what the accessor asked for.
var EmergencyFieldSet = []string{
	"blood_group",
	"allergies",
	"chronic_conditions",
	"emergency_contacts",
	"current_medications",
}

// EmergencyDurationCap bounds how long a cached copy of the disclosed view
// may be replayed by the accessor's client. Recorded as policy, not
// enforced as a session lock: the break-glass path has no session.
const EmergencyDurationCap = 20 * time.Minute

// EmergencyAccessEvent records one break-glass disclosure. Immutable once
// written; the store only ever appends.
type EmergencyAccessEvent struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	SubjectID           uuid.UUID `json:"subject_id" db:"subject_id"`
	AccessorFingerprint string    `json:"accessor_fingerprint" db:"accessor_fingerprint"`
	DurationCapSeconds  int       `json:"duration_cap_seconds" db:"duration_cap_seconds"`
	FieldsDisclosed     []string  `json:"fields_disclosed" db:"-"`
	NotifiedSubject     bool      `json:"notified_subject" db:"notified_subject"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
}

// EmergencyContact is one person to reach when the subject cannot respond.
type EmergencyContact struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Relation string `json:"relation"`
}

// EmergencyView is the restricted data view disclosed by break-glass
// access. The core stores only these fields; full clinical history lives
// in the out-of-scope record store.
type EmergencyView struct {
	BloodGroup         string             `json:"blood_group"`
	Allergies          []string           `json:"allergies"`
	ChronicConditions  []string           `json:"chronic_conditions"`
	EmergencyContacts  []EmergencyContact `json:"emergency_contacts"`
	CurrentMedications []string           `json:"current_medications"`
}

// Subject is a directory entry mapping a patient to their public emergency
// handle, notification address, and minimal emergency profile.
type Subject struct {
	Base
	PublicHandle string          `json:"public_handle" db:"public_handle"`
	FullName     string          `json:"full_name" db:"full_name"`
	NotifyEmail  string          `json:"notify_email" db:"notify_email"`
	NotifyPhone  string          `json:"notify_phone" db:"notify_phone"`
	Profile      json.RawMessage `json:"profile" db:"profile"`
}

// EmergencyProfile decodes the stored minimal view.
func (s *Subject) EmergencyProfile() (*EmergencyView, error) {
	var v EmergencyView
	if len(s.Profile) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(s.Profile, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
