package model

import (
	"time"

	"github.com/google/uuid"
)

// ConsentStatus is the lifecycle state of a consent artifact.
type ConsentStatus string

const (
	ConsentStatusRequested ConsentStatus = "REQUESTED"
	ConsentStatusGranted   ConsentStatus = "GRANTED"
	ConsentStatusDenied    ConsentStatus = "DENIED"
	ConsentStatusRevoked   ConsentStatus = "REVOKED"
	ConsentStatusExpired   ConsentStatus = "EXPIRED"
)

// ConsentDecision is the subject's answer to a pending request.
type ConsentDecision string

const (
	ConsentDecisionGrant ConsentDecision = "GRANT"
	ConsentDecisionDeny  ConsentDecision = "DENY"
)

// Scope data categories a grant may cover.
const (
	ScopePrescriptions = "prescriptions"
	ScopeLabs          = "labs"
	ScopeNotes         = "notes"
	ScopeImaging       = "imaging"
	ScopeImmunizations = "immunizations"
	ScopeVitals        = "vitals"
)

// ConsentArtifact is one authorization request or grant, keyed by
// (subject, requester, purpose). ExpiresAt bounds the grant itself;
// DateFrom/DateTo bound which clinical dates the grant covers and are
// carried to the record store, not evaluated against wall-clock time.
type ConsentArtifact struct {
	Base
	SubjectID   uuid.UUID     `json:"subject_id" db:"subject_id"`
	RequesterID uuid.UUID     `json:"requester_id" db:"requester_id"`
	Purpose     string        `json:"purpose" db:"purpose"`
	Scope       []string      `json:"scope" db:"-"`
	Status      ConsentStatus `json:"status" db:"status"`
	GrantedAt   *time.Time    `json:"granted_at,omitempty" db:"granted_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	DateFrom    *time.Time    `json:"date_from,omitempty" db:"date_from"`
	DateTo      *time.Time    `json:"date_to,omitempty" db:"date_to"`
}

// PastExpiry reports whether a GRANTED artifact has outlived its TTL.
// Expiry is lazy: readers treat such an artifact as EXPIRED without
// requiring a write.
func (a *ConsentArtifact) PastExpiry(now time.Time) bool {
	return a.Status == ConsentStatusGranted && a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// EffectiveStatus applies lazy expiry on read.
func (a *ConsentArtifact) EffectiveStatus(now time.Time) ConsentStatus {
	if a.PastExpiry(now) {
		return ConsentStatusExpired
	}
	return a.Status
}

// Live reports whether the artifact currently authorizes access.
func (a *ConsentArtifact) Live(now time.Time) bool {
	return a.EffectiveStatus(now) == ConsentStatusGranted
}

// Covers reports whether the artifact's scope is a superset of the
// requested categories.
func (a *ConsentArtifact) Covers(requested []string) bool {
	if len(requested) == 0 {
		return false
	}
	granted := make(map[string]struct{}, len(a.Scope))
	for _, s := range a.Scope {
		granted[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}

// Request types
type RequestConsentRequest struct {
	SubjectID   uuid.UUID  `json:"subject_id" binding:"required"`
	RequesterID uuid.UUID  `json:"requester_id" binding:"required"`
	Purpose     string     `json:"purpose" binding:"required"`
	Scope       []string   `json:"scope" binding:"required,min=1,dive,scopecategory"`
	DateFrom    *time.Time `json:"date_from,omitempty"`
	DateTo      *time.Time `json:"date_to,omitempty"`
}

type RespondConsentRequest struct {
	Decision   ConsentDecision `json:"decision" binding:"required,oneof=GRANT DENY"`
	TTLSeconds int             `json:"ttl_seconds,omitempty" binding:"omitempty,min=60,max=31536000"`
}
