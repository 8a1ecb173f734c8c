package model

import (
	"github.com/google/uuid"
)

// AccessMode declares how the caller is asking for access.
type AccessMode string

const (
	AccessModeNormal    AccessMode = "NORMAL"
	AccessModeEmergency AccessMode = "EMERGENCY"
)

// DecisionOutcome is the evaluator's verdict. These are decision values,
// never errors: callers branch on the tag, not on message text.
type DecisionOutcome string

const (
	OutcomeAllow           DecisionOutcome = "ALLOW"
	OutcomeDeny            DecisionOutcome = "DENY"
	OutcomeRequiresConsent DecisionOutcome = "REQUIRES_CONSENT"
)

// DecisionReason qualifies the outcome so callers can distinguish
// "never asked" from "explicitly refused".
type DecisionReason string

const (
	ReasonSelfAccess       DecisionReason = "SELF_ACCESS"
	ReasonConsentGranted   DecisionReason = "CONSENT_GRANTED"
	ReasonEmergency        DecisionReason = "EMERGENCY_DISCLOSURE"
	ReasonNeverRequested   DecisionReason = "NEVER_REQUESTED"
	ReasonAwaitingResponse DecisionReason = "AWAITING_RESPONSE"
	ReasonExplicitlyDenied DecisionReason = "EXPLICITLY_DENIED"
	ReasonRevoked          DecisionReason = "REVOKED"
	ReasonExpired          DecisionReason = "EXPIRED"
)

// AccessDecision is produced per evaluate call; it is not persisted as an
// entity, only reflected in the audit trail.
type AccessDecision struct {
	Allowed           bool            `json:"allowed"`
	Outcome           DecisionOutcome `json:"outcome"`
	Reason            DecisionReason  `json:"reason"`
	ConsentArtifactID *uuid.UUID      `json:"consent_artifact_id,omitempty"`
	AllowedScope      []string        `json:"allowed_scope,omitempty"`
}

type EvaluateAccessRequest struct {
	SubjectID uuid.UUID  `json:"subject_id" binding:"required"`
	Scope     []string   `json:"scope" binding:"required,min=1,dive,scopecategory"`
	Mode      AccessMode `json:"mode" binding:"required,oneof=NORMAL EMERGENCY"`
}
