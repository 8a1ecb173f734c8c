package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one append-only trail entry. ActorID is nil for anonymous
// break-glass accessors. Records are write-once: the query API exposes no
// update or delete, only the retention sweep prunes aged records.
type AuditRecord struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	ActorID   *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	SubjectID uuid.UUID       `json:"subject_id" db:"subject_id"`
	Action    string          `json:"action" db:"action"`
	Resource  string          `json:"resource" db:"resource"`
	Outcome   string          `json:"outcome" db:"outcome"`
	Metadata  json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionEvaluate        = "access.evaluate"
	AuditActionConsentRequest  = "consent.request"
	AuditActionConsentRespond  = "consent.respond"
	AuditActionConsentRevoke   = "consent.revoke"
	AuditActionEmergencyAccess = "emergency.access"
	AuditActionKillSwitch      = "admin.kill_switch"
	AuditActionLogin           = "auth.login"
	AuditActionCodeIssue       = "auth.code_issue"
	AuditActionCodeVerify      = "auth.code_verify"
	AuditActionNotify          = "notification.send"

	// Outcomes beyond the decision outcomes
	AuditOutcomeEmergencyDisclosure = "EMERGENCY_DISCLOSURE"
	AuditOutcomeNotificationFailed  = "NOTIFICATION_FAILED"
	AuditOutcomeServiceDisabled     = "SERVICE_DISABLED"
	AuditOutcomeSuccess             = "SUCCESS"
	AuditOutcomeFailure             = "FAILURE"

	// Resource types
	AuditResourceClinicalRecord = "clinical_record"
	AuditResourceConsent        = "consent_artifact"
	AuditResourceEmergencyView  = "emergency_view"
	AuditResourceKillSwitch     = "emergency_kill_switch"
	AuditResourceCredential     = "credential"
)

// AuditFilter narrows a trail query. Before is a keyset cursor: records
// strictly older than it are returned, newest first.
type AuditFilter struct {
	SubjectID *uuid.UUID `form:"subject_id"`
	ActorID   *uuid.UUID `form:"actor_id"`
	Action    string     `form:"action"`
	Outcome   string     `form:"outcome"`
	From      *time.Time `form:"from"`
	To        *time.Time `form:"to"`
	Before    *time.Time `form:"before"`
	Limit     int        `form:"limit"`
}

// AggregateStats summarizes trail activity for operator dashboards.
type AggregateStats struct {
	TotalRecords   int64          `json:"total_records"`
	ActionCounts   map[string]int `json:"action_counts"`
	OutcomeCounts  map[string]int `json:"outcome_counts"`
	HourlyActivity map[int]int    `json:"hourly_activity"`
}
