package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

const (
	OutboxEventConsentRequested  = "CONSENT_REQUESTED"
	OutboxEventConsentResolved   = "CONSENT_RESOLVED"
	OutboxEventConsentRevoked    = "CONSENT_REVOKED"
	OutboxEventEmergencyAccessed = "EMERGENCY_ACCESSED"
	OutboxEventNotifySubject     = "NOTIFY_SUBJECT"
)

// OutboxEvent rides the same transaction as the state change it describes
// and is published to the broker by the worker binary.
type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}
