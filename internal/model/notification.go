package model

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending  NotificationStatus = "pending"
	NotificationStatusSent     NotificationStatus = "sent"
	NotificationStatusFailed   NotificationStatus = "failed"
	NotificationStatusRetrying NotificationStatus = "retrying"
)

const (
	NotificationChannelEmail = "email"
	NotificationChannelSMS   = "sms"
	NotificationChannelPush  = "push"
)

const (
	NotificationTypeConsentRequested    = "consent.requested"
	NotificationTypeConsentResolved     = "consent.resolved"
	NotificationTypeEmergencyDisclosure = "emergency.disclosure"
	NotificationTypeOneTimeCode         = "auth.one_time_code"
)

// Notification is one message owed to a subject. Delivery is asynchronous
// and best-effort; the operations that enqueue notifications never block
// on delivery.
type Notification struct {
	Base
	SubjectID  uuid.UUID          `json:"subject_id" db:"subject_id"`
	Type       string             `json:"type" db:"type"`
	Channel    string             `json:"channel" db:"channel"`
	Recipient  string             `json:"recipient" db:"recipient"`
	Subject    string             `json:"subject" db:"subject"`
	Content    string             `json:"content" db:"content"`
	Status     NotificationStatus `json:"status" db:"status"`
	RetryCount int                `json:"retry_count" db:"retry_count"`
	LastError  string             `json:"last_error,omitempty" db:"last_error"`
	SentAt     *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
}
