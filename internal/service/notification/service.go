package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/email"
	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
	"github.com/arogyalock/consent-api/pkg/messaging"
)

type Service interface {
	Send(ctx context.Context, notification *model.Notification) error
	SendOneTimeCode(ctx context.Context, identifier, code string, ttl time.Duration) error
	NotifyDisclosure(ctx context.Context, subject *model.Subject, event *model.EmergencyAccessEvent) error
	NotifyConsentEvent(ctx context.Context, eventType string, artifact *model.ConsentArtifact) error
}

type service struct {
	repo     repository.NotificationRepository
	subjects repository.SubjectRepository
	emailSvc email.Service
	broker   messaging.Broker
}

func NewService(repo repository.NotificationRepository, subjects repository.SubjectRepository, emailSvc email.Service, broker messaging.Broker) Service {
	return &service{
		repo:     repo,
		subjects: subjects,
		emailSvc: emailSvc,
		broker:   broker,
	}
}

// Send records the notification, attempts delivery, and persists the
// outcome. Callers that must not block on delivery wrap this in the
// outbox instead of calling it directly.
func (s *service) Send(ctx context.Context, n *model.Notification) error {
	now := time.Now()
	n.ID = uuid.New()
	n.CreatedAt = now
	n.UpdatedAt = now
	n.Status = model.NotificationStatusPending

	if err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	if err := s.deliver(ctx, n); err != nil {
		n.Status = model.NotificationStatusFailed
		n.LastError = err.Error()
		n.UpdatedAt = time.Now()
		_ = s.repo.Update(ctx, n)
		return err
	}

	sent := time.Now()
	n.Status = model.NotificationStatusSent
	n.SentAt = &sent
	n.UpdatedAt = sent
	if err := s.repo.Update(ctx, n); err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	s.publish(ctx, n)
	return nil
}

func (s *service) deliver(ctx context.Context, n *model.Notification) error {
	switch n.Channel {
	case model.NotificationChannelEmail:
		return s.emailSvc.SendCustom(ctx, n.Recipient, n.Subject, n.Content)
	default:
		return fmt.Errorf("unsupported channel: %s", n.Channel)
	}
}

// SendOneTimeCode delivers a verification code. The code itself is never
// persisted in the notification record.
func (s *service) SendOneTimeCode(ctx context.Context, identifier, code string, ttl time.Duration) error {
	if err := s.emailSvc.SendOneTimeCode(ctx, identifier, code, ttl); err != nil {
		return err
	}
	n := &model.Notification{
		Base:      model.Base{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		Type:      model.NotificationTypeOneTimeCode,
		Channel:   model.NotificationChannelEmail,
		Recipient: identifier,
		Subject:   "Your verification code",
		Content:   "[redacted]",
		Status:    model.NotificationStatusSent,
	}
	sent := time.Now()
	n.SentAt = &sent
	return s.repo.Create(ctx, n)
}

// NotifyDisclosure tells the subject their emergency profile was viewed.
func (s *service) NotifyDisclosure(ctx context.Context, subject *model.Subject, event *model.EmergencyAccessEvent) error {
	if subject.NotifyEmail == "" {
		return fmt.Errorf("subject %s has no notification address", subject.ID)
	}
	if err := s.emailSvc.SendDisclosureNotice(ctx, subject.NotifyEmail, subject.FullName, event.CreatedAt); err != nil {
		return err
	}
	n := &model.Notification{
		Base:      model.Base{ID: uuid.New(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		SubjectID: subject.ID,
		Type:      model.NotificationTypeEmergencyDisclosure,
		Channel:   model.NotificationChannelEmail,
		Recipient: subject.NotifyEmail,
		Subject:   "Emergency access to your record",
		Content:   fmt.Sprintf("Disclosure event %s", event.ID),
		Status:    model.NotificationStatusSent,
	}
	sent := time.Now()
	n.SentAt = &sent
	if err := s.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	s.publish(ctx, n)
	return nil
}

// NotifyConsentEvent fans a ledger change out to the subject. Driven by
// the outbox worker, not the request path.
func (s *service) NotifyConsentEvent(ctx context.Context, eventType string, artifact *model.ConsentArtifact) error {
	subject, err := s.subjects.Get(ctx, artifact.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to resolve subject: %w", err)
	}
	if subject.NotifyEmail == "" {
		return fmt.Errorf("subject %s has no notification address", subject.ID)
	}

	var subj, content string
	switch eventType {
	case model.OutboxEventConsentRequested:
		subj = "New consent request"
		content = fmt.Sprintf("A %s request for %v is awaiting your response.", artifact.Purpose, artifact.Scope)
	case model.OutboxEventConsentRevoked:
		subj = "Consent revoked"
		content = fmt.Sprintf("Your %s grant has been revoked.", artifact.Purpose)
	default:
		subj = "Consent updated"
		content = fmt.Sprintf("Your %s request is now %s.", artifact.Purpose, artifact.Status)
	}

	return s.Send(ctx, &model.Notification{
		SubjectID: subject.ID,
		Type:      consentNotificationType(eventType),
		Channel:   model.NotificationChannelEmail,
		Recipient: subject.NotifyEmail,
		Subject:   subj,
		Content:   content,
	})
}

func consentNotificationType(eventType string) string {
	if eventType == model.OutboxEventConsentRequested {
		return model.NotificationTypeConsentRequested
	}
	return model.NotificationTypeConsentResolved
}

func (s *service) publish(ctx context.Context, n *model.Notification) {
	if s.broker == nil {
		return
	}
	_ = s.broker.Publish(ctx, messaging.ChannelNotifications, n)
}
