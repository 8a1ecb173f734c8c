package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/pkg/metrics"
)

var (
	ErrServiceDisabled = errors.New("emergency access is disabled")
	ErrSubjectNotFound = errors.New("no subject matches this handle")
)

// Notifier tells the subject their record was disclosed. Delivery failure
// never blocks the disclosure itself.
type Notifier interface {
	NotifyDisclosure(ctx context.Context, subject *model.Subject, event *model.EmergencyAccessEvent) error
}

type Service struct {
	subjects repository.SubjectRepository
	events   repository.EmergencyRepository
	auditor  *audit.Service
	notifier Notifier
	metrics  *metrics.Metrics
	cache    *gocache.Cache
	disabled atomic.Bool
	now      func() time.Time
}

func NewService(subjects repository.SubjectRepository, events repository.EmergencyRepository, auditor *audit.Service, notifier Notifier, m *metrics.Metrics, disabled bool) *Service {
	s := &Service{
		subjects: subjects,
		events:   events,
		auditor:  auditor,
		notifier: notifier,
		metrics:  m,
		cache:    gocache.New(5*time.Minute, 10*time.Minute),
		now:      time.Now,
	}
	s.disabled.Store(disabled)
	return s
}

// Access is the break-glass path. No Actor is required; the caller
// identifies itself only by an opaque device fingerprint. The disclosed
// view is always the fixed minimal field set.
func (s *Service) Access(ctx context.Context, handle, fingerprint string) (*model.EmergencyView, *model.EmergencyAccessEvent, error) {
	if s.disabled.Load() {
		_ = s.auditor.Log(ctx, nil, uuid.Nil, model.AuditActionEmergencyAccess, model.AuditResourceEmergencyView, model.AuditOutcomeServiceDisabled, &audit.LogOptions{
			Metadata: map[string]interface{}{"handle": handle, "fingerprint": fingerprint},
		})
		return nil, nil, ErrServiceDisabled
	}

	subject, err := s.resolveHandle(ctx, handle)
	if err != nil {
		return nil, nil, err
	}
	return s.disclose(ctx, subject, fingerprint)
}

// AccessByID serves the evaluator's EMERGENCY mode, where the caller
// already knows the subject's internal id.
func (s *Service) AccessByID(ctx context.Context, subjectID uuid.UUID, fingerprint string) (*model.EmergencyView, *model.EmergencyAccessEvent, error) {
	if s.disabled.Load() {
		return nil, nil, ErrServiceDisabled
	}
	subject, err := s.subjects.Get(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrSubjectNotFound
		}
		return nil, nil, fmt.Errorf("failed to resolve subject: %w", err)
	}
	return s.disclose(ctx, subject, fingerprint)
}

// disclose performs the three mandatory ordered side effects: event write,
// audit append, subject notification. The decision is not returned until
// the audit append has committed.
func (s *Service) disclose(ctx context.Context, subject *model.Subject, fingerprint string) (*model.EmergencyView, *model.EmergencyAccessEvent, error) {
	view, err := subject.EmergencyProfile()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode emergency profile: %w", err)
	}

	event := &model.EmergencyAccessEvent{
		ID:                  uuid.New(),
		SubjectID:           subject.ID,
		AccessorFingerprint: fingerprint,
		DurationCapSeconds:  int(model.EmergencyDurationCap.Seconds()),
		FieldsDisclosed:     model.EmergencyFieldSet,
		CreatedAt:           s.now(),
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, nil, fmt.Errorf("failed to record disclosure event: %w", err)
	}

	if err := s.auditor.Log(ctx, nil, subject.ID, model.AuditActionEmergencyAccess, model.AuditResourceEmergencyView, model.AuditOutcomeEmergencyDisclosure, &audit.LogOptions{
		Metadata: map[string]interface{}{
			"event_id":         event.ID,
			"fingerprint":      fingerprint,
			"fields_disclosed": event.FieldsDisclosed,
			"duration_cap_s":   event.DurationCapSeconds,
		},
	}); err != nil {
		return nil, nil, err
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyDisclosure(ctx, subject, event); err != nil {
			_ = s.auditor.Log(ctx, nil, subject.ID, model.AuditActionNotify, model.AuditResourceEmergencyView, model.AuditOutcomeNotificationFailed, &audit.LogOptions{
				Metadata: map[string]interface{}{"event_id": event.ID, "error": err.Error()},
			})
		} else {
			event.NotifiedSubject = true
		}
	}

	if s.metrics != nil {
		s.metrics.EmergencyAccess.Inc()
	}
	return view, event, nil
}

// SetDisabled flips the process-wide kill switch. The flip is a privileged
// administrative event; it is not acknowledged until audited.
func (s *Service) SetDisabled(ctx context.Context, actor *model.Actor, disabled bool) error {
	s.disabled.Store(disabled)
	if s.metrics != nil {
		s.metrics.KillSwitchFlips.Inc()
	}
	return s.auditor.Log(ctx, &actor.ID, uuid.Nil, model.AuditActionKillSwitch, model.AuditResourceKillSwitch, model.AuditOutcomeSuccess, &audit.LogOptions{
		Metadata: map[string]interface{}{"disabled": disabled},
	})
}

func (s *Service) Disabled() bool {
	return s.disabled.Load()
}

// ListEventsForSubject lets subjects review who broke the glass on them.
func (s *Service) ListEventsForSubject(ctx context.Context, subjectID uuid.UUID) ([]*model.EmergencyAccessEvent, error) {
	return s.events.ListForSubject(ctx, subjectID)
}

func (s *Service) resolveHandle(ctx context.Context, handle string) (*model.Subject, error) {
	if cached, ok := s.cache.Get(handle); ok {
		return cached.(*model.Subject), nil
	}
	subject, err := s.subjects.GetByPublicHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSubjectNotFound
		}
		return nil, fmt.Errorf("failed to resolve subject handle: %w", err)
	}
	s.cache.Set(handle, subject, gocache.DefaultExpiration)
	return subject, nil
}
