package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/pkg/metrics"
	"github.com/arogyalock/consent-api/pkg/validator"
)

var (
	ErrNotFound             = errors.New("consent artifact not found")
	ErrDuplicateActiveGrant = errors.New("an active grant already exists for this subject, requester and purpose")
	ErrInvalidState         = errors.New("artifact state does not permit this transition")
	ErrNotAuthorized        = errors.New("only the subject of an artifact may act on it")
)

// DefaultGrantTTL bounds ad-hoc care-management grants when the subject
// does not ask for a longer window.
const DefaultGrantTTL = 15 * time.Minute

type Service struct {
	repo       repository.ConsentRepository
	outbox     repository.OutboxRepository
	auditor    *audit.Service
	metrics    *metrics.Metrics
	defaultTTL time.Duration
	now        func() time.Time
}

func NewService(repo repository.ConsentRepository, outbox repository.OutboxRepository, auditor *audit.Service, m *metrics.Metrics, defaultTTL time.Duration) *Service {
	if defaultTTL <= 0 {
		defaultTTL = DefaultGrantTTL
	}
	return &Service{
		repo:       repo,
		outbox:     outbox,
		auditor:    auditor,
		metrics:    m,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Request creates a REQUESTED artifact for (subject, requester, purpose).
// A live GRANTED artifact for the same triple blocks the request.
func (s *Service) Request(ctx context.Context, actor *model.Actor, req *model.RequestConsentRequest) (*model.ConsentArtifact, error) {
	if err := validator.ValidateScope(req.Scope); err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := s.repo.ActiveGrant(ctx, req.SubjectID, req.RequesterID, req.Purpose, now); err == nil {
		return nil, ErrDuplicateActiveGrant
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active grants: %w", err)
	}

	artifact := &model.ConsentArtifact{
		Base: model.Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		SubjectID:   req.SubjectID,
		RequesterID: req.RequesterID,
		Purpose:     req.Purpose,
		Scope:       req.Scope,
		Status:      model.ConsentStatusRequested,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
	}

	if err := s.repo.Create(ctx, artifact); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveGrant) {
			return nil, ErrDuplicateActiveGrant
		}
		return nil, fmt.Errorf("failed to create consent artifact: %w", err)
	}

	if err := s.auditor.Log(ctx, &actor.ID, artifact.SubjectID, model.AuditActionConsentRequest, model.AuditResourceConsent, model.AuditOutcomeSuccess, &audit.LogOptions{
		Metadata: map[string]interface{}{
			"artifact_id": artifact.ID,
			"purpose":     artifact.Purpose,
			"scope":       artifact.Scope,
		},
	}); err != nil {
		return nil, err
	}

	s.enqueueEvent(ctx, model.OutboxEventConsentRequested, artifact)
	if s.metrics != nil {
		s.metrics.ConsentArtifacts.WithLabelValues(string(model.ConsentStatusRequested)).Inc()
	}
	return artifact, nil
}

// Respond resolves a REQUESTED artifact with the subject's decision.
// Concurrent calls on the same artifact are serialized by the conditional
// transition: the first to commit wins, the rest see ErrInvalidState.
func (s *Service) Respond(ctx context.Context, id uuid.UUID, actor *model.Actor, req *model.RespondConsentRequest) (*model.ConsentArtifact, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch consent artifact: %w", err)
	}
	if current.SubjectID != actor.ID {
		return nil, ErrNotAuthorized
	}

	now := s.now()
	var target model.ConsentStatus
	var grantedAt, expiresAt *time.Time
	switch req.Decision {
	case model.ConsentDecisionGrant:
		// Several REQUESTED artifacts for one triple are legal, so the
		// single-active-grant check from Request must run again here:
		// granting the second of two pending requests would otherwise
		// mint a second concurrent grant.
		if holder, err := s.repo.ActiveGrant(ctx, current.SubjectID, current.RequesterID, current.Purpose, now); err == nil {
			if holder.ID == id {
				// Already granted, a repeat respond is a state error.
				return nil, ErrInvalidState
			}
			return nil, ErrDuplicateActiveGrant
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to check active grants: %w", err)
		}
		s.expireStaleHolder(ctx, current, now)

		target = model.ConsentStatusGranted
		ttl := s.defaultTTL
		if req.TTLSeconds > 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
		}
		g, e := now, now.Add(ttl)
		grantedAt, expiresAt = &g, &e
	case model.ConsentDecisionDeny:
		target = model.ConsentStatusDenied
	default:
		return nil, fmt.Errorf("unknown decision %q", req.Decision)
	}

	artifact, err := s.repo.Transition(ctx, id, model.ConsentStatusRequested, target, grantedAt, expiresAt)
	if err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			return nil, ErrInvalidState
		}
		if errors.Is(err, repository.ErrDuplicateActiveGrant) {
			// Lost the race between the check above and the commit.
			return nil, ErrDuplicateActiveGrant
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to transition consent artifact: %w", err)
	}

	if err := s.auditor.Log(ctx, &actor.ID, artifact.SubjectID, model.AuditActionConsentRespond, model.AuditResourceConsent, model.AuditOutcomeSuccess, &audit.LogOptions{
		Metadata: map[string]interface{}{
			"artifact_id": artifact.ID,
			"decision":    req.Decision,
			"expires_at":  artifact.ExpiresAt,
		},
	}); err != nil {
		return nil, err
	}

	s.enqueueEvent(ctx, model.OutboxEventConsentResolved, artifact)
	if s.metrics != nil {
		s.metrics.ConsentArtifacts.WithLabelValues(string(target)).Inc()
	}
	return artifact, nil
}

// Revoke withdraws a grant. Revoking an already-REVOKED artifact is a
// no-op that returns the artifact unchanged.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, actor *model.Actor) (*model.ConsentArtifact, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch consent artifact: %w", err)
	}
	if current.SubjectID != actor.ID {
		return nil, ErrNotAuthorized
	}
	if current.Status == model.ConsentStatusRevoked {
		return current, nil
	}

	artifact, err := s.repo.Transition(ctx, id, model.ConsentStatusGranted, model.ConsentStatusRevoked, nil, nil)
	if err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			// Lost a race against another revoke: still idempotent.
			if latest, gerr := s.repo.Get(ctx, id); gerr == nil && latest.Status == model.ConsentStatusRevoked {
				return latest, nil
			}
			return nil, ErrInvalidState
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to revoke consent artifact: %w", err)
	}

	if err := s.auditor.Log(ctx, &actor.ID, artifact.SubjectID, model.AuditActionConsentRevoke, model.AuditResourceConsent, model.AuditOutcomeSuccess, &audit.LogOptions{
		Metadata: map[string]interface{}{"artifact_id": artifact.ID},
	}); err != nil {
		return nil, err
	}

	s.enqueueEvent(ctx, model.OutboxEventConsentRevoked, artifact)
	if s.metrics != nil {
		s.metrics.ConsentArtifacts.WithLabelValues(string(model.ConsentStatusRevoked)).Inc()
	}
	return artifact, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.ConsentArtifact, error) {
	artifact, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.applyLazyExpiry(ctx, artifact)
	return artifact, nil
}

// ListForSubject returns the subject's artifacts newest-first, applying
// lazy expiry on read.
func (s *Service) ListForSubject(ctx context.Context, subjectID uuid.UUID) ([]*model.ConsentArtifact, error) {
	artifacts, err := s.repo.ListForSubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consent artifacts: %w", err)
	}
	for _, a := range artifacts {
		s.applyLazyExpiry(ctx, a)
	}
	return artifacts, nil
}

func (s *Service) ListForRequester(ctx context.Context, requesterID uuid.UUID) ([]*model.ConsentArtifact, error) {
	artifacts, err := s.repo.ListForRequester(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consent artifacts: %w", err)
	}
	for _, a := range artifacts {
		s.applyLazyExpiry(ctx, a)
	}
	return artifacts, nil
}

// ExpireStale proactively flips GRANTED artifacts past their TTL. Run by
// the sweep worker for trail readability; readers never depend on it.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpireStale(ctx, s.now())
}

// expireStaleHolder flips any GRANTED sibling of the triple that is past
// its TTL. The store's grant-uniqueness check keys on status alone, so a
// stale holder left at GRANTED would block a perfectly valid re-grant.
func (s *Service) expireStaleHolder(ctx context.Context, current *model.ConsentArtifact, now time.Time) {
	siblings, err := s.repo.ListForPair(ctx, current.SubjectID, current.RequesterID)
	if err != nil {
		return
	}
	for _, a := range siblings {
		if a.Purpose == current.Purpose && a.PastExpiry(now) {
			_ = s.repo.MarkExpired(ctx, a.ID)
		}
	}
}

// applyLazyExpiry rewrites the in-memory status of a stale grant and
// persists the flip best-effort. Expiry is monotonic and idempotent, so
// a lost write here is harmless.
func (s *Service) applyLazyExpiry(ctx context.Context, a *model.ConsentArtifact) {
	if !a.PastExpiry(s.now()) {
		return
	}
	a.Status = model.ConsentStatusExpired
	_ = s.repo.MarkExpired(ctx, a.ID)
}

// enqueueEvent records a notification fan-out event alongside the state
// change. Delivery is best-effort; a failed enqueue never rolls back the
// ledger write.
func (s *Service) enqueueEvent(ctx context.Context, eventType string, artifact *model.ConsentArtifact) {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return
	}
	event := &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		Status:    string(model.OutboxStatusPending),
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	_ = s.outbox.Create(ctx, event)
}
