package access

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/pkg/metrics"
	"github.com/arogyalock/consent-api/pkg/validator"
)

// BreakGlass is the emergency path the evaluator delegates to when the
// caller declares EMERGENCY mode.
type BreakGlass interface {
	AccessByID(ctx context.Context, subjectID uuid.UUID, fingerprint string) (*model.EmergencyView, *model.EmergencyAccessEvent, error)
}

type Service struct {
	consents   repository.ConsentRepository
	breakGlass BreakGlass
	auditor    *audit.Service
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(consents repository.ConsentRepository, breakGlass BreakGlass, auditor *audit.Service, m *metrics.Metrics) *Service {
	return &Service{
		consents:   consents,
		breakGlass: breakGlass,
		auditor:    auditor,
		metrics:    m,
		now:        time.Now,
	}
}

// Evaluate answers "may this actor see these categories of this subject's
// record right now". Every call appends exactly one audit record before
// the decision is returned; if the append fails, the call fails.
func (s *Service) Evaluate(ctx context.Context, actor *model.Actor, req *model.EvaluateAccessRequest) (*model.AccessDecision, error) {
	if req.Mode == model.AccessModeEmergency {
		return s.evaluateEmergency(ctx, actor, req)
	}

	if err := validator.ValidateScope(req.Scope); err != nil {
		return nil, err
	}

	start := s.now()
	decision, err := s.decide(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	if err := s.audit(ctx, actor, req, decision); err != nil {
		return nil, err
	}
	s.observe(decision, s.now().Sub(start))
	return decision, nil
}

func (s *Service) decide(ctx context.Context, actor *model.Actor, req *model.EvaluateAccessRequest) (*model.AccessDecision, error) {
	// Subjects always see their own record.
	if actor.Role == model.RolePatient && actor.ID == req.SubjectID {
		return &model.AccessDecision{
			Allowed:      true,
			Outcome:      model.OutcomeAllow,
			Reason:       model.ReasonSelfAccess,
			AllowedScope: req.Scope,
		}, nil
	}

	artifacts, err := s.consents.ListForPair(ctx, req.SubjectID, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read consent ledger: %w", err)
	}

	now := s.now()
	for _, a := range artifacts {
		if a.Live(now) && a.Covers(req.Scope) {
			id := a.ID
			return &model.AccessDecision{
				Allowed:           true,
				Outcome:           model.OutcomeAllow,
				Reason:            model.ReasonConsentGranted,
				ConsentArtifactID: &id,
				AllowedScope:      req.Scope,
			}, nil
		}
	}

	if len(artifacts) == 0 {
		return &model.AccessDecision{
			Outcome: model.OutcomeRequiresConsent,
			Reason:  model.ReasonNeverRequested,
		}, nil
	}

	// No live covering grant: the newest artifact tells the caller whether
	// to wait, re-ask, or show an explicit refusal.
	newest := artifacts[0]
	id := newest.ID
	switch newest.EffectiveStatus(now) {
	case model.ConsentStatusRequested:
		return &model.AccessDecision{
			Outcome:           model.OutcomeRequiresConsent,
			Reason:            model.ReasonAwaitingResponse,
			ConsentArtifactID: &id,
		}, nil
	case model.ConsentStatusDenied:
		return &model.AccessDecision{
			Outcome:           model.OutcomeDeny,
			Reason:            model.ReasonExplicitlyDenied,
			ConsentArtifactID: &id,
		}, nil
	case model.ConsentStatusRevoked:
		return &model.AccessDecision{
			Outcome:           model.OutcomeDeny,
			Reason:            model.ReasonRevoked,
			ConsentArtifactID: &id,
		}, nil
	case model.ConsentStatusExpired:
		return &model.AccessDecision{
			Outcome:           model.OutcomeDeny,
			Reason:            model.ReasonExpired,
			ConsentArtifactID: &id,
		}, nil
	default:
		// A GRANTED artifact that does not cover the requested scope: the
		// caller has to ask for the wider scope.
		return &model.AccessDecision{
			Outcome:           model.OutcomeRequiresConsent,
			Reason:            model.ReasonNeverRequested,
			ConsentArtifactID: &id,
		}, nil
	}
}

// evaluateEmergency bypasses the ledger entirely. The delegate performs
// its own audited disclosure; the evaluate call itself is audited too so
// the trail shows both the question and the break-glass answer.
func (s *Service) evaluateEmergency(ctx context.Context, actor *model.Actor, req *model.EvaluateAccessRequest) (*model.AccessDecision, error) {
	start := s.now()
	fingerprint := fmt.Sprintf("actor:%s", actor.ID)

	if _, _, err := s.breakGlass.AccessByID(ctx, req.SubjectID, fingerprint); err != nil {
		return nil, err
	}

	decision := &model.AccessDecision{
		Allowed:      true,
		Outcome:      model.OutcomeAllow,
		Reason:       model.ReasonEmergency,
		AllowedScope: model.EmergencyFieldSet,
	}
	if err := s.audit(ctx, actor, req, decision); err != nil {
		return nil, err
	}
	s.observe(decision, s.now().Sub(start))
	return decision, nil
}

func (s *Service) audit(ctx context.Context, actor *model.Actor, req *model.EvaluateAccessRequest, decision *model.AccessDecision) error {
	return s.auditor.Log(ctx, &actor.ID, req.SubjectID, model.AuditActionEvaluate, model.AuditResourceClinicalRecord, string(decision.Outcome), &audit.LogOptions{
		Metadata: map[string]interface{}{
			"reason":      decision.Reason,
			"mode":        req.Mode,
			"scope":       req.Scope,
			"artifact_id": decision.ConsentArtifactID,
		},
	})
}

func (s *Service) observe(decision *model.AccessDecision, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.AccessDecisions.WithLabelValues(string(decision.Outcome), string(decision.Reason)).Inc()
	s.metrics.DecisionLatency.Observe(elapsed.Seconds())
}
