package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository/memory"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/internal/service/consent"
	"github.com/arogyalock/consent-api/internal/service/emergency"
)

type fixture struct {
	svc        *Service
	consentSvc *consent.Service
	consents   *memory.ConsentStore
	audits     *memory.AuditStore
	events     *memory.EmergencyStore
	subjects   *memory.SubjectStore
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		consents: memory.NewConsentStore(),
		audits:   memory.NewAuditStore(),
		events:   memory.NewEmergencyStore(),
		subjects: memory.NewSubjectStore(),
		// anchored to the real clock: the ledger fixture stamps grants
		// with time.Now
		now: time.Now(),
	}
	auditor := audit.NewService(f.audits, nil)
	emergencySvc := emergency.NewService(f.subjects, f.events, auditor, nil, nil, false)
	f.consentSvc = consent.NewService(f.consents, memory.NewOutboxStore(), auditor, nil, 15*time.Minute)
	f.svc = NewService(f.consents, emergencySvc, auditor, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

// grant walks an artifact through request and grant and returns it.
func (f *fixture) grant(t *testing.T, subjectID, requesterID uuid.UUID, scope []string, ttl int) *model.ConsentArtifact {
	t.Helper()
	ctx := context.Background()
	requester := &model.Actor{ID: requesterID, Role: model.RoleClinician}
	subject := &model.Actor{ID: subjectID, Role: model.RolePatient}

	artifact, err := f.consentSvc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requesterID,
		Purpose:     "Care Management",
		Scope:       scope,
	})
	require.NoError(t, err)
	granted, err := f.consentSvc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{
		Decision:   model.ConsentDecisionGrant,
		TTLSeconds: ttl,
	})
	require.NoError(t, err)
	return granted
}

func TestSelfAccessAlwaysAllowed(t *testing.T) {
	f := newFixture(t)
	subjectID := uuid.New()
	actor := &model.Actor{ID: subjectID, Role: model.RolePatient}

	decision, err := f.svc.Evaluate(context.Background(), actor, &model.EvaluateAccessRequest{
		SubjectID: subjectID,
		Scope:     []string{model.ScopeLabs, model.ScopeNotes, model.ScopeImaging},
		Mode:      model.AccessModeNormal,
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, model.OutcomeAllow, decision.Outcome)
	assert.Equal(t, model.ReasonSelfAccess, decision.Reason)
}

func TestNeverRequestedRequiresConsent(t *testing.T) {
	f := newFixture(t)
	actor := &model.Actor{ID: uuid.New(), Role: model.RoleClinician}

	decision, err := f.svc.Evaluate(context.Background(), actor, &model.EvaluateAccessRequest{
		SubjectID: uuid.New(),
		Scope:     []string{model.ScopeLabs},
		Mode:      model.AccessModeNormal,
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, model.OutcomeRequiresConsent, decision.Outcome)
	assert.Equal(t, model.ReasonNeverRequested, decision.Reason)
}

func TestGrantedConsentAllows(t *testing.T) {
	f := newFixture(t)
	subjectID, requesterID := uuid.New(), uuid.New()
	granted := f.grant(t, subjectID, requesterID, []string{model.ScopeLabs, model.ScopeNotes}, 900)

	decision, err := f.svc.Evaluate(context.Background(), &model.Actor{ID: requesterID, Role: model.RoleClinician}, &model.EvaluateAccessRequest{
		SubjectID: subjectID,
		Scope:     []string{model.ScopeLabs},
		Mode:      model.AccessModeNormal,
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, model.ReasonConsentGranted, decision.Reason)
	require.NotNil(t, decision.ConsentArtifactID)
	assert.Equal(t, granted.ID, *decision.ConsentArtifactID)
}

func TestScopeMustBeSuperset(t *testing.T) {
	f := newFixture(t)
	subjectID, requesterID := uuid.New(), uuid.New()
	f.grant(t, subjectID, requesterID, []string{model.ScopeLabs}, 900)

	// labs granted, labs+notes asked: not covered
	decision, err := f.svc.Evaluate(context.Background(), &model.Actor{ID: requesterID, Role: model.RoleClinician}, &model.EvaluateAccessRequest{
		SubjectID: subjectID,
		Scope:     []string{model.ScopeLabs, model.ScopeNotes},
		Mode:      model.AccessModeNormal,
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, model.OutcomeRequiresConsent, decision.Outcome)
}

func TestExpiredGrantDenies(t *testing.T) {
	f := newFixture(t)
	subjectID, requesterID := uuid.New(), uuid.New()
	f.grant(t, subjectID, requesterID, []string{model.ScopeLabs}, 900)
	actor := &model.Actor{ID: requesterID, Role: model.RoleClinician}
	req := &model.EvaluateAccessRequest{
		SubjectID: subjectID,
		Scope:     []string{model.ScopeLabs},
		Mode:      model.AccessModeNormal,
	}

	decision, err := f.svc.Evaluate(context.Background(), actor, req)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// 901 seconds later the same question gets DENY reason=Expired
	f.now = f.now.Add(901 * time.Second)
	decision, err = f.svc.Evaluate(context.Background(), actor, req)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, model.OutcomeDeny, decision.Outcome)
	assert.Equal(t, model.ReasonExpired, decision.Reason)
}

func TestDeniedAndRevokedReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("explicitly denied", func(t *testing.T) {
		subjectID, requesterID := uuid.New(), uuid.New()
		artifact, err := f.consentSvc.Request(ctx, &model.Actor{ID: requesterID, Role: model.RoleClinician}, &model.RequestConsentRequest{
			SubjectID:   subjectID,
			RequesterID: requesterID,
			Purpose:     "Care Management",
			Scope:       []string{model.ScopeLabs},
		})
		require.NoError(t, err)
		_, err = f.consentSvc.Respond(ctx, artifact.ID, &model.Actor{ID: subjectID, Role: model.RolePatient}, &model.RespondConsentRequest{Decision: model.ConsentDecisionDeny})
		require.NoError(t, err)

		decision, err := f.svc.Evaluate(ctx, &model.Actor{ID: requesterID, Role: model.RoleClinician}, &model.EvaluateAccessRequest{
			SubjectID: subjectID,
			Scope:     []string{model.ScopeLabs},
			Mode:      model.AccessModeNormal,
		})
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeDeny, decision.Outcome)
		assert.Equal(t, model.ReasonExplicitlyDenied, decision.Reason)
	})

	t.Run("revoked", func(t *testing.T) {
		subjectID, requesterID := uuid.New(), uuid.New()
		granted := f.grant(t, subjectID, requesterID, []string{model.ScopeLabs}, 900)
		_, err := f.consentSvc.Revoke(ctx, granted.ID, &model.Actor{ID: subjectID, Role: model.RolePatient})
		require.NoError(t, err)

		decision, err := f.svc.Evaluate(ctx, &model.Actor{ID: requesterID, Role: model.RoleClinician}, &model.EvaluateAccessRequest{
			SubjectID: subjectID,
			Scope:     []string{model.ScopeLabs},
			Mode:      model.AccessModeNormal,
		})
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeDeny, decision.Outcome)
		assert.Equal(t, model.ReasonRevoked, decision.Reason)
	})

	t.Run("awaiting response", func(t *testing.T) {
		subjectID, requesterID := uuid.New(), uuid.New()
		_, err := f.consentSvc.Request(ctx, &model.Actor{ID: requesterID, Role: model.RoleClinician}, &model.RequestConsentRequest{
			SubjectID:   subjectID,
			RequesterID: requesterID,
			Purpose:     "Care Management",
			Scope:       []string{model.ScopeLabs},
		})
		require.NoError(t, err)

		decision, err := f.svc.Evaluate(ctx, &model.Actor{ID: requesterID, Role: model.RoleClinician}, &model.EvaluateAccessRequest{
			SubjectID: subjectID,
			Scope:     []string{model.ScopeLabs},
			Mode:      model.AccessModeNormal,
		})
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeRequiresConsent, decision.Outcome)
		assert.Equal(t, model.ReasonAwaitingResponse, decision.Reason)
	})
}

func TestEveryEvaluateIsAudited(t *testing.T) {
	f := newFixture(t)
	subjectID := uuid.New()
	actor := &model.Actor{ID: subjectID, Role: model.RolePatient}
	stranger := &model.Actor{ID: uuid.New(), Role: model.RoleClinician}

	before := f.audits.Count()
	_, err := f.svc.Evaluate(context.Background(), actor, &model.EvaluateAccessRequest{
		SubjectID: subjectID, Scope: []string{model.ScopeLabs}, Mode: model.AccessModeNormal,
	})
	require.NoError(t, err)
	_, err = f.svc.Evaluate(context.Background(), stranger, &model.EvaluateAccessRequest{
		SubjectID: subjectID, Scope: []string{model.ScopeLabs}, Mode: model.AccessModeNormal,
	})
	require.NoError(t, err)

	assert.Equal(t, before+2, f.audits.Count())
}

func TestAuditFailureFailsEvaluate(t *testing.T) {
	f := newFixture(t)
	subjectID := uuid.New()
	actor := &model.Actor{ID: subjectID, Role: model.RolePatient}

	f.audits.FailWith(errors.New("store down"))

	decision, err := f.svc.Evaluate(context.Background(), actor, &model.EvaluateAccessRequest{
		SubjectID: subjectID, Scope: []string{model.ScopeLabs}, Mode: model.AccessModeNormal,
	})
	assert.Nil(t, decision)
	assert.ErrorIs(t, err, audit.ErrAuditUnavailable)
}

func TestEmergencyModeBypassesLedger(t *testing.T) {
	f := newFixture(t)
	subjectID := uuid.New()
	require.NoError(t, f.subjects.Create(context.Background(), &model.Subject{
		Base:         model.Base{ID: subjectID},
		PublicHandle: "PAT-12345",
		FullName:     "Test Subject",
		NotifyEmail:  "subject@example.com",
	}))
	actor := &model.Actor{ID: uuid.New(), Role: model.RoleEmergencyResponder}

	decision, err := f.svc.Evaluate(context.Background(), actor, &model.EvaluateAccessRequest{
		SubjectID: subjectID,
		Scope:     []string{model.ScopeLabs, model.ScopeNotes},
		Mode:      model.AccessModeEmergency,
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, model.ReasonEmergency, decision.Reason)
	// the emergency field set, never the requested scope
	assert.Equal(t, model.EmergencyFieldSet, decision.AllowedScope)
	// break-glass recorded its own disclosure event
	assert.Equal(t, 1, f.events.Count())
}
