package consent

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository/memory"
	"github.com/arogyalock/consent-api/internal/service/audit"
)

type fixture struct {
	svc      *Service
	consents *memory.ConsentStore
	audits   *memory.AuditStore
	outbox   *memory.OutboxStore
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		consents: memory.NewConsentStore(),
		audits:   memory.NewAuditStore(),
		outbox:   memory.NewOutboxStore(),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.consents, f.outbox, audit.NewService(f.audits, nil), nil, 15*time.Minute)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func actorFor(id uuid.UUID, role model.ActorRole) *model.Actor {
	return &model.Actor{ID: id, Role: role, Identifier: "test@example.com"}
}

func TestConsentLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	requesterID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(requesterID, model.RoleClinician)

	artifact, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requesterID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusRequested, artifact.Status)
	assert.Nil(t, artifact.ExpiresAt)

	granted, err := f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{
		Decision:   model.ConsentDecisionGrant,
		TTLSeconds: 900,
	})
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusGranted, granted.Status)
	require.NotNil(t, granted.ExpiresAt)
	assert.Equal(t, f.now.Add(900*time.Second), *granted.ExpiresAt)

	revoked, err := f.svc.Revoke(ctx, artifact.ID, subject)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusRevoked, revoked.Status)

	// every transition audited
	assert.Equal(t, 3, f.audits.Count())
	// every transition produces a fan-out event
	assert.Len(t, f.outbox.Events(), 3)
}

func TestRequestDefaultTTLOnGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	artifact, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeNotes},
	})
	require.NoError(t, err)

	granted, err := f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{
		Decision: model.ConsentDecisionGrant,
	})
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(15*time.Minute), *granted.ExpiresAt)
}

func TestRequestRejectsInvalidScope(t *testing.T) {
	f := newFixture(t)
	requester := actorFor(uuid.New(), model.RoleClinician)

	for _, scope := range [][]string{nil, {}, {"genome"}, {model.ScopeLabs, model.ScopeLabs}} {
		_, err := f.svc.Request(context.Background(), requester, &model.RequestConsentRequest{
			SubjectID:   uuid.New(),
			RequesterID: requester.ID,
			Purpose:     "Care Management",
			Scope:       scope,
		})
		assert.Error(t, err, "scope %v", scope)
	}
}

func TestDuplicateActiveGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	req := &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	}

	artifact, err := f.svc.Request(ctx, requester, req)
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	require.NoError(t, err)

	_, err = f.svc.Request(ctx, requester, req)
	assert.ErrorIs(t, err, ErrDuplicateActiveGrant)

	// a different purpose is a different triple
	other := *req
	other.Purpose = "Second Opinion"
	_, err = f.svc.Request(ctx, requester, &other)
	assert.NoError(t, err)

	// once the grant expires, a new request is allowed again
	f.now = f.now.Add(16 * time.Minute)
	_, err = f.svc.Request(ctx, requester, req)
	assert.NoError(t, err)
}

func TestGrantingSecondPendingRequestConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	req := &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	}

	// Two pending requests for the same triple are both legal.
	first, err := f.svc.Request(ctx, requester, req)
	require.NoError(t, err)
	second, err := f.svc.Request(ctx, requester, req)
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, first.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	require.NoError(t, err)

	// Granting the second pending request must not mint a second grant.
	_, err = f.svc.Respond(ctx, second.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	assert.ErrorIs(t, err, ErrDuplicateActiveGrant)

	stored, err := f.consents.ListForSubject(ctx, subjectID)
	require.NoError(t, err)
	granted := 0
	for _, a := range stored {
		if a.Status == model.ConsentStatusGranted {
			granted++
		}
	}
	assert.Equal(t, 1, granted)

	// The losing request stays pending and can still be denied.
	denied, err := f.svc.Respond(ctx, second.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionDeny})
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusDenied, denied.Status)
}

func TestRegrantAfterHolderExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	req := &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	}

	first, err := f.svc.Request(ctx, requester, req)
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, first.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	require.NoError(t, err)

	// The grant lapses with no read in between, so the stale holder still
	// sits at GRANTED in the store when the next grant commits.
	f.now = f.now.Add(16 * time.Minute)

	second, err := f.svc.Request(ctx, requester, req)
	require.NoError(t, err)
	granted, err := f.svc.Respond(ctx, second.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusGranted, granted.Status)

	got, err := f.svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusExpired, got.Status)
}

func TestConcurrentGrantsOnSiblingRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	const siblings = 8
	ids := make([]uuid.UUID, siblings)
	for i := range ids {
		a, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
			SubjectID:   subjectID,
			RequesterID: requester.ID,
			Purpose:     "Care Management",
			Scope:       []string{model.ScopeLabs},
		})
		require.NoError(t, err)
		ids[i] = a.ID
	}

	var wg sync.WaitGroup
	results := make([]error, siblings)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, results[i] = f.svc.Respond(ctx, id, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateActiveGrant)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestSingleGrantInvariantUnderRandomOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)
	purposes := []string{"Care Management", "Second Opinion", "Billing Review"}

	var ids []uuid.UUID
	for i := 0; i < 500; i++ {
		switch rng.Intn(6) {
		case 0, 1:
			a, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
				SubjectID:   subjectID,
				RequesterID: requester.ID,
				Purpose:     purposes[rng.Intn(len(purposes))],
				Scope:       []string{model.ScopeLabs},
			})
			if err == nil {
				ids = append(ids, a.ID)
			}
		case 2:
			if len(ids) > 0 {
				_, _ = f.svc.Respond(ctx, ids[rng.Intn(len(ids))], subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
			}
		case 3:
			if len(ids) > 0 {
				_, _ = f.svc.Respond(ctx, ids[rng.Intn(len(ids))], subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionDeny})
			}
		case 4:
			if len(ids) > 0 {
				_, _ = f.svc.Revoke(ctx, ids[rng.Intn(len(ids))], subject)
			}
		case 5:
			f.now = f.now.Add(time.Duration(rng.Intn(10)) * time.Minute)
		}

		stored, err := f.consents.ListForSubject(ctx, subjectID)
		require.NoError(t, err)
		live := make(map[string]int)
		for _, a := range stored {
			if a.Live(f.now) {
				live[a.Purpose]++
			}
		}
		for purpose, n := range live {
			require.LessOrEqual(t, n, 1, "live grants for %q after op %d", purpose, i)
		}
	}
}

func TestRespondOnlyBySubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	requester := actorFor(uuid.New(), model.RoleClinician)

	artifact, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	})
	require.NoError(t, err)

	// the requester cannot grant their own request
	_, err = f.svc.Respond(ctx, artifact.ID, requester, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// nor can an unrelated patient
	_, err = f.svc.Respond(ctx, artifact.ID, actorFor(uuid.New(), model.RolePatient), &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestRespondInvalidState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	artifact, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	})
	require.NoError(t, err)

	_, err = f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionDeny})
	require.NoError(t, err)

	// second response loses
	_, err = f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentRespondOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	artifact, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	})
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		decision := model.ConsentDecisionGrant
		if i%2 == 1 {
			decision = model.ConsentDecisionDeny
		}
		go func(i int, d model.ConsentDecision) {
			defer wg.Done()
			_, results[i] = f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{Decision: d})
		}(i, decision)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrInvalidState)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestRevokeIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	artifact, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	})
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	require.NoError(t, err)

	first, err := f.svc.Revoke(ctx, artifact.ID, subject)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusRevoked, first.Status)

	second, err := f.svc.Revoke(ctx, artifact.ID, subject)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusRevoked, second.Status)
}

func TestExpiryIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	subject := actorFor(subjectID, model.RolePatient)
	requester := actorFor(uuid.New(), model.RoleClinician)

	artifact, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   subjectID,
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	})
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant, TTLSeconds: 60})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Minute)

	listed, err := f.svc.ListForSubject(ctx, subjectID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, model.ConsentStatusExpired, listed[0].Status)

	// once observed expired, nothing brings it back
	_, err = f.svc.Respond(ctx, artifact.ID, subject, &model.RespondConsentRequest{Decision: model.ConsentDecisionGrant})
	assert.ErrorIs(t, err, ErrInvalidState)
	got, err := f.svc.Get(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsentStatusExpired, got.Status)
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subjectID := uuid.New()
	requester := actorFor(uuid.New(), model.RoleClinician)

	for i, purpose := range []string{"First", "Second", "Third"} {
		f.now = f.now.Add(time.Duration(i) * time.Minute)
		_, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
			SubjectID:   subjectID,
			RequesterID: requester.ID,
			Purpose:     purpose,
			Scope:       []string{model.ScopeLabs},
		})
		require.NoError(t, err)
	}

	listed, err := f.svc.ListForSubject(ctx, subjectID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "Third", listed[0].Purpose)
	assert.Equal(t, "First", listed[2].Purpose)
}

func TestAuditFailureBlocksTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requester := actorFor(uuid.New(), model.RoleClinician)

	f.audits.FailWith(errors.New("store down"))

	_, err := f.svc.Request(ctx, requester, &model.RequestConsentRequest{
		SubjectID:   uuid.New(),
		RequesterID: requester.ID,
		Purpose:     "Care Management",
		Scope:       []string{model.ScopeLabs},
	})
	assert.ErrorIs(t, err, audit.ErrAuditUnavailable)
}
