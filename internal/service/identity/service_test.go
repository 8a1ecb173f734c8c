package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository/memory"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/pkg/auth"
	"github.com/arogyalock/consent-api/pkg/security"
)

type stubSender struct {
	mu       sync.Mutex
	calls    int
	lastCode string
}

func (s *stubSender) SendOneTimeCode(_ context.Context, _ string, code string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastCode = code
	return nil
}

type fixture struct {
	svc    *Service
	actors *memory.ActorStore
	audits *memory.AuditStore
	sender *stubSender
	hasher security.PasswordHasher
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		actors: memory.NewActorStore(),
		audits: memory.NewAuditStore(),
		sender: &stubSender{},
		hasher: security.NewBcryptHasher(4),
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	tokens := auth.NewJWTService("test-secret-test-secret", time.Hour, "consent-core-test")
	f.svc = NewService(f.actors, memory.NewCodeStore(), audit.NewService(f.audits, nil), tokens, nil, f.hasher, f.sender, Config{})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addAccount(t *testing.T, identifier, password string, role model.ActorRole) *model.ActorAccount {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	account := &model.ActorAccount{
		Base:         model.Base{ID: uuid.New()},
		Identifier:   identifier,
		Role:         role,
		PasswordHash: hash,
		Status:       model.ActorStatusActive,
	}
	require.NoError(t, f.actors.Create(context.Background(), account))
	return account
}

func TestVerifyPasswordIssuesToken(t *testing.T) {
	f := newFixture(t)
	account := f.addAccount(t, "dr.patel@clinic.example", "correct horse battery", model.RoleClinician)

	resp, err := f.svc.VerifyPassword(context.Background(), &model.LoginRequest{
		Identifier: "dr.patel@clinic.example",
		Password:   "correct horse battery",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, account.ID, resp.Actor.ID)
	assert.Equal(t, model.RoleClinician, resp.Actor.Role)
}

func TestVerifyPasswordFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "dr.patel@clinic.example", "correct horse battery", model.RoleClinician)

	_, wrongPassword := f.svc.VerifyPassword(context.Background(), &model.LoginRequest{
		Identifier: "dr.patel@clinic.example",
		Password:   "not the password",
	})
	_, unknownIdentifier := f.svc.VerifyPassword(context.Background(), &model.LoginRequest{
		Identifier: "nobody@clinic.example",
		Password:   "not the password",
	})
	assert.ErrorIs(t, wrongPassword, ErrInvalidCredential)
	assert.ErrorIs(t, unknownIdentifier, ErrInvalidCredential)
	assert.Equal(t, wrongPassword.Error(), unknownIdentifier.Error())
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "dr.patel@clinic.example", "correct horse battery", model.RoleClinician)

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err := f.svc.VerifyPassword(context.Background(), &model.LoginRequest{
			Identifier: "dr.patel@clinic.example",
			Password:   "not the password",
		})
		assert.ErrorIs(t, err, ErrInvalidCredential)
	}

	// correct password is refused while the lockout window is open
	_, err := f.svc.VerifyPassword(context.Background(), &model.LoginRequest{
		Identifier: "dr.patel@clinic.example",
		Password:   "correct horse battery",
	})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	f.now = f.now.Add(DefaultLockoutWindow + time.Minute)
	resp, err := f.svc.VerifyPassword(context.Background(), &model.LoginRequest{
		Identifier: "dr.patel@clinic.example",
		Password:   "correct horse battery",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestIssueCodeUnknownIdentifierRevealsNothing(t *testing.T) {
	f := newFixture(t)

	err := f.svc.IssueCode(context.Background(), &model.IssueCodeRequest{Identifier: "nobody@clinic.example"})
	assert.NoError(t, err)
	assert.Equal(t, 0, f.sender.calls)
	assert.Equal(t, 1, f.audits.Count())
}

func TestIssueCodeRateLimited(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "pat.lee@example.com", "correct horse battery", model.RolePatient)

	for i := 0; i < DefaultCodeLimit; i++ {
		require.NoError(t, f.svc.IssueCode(context.Background(), &model.IssueCodeRequest{Identifier: "pat.lee@example.com"}))
	}
	err := f.svc.IssueCode(context.Background(), &model.IssueCodeRequest{Identifier: "pat.lee@example.com"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, DefaultCodeLimit, f.sender.calls)
}

func TestVerifyCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "pat.lee@example.com", "correct horse battery", model.RolePatient)
	require.NoError(t, f.svc.IssueCode(context.Background(), &model.IssueCodeRequest{Identifier: "pat.lee@example.com"}))
	code := f.sender.lastCode
	require.Len(t, code, 6)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.VerifyCode(context.Background(), &model.VerifyCodeRequest{
				Identifier: "pat.lee@example.com",
				Code:       code,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrInvalidCredential)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestVerifyCodeExpired(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "pat.lee@example.com", "correct horse battery", model.RolePatient)
	require.NoError(t, f.svc.IssueCode(context.Background(), &model.IssueCodeRequest{Identifier: "pat.lee@example.com"}))

	f.now = f.now.Add(DefaultCodeTTL + time.Second)
	_, err := f.svc.VerifyCode(context.Background(), &model.VerifyCodeRequest{
		Identifier: "pat.lee@example.com",
		Code:       f.sender.lastCode,
	})
	assert.ErrorIs(t, err, ErrCodeExpired)

	// the expired code was still consumed
	_, err = f.svc.VerifyCode(context.Background(), &model.VerifyCodeRequest{
		Identifier: "pat.lee@example.com",
		Code:       f.sender.lastCode,
	})
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyCodeWrongCode(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "pat.lee@example.com", "correct horse battery", model.RolePatient)
	require.NoError(t, f.svc.IssueCode(context.Background(), &model.IssueCodeRequest{Identifier: "pat.lee@example.com"}))

	_, err := f.svc.VerifyCode(context.Background(), &model.VerifyCodeRequest{
		Identifier: "pat.lee@example.com",
		Code:       "000000",
	})
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
