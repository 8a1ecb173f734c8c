package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/arogyalock/consent-api/internal/model"
	"github.com/arogyalock/consent-api/internal/repository"
	"github.com/arogyalock/consent-api/internal/service/audit"
	"github.com/arogyalock/consent-api/pkg/auth"
	"github.com/arogyalock/consent-api/pkg/security"
)

var (
	// ErrInvalidCredential is deliberately generic: callers cannot tell a
	// wrong password from an unknown identifier or a wrong code.
	ErrInvalidCredential = errors.New("invalid credential")
	ErrCodeExpired       = errors.New("one-time code expired")
	ErrRateLimited       = errors.New("too many code requests")
)

const (
	DefaultCodeTTL       = 5 * time.Minute
	DefaultCodeLimit     = 3
	DefaultCodeWindow    = 15 * time.Minute
	DefaultMaxAttempts   = 5
	DefaultLockoutWindow = 15 * time.Minute
)

// CodeSender delivers a one-time code to the identifier's registered
// channel. Implemented by the notification service.
type CodeSender interface {
	SendOneTimeCode(ctx context.Context, identifier, code string, ttl time.Duration) error
}

type Config struct {
	CodeTTL       time.Duration
	CodeLimit     int
	CodeWindow    time.Duration
	MaxAttempts   int
	LockoutWindow time.Duration
}

type Service struct {
	actors    repository.ActorRepository
	codes     repository.CodeRepository
	auditor   *audit.Service
	tokens    auth.JWTService
	assertion auth.AssertionVerifier
	hasher    security.PasswordHasher
	sender    CodeSender
	limiter   *gocache.Cache
	cfg       Config
	now       func() time.Time
}

func NewService(actors repository.ActorRepository, codes repository.CodeRepository, auditor *audit.Service, tokens auth.JWTService, assertion auth.AssertionVerifier, hasher security.PasswordHasher, sender CodeSender, cfg Config) *Service {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.CodeLimit <= 0 {
		cfg.CodeLimit = DefaultCodeLimit
	}
	if cfg.CodeWindow <= 0 {
		cfg.CodeWindow = DefaultCodeWindow
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = DefaultLockoutWindow
	}
	return &Service{
		actors:    actors,
		codes:     codes,
		auditor:   auditor,
		tokens:    tokens,
		assertion: assertion,
		hasher:    hasher,
		sender:    sender,
		limiter:   gocache.New(cfg.CodeWindow, 2*cfg.CodeWindow),
		cfg:       cfg,
		now:       time.Now,
	}
}

// VerifyPassword checks identifier+password and issues a session token.
// Repeated failures lock the account for the lockout window.
func (s *Service) VerifyPassword(ctx context.Context, req *model.LoginRequest) (*model.TokenResponse, error) {
	account, err := s.actors.GetByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditLogin(ctx, nil, req.Identifier, model.AuditOutcomeFailure)
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	now := s.now()
	if account.Status == model.ActorStatusLocked {
		if now.Sub(account.LastLoginAttempt) < s.cfg.LockoutWindow {
			s.auditLogin(ctx, &account.ID, req.Identifier, model.AuditOutcomeFailure)
			return nil, ErrInvalidCredential
		}
		account.Status = model.ActorStatusActive
		account.LoginAttempts = 0
	}

	if err := s.hasher.Compare(account.PasswordHash, req.Password); err != nil {
		account.LoginAttempts++
		account.LastLoginAttempt = now
		if account.LoginAttempts >= s.cfg.MaxAttempts {
			account.Status = model.ActorStatusLocked
		}
		_ = s.actors.Update(ctx, account)
		s.auditLogin(ctx, &account.ID, req.Identifier, model.AuditOutcomeFailure)
		return nil, ErrInvalidCredential
	}

	account.LoginAttempts = 0
	account.LastLoginAttempt = now
	account.Status = model.ActorStatusActive
	if err := s.actors.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	s.auditLogin(ctx, &account.ID, req.Identifier, model.AuditOutcomeSuccess)
	return s.issueToken(account.Actor())
}

// IssueCode generates and delivers a single-use code. Issuance is
// rate-limited per identifier. An unknown identifier is not an error:
// the caller learns nothing about which identifiers exist.
func (s *Service) IssueCode(ctx context.Context, req *model.IssueCodeRequest) error {
	if err := s.checkRate(req.Identifier); err != nil {
		_ = s.auditor.Log(ctx, nil, uuid.Nil, model.AuditActionCodeIssue, model.AuditResourceCredential, model.AuditOutcomeFailure, &audit.LogOptions{
			Metadata: map[string]interface{}{"identifier": req.Identifier, "reason": "rate_limited"},
		})
		return err
	}

	account, err := s.actors.GetByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = s.auditor.Log(ctx, nil, uuid.Nil, model.AuditActionCodeIssue, model.AuditResourceCredential, model.AuditOutcomeFailure, &audit.LogOptions{
				Metadata: map[string]interface{}{"identifier": req.Identifier, "reason": "unknown_identifier"},
			})
			return nil
		}
		return fmt.Errorf("failed to load account: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	now := s.now()
	otc := &model.OneTimeCode{
		ID:         uuid.New(),
		Identifier: account.Identifier,
		Code:       code,
		ExpiresAt:  now.Add(s.cfg.CodeTTL),
		CreatedAt:  now,
	}
	if err := s.codes.Store(ctx, otc); err != nil {
		return fmt.Errorf("failed to store one-time code: %w", err)
	}

	if s.sender != nil {
		if err := s.sender.SendOneTimeCode(ctx, account.Identifier, code, s.cfg.CodeTTL); err != nil {
			return fmt.Errorf("failed to deliver one-time code: %w", err)
		}
	}

	return s.auditor.Log(ctx, &account.ID, uuid.Nil, model.AuditActionCodeIssue, model.AuditResourceCredential, model.AuditOutcomeSuccess, nil)
}

// VerifyCode consumes the code atomically: of any number of concurrent
// attempts with the same code, exactly one succeeds.
func (s *Service) VerifyCode(ctx context.Context, req *model.VerifyCodeRequest) (*model.TokenResponse, error) {
	now := s.now()
	otc, err := s.codes.Consume(ctx, req.Identifier, req.Code, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditCodeVerify(ctx, nil, req.Identifier, model.AuditOutcomeFailure)
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to consume one-time code: %w", err)
	}
	if now.After(otc.ExpiresAt) {
		s.auditCodeVerify(ctx, nil, req.Identifier, model.AuditOutcomeFailure)
		return nil, ErrCodeExpired
	}

	account, err := s.actors.GetByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	s.auditCodeVerify(ctx, &account.ID, req.Identifier, model.AuditOutcomeSuccess)
	return s.issueToken(account.Actor())
}

// VerifyAssertion validates a federated token against the trusted issuer's
// public key and maps it onto a local account.
func (s *Service) VerifyAssertion(ctx context.Context, req *model.AssertionRequest) (*model.TokenResponse, error) {
	if s.assertion == nil {
		return nil, ErrInvalidCredential
	}
	claimed, err := s.assertion.Verify(req.Assertion)
	if err != nil {
		s.auditLogin(ctx, nil, "", model.AuditOutcomeFailure)
		return nil, ErrInvalidCredential
	}

	account, err := s.actors.GetByIdentifier(ctx, claimed.Identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.auditLogin(ctx, nil, claimed.Identifier, model.AuditOutcomeFailure)
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account.Role != claimed.Role {
		s.auditLogin(ctx, &account.ID, claimed.Identifier, model.AuditOutcomeFailure)
		return nil, ErrInvalidCredential
	}

	s.auditLogin(ctx, &account.ID, claimed.Identifier, model.AuditOutcomeSuccess)
	return s.issueToken(account.Actor())
}

func (s *Service) issueToken(actor *model.Actor) (*model.TokenResponse, error) {
	token, err := s.tokens.GenerateAccessToken(actor)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &model.TokenResponse{AccessToken: token, Actor: actor}, nil
}

func (s *Service) checkRate(identifier string) error {
	count, err := s.limiter.IncrementInt(identifier, 1)
	if err != nil {
		s.limiter.Set(identifier, 1, gocache.DefaultExpiration)
		return nil
	}
	if count > s.cfg.CodeLimit {
		return ErrRateLimited
	}
	return nil
}

func (s *Service) auditLogin(ctx context.Context, actorID *uuid.UUID, identifier, outcome string) {
	_ = s.auditor.Log(ctx, actorID, uuid.Nil, model.AuditActionLogin, model.AuditResourceCredential, outcome, &audit.LogOptions{
		Metadata: map[string]interface{}{"identifier": identifier},
	})
}

func (s *Service) auditCodeVerify(ctx context.Context, actorID *uuid.UUID, identifier, outcome string) {
	_ = s.auditor.Log(ctx, actorID, uuid.Nil, model.AuditActionCodeVerify, model.AuditResourceCredential, outcome, &audit.LogOptions{
		Metadata: map[string]interface{}{"identifier": identifier},
	})
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
