package model

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ActorRole classifies who is asking for access.
type ActorRole string

const (
	RolePatient            ActorRole = "patient"
	RoleClinician          ActorRole = "clinician"
	RoleSystemIntegrator   ActorRole = "system-integrator"
	RoleEmergencyResponder ActorRole = "emergency-responder"
)

func (r ActorRole) Valid() bool {
	switch r {
	case RolePatient, RoleClinician, RoleSystemIntegrator, RoleEmergencyResponder:
		return true
	}
	return false
}

// Actor is the verified identity attached to every request. All credential
// shapes (password, one-time code, federated assertion) normalize to this.
type Actor struct {
	ID         uuid.UUID `json:"id"`
	Role       ActorRole `json:"role"`
	Identifier string    `json:"identifier"`
}

// ActorAccount is the stored credential record behind an Actor.
type ActorAccount struct {
	Base
	Identifier       string    `json:"identifier" db:"identifier"`
	Role             ActorRole `json:"role" db:"role"`
	PasswordHash     string    `json:"-" db:"password_hash"`
	Status           string    `json:"status" db:"status"`
	LoginAttempts    int       `json:"-" db:"login_attempts"`
	LastLoginAttempt time.Time `json:"-" db:"last_login_attempt"`
}

const (
	ActorStatusActive = "active"
	ActorStatusLocked = "locked"
)

func (a *ActorAccount) Actor() *Actor {
	return &Actor{ID: a.ID, Role: a.Role, Identifier: a.Identifier}
}

// OneTimeCode is a short-lived, single-use verification code. Consumption is
// atomic: UsedAt is set in the same operation that reads the code.
type OneTimeCode struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Identifier string     `json:"identifier" db:"identifier"`
	Code       string     `json:"-" db:"code"`
	ExpiresAt  time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty" db:"used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Request types
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required,min=8"`
}

type IssueCodeRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

type VerifyCodeRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required,len=6"`
}

type AssertionRequest struct {
	Assertion string `json:"assertion" binding:"required"`
}

// Response types
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	Actor       *Actor `json:"actor"`
}

// Auth errors
var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenClaims represents JWT claims for issued session tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	ActorID    uuid.UUID `json:"actor_id"`
	Role       ActorRole `json:"role"`
	Identifier string    `json:"identifier"`
}
