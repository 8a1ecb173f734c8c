package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/arogyalock/consent-api/internal/model"
)

// JWTService issues and validates session tokens for verified actors.
type JWTService interface {
	GenerateAccessToken(actor *model.Actor) (string, error)
	ValidateAccessToken(token string) (*model.TokenClaims, error)
}

type jwtService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

func NewJWTService(secret string, expiry time.Duration, issuer string) JWTService {
	return &jwtService{secret: []byte(secret), expiry: expiry, issuer: issuer}
}

func (s *jwtService) GenerateAccessToken(actor *model.Actor) (string, error) {
	now := time.Now()
	claims := &model.TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		ActorID:    actor.ID,
		Role:       actor.Role,
		Identifier: actor.Identifier,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *jwtService) ValidateAccessToken(tokenStr string) (*model.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &model.TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*model.TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// AssertionVerifier validates federated identity assertions signed by a
// known external issuer.
type AssertionVerifier interface {
	Verify(assertion string) (*model.Actor, error)
}

type assertionClaims struct {
	jwt.RegisteredClaims
	Role       model.ActorRole `json:"role"`
	Identifier string          `json:"identifier"`
}

type rsaAssertionVerifier struct {
	issuer    string
	publicKey *rsa.PublicKey
}

func NewAssertionVerifier(issuer string, publicKeyPEM []byte) (AssertionVerifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer public key: %w", err)
	}
	return &rsaAssertionVerifier{issuer: issuer, publicKey: key}, nil
}

func (v *rsaAssertionVerifier) Verify(assertion string) (*model.Actor, error) {
	token, err := jwt.ParseWithClaims(assertion, &assertionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.publicKey, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid assertion: %w", err)
	}

	claims, ok := token.Claims.(*assertionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid assertion claims")
	}

	actorID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject in assertion")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("unknown role in assertion")
	}

	return &model.Actor{
		ID:         actorID,
		Role:       claims.Role,
		Identifier: claims.Identifier,
	}, nil
}
