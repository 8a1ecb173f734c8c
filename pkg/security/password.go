package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLen backstops the request-level length validation: a
// credential shorter than this is never hashed.
const MinPasswordLen = 8

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrHashingFailed    = errors.New("password hashing failed")
)

// PasswordHasher abstracts credential hashing so tests can run with a low
// work factor.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt-backed hasher. A cost outside bcrypt's
// valid range falls back to the library default.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(password string) (string, error) {
	if len(password) < MinPasswordLen {
		return "", ErrPasswordTooShort
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", ErrHashingFailed
	}
	return string(hashed), nil
}

// Compare returns an error when the password does not match the stored
// hash. Callers translate it into their own generic credential error so
// the mismatch reason never reaches the client.
func (b *bcryptHasher) Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
