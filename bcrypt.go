package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Passwords is the default PasswordAuthenticator.
type Passwords struct{}

var _ PasswordAuthenticator = Passwords{}

func (Passwords) HashPassword(password string) (string, error) {
	return HashPassword(password)
}

func (Passwords) ComparePasswordAndHash(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext password matches
// the hashed password. Hashes that are not bcrypt are treated as the legacy
// base64 encoded SHA-256 digest.
func ComparePasswordAndHash(password, hash string) error {
	if !isBcryptHash(hash) {
		return compareLegacyHash(password, hash)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// LegacyHash returns the base64 SHA-256 digest used by accounts created before bcrypt.
func LegacyHash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NeedsRehash reports whether hash should be upgraded to bcrypt.
func NeedsRehash(hash string) bool {
	return !isBcryptHash(hash)
}

// decoyHash returns a lazily computed hash of a random secret. Logins for
// unknown accounts are compared against it so a miss costs as much as a wrong
// password.
func decoyHash(passwords func() PasswordAuthenticator) func() string {
	return sync.OnceValue(func() string {
		h, err := passwords().HashPassword(uuid.NewString())
		if err != nil {
			return ""
		}
		return h
	})
}

// RandomPasswordHash is a temporary password
func RandomPasswordHash() string {
	pwd := uuid.New()

	h, err := HashPassword(pwd.String())
	if err != nil {
		return RandomPasswordHash()
	}

	return h
}

func compareLegacyHash(password, hash string) error {
	if hash == "" {
		return ErrMismatchedHashAndPassword
	}
	if subtle.ConstantTimeCompare([]byte(LegacyHash(password)), []byte(hash)) != 1 {
		return ErrMismatchedHashAndPassword
	}
	return nil
}

func isBcryptHash(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}
