package password

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// Cost is the bcrypt work factor for member credentials.
const Cost = 12

// MinLength is the shortest password accepted.
const MinLength = 8

var (
	ErrTooShort   = errors.New("password is too short")
	ErrNoDigit    = errors.New("password needs at least one digit")
	ErrNoLetter   = errors.New("password needs at least one letter")
	ErrTooLong    = errors.New("password exceeds 72 bytes")
	maxBcryptSize = 72
)

// Hash returns the bcrypt hash of secret.
func Hash(secret string) (string, error) {
	if len(secret) > maxBcryptSize {
		return "", ErrTooLong
	}
	out, err := bcrypt.GenerateFromPassword([]byte(secret), Cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether secret matches hash.
func Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// Check enforces the credential rules: MinLength, a letter and a digit.
func Check(secret string) error {
	if len(secret) < MinLength {
		return ErrTooShort
	}
	if len(secret) > maxBcryptSize {
		return ErrTooLong
	}
	var letter, digit bool
	for _, r := range secret {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter {
		return ErrNoLetter
	}
	if !digit {
		return ErrNoDigit
	}
	return nil
}

// HashToken is the lookup key stored for refresh tokens; the raw token is
// never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
