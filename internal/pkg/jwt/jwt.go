package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every token this service signs.
const Issuer = "chama-engine"

// Token kinds, carried in the "kind" claim so an access token can never be
// replayed as a refresh token even if both secrets were configured equal.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
)

// Claims identify the member behind an access token.
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

// RefreshClaims carry only the session identity; role is reloaded on refresh.
type RefreshClaims struct {
	UserID uint   `json:"user_id"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// Signer mints and verifies the access/refresh pair with HS256.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewSigner builds a signer. The two secrets should differ.
func NewSigner(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

func (s *Signer) registered(subject, id string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		ID:        id,
		Subject:   subject,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// Access signs a short-lived access token for a member.
func (s *Signer) Access(userID uint, username, role string) (string, error) {
	claims := Claims{
		UserID:           userID,
		Username:         username,
		Role:             role,
		Kind:             KindAccess,
		RegisteredClaims: s.registered(username, "", s.accessTTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
}

// Refresh signs a refresh token with a unique id and returns its expiry so
// the caller can persist it alongside the token hash.
func (s *Signer) Refresh(userID uint, tokenID string) (string, time.Time, error) {
	rc := s.registered("", tokenID, s.refreshTTL)
	claims := RefreshClaims{UserID: userID, Kind: KindRefresh, RegisteredClaims: rc}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, rc.ExpiresAt.Time, nil
}

// ParseAccess verifies an access token.
func (s *Signer) ParseAccess(token string) (*Claims, error) {
	claims := &Claims{}
	if err := parse(token, claims, s.accessSecret); err != nil {
		return nil, err
	}
	if claims.Kind != KindAccess {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token.
func (s *Signer) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := parse(token, claims, s.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Kind != KindRefresh {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func parse(token string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}
