package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessRoundTrip(t *testing.T) {
	s := NewSigner("access", "refresh", time.Minute, time.Hour)

	token, err := s.Access(3, "akinyi", "TREASURER")
	require.NoError(t, err)

	claims, err := s.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, uint(3), claims.UserID)
	assert.Equal(t, "TREASURER", claims.Role)
	assert.Equal(t, Issuer, claims.Issuer)

	_, err = s.ParseRefresh(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshCarriesIDAndExpiry(t *testing.T) {
	s := NewSigner("access", "refresh", time.Minute, 48*time.Hour)
	fixed := time.Now().Truncate(time.Second)
	s.now = func() time.Time { return fixed }

	token, exp, err := s.Refresh(9, "session-1")
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(48*time.Hour), exp)

	claims, err := s.ParseRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", claims.ID)
	assert.Equal(t, uint(9), claims.UserID)
}

func TestExpiredToken(t *testing.T) {
	s := NewSigner("access", "refresh", time.Minute, time.Hour)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, err := s.Access(1, "old", "MEMBER")
	require.NoError(t, err)

	_, err = s.ParseAccess(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestWrongSecret(t *testing.T) {
	token, err := NewSigner("a", "r", time.Minute, time.Hour).Access(1, "x", "MEMBER")
	require.NoError(t, err)

	_, err = NewSigner("b", "r", time.Minute, time.Hour).ParseAccess(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
