package services

import (
	"context"
	"testing"

	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T) *AuthService {
	store := newTestStore(t)
	cfg := &config.Config{JWT: config.JWTConfig{
		Secret:           "access-secret",
		RefreshSecret:    "refresh-secret",
		AccessTokenMins:  15,
		RefreshTokenDays: 7,
	}}
	return NewAuthService(store.Users, store.RefreshTokens, cfg, nil)
}

func TestRegisterLoginAndRotate(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &RegisterInput{
		Username: "wanjiku",
		Email:    "Wanjiku@Example.com ",
		Phone:    "0712345678",
		Password: "harambee2024",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleMember, reg.User.Role)
	assert.Equal(t, "wanjiku@example.com", reg.User.Email)

	claims, err := svc.ValidateAccessToken(reg.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, claims.UserID)

	_, err = svc.Register(ctx, &RegisterInput{Username: "wanjiku", Email: "x@example.com", Phone: "0799999999", Password: "harambee2024"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	_, err = svc.Login(ctx, &LoginInput{Username: "wanjiku", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := svc.Login(ctx, &LoginInput{Username: "wanjiku", Password: "harambee2024"})
	require.NoError(t, err)

	rotated, err := svc.RefreshToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	_, err = svc.RefreshToken(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	require.NoError(t, svc.LogoutAll(ctx, reg.User.ID))
	_, err = svc.RefreshToken(ctx, rotated.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	svc := newAuthService(t)
	_, err := svc.Register(context.Background(), &RegisterInput{Username: "otieno", Email: "o@example.com", Phone: "0700000001", Password: "short"})
	assert.ErrorIs(t, err, ErrWeakPassword)
	assert.Equal(t, domain.ErrValidation, domain.Kind(err))
}
