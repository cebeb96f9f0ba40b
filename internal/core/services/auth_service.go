package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/jwt"
	"chama-engine/internal/pkg/password"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Auth errors
var (
	ErrUserNotFound       = fmt.Errorf("%w: user not found", domain.ErrNotFound)
	ErrInvalidCredentials = domain.ErrInvalidCredentials
	ErrUserAlreadyExists  = fmt.Errorf("%w: username, email or phone already registered", domain.ErrDuplicate)
	ErrInvalidToken       = domain.ErrTokenInvalid
	ErrTokenExpired       = domain.ErrTokenExpired
	ErrTokenRevoked       = errors.New("token revoked")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrWeakPassword       = fmt.Errorf("%w: password must be at least %d characters with a letter and a digit", domain.ErrValidation, password.MinLength)
)

// AuthService handles authentication business logic
type AuthService struct {
	userRepo         repositories.UserRepository
	refreshTokenRepo repositories.RefreshTokenRepository
	signer           *jwt.Signer
	log              *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(
	userRepo repositories.UserRepository,
	refreshTokenRepo repositories.RefreshTokenRepository,
	cfg *config.Config,
	log *zap.Logger,
) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		userRepo:         userRepo,
		refreshTokenRepo: refreshTokenRepo,
		signer:           jwt.NewSigner(cfg.JWT.Secret, cfg.JWT.RefreshSecret, cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL()),
		log:              log,
	}
}

// RegisterInput represents registration input
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	FullName string `json:"full_name"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginInput represents login input
type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse represents authentication response
type AuthResponse struct {
	User         *models.UserResponse `json:"user"`
	AccessToken  string               `json:"access_token"`
	RefreshToken string               `json:"refresh_token"`
}

// Register creates a MEMBER account and signs it in
func (s *AuthService) Register(ctx context.Context, input *RegisterInput) (*AuthResponse, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Phone = strings.TrimSpace(input.Phone)
	if len(input.Username) < 3 || input.Email == "" || input.Phone == "" {
		return nil, domain.Validationf("username (3+ characters), email and phone are required")
	}
	if err := password.Check(input.Password); err != nil {
		return nil, fmt.Errorf("%w (%v)", ErrWeakPassword, err)
	}

	// 1. Uniqueness
	if exists, err := s.userRepo.ExistsByUsername(ctx, input.Username); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrUserAlreadyExists
	}
	if exists, err := s.userRepo.ExistsByEmail(ctx, input.Email); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrUserAlreadyExists
	}
	if exists, err := s.userRepo.ExistsByPhone(ctx, input.Phone); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrUserAlreadyExists
	}

	// 2. Hash password
	hashedPassword, err := password.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	// 3. Create user
	user := &models.User{
		Username: input.Username,
		FullName: strings.TrimSpace(input.FullName),
		Email:    input.Email,
		Phone:    input.Phone,
		Password: hashedPassword,
		Role:     domain.RoleMember,
		IsActive: true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	resp, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return resp, nil
}

// Login authenticates a user
func (s *AuthService) Login(ctx context.Context, input *LoginInput) (*AuthResponse, error) {
	// 1. Find user by username
	user, err := s.userRepo.GetByUsername(ctx, input.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// 2. Check if user is active
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	// 3. Verify password
	if !password.Verify(input.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	resp, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user logged in", zap.Uint("user_id", user.ID))
	return resp, nil
}

// RefreshToken rotates a refresh token into a new token pair
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	// 1. Validate refresh token JWT
	claims, err := s.signer.ParseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	// 2. Find the stored hash
	tokenHash := password.HashToken(refreshToken)
	storedToken, err := s.refreshTokenRepo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if storedToken.IsRevoked() {
		return nil, ErrTokenRevoked
	}
	if storedToken.IsExpired() {
		return nil, ErrTokenExpired
	}

	// 3. Load user
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	// 4. Rotate: the old hash is revoked and the new one stored together,
	// so a token can be exchanged at most once.
	tokens, expiresAt, err := s.generateTokens(user)
	if err != nil {
		return nil, err
	}
	next := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: password.HashToken(tokens.RefreshToken),
		ExpiresAt: expiresAt,
	}
	if err := s.refreshTokenRepo.Rotate(ctx, tokenHash, next); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, ErrTokenRevoked
		}
		return nil, err
	}
	return &AuthResponse{
		User:         user.ToResponse(),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil
}

// Logout revokes the refresh token
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.refreshTokenRepo.RevokeByTokenHash(ctx, password.HashToken(refreshToken))
}

// LogoutAll revokes all refresh tokens for a user
func (s *AuthService) LogoutAll(ctx context.Context, userID uint) error {
	if err := s.refreshTokenRepo.RevokeAllByUserID(ctx, userID); err != nil {
		return err
	}
	s.log.Info("all sessions revoked", zap.Uint("user_id", userID))
	return nil
}

// ValidateAccessToken validates an access token
func (s *AuthService) ValidateAccessToken(accessToken string) (*jwt.Claims, error) {
	return s.signer.ParseAccess(accessToken)
}

// GetUserByID gets a user by ID
func (s *AuthService) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// issue generates a token pair and stores the refresh token hash
func (s *AuthService) issue(ctx context.Context, user *models.User) (*AuthResponse, error) {
	tokens, expiresAt, err := s.generateTokens(user)
	if err != nil {
		return nil, err
	}
	err = s.refreshTokenRepo.Create(ctx, &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: password.HashToken(tokens.RefreshToken),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		User:         user.ToResponse(),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil
}

// generateTokens signs an access token and a refresh token for user
func (s *AuthService) generateTokens(user *models.User) (*TokenPair, time.Time, error) {
	accessToken, err := s.signer.Access(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, time.Time{}, err
	}
	refreshToken, expiresAt, err := s.signer.Refresh(user.ID, uuid.NewString())
	if err != nil {
		return nil, time.Time{}, err
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, expiresAt, nil
}
