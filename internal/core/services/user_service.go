package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/core/domain"
	"chama-engine/internal/pkg/pagination"
	"chama-engine/internal/pkg/password"

	"go.uber.org/zap"
)

// User service errors
var (
	ErrEmailAlreadyExists  = fmt.Errorf("%w: email already exists", domain.ErrDuplicate)
	ErrOldPasswordWrong    = fmt.Errorf("%w: old password is incorrect", domain.ErrValidation)
	ErrCannotDeleteSelf    = fmt.Errorf("%w: cannot delete your own account", domain.ErrValidation)
	ErrCannotChangeOwnRole = fmt.Errorf("%w: cannot change your own role", domain.ErrValidation)
)

// UserService handles user management business logic
type UserService struct {
	userRepo repositories.UserRepository
	authz    Authorizer
	log      *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(userRepo repositories.UserRepository, authz Authorizer, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{userRepo: userRepo, authz: authz, log: log}
}

// ListUsersOutput represents list users output
type ListUsersOutput struct {
	Users []*models.UserResponse `json:"users"`
	Meta  *pagination.Meta       `json:"meta"`
}

// UpdateUserByAdminInput represents update user input (for admin)
type UpdateUserByAdminInput struct {
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

// UpdateProfileInput represents update profile input (for self)
type UpdateProfileInput struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
}

// ChangePasswordInput represents change password input
type ChangePasswordInput struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *UserService) authorize(ctx context.Context, actor domain.Actor, target uint) error {
	if s.authz == nil {
		return nil
	}
	return s.authz.Authorize(ctx, actor, OpUserManage, Target{Kind: "user", ID: target})
}

// ListUsers lists all users with pagination
func (s *UserService) ListUsers(ctx context.Context, actor domain.Actor, params *pagination.Params) (*ListUsersOutput, error) {
	if err := s.authorize(ctx, actor, 0); err != nil {
		return nil, err
	}
	users, total, err := s.userRepo.List(ctx, params.Offset, params.Limit)
	if err != nil {
		return nil, err
	}

	out := make([]*models.UserResponse, len(users))
	for i, user := range users {
		out[i] = user.ToResponse()
	}
	return &ListUsersOutput{Users: out, Meta: pagination.GetMeta(params, total)}, nil
}

// GetUserByID gets a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user.ToResponse(), nil
}

// UpdateUserByAdmin updates role, contact details or activation
func (s *UserService) UpdateUserByAdmin(ctx context.Context, actor domain.Actor, id uint, input *UpdateUserByAdminInput) (*models.UserResponse, error) {
	if err := s.authorize(ctx, actor, id); err != nil {
		return nil, err
	}
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	// Prevent admin from changing own role
	if id == actor.UserID && input.Role != nil {
		return nil, ErrCannotChangeOwnRole
	}

	if err := s.applyContact(ctx, user, input.Email, input.Phone); err != nil {
		return nil, err
	}
	if input.Role != nil {
		role := domain.Role(strings.ToUpper(*input.Role))
		if !role.Valid() {
			return nil, domain.Validationf("invalid role %q", *input.Role)
		}
		user.Role = role
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	s.log.Info("user updated by admin",
		zap.Uint("user_id", user.ID),
		zap.Uint("admin_id", actor.UserID),
		zap.String("role", string(user.Role)),
		zap.Bool("active", user.IsActive),
	)
	return user.ToResponse(), nil
}

// DeleteUser deletes a user (soft delete)
func (s *UserService) DeleteUser(ctx context.Context, actor domain.Actor, id uint) error {
	if err := s.authorize(ctx, actor, id); err != nil {
		return err
	}
	if id == actor.UserID {
		return ErrCannotDeleteSelf
	}
	if _, err := s.userRepo.GetByID(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return s.userRepo.Delete(ctx, id)
}

// GetProfile gets own profile
func (s *UserService) GetProfile(ctx context.Context, userID uint) (*models.UserResponse, error) {
	return s.GetUserByID(ctx, userID)
}

// UpdateProfile updates own profile
func (s *UserService) UpdateProfile(ctx context.Context, userID uint, input *UpdateProfileInput) (*models.UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if input.FullName != nil {
		user.FullName = strings.TrimSpace(*input.FullName)
	}
	if err := s.applyContact(ctx, user, input.Email, input.Phone); err != nil {
		return nil, err
	}
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, err
	}
	return user.ToResponse(), nil
}

// ChangePassword changes user's password
func (s *UserService) ChangePassword(ctx context.Context, userID uint, input *ChangePasswordInput) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return ErrUserNotFound
	}
	if !password.Verify(input.OldPassword, user.Password) {
		return ErrOldPasswordWrong
	}
	if err := password.Check(input.NewPassword); err != nil {
		return fmt.Errorf("%w (%v)", ErrWeakPassword, err)
	}

	hashedPassword, err := password.Hash(input.NewPassword)
	if err != nil {
		return err
	}
	user.Password = hashedPassword
	return s.userRepo.Update(ctx, user)
}

func (s *UserService) applyContact(ctx context.Context, user *models.User, email, phone *string) error {
	if email != nil {
		e := strings.ToLower(strings.TrimSpace(*email))
		if e != user.Email {
			exists, err := s.userRepo.ExistsByEmail(ctx, e)
			if err != nil {
				return err
			}
			if exists {
				return ErrEmailAlreadyExists
			}
			user.Email = e
		}
	}
	if phone != nil {
		p := strings.TrimSpace(*phone)
		if p != user.Phone {
			exists, err := s.userRepo.ExistsByPhone(ctx, p)
			if err != nil {
				return err
			}
			if exists {
				return ErrUserAlreadyExists
			}
			user.Phone = p
		}
	}
	return nil
}
