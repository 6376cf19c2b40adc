package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/utils/jwt"
	"github.com/avc/pointledger/internal/utils/password"
)

// AuthService регистрирует и аутентифицирует пользователей
type AuthService struct {
	userRepo       domain.UserRepository
	passwordHasher password.Hasher
	jwtManager     *jwt.Manager
}

// NewAuthService создает новый AuthService
func NewAuthService(
	userRepo domain.UserRepository,
	passwordHasher password.Hasher,
	jwtManager *jwt.Manager,
) *AuthService {
	return &AuthService{
		userRepo:       userRepo,
		passwordHasher: passwordHasher,
		jwtManager:     jwtManager,
	}
}

// Register регистрирует нового пользователя и возвращает его токен
func (s *AuthService) Register(ctx context.Context, login, userPassword string) (string, error) {
	user, err := s.RegisterWithRole(ctx, login, userPassword, domain.RoleUser)
	if err != nil {
		return "", err
	}

	token, err := s.jwtManager.Generate(user.ID, string(user.Role))
	if err != nil {
		return "", fmt.Errorf("auth service: failed to generate token for user %d: %w", user.ID, err)
	}

	return token, nil
}

// RegisterWithRole создает пользователя с заданной ролью
func (s *AuthService) RegisterWithRole(ctx context.Context, login, userPassword string, role domain.Role) (*domain.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || userPassword == "" {
		return nil, fmt.Errorf("auth service: %w: empty login or password", domain.ErrInvalidInput)
	}
	switch role {
	case domain.RoleUser, domain.RoleStoreManager, domain.RoleAdmin:
	default:
		return nil, fmt.Errorf("auth service: %w: unknown role %q", domain.ErrInvalidInput, role)
	}

	hash, err := s.passwordHasher.Hash(userPassword)
	if err != nil {
		if errors.Is(err, password.ErrWeakPassword) {
			return nil, fmt.Errorf("auth service: %w: %w", domain.ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("auth service: failed to hash password for user %q: %w", login, err)
	}

	user, err := s.userRepo.CreateUser(ctx, login, hash, role)
	if err != nil {
		// Не оборачиваем sentinel error
		if errors.Is(err, domain.ErrUserExists) {
			return nil, err
		}
		return nil, fmt.Errorf("auth service: failed to register user %q: %w", login, err)
	}

	return user, nil
}

// Login аутентифицирует пользователя
func (s *AuthService) Login(ctx context.Context, login, userPassword string) (string, error) {
	if login == "" || userPassword == "" {
		return "", fmt.Errorf("auth service: %w: empty login or password", domain.ErrInvalidInput)
	}

	user, err := s.userRepo.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", domain.ErrInvalidCredentials
		}
		return "", fmt.Errorf("auth service: failed to get user %q: %w", login, err)
	}

	if err := s.passwordHasher.Check(user.PasswordHash, userPassword); err != nil {
		return "", domain.ErrInvalidCredentials
	}

	token, err := s.jwtManager.Generate(user.ID, string(user.Role))
	if err != nil {
		return "", fmt.Errorf("auth service: failed to generate token for user %d: %w", user.ID, err)
	}

	return token, nil
}

// Me возвращает профиль пользователя
func (s *AuthService) Me(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("auth service: failed to get user %d: %w", userID, err)
	}
	return user, nil
}
