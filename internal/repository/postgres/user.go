package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/avc/pointledger/internal/domain"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, login, password_hash, role, rank, created_at`

// UserRepository реализует domain.UserRepository
type UserRepository struct {
	db DBTX
}

// NewUserRepository создает новый UserRepository
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser создает нового пользователя с заданной ролью
func (r *UserRepository) CreateUser(ctx context.Context, login, passwordHash string, role domain.Role) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role)
		 VALUES ($1, $2, $3)
		 RETURNING `+userColumns,
		login, passwordHash, role,
	).Scan(&user.ID, &user.Login, &user.PasswordHash, &user.Role, &user.Rank, &user.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrUserExists
		}
		return nil, fmt.Errorf("repository: failed to create user %q: %w", login, err)
	}

	return user, nil
}

// GetUserByLogin получает пользователя по логину
func (r *UserRepository) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	user, err := r.getUser(ctx, `login = $1`, login)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("repository: failed to get user by login %q: %w", login, err)
	}
	return user, err
}

// GetUserByID получает пользователя по ID
func (r *UserRepository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := r.getUser(ctx, `id = $1`, id)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		return nil, fmt.Errorf("repository: failed to get user by id %d: %w", id, err)
	}
	return user, err
}

func (r *UserRepository) getUser(ctx context.Context, where string, arg any) (*domain.User, error) {
	user := &domain.User{}

	err := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where,
		arg,
	).Scan(&user.ID, &user.Login, &user.PasswordHash, &user.Role, &user.Rank, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}
