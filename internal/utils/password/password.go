package password

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Ограничения на пароль. bcrypt учитывает только первые 72 байта.
const (
	MinLength = 8
	MaxBytes  = 72
)

var (
	// ErrWeakPassword возвращается для пароля, не прошедшего проверку длины
	ErrWeakPassword = errors.New("password must be 8 to 72 bytes long")
	// ErrMismatch возвращается, если пароль не соответствует хешу
	ErrMismatch = errors.New("password does not match")
)

// Hasher хеширует и проверяет пароли
type Hasher interface {
	Hash(password string) (string, error)
	Check(hash, password string) error
}

// BCryptHasher реализует Hasher через bcrypt
type BCryptHasher struct {
	cost int
}

// NewBCryptHasher создает hasher. Недопустимая стоимость заменяется на bcrypt.DefaultCost.
func NewBCryptHasher(cost int) *BCryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BCryptHasher{cost: cost}
}

// Validate проверяет пароль на соответствие политике
func Validate(password string) error {
	if utf8.RuneCountInString(password) < MinLength || len(password) > MaxBytes {
		return ErrWeakPassword
	}
	return nil
}

// Hash проверяет политику и хеширует пароль
func (h *BCryptHasher) Hash(password string) (string, error) {
	if err := Validate(password); err != nil {
		return "", err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hashed), nil
}

// Check сравнивает пароль с хешем
func (h *BCryptHasher) Check(hash, password string) error {
	if hash == "" || password == "" {
		return ErrMismatch
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		return fmt.Errorf("failed to check password: %w", err)
	}

	return nil
}
