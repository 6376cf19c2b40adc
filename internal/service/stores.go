package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

const defaultWebhookRateLimit = 60

// Actor описывает пользователя, выполняющего действие
type Actor struct {
	ID   int64
	Role domain.Role
}

// IsAdmin сообщает, является ли пользователь администратором
func (a Actor) IsAdmin() bool {
	return a.Role == domain.RoleAdmin
}

// StoreService управляет магазинами, их менеджерами и webhook ключами
type StoreService struct {
	repos  *domain.Repositories
	logger *zap.Logger
	now    func() time.Time
}

// NewStoreService создает новый StoreService
func NewStoreService(repos *domain.Repositories, logger *zap.Logger) *StoreService {
	return &StoreService{repos: repos, logger: logger, now: time.Now}
}

// CreateStore регистрирует магазин
func (s *StoreService) CreateStore(ctx context.Context, name, email string, cardPayment bool) (*domain.Store, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidInput
	}

	store := &domain.Store{
		Name:               name,
		Email:              email,
		Active:             true,
		CardPaymentEnabled: cardPayment,
		CreatedAt:          s.now(),
	}
	if err := s.repos.Stores.CreateStore(ctx, store); err != nil {
		return nil, fmt.Errorf("store service: failed to create store %q: %w", name, err)
	}

	s.logger.Info("store created", zap.Int64("store_id", store.ID), zap.String("name", name))
	return store, nil
}

// Get возвращает магазин по ID
func (s *StoreService) Get(ctx context.Context, storeID int64) (*domain.Store, error) {
	store, err := s.repos.Stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("store service: failed to get store %d: %w", storeID, err)
	}
	return store, nil
}

// List возвращает все магазины
func (s *StoreService) List(ctx context.Context) ([]*domain.Store, error) {
	stores, err := s.repos.Stores.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("store service: failed to list stores: %w", err)
	}
	return stores, nil
}

// AddManager назначает пользователя менеджером магазина
func (s *StoreService) AddManager(ctx context.Context, storeID, userID int64) error {
	if _, err := s.repos.Stores.GetStore(ctx, storeID); err != nil {
		return fmt.Errorf("store service: failed to get store %d: %w", storeID, err)
	}
	if _, err := s.repos.Users.GetUserByID(ctx, userID); err != nil {
		return fmt.Errorf("store service: failed to get user %d: %w", userID, err)
	}
	if err := s.repos.Stores.AddStoreManager(ctx, storeID, userID); err != nil {
		return fmt.Errorf("store service: failed to add manager %d to store %d: %w", userID, storeID, err)
	}
	return nil
}

// IssueWebhookKey выпускает новый ключ для webhook уведомлений магазина
func (s *StoreService) IssueWebhookKey(ctx context.Context, storeID int64, ratePerMinute int) (*domain.WebhookKey, error) {
	if _, err := s.repos.Stores.GetStore(ctx, storeID); err != nil {
		return nil, fmt.Errorf("store service: failed to get store %d: %w", storeID, err)
	}
	if ratePerMinute <= 0 {
		ratePerMinute = defaultWebhookRateLimit
	}

	key := &domain.WebhookKey{
		StoreID:            storeID,
		Key:                "whk_" + ksuid.New().String(),
		RateLimitPerMinute: ratePerMinute,
		Active:             true,
	}
	if err := s.repos.Stores.CreateWebhookKey(ctx, key); err != nil {
		return nil, fmt.Errorf("store service: failed to create webhook key for store %d: %w", storeID, err)
	}
	return key, nil
}

// Authorize проверяет, что пользователь управляет магазином или является администратором
func (s *StoreService) Authorize(ctx context.Context, actor Actor, storeID int64) error {
	if actor.IsAdmin() {
		return nil
	}
	ok, err := s.repos.Stores.IsStoreManager(ctx, storeID, actor.ID)
	if err != nil {
		return fmt.Errorf("store service: failed to check manager of store %d: %w", storeID, err)
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}
