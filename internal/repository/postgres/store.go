package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/jackc/pgx/v5"
)

const storeColumns = `id, name, email, active, card_payment_enabled, created_at`

// StoreRepository реализует domain.StoreRepository
type StoreRepository struct {
	db DBTX
}

// NewStoreRepository создает новый StoreRepository
func NewStoreRepository(db DBTX) *StoreRepository {
	return &StoreRepository{db: db}
}

// CreateStore регистрирует магазин-партнера
func (r *StoreRepository) CreateStore(ctx context.Context, s *domain.Store) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO stores (name, email, active, card_payment_enabled)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		s.Name, s.Email, s.Active, s.CardPaymentEnabled,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to create store %q: %w", s.Name, err)
	}
	return nil
}

// GetStore получает магазин по ID
func (r *StoreRepository) GetStore(ctx context.Context, id int64) (*domain.Store, error) {
	s, err := scanStore(r.db.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrStoreNotFound
		}
		return nil, fmt.Errorf("repository: failed to get store %d: %w", id, err)
	}
	return s, nil
}

// ListStores возвращает все магазины
func (r *StoreRepository) ListStores(ctx context.Context) ([]*domain.Store, error) {
	rows, err := r.db.Query(ctx, `SELECT `+storeColumns+` FROM stores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list stores: %w", err)
	}
	defer rows.Close()

	var stores []*domain.Store
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan store: %w", err)
		}
		stores = append(stores, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating stores: %w", err)
	}

	return stores, nil
}

// CreateWebhookKey сохраняет новый webhook ключ магазина
func (r *StoreRepository) CreateWebhookKey(ctx context.Context, k *domain.WebhookKey) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO webhook_keys (store_id, key, rate_limit_per_minute, active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		k.StoreID, k.Key, k.RateLimitPerMinute, k.Active,
	).Scan(&k.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to create webhook key for store %d: %w", k.StoreID, err)
	}
	return nil
}

// GetWebhookKey ищет активный ключ по его значению
func (r *StoreRepository) GetWebhookKey(ctx context.Context, key string) (*domain.WebhookKey, error) {
	k := &domain.WebhookKey{}

	err := r.db.QueryRow(ctx,
		`SELECT id, store_id, key, rate_limit_per_minute, active, last_used_at
		 FROM webhook_keys
		 WHERE key = $1 AND active`,
		key,
	).Scan(&k.ID, &k.StoreID, &k.Key, &k.RateLimitPerMinute, &k.Active, &k.LastUsedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWebhookKeyInvalid
		}
		return nil, fmt.Errorf("repository: failed to get webhook key: %w", err)
	}

	return k, nil
}

// TouchWebhookKey запоминает время последнего использования ключа
func (r *StoreRepository) TouchWebhookKey(ctx context.Context, keyID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE webhook_keys SET last_used_at = $1 WHERE id = $2`, at, keyID)
	if err != nil {
		return fmt.Errorf("repository: failed to touch webhook key %d: %w", keyID, err)
	}
	return nil
}

// AddStoreManager назначает пользователя менеджером магазина
func (r *StoreRepository) AddStoreManager(ctx context.Context, storeID, userID int64) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO store_managers (store_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		storeID, userID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to add manager %d to store %d: %w", userID, storeID, err)
	}
	return nil
}

// IsStoreManager проверяет, управляет ли пользователь магазином
func (r *StoreRepository) IsStoreManager(ctx context.Context, storeID, userID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM store_managers WHERE store_id = $1 AND user_id = $2)`,
		storeID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("repository: failed to check manager %d of store %d: %w", userID, storeID, err)
	}
	return ok, nil
}

func scanStore(row scanner) (*domain.Store, error) {
	s := &domain.Store{}
	if err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Active, &s.CardPaymentEnabled, &s.CreatedAt); err != nil {
		return nil, err
	}
	return s, nil
}
