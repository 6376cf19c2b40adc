package memory

import (
	"context"
	"sort"
	"time"

	"github.com/avc/pointledger/internal/domain"
)

// CreateUser создает пользователя с рангом bronze
func (r *repo) CreateUser(_ context.Context, login, passwordHash string, role domain.Role) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.Login == login {
			return nil, domain.ErrUserExists
		}
	}

	u := domain.User{
		ID:           r.s.nextID(),
		Login:        login,
		PasswordHash: passwordHash,
		Role:         role,
		Rank:         domain.RankBronze,
		CreatedAt:    time.Now(),
	}
	r.s.users[u.ID] = u
	r.onRollback(restore(r.s.users, u.ID, domain.User{}, false))

	return &u, nil
}

// GetUserByLogin получает пользователя по логину
func (r *repo) GetUserByLogin(_ context.Context, login string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.Login == login {
			return &u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

// GetUserByID получает пользователя по ID
func (r *repo) GetUserByID(_ context.Context, id int64) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

// SetRank меняет ранг пользователя. Ранги выставляются вне сервиса, метод нужен тестам и начальному наполнению.
func (s *Store) SetRank(userID int64, rank domain.Rank) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[userID]; ok {
		u.Rank = rank
		s.users[userID] = u
	}
}

// CreateStore регистрирует магазин
func (r *repo) CreateStore(_ context.Context, st *domain.Store) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st.ID = r.s.nextID()
	st.CreatedAt = time.Now()
	r.s.stores[st.ID] = *st
	r.onRollback(restore(r.s.stores, st.ID, domain.Store{}, false))
	return nil
}

// GetStore получает магазин по ID
func (r *repo) GetStore(_ context.Context, id int64) (*domain.Store, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	st, ok := r.s.stores[id]
	if !ok {
		return nil, domain.ErrStoreNotFound
	}
	return &st, nil
}

// ListStores возвращает все магазины по возрастанию id
func (r *repo) ListStores(_ context.Context) ([]*domain.Store, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*domain.Store, 0, len(r.s.stores))
	for _, st := range r.s.stores {
		out = append(out, &st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateWebhookKey сохраняет webhook ключ
func (r *repo) CreateWebhookKey(_ context.Context, k *domain.WebhookKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k.ID = r.s.nextID()
	r.s.keys[k.ID] = *k
	r.onRollback(restore(r.s.keys, k.ID, domain.WebhookKey{}, false))
	return nil
}

// GetWebhookKey ищет активный ключ
func (r *repo) GetWebhookKey(_ context.Context, key string) (*domain.WebhookKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, k := range r.s.keys {
		if k.Key == key && k.Active {
			return &k, nil
		}
	}
	return nil, domain.ErrWebhookKeyInvalid
}

// TouchWebhookKey запоминает время использования ключа
func (r *repo) TouchWebhookKey(_ context.Context, keyID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	k, ok := r.s.keys[keyID]
	if !ok {
		return nil
	}
	r.onRollback(restore(r.s.keys, keyID, k, true))
	k.LastUsedAt = &at
	r.s.keys[keyID] = k
	return nil
}

// AddStoreManager назначает менеджера магазина
func (r *repo) AddStoreManager(_ context.Context, storeID, userID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := [2]int64{storeID, userID}
	prev, existed := r.s.managers[key]
	r.s.managers[key] = struct{}{}
	r.onRollback(restore(r.s.managers, key, prev, existed))
	return nil
}

// IsStoreManager проверяет, управляет ли пользователь магазином
func (r *repo) IsStoreManager(_ context.Context, storeID, userID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, ok := r.s.managers[[2]int64{storeID, userID}]
	return ok, nil
}
