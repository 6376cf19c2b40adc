package memory

import (
	"context"
	"sort"
	"time"

	"github.com/avc/pointledger/internal/domain"
)

// CreateTransfer сохраняет перевод
func (r *repo) CreateTransfer(_ context.Context, t *domain.Transfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t.ID = r.s.nextID()
	r.s.transfers[t.ID] = *t
	r.onRollback(restore(r.s.transfers, t.ID, domain.Transfer{}, false))
	return nil
}

// GetTransfer получает перевод по ID
func (r *repo) GetTransfer(_ context.Context, id int64) (*domain.Transfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transfers[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return &t, nil
}

// UpdateTransferStatus переводит перевод из pending в t.Status
func (r *repo) UpdateTransferStatus(_ context.Context, t *domain.Transfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.transfers[t.ID]
	if !ok || cur.Status != domain.TransferPending {
		return domain.ErrInvalidStateTransition
	}
	r.onRollback(restore(r.s.transfers, t.ID, cur, true))
	cur.Status = t.Status
	cur.Reason = t.Reason
	cur.ProcessedAt = t.ProcessedAt
	r.s.transfers[t.ID] = cur
	return nil
}

// ListExpiredPending возвращает ожидающие переводы с истекшим сроком
func (r *repo) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*domain.Transfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Transfer
	for _, t := range r.s.transfers {
		if t.Status == domain.TransferPending && !t.ExpiresAt.After(now) {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTransfersByUser возвращает переводы пользователя, новые первыми
func (r *repo) ListTransfersByUser(_ context.Context, userID int64) ([]*domain.Transfer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Transfer
	for _, t := range r.s.transfers {
		if t.SenderID == userID || t.RecipientID == userID {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}
