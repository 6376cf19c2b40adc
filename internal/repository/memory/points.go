package memory

import (
	"context"
	"sort"
	"time"

	"github.com/avc/pointledger/internal/domain"
)

func sortLots(lots []*domain.PointLot) {
	sort.Slice(lots, func(i, j int) bool {
		if lots[i].ExpiresAt.Equal(lots[j].ExpiresAt) {
			return lots[i].ID < lots[j].ID
		}
		return lots[i].ExpiresAt.Before(lots[j].ExpiresAt)
	})
}

// ActiveLots возвращает непросроченные по флагу партии с ненулевым остатком
func (r *repo) ActiveLots(_ context.Context, userID int64) ([]*domain.PointLot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.PointLot
	for _, lot := range r.s.lots {
		if lot.UserID == userID && !lot.Expired && lot.Quantity > 0 {
			out = append(out, &lot)
		}
	}
	sortLots(out)
	return out, nil
}

// InsertLot сохраняет партию
func (r *repo) InsertLot(_ context.Context, lot *domain.PointLot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	lot.ID = r.s.nextID()
	r.s.lots[lot.ID] = *lot
	r.onRollback(restore(r.s.lots, lot.ID, domain.PointLot{}, false))
	return nil
}

// UpdateLotQuantity устанавливает остаток партии
func (r *repo) UpdateLotQuantity(_ context.Context, lotID, quantity int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	lot, ok := r.s.lots[lotID]
	if !ok || lot.Expired {
		return domain.ErrLotNotFound
	}
	r.onRollback(restore(r.s.lots, lotID, lot, true))
	lot.Quantity = quantity
	r.s.lots[lotID] = lot
	return nil
}

// MarkLotExpired помечает партию просроченной, если это еще не сделано
func (r *repo) MarkLotExpired(_ context.Context, lotID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	lot, ok := r.s.lots[lotID]
	if !ok || lot.Expired {
		return false, nil
	}
	r.onRollback(restore(r.s.lots, lotID, lot, true))
	lot.Expired = true
	r.s.lots[lotID] = lot
	return true, nil
}

// DueForExpiry возвращает партии с истекшим сроком
func (r *repo) DueForExpiry(_ context.Context, now time.Time, limit int) ([]*domain.PointLot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.PointLot
	for _, lot := range r.s.lots {
		if !lot.Expired && lot.Quantity > 0 && !lot.ExpiresAt.After(now) {
			out = append(out, &lot)
		}
	}
	sortLots(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendEntry добавляет запись в журнал
func (r *repo) AppendEntry(_ context.Context, e *domain.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e.ID = r.s.nextID()
	r.s.entries = append(r.s.entries, *e)
	id := e.ID
	r.onRollback(func() {
		for i := len(r.s.entries) - 1; i >= 0; i-- {
			if r.s.entries[i].ID == id {
				r.s.entries = append(r.s.entries[:i], r.s.entries[i+1:]...)
				return
			}
		}
	})
	return nil
}

// ListEntries возвращает страницу журнала от новых записей к старым
func (r *repo) ListEntries(_ context.Context, userID int64, rng domain.TimeRange, after *domain.LedgerEntry, limit int) ([]*domain.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.LedgerEntry
	for _, e := range r.s.entries {
		if e.UserID != userID {
			continue
		}
		if !rng.From.IsZero() && e.CreatedAt.Before(rng.From) {
			continue
		}
		if !rng.To.IsZero() && !e.CreatedAt.Before(rng.To) {
			continue
		}
		if after != nil && !entryBefore(&e, after) {
			continue
		}
		out = append(out, &e)
	}

	sort.Slice(out, func(i, j int) bool { return entryBefore(out[j], out[i]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// entryBefore сравнивает записи по (created_at, id)
func entryBefore(a, b *domain.LedgerEntry) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
