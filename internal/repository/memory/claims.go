package memory

import (
	"context"
	"sort"
	"time"

	"github.com/avc/pointledger/internal/domain"
)

// CreateClaim сохраняет заявку, если по заказу нет другой неотклоненной заявки
func (r *repo) CreateClaim(_ context.Context, c *domain.Claim) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.claims {
		if existing.ExternalOrderID == c.ExternalOrderID && existing.Status != domain.ClaimRejected {
			return domain.ErrDuplicateOrder
		}
	}

	c.ID = r.s.nextID()
	r.s.claims[c.ID] = *c
	r.onRollback(restore(r.s.claims, c.ID, domain.Claim{}, false))
	return nil
}

// GetClaim получает заявку по ID
func (r *repo) GetClaim(_ context.Context, id int64) (*domain.Claim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.claims[id]
	if !ok {
		return nil, domain.ErrClaimNotFound
	}
	return &c, nil
}

// GetActiveClaimByOrderID получает неотклоненную заявку по номеру заказа
func (r *repo) GetActiveClaimByOrderID(_ context.Context, orderID string) (*domain.Claim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.claims {
		if c.ExternalOrderID == orderID && c.Status != domain.ClaimRejected {
			return &c, nil
		}
	}
	return nil, domain.ErrClaimNotFound
}

// UpdateClaim сохраняет заявку, если ее статус все еще from
func (r *repo) UpdateClaim(_ context.Context, c *domain.Claim, from domain.ClaimStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.claims[c.ID]
	if !ok || cur.Status != from {
		return domain.ErrInvalidStateTransition
	}
	r.onRollback(restore(r.s.claims, c.ID, cur, true))
	r.s.claims[c.ID] = *c
	return nil
}

// ListClaims возвращает заявки под фильтр, новые первыми
func (r *repo) ListClaims(_ context.Context, f domain.ClaimFilter) ([]*domain.Claim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Claim
	for _, c := range r.s.claims {
		if f.UserID != 0 && c.UserID != f.UserID {
			continue
		}
		if f.StoreID != 0 && c.StoreID != f.StoreID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, &c)
	}
	sortClaimsDesc(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// FindSimilarClaims ищет неотклоненные заявки с близкой суммой и временем покупки
func (r *repo) FindSimilarClaims(_ context.Context, userID, storeID int64, minAmount, maxAmount float64, from, to time.Time) ([]*domain.Claim, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Claim
	for _, c := range r.s.claims {
		if c.UserID != userID || c.StoreID != storeID || c.Status == domain.ClaimRejected {
			continue
		}
		if c.Amount < minAmount || c.Amount > maxAmount {
			continue
		}
		if c.PurchasedAt.Before(from) || c.PurchasedAt.After(to) {
			continue
		}
		out = append(out, &c)
	}
	sortClaimsDesc(out)
	return out, nil
}

// CountClaims считает заявки под фильтр и возвращает id самой свежей
func (r *repo) CountClaims(_ context.Context, f domain.ClaimCountFilter) (int, *int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var (
		count  int
		latest *int64
	)
	for _, c := range r.s.claims {
		if c.CreatedAt.Before(f.Since) {
			continue
		}
		if f.UserID != 0 && c.UserID != f.UserID {
			continue
		}
		if f.StoreID != 0 && c.StoreID != f.StoreID {
			continue
		}
		if f.Amount != nil && domain.Cents(c.Amount) != domain.Cents(*f.Amount) {
			continue
		}
		count++
		if latest == nil || c.ID > *latest {
			id := c.ID
			latest = &id
		}
	}
	return count, latest, nil
}

// InsertFinding сохраняет находку
func (r *repo) InsertFinding(_ context.Context, f *domain.DuplicateFinding) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f.ID = r.s.nextID()
	r.s.findings[f.ID] = *f
	r.onRollback(restore(r.s.findings, f.ID, domain.DuplicateFinding{}, false))
	return nil
}

// ListFindings возвращает находки по заявке; claimID = 0 означает все заявки
func (r *repo) ListFindings(_ context.Context, claimID int64, unresolvedOnly bool) ([]*domain.DuplicateFinding, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.DuplicateFinding
	for _, f := range r.s.findings {
		if claimID != 0 && f.ClaimID != claimID {
			continue
		}
		if unresolvedOnly && f.Resolved {
			continue
		}
		out = append(out, &f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ResolveFinding закрывает неразрешенную находку
func (r *repo) ResolveFinding(_ context.Context, id, resolvedBy int64, note string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	f, ok := r.s.findings[id]
	if !ok || f.Resolved {
		return domain.ErrFindingNotFound
	}
	r.onRollback(restore(r.s.findings, id, f, true))
	f.Resolved = true
	f.ResolvedBy = &resolvedBy
	f.ResolvedAt = &at
	f.ResolutionNote = note
	r.s.findings[id] = f
	return nil
}

// FindingStats собирает статистику находок начиная с since
func (r *repo) FindingStats(_ context.Context, since time.Time) (*domain.FindingStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stats := &domain.FindingStats{Breakdown: make(map[string]int)}
	for _, f := range r.s.findings {
		if f.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		if f.Resolved {
			stats.Resolved++
		}
		stats.Breakdown["type:"+string(f.Type)]++
		stats.Breakdown["severity:"+string(f.Severity)]++
	}
	return stats, nil
}

// InsertReconciliation ставит расхождение в очередь сверки
func (r *repo) InsertReconciliation(_ context.Context, item *domain.ReconciliationItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	item.ID = r.s.nextID()
	r.s.reconciling[item.ID] = *item
	r.onRollback(restore(r.s.reconciling, item.ID, domain.ReconciliationItem{}, false))
	return nil
}

// GetReconciliation получает элемент очереди сверки
func (r *repo) GetReconciliation(_ context.Context, id int64) (*domain.ReconciliationItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	item, ok := r.s.reconciling[id]
	if !ok {
		return nil, domain.ErrReconciliationNotFound
	}
	return &item, nil
}

// ListReconciliation возвращает очередь сверки, старые первыми
func (r *repo) ListReconciliation(_ context.Context, unresolvedOnly bool) ([]*domain.ReconciliationItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.ReconciliationItem
	for _, item := range r.s.reconciling {
		if unresolvedOnly && item.Resolved {
			continue
		}
		out = append(out, &item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ResolveReconciliation закрывает элемент очереди сверки
func (r *repo) ResolveReconciliation(_ context.Context, id, resolvedBy int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	item, ok := r.s.reconciling[id]
	if !ok {
		return domain.ErrReconciliationNotFound
	}
	if item.Resolved {
		return domain.ErrInvalidStateTransition
	}
	r.onRollback(restore(r.s.reconciling, id, item, true))
	item.Resolved = true
	item.ResolvedBy = &resolvedBy
	item.ResolvedAt = &at
	r.s.reconciling[id] = item
	return nil
}

// ReopenReconciliation возвращает закрытый элемент в очередь
func (r *repo) ReopenReconciliation(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	item, ok := r.s.reconciling[id]
	if !ok {
		return domain.ErrReconciliationNotFound
	}
	if !item.Resolved {
		return domain.ErrInvalidStateTransition
	}
	r.onRollback(restore(r.s.reconciling, id, item, true))
	item.Resolved = false
	item.ResolvedBy = nil
	item.ResolvedAt = nil
	r.s.reconciling[id] = item
	return nil
}

func sortClaimsDesc(claims []*domain.Claim) {
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].CreatedAt.Equal(claims[j].CreatedAt) {
			return claims[i].ID > claims[j].ID
		}
		return claims[i].CreatedAt.After(claims[j].CreatedAt)
	})
}
