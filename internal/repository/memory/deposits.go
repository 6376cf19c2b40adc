package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/avc/pointledger/internal/domain"
)

// GetAccount возвращает депозит магазина, создавая пустой при первом обращении
func (r *repo) GetAccount(_ context.Context, storeID int64) (*domain.DepositAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	acc, ok := r.s.accounts[storeID]
	if !ok {
		acc = domain.DepositAccount{StoreID: storeID, UpdatedAt: time.Now()}
		r.s.accounts[storeID] = acc
		r.onRollback(restore(r.s.accounts, storeID, domain.DepositAccount{}, false))
	}
	return &acc, nil
}

// UpdateBalance устанавливает баланс депозита
func (r *repo) UpdateBalance(_ context.Context, storeID, balance int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	acc, ok := r.s.accounts[storeID]
	if !ok {
		return domain.ErrStoreNotFound
	}
	r.onRollback(restore(r.s.accounts, storeID, acc, true))
	acc.Balance = balance
	acc.UpdatedAt = time.Now()
	r.s.accounts[storeID] = acc
	return nil
}

// InsertDepositTransaction сохраняет операцию по депозиту
func (r *repo) InsertDepositTransaction(_ context.Context, t *domain.DepositTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.depositTxs {
		if t.Type == domain.DepositRefund && existing.Type == domain.DepositRefund && existing.PaymentRef == t.PaymentRef {
			return domain.ErrAlreadyRefunded
		}
		if existing.Reference == t.Reference {
			return fmt.Errorf("repository: deposit transaction reference %s already exists", t.Reference)
		}
	}

	t.ID = r.s.nextID()
	r.s.depositTxs[t.ID] = *t
	r.onRollback(restore(r.s.depositTxs, t.ID, domain.DepositTransaction{}, false))
	return nil
}

// GetDepositTransaction получает операцию по ID
func (r *repo) GetDepositTransaction(_ context.Context, id int64) (*domain.DepositTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.depositTxs[id]
	if !ok {
		return nil, domain.ErrDepositTxNotFound
	}
	return &t, nil
}

// ListDepositTransactions возвращает последние операции магазина
func (r *repo) ListDepositTransactions(_ context.Context, storeID int64, limit int) ([]*domain.DepositTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.DepositTransaction
	for _, t := range r.s.depositTxs {
		if t.StoreID == storeID {
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SumDepositTransactions суммирует завершенные операции типа txType вместе с комиссией
func (r *repo) SumDepositTransactions(_ context.Context, storeID int64, txType domain.DepositTxType, since time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var sum int64
	for _, t := range r.s.depositTxs {
		if t.StoreID == storeID && t.Type == txType && t.Status == domain.DepositTxCompleted && !t.CreatedAt.Before(since) {
			sum += t.Gross()
		}
	}
	return sum, nil
}

// SumDepositFees суммирует комиссии завершенных операций
func (r *repo) SumDepositFees(_ context.Context, storeID int64, since time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var sum int64
	for _, t := range r.s.depositTxs {
		if t.StoreID == storeID && t.Status == domain.DepositTxCompleted && !t.CreatedAt.Before(since) {
			sum += t.Fee
		}
	}
	return sum, nil
}

// GetAutoChargeRule получает правило автопополнения
func (r *repo) GetAutoChargeRule(_ context.Context, storeID int64) (*domain.AutoChargeRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rule, ok := r.s.rules[storeID]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return &rule, nil
}

// UpsertAutoChargeRule создает или заменяет правило, сохраняя время последнего срабатывания
func (r *repo) UpsertAutoChargeRule(_ context.Context, rule *domain.AutoChargeRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	prev, existed := r.s.rules[rule.StoreID]
	r.onRollback(restore(r.s.rules, rule.StoreID, prev, existed))
	next := *rule
	next.LastTriggeredAt = prev.LastTriggeredAt
	r.s.rules[rule.StoreID] = next
	return nil
}

// TouchAutoChargeRule запоминает время срабатывания правила
func (r *repo) TouchAutoChargeRule(_ context.Context, storeID int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rule, ok := r.s.rules[storeID]
	if !ok {
		return domain.ErrRuleNotFound
	}
	r.onRollback(restore(r.s.rules, storeID, rule, true))
	rule.LastTriggeredAt = &at
	r.s.rules[storeID] = rule
	return nil
}

// ListAutoChargeCandidates возвращает магазины, у которых включенное правило должно сработать
func (r *repo) ListAutoChargeCandidates(_ context.Context) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []int64
	for storeID, rule := range r.s.rules {
		if rule.Enabled && r.s.accounts[storeID].Balance < rule.TriggerAmount {
			ids = append(ids, storeID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
