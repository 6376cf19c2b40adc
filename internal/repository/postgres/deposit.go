package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/jackc/pgx/v5"
)

const depositTxColumns = `id, store_id, reference, type, amount, fee, balance_before, balance_after, payment_method, payment_ref, status, description, created_at`

// DepositRepository реализует domain.DepositRepository
type DepositRepository struct {
	db DBTX
}

// NewDepositRepository создает новый DepositRepository
func NewDepositRepository(db DBTX) *DepositRepository {
	return &DepositRepository{db: db}
}

// GetAccount возвращает депозит магазина, при первом обращении создает его с нулевым балансом
func (r *DepositRepository) GetAccount(ctx context.Context, storeID int64) (*domain.DepositAccount, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO deposit_accounts (store_id) VALUES ($1) ON CONFLICT (store_id) DO NOTHING`,
		storeID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to ensure deposit account %d: %w", storeID, err)
	}

	acc := &domain.DepositAccount{}
	err = r.db.QueryRow(ctx,
		`SELECT store_id, balance, updated_at FROM deposit_accounts WHERE store_id = $1`,
		storeID,
	).Scan(&acc.StoreID, &acc.Balance, &acc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get deposit account %d: %w", storeID, err)
	}

	return acc, nil
}

// UpdateBalance устанавливает баланс депозита
func (r *DepositRepository) UpdateBalance(ctx context.Context, storeID, balance int64) error {
	result, err := r.db.Exec(ctx,
		`UPDATE deposit_accounts SET balance = $1, updated_at = NOW() WHERE store_id = $2`,
		balance, storeID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update deposit balance of store %d: %w", storeID, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrStoreNotFound
	}
	return nil
}

// InsertDepositTransaction сохраняет операцию по депозиту
func (r *DepositRepository) InsertDepositTransaction(ctx context.Context, t *domain.DepositTransaction) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO deposit_transactions (store_id, reference, type, amount, fee, balance_before, balance_after, payment_method, payment_ref, status, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		t.StoreID, t.Reference, t.Type, t.Amount, t.Fee, t.BalanceBefore, t.BalanceAfter,
		t.PaymentMethod, t.PaymentRef, t.Status, t.Description, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		if t.Type == domain.DepositRefund && isUniqueViolation(err) {
			return domain.ErrAlreadyRefunded
		}
		return fmt.Errorf("repository: failed to insert deposit transaction %s: %w", t.Reference, err)
	}
	return nil
}

// GetDepositTransaction получает операцию по ID
func (r *DepositRepository) GetDepositTransaction(ctx context.Context, id int64) (*domain.DepositTransaction, error) {
	t, err := scanDepositTx(r.db.QueryRow(ctx, `SELECT `+depositTxColumns+` FROM deposit_transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDepositTxNotFound
		}
		return nil, fmt.Errorf("repository: failed to get deposit transaction %d: %w", id, err)
	}
	return t, nil
}

// ListDepositTransactions возвращает последние операции магазина
func (r *DepositRepository) ListDepositTransactions(ctx context.Context, storeID int64, limit int) ([]*domain.DepositTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+depositTxColumns+`
		 FROM deposit_transactions
		 WHERE store_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		storeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list deposit transactions of store %d: %w", storeID, err)
	}
	defer rows.Close()

	var txs []*domain.DepositTransaction
	for rows.Next() {
		t, err := scanDepositTx(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan deposit transaction: %w", err)
		}
		txs = append(txs, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating deposit transactions: %w", err)
	}

	return txs, nil
}

// SumDepositTransactions суммирует операции заданного типа вместе с комиссией
func (r *DepositRepository) SumDepositTransactions(ctx context.Context, storeID int64, txType domain.DepositTxType, since time.Time) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount + fee), 0)
		 FROM deposit_transactions
		 WHERE store_id = $1 AND type = $2 AND created_at >= $3 AND status = 'completed'`,
		storeID, txType, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to sum %s transactions of store %d: %w", txType, storeID, err)
	}
	return sum, nil
}

// SumDepositFees суммирует комиссии завершенных операций
func (r *DepositRepository) SumDepositFees(ctx context.Context, storeID int64, since time.Time) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(fee), 0)
		 FROM deposit_transactions
		 WHERE store_id = $1 AND created_at >= $2 AND status = 'completed'`,
		storeID, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("repository: failed to sum fees of store %d: %w", storeID, err)
	}
	return sum, nil
}

// GetAutoChargeRule получает правило автопополнения магазина
func (r *DepositRepository) GetAutoChargeRule(ctx context.Context, storeID int64) (*domain.AutoChargeRule, error) {
	rule := &domain.AutoChargeRule{}
	err := r.db.QueryRow(ctx,
		`SELECT store_id, enabled, trigger_amount, charge_amount, payment_method, payment_ref, daily_cap, monthly_cap, last_triggered_at
		 FROM auto_charge_rules
		 WHERE store_id = $1`,
		storeID,
	).Scan(&rule.StoreID, &rule.Enabled, &rule.TriggerAmount, &rule.ChargeAmount, &rule.PaymentMethod,
		&rule.PaymentRef, &rule.DailyCap, &rule.MonthlyCap, &rule.LastTriggeredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRuleNotFound
		}
		return nil, fmt.Errorf("repository: failed to get auto charge rule of store %d: %w", storeID, err)
	}
	return rule, nil
}

// UpsertAutoChargeRule создает или заменяет правило автопополнения
func (r *DepositRepository) UpsertAutoChargeRule(ctx context.Context, rule *domain.AutoChargeRule) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auto_charge_rules (store_id, enabled, trigger_amount, charge_amount, payment_method, payment_ref, daily_cap, monthly_cap)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (store_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			trigger_amount = EXCLUDED.trigger_amount,
			charge_amount = EXCLUDED.charge_amount,
			payment_method = EXCLUDED.payment_method,
			payment_ref = EXCLUDED.payment_ref,
			daily_cap = EXCLUDED.daily_cap,
			monthly_cap = EXCLUDED.monthly_cap`,
		rule.StoreID, rule.Enabled, rule.TriggerAmount, rule.ChargeAmount, rule.PaymentMethod,
		rule.PaymentRef, rule.DailyCap, rule.MonthlyCap,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to save auto charge rule of store %d: %w", rule.StoreID, err)
	}
	return nil
}

// TouchAutoChargeRule запоминает время последнего срабатывания правила
func (r *DepositRepository) TouchAutoChargeRule(ctx context.Context, storeID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE auto_charge_rules SET last_triggered_at = $1 WHERE store_id = $2`, at, storeID)
	if err != nil {
		return fmt.Errorf("repository: failed to touch auto charge rule of store %d: %w", storeID, err)
	}
	return nil
}

// ListAutoChargeCandidates возвращает магазины, у которых включенное правило должно сработать
func (r *DepositRepository) ListAutoChargeCandidates(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT r.store_id
		 FROM auto_charge_rules r
		 LEFT JOIN deposit_accounts a ON a.store_id = r.store_id
		 WHERE r.enabled AND COALESCE(a.balance, 0) < r.trigger_amount
		 ORDER BY r.store_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list auto charge candidates: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repository: failed to scan store id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating auto charge candidates: %w", err)
	}

	return ids, nil
}

func scanDepositTx(row scanner) (*domain.DepositTransaction, error) {
	t := &domain.DepositTransaction{}
	err := row.Scan(&t.ID, &t.StoreID, &t.Reference, &t.Type, &t.Amount, &t.Fee, &t.BalanceBefore, &t.BalanceAfter,
		&t.PaymentMethod, &t.PaymentRef, &t.Status, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}
