package postgres

import (
	"context"
	"fmt"

	"github.com/avc/pointledger/internal/domain"
)

// LedgerRepository реализует domain.LedgerRepository.
// Записи журнала только добавляются, методов изменения и удаления нет.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository создает новый LedgerRepository
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// AppendEntry добавляет запись в журнал
func (r *LedgerRepository) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO ledger_entries (user_id, store_id, delta, kind, balance_before, balance_after, reference_id, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		e.UserID, e.StoreID, e.Delta, e.Kind, e.BalanceBefore, e.BalanceAfter, e.ReferenceID, e.Description, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to append ledger entry for user %d: %w", e.UserID, err)
	}
	return nil
}

// ListEntries возвращает страницу журнала пользователя, от новых записей к старым
func (r *LedgerRepository) ListEntries(ctx context.Context, userID int64, rng domain.TimeRange, after *domain.LedgerEntry, limit int) ([]*domain.LedgerEntry, error) {
	query := `SELECT id, user_id, store_id, delta, kind, balance_before, balance_after, reference_id, description, created_at
		FROM ledger_entries
		WHERE user_id = $1`
	args := []any{userID}

	if !rng.From.IsZero() {
		args = append(args, rng.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !rng.To.IsZero() {
		args = append(args, rng.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if after != nil {
		args = append(args, after.CreatedAt, after.ID)
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", len(args)-1, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list ledger for user %d: %w", userID, err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		e := &domain.LedgerEntry{}
		err := rows.Scan(&e.ID, &e.UserID, &e.StoreID, &e.Delta, &e.Kind, &e.BalanceBefore, &e.BalanceAfter, &e.ReferenceID, &e.Description, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating ledger: %w", err)
	}

	return entries, nil
}
