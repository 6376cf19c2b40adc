package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/jackc/pgx/v5"
)

const transferColumns = `id, sender_id, recipient_id, amount, fee, message, status, reason, created_at, expires_at, processed_at`

// TransferRepository реализует domain.TransferRepository
type TransferRepository struct {
	db DBTX
}

// NewTransferRepository создает новый TransferRepository
func NewTransferRepository(db DBTX) *TransferRepository {
	return &TransferRepository{db: db}
}

// CreateTransfer сохраняет новый перевод
func (r *TransferRepository) CreateTransfer(ctx context.Context, t *domain.Transfer) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO transfers (sender_id, recipient_id, amount, fee, message, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		t.SenderID, t.RecipientID, t.Amount, t.Fee, t.Message, t.Status, t.CreatedAt, t.ExpiresAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to create transfer from user %d: %w", t.SenderID, err)
	}
	return nil
}

// GetTransfer получает перевод по ID
func (r *TransferRepository) GetTransfer(ctx context.Context, id int64) (*domain.Transfer, error) {
	t, err := scanTransfer(r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}
		return nil, fmt.Errorf("repository: failed to get transfer %d: %w", id, err)
	}
	return t, nil
}

// UpdateTransferStatus переводит перевод из pending в t.Status
func (r *TransferRepository) UpdateTransferStatus(ctx context.Context, t *domain.Transfer) error {
	result, err := r.db.Exec(ctx,
		`UPDATE transfers
		 SET status = $1, reason = $2, processed_at = $3
		 WHERE id = $4 AND status = $5`,
		t.Status, t.Reason, t.ProcessedAt, t.ID, domain.TransferPending,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update transfer %d: %w", t.ID, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidStateTransition
	}
	return nil
}

// ListExpiredPending возвращает ожидающие переводы с истекшим сроком
func (r *TransferRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Transfer, error) {
	return r.list(ctx,
		`SELECT `+transferColumns+`
		 FROM transfers
		 WHERE status = $1 AND expires_at <= $2
		 ORDER BY expires_at ASC
		 LIMIT $3`,
		domain.TransferPending, now, limit,
	)
}

// ListTransfersByUser возвращает входящие и исходящие переводы пользователя
func (r *TransferRepository) ListTransfersByUser(ctx context.Context, userID int64) ([]*domain.Transfer, error) {
	return r.list(ctx,
		`SELECT `+transferColumns+`
		 FROM transfers
		 WHERE sender_id = $1 OR recipient_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
}

func (r *TransferRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Transfer, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating transfers: %w", err)
	}

	return transfers, nil
}

func scanTransfer(row scanner) (*domain.Transfer, error) {
	t := &domain.Transfer{}
	err := row.Scan(&t.ID, &t.SenderID, &t.RecipientID, &t.Amount, &t.Fee, &t.Message, &t.Status, &t.Reason, &t.CreatedAt, &t.ExpiresAt, &t.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}
