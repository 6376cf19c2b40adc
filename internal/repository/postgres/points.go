package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/avc/pointledger/internal/domain"
)

const lotColumns = `id, user_id, quantity, expires_at, created_at, source_ref, expired`

// PointRepository реализует domain.PointRepository
type PointRepository struct {
	db DBTX
}

// NewPointRepository создает новый PointRepository
func NewPointRepository(db DBTX) *PointRepository {
	return &PointRepository{db: db}
}

// ActiveLots возвращает партии пользователя с ненулевым остатком, не помеченные просроченными
func (r *PointRepository) ActiveLots(ctx context.Context, userID int64) ([]*domain.PointLot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+lotColumns+`
		 FROM point_lots
		 WHERE user_id = $1 AND NOT expired AND quantity > 0
		 ORDER BY expires_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get lots for user %d: %w", userID, err)
	}
	defer rows.Close()

	var lots []*domain.PointLot
	for rows.Next() {
		lot := &domain.PointLot{}
		if err := rows.Scan(&lot.ID, &lot.UserID, &lot.Quantity, &lot.ExpiresAt, &lot.CreatedAt, &lot.SourceRef, &lot.Expired); err != nil {
			return nil, fmt.Errorf("repository: failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating lots: %w", err)
	}

	return lots, nil
}

// InsertLot сохраняет новую партию баллов
func (r *PointRepository) InsertLot(ctx context.Context, lot *domain.PointLot) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO point_lots (user_id, quantity, expires_at, created_at, source_ref)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		lot.UserID, lot.Quantity, lot.ExpiresAt, lot.CreatedAt, lot.SourceRef,
	).Scan(&lot.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to insert lot for user %d: %w", lot.UserID, err)
	}
	return nil
}

// UpdateLotQuantity устанавливает остаток партии
func (r *PointRepository) UpdateLotQuantity(ctx context.Context, lotID, quantity int64) error {
	result, err := r.db.Exec(ctx,
		`UPDATE point_lots SET quantity = $1 WHERE id = $2 AND NOT expired`,
		quantity, lotID,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update lot %d: %w", lotID, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrLotNotFound
	}
	return nil
}

// MarkLotExpired помечает партию просроченной. Возвращает false, если это уже сделано.
func (r *PointRepository) MarkLotExpired(ctx context.Context, lotID int64) (bool, error) {
	result, err := r.db.Exec(ctx,
		`UPDATE point_lots SET expired = TRUE WHERE id = $1 AND NOT expired`,
		lotID,
	)
	if err != nil {
		return false, fmt.Errorf("repository: failed to expire lot %d: %w", lotID, err)
	}
	return result.RowsAffected() == 1, nil
}

// DueForExpiry возвращает партии с истекшим сроком, еще не помеченные просроченными
func (r *PointRepository) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.PointLot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+lotColumns+`
		 FROM point_lots
		 WHERE NOT expired AND quantity > 0 AND expires_at <= $1
		 ORDER BY expires_at ASC, id ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get lots due for expiry: %w", err)
	}
	defer rows.Close()

	var lots []*domain.PointLot
	for rows.Next() {
		lot := &domain.PointLot{}
		if err := rows.Scan(&lot.ID, &lot.UserID, &lot.Quantity, &lot.ExpiresAt, &lot.CreatedAt, &lot.SourceRef, &lot.Expired); err != nil {
			return nil, fmt.Errorf("repository: failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating lots due for expiry: %w", err)
	}

	return lots, nil
}
