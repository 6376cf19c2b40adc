package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/jackc/pgx/v5"
)

const claimColumns = `id, user_id, store_id, source, amount, external_order_id, purchased_at, request_hash, status,
	points_to_award, points_awarded, payment_method, payment_reference, deposit_transaction_id, rejection_reason,
	processed_by, ip_address, user_agent, created_at, approved_at, completed_at`

const findingColumns = `id, claim_id, original_claim_id, type, severity, details, resolved, resolved_by, resolved_at, resolution_note, created_at`

const reconciliationColumns = `id, claim_id, payment_method, payment_reference, deposit_transaction_id, amount, error, resolved, resolved_by, resolved_at, created_at`

// ClaimRepository реализует domain.ClaimRepository
type ClaimRepository struct {
	db DBTX
}

// NewClaimRepository создает новый ClaimRepository
func NewClaimRepository(db DBTX) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// CreateClaim сохраняет новую заявку.
// Уникальный индекс по external_order_id среди неотклоненных заявок дает ErrDuplicateOrder.
func (r *ClaimRepository) CreateClaim(ctx context.Context, c *domain.Claim) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO claims (user_id, store_id, source, amount, external_order_id, purchased_at, request_hash,
			status, points_to_award, ip_address, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		c.UserID, c.StoreID, c.Source, c.Amount, c.ExternalOrderID, c.PurchasedAt, c.RequestHash,
		c.Status, c.PointsToAward, c.IPAddress, c.UserAgent, c.CreatedAt,
	).Scan(&c.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateOrder
		}
		return fmt.Errorf("repository: failed to create claim for order %q: %w", c.ExternalOrderID, err)
	}

	return nil
}

// GetClaim получает заявку по ID
func (r *ClaimRepository) GetClaim(ctx context.Context, id int64) (*domain.Claim, error) {
	c, err := scanClaim(r.db.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrClaimNotFound
		}
		return nil, fmt.Errorf("repository: failed to get claim %d: %w", id, err)
	}
	return c, nil
}

// GetActiveClaimByOrderID получает неотклоненную заявку по номеру заказа
func (r *ClaimRepository) GetActiveClaimByOrderID(ctx context.Context, orderID string) (*domain.Claim, error) {
	c, err := scanClaim(r.db.QueryRow(ctx,
		`SELECT `+claimColumns+` FROM claims WHERE external_order_id = $1 AND status <> $2`,
		orderID, domain.ClaimRejected,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrClaimNotFound
		}
		return nil, fmt.Errorf("repository: failed to get claim by order %q: %w", orderID, err)
	}
	return c, nil
}

// UpdateClaim сохраняет изменяемые поля заявки при условии, что ее статус все еще from
func (r *ClaimRepository) UpdateClaim(ctx context.Context, c *domain.Claim, from domain.ClaimStatus) error {
	result, err := r.db.Exec(ctx,
		`UPDATE claims
		 SET status = $1, points_awarded = $2, payment_method = $3, payment_reference = $4,
			deposit_transaction_id = $5, rejection_reason = $6, processed_by = $7, approved_at = $8, completed_at = $9
		 WHERE id = $10 AND status = $11`,
		c.Status, c.PointsAwarded, c.PaymentMethod, c.PaymentReference,
		c.DepositTxID, c.RejectionReason, c.ProcessedBy, c.ApprovedAt, c.CompletedAt,
		c.ID, from,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update claim %d: %w", c.ID, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidStateTransition
	}
	return nil
}

// ListClaims возвращает заявки под фильтр, новые первыми
func (r *ClaimRepository) ListClaims(ctx context.Context, f domain.ClaimFilter) ([]*domain.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE TRUE`
	var args []any

	if f.UserID != 0 {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.StoreID != 0 {
		args = append(args, f.StoreID)
		query += fmt.Sprintf(" AND store_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.listClaims(ctx, query, args...)
}

// FindSimilarClaims ищет неотклоненные заявки пользователя в магазине с близкой суммой и временем покупки
func (r *ClaimRepository) FindSimilarClaims(ctx context.Context, userID, storeID int64, minAmount, maxAmount float64, from, to time.Time) ([]*domain.Claim, error) {
	return r.listClaims(ctx,
		`SELECT `+claimColumns+`
		 FROM claims
		 WHERE user_id = $1 AND store_id = $2 AND status <> $3
			AND amount BETWEEN $4 AND $5
			AND purchased_at BETWEEN $6 AND $7
		 ORDER BY created_at DESC, id DESC`,
		userID, storeID, domain.ClaimRejected, minAmount, maxAmount, from, to,
	)
}

// CountClaims считает заявки под фильтр и возвращает id самой свежей из них
func (r *ClaimRepository) CountClaims(ctx context.Context, f domain.ClaimCountFilter) (int, *int64, error) {
	query := `SELECT COUNT(*), MAX(id) FROM claims WHERE created_at >= $1`
	args := []any{f.Since}

	if f.UserID != 0 {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.StoreID != 0 {
		args = append(args, f.StoreID)
		query += fmt.Sprintf(" AND store_id = $%d", len(args))
	}
	if f.Amount != nil {
		args = append(args, *f.Amount)
		query += fmt.Sprintf(" AND amount = $%d", len(args))
	}

	var (
		count  int
		latest *int64
	)
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count, &latest); err != nil {
		return 0, nil, fmt.Errorf("repository: failed to count claims: %w", err)
	}
	return count, latest, nil
}

// InsertFinding сохраняет находку детектора дубликатов
func (r *ClaimRepository) InsertFinding(ctx context.Context, f *domain.DuplicateFinding) error {
	details, err := json.Marshal(f.Details)
	if err != nil {
		return fmt.Errorf("repository: failed to encode finding details: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`INSERT INTO duplicate_findings (claim_id, original_claim_id, type, severity, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		f.ClaimID, f.OriginalClaimID, f.Type, f.Severity, details, f.CreatedAt,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to insert finding for claim %d: %w", f.ClaimID, err)
	}
	return nil
}

// ListFindings возвращает находки по заявке; claimID = 0 означает все заявки
func (r *ClaimRepository) ListFindings(ctx context.Context, claimID int64, unresolvedOnly bool) ([]*domain.DuplicateFinding, error) {
	query := `SELECT ` + findingColumns + ` FROM duplicate_findings WHERE TRUE`
	var args []any

	if claimID != 0 {
		args = append(args, claimID)
		query += fmt.Sprintf(" AND claim_id = $%d", len(args))
	}
	if unresolvedOnly {
		query += " AND NOT resolved"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*domain.DuplicateFinding
	for rows.Next() {
		f := &domain.DuplicateFinding{}
		var details []byte
		err := rows.Scan(&f.ID, &f.ClaimID, &f.OriginalClaimID, &f.Type, &f.Severity, &details,
			&f.Resolved, &f.ResolvedBy, &f.ResolvedAt, &f.ResolutionNote, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan finding: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &f.Details); err != nil {
				return nil, fmt.Errorf("repository: failed to decode finding %d details: %w", f.ID, err)
			}
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating findings: %w", err)
	}

	return findings, nil
}

// ResolveFinding закрывает неразрешенную находку
func (r *ClaimRepository) ResolveFinding(ctx context.Context, id, resolvedBy int64, note string, at time.Time) error {
	result, err := r.db.Exec(ctx,
		`UPDATE duplicate_findings
		 SET resolved = TRUE, resolved_by = $1, resolution_note = $2, resolved_at = $3
		 WHERE id = $4 AND NOT resolved`,
		resolvedBy, note, at, id,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to resolve finding %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrFindingNotFound
	}
	return nil
}

// FindingStats собирает статистику находок начиная с since
func (r *ClaimRepository) FindingStats(ctx context.Context, since time.Time) (*domain.FindingStats, error) {
	rows, err := r.db.Query(ctx,
		`SELECT type, severity, resolved, COUNT(*)
		 FROM duplicate_findings
		 WHERE created_at >= $1
		 GROUP BY type, severity, resolved`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get finding stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.FindingStats{Breakdown: make(map[string]int)}
	for rows.Next() {
		var (
			typ      domain.FindingType
			severity domain.Severity
			resolved bool
			count    int
		)
		if err := rows.Scan(&typ, &severity, &resolved, &count); err != nil {
			return nil, fmt.Errorf("repository: failed to scan finding stats: %w", err)
		}
		stats.Total += count
		if resolved {
			stats.Resolved += count
		}
		stats.Breakdown["type:"+string(typ)] += count
		stats.Breakdown["severity:"+string(severity)] += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating finding stats: %w", err)
	}

	return stats, nil
}

// InsertReconciliation ставит расхождение в очередь сверки
func (r *ClaimRepository) InsertReconciliation(ctx context.Context, item *domain.ReconciliationItem) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO reconciliation_items (claim_id, payment_method, payment_reference, deposit_transaction_id, amount, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		item.ClaimID, item.PaymentMethod, item.PaymentRef, item.DepositTxID, item.Amount, item.Error, item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to insert reconciliation item for claim %d: %w", item.ClaimID, err)
	}
	return nil
}

// GetReconciliation получает элемент очереди сверки
func (r *ClaimRepository) GetReconciliation(ctx context.Context, id int64) (*domain.ReconciliationItem, error) {
	item, err := scanReconciliation(r.db.QueryRow(ctx, `SELECT `+reconciliationColumns+` FROM reconciliation_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReconciliationNotFound
		}
		return nil, fmt.Errorf("repository: failed to get reconciliation item %d: %w", id, err)
	}
	return item, nil
}

// ListReconciliation возвращает очередь сверки
func (r *ClaimRepository) ListReconciliation(ctx context.Context, unresolvedOnly bool) ([]*domain.ReconciliationItem, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliation_items`
	if unresolvedOnly {
		query += ` WHERE NOT resolved`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list reconciliation items: %w", err)
	}
	defer rows.Close()

	var items []*domain.ReconciliationItem
	for rows.Next() {
		item, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan reconciliation item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating reconciliation items: %w", err)
	}

	return items, nil
}

// ResolveReconciliation закрывает элемент очереди сверки.
// Из параллельных вызовов для одного элемента успешен только один.
func (r *ClaimRepository) ResolveReconciliation(ctx context.Context, id, resolvedBy int64, at time.Time) error {
	result, err := r.db.Exec(ctx,
		`UPDATE reconciliation_items
		 SET resolved = TRUE, resolved_by = $1, resolved_at = $2
		 WHERE id = $3 AND NOT resolved`,
		resolvedBy, at, id,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to resolve reconciliation item %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return r.reconciliationMissed(ctx, id)
	}
	return nil
}

// ReopenReconciliation снимает отметку о закрытии
func (r *ClaimRepository) ReopenReconciliation(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx,
		`UPDATE reconciliation_items
		 SET resolved = FALSE, resolved_by = NULL, resolved_at = NULL
		 WHERE id = $1 AND resolved`,
		id,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to reopen reconciliation item %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return r.reconciliationMissed(ctx, id)
	}
	return nil
}

// reconciliationMissed объясняет, почему условное обновление не затронуло строку
func (r *ClaimRepository) reconciliationMissed(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reconciliation_items WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("repository: failed to check reconciliation item %d: %w", id, err)
	}
	if !exists {
		return domain.ErrReconciliationNotFound
	}
	return domain.ErrInvalidStateTransition
}

func (r *ClaimRepository) listClaims(ctx context.Context, query string, args ...any) ([]*domain.Claim, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list claims: %w", err)
	}
	defer rows.Close()

	var claims []*domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating claims: %w", err)
	}

	return claims, nil
}

func scanClaim(row scanner) (*domain.Claim, error) {
	c := &domain.Claim{}
	err := row.Scan(&c.ID, &c.UserID, &c.StoreID, &c.Source, &c.Amount, &c.ExternalOrderID, &c.PurchasedAt,
		&c.RequestHash, &c.Status, &c.PointsToAward, &c.PointsAwarded, &c.PaymentMethod, &c.PaymentReference,
		&c.DepositTxID, &c.RejectionReason, &c.ProcessedBy, &c.IPAddress, &c.UserAgent, &c.CreatedAt,
		&c.ApprovedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanReconciliation(row scanner) (*domain.ReconciliationItem, error) {
	item := &domain.ReconciliationItem{}
	err := row.Scan(&item.ID, &item.ClaimID, &item.PaymentMethod, &item.PaymentRef, &item.DepositTxID, &item.Amount,
		&item.Error, &item.Resolved, &item.ResolvedBy, &item.ResolvedAt, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	return item, nil
}
