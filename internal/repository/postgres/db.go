package postgres

import (
	"context"
	"fmt"

	"github.com/avc/pointledger/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX описывает общие методы пула соединений и транзакции pgx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// scanner позволяет сканировать как pgx.Row, так и pgx.Rows
type scanner interface {
	Scan(dest ...any) error
}

// NewRepositories создает набор репозиториев поверх db
func NewRepositories(db DBTX) *domain.Repositories {
	return &domain.Repositories{
		Users:     NewUserRepository(db),
		Stores:    NewStoreRepository(db),
		Points:    NewPointRepository(db),
		Ledger:    NewLedgerRepository(db),
		Transfers: NewTransferRepository(db),
		Deposits:  NewDepositRepository(db),
		Claims:    NewClaimRepository(db),
	}
}

// TxManager реализует domain.TxManager поверх транзакций PostgreSQL
type TxManager struct {
	db DBTX
}

// NewTxManager создает новый TxManager
func NewTxManager(db DBTX) *TxManager {
	return &TxManager{db: db}
}

// WithinTx выполняет fn в одной транзакции.
// Блокировки счетов берутся через pg_advisory_xact_lock и снимаются при завершении транзакции.
func (m *TxManager) WithinTx(ctx context.Context, locks domain.Locks, fn func(ctx context.Context, repos *domain.Repositories) error) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // Rollback после Commit безопасен

	// Порядок захвата одинаков для всех единиц работы, поэтому взаимных блокировок нет
	for _, key := range locks.Keys() {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("repository: failed to acquire lock %s: %w", key, err)
		}
	}

	if err := fn(ctx, NewRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transaction: %w", err)
	}

	return nil
}
