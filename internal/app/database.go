package app

import (
	"context"
	"fmt"

	"github.com/avc/pointledger/internal/config"
	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/repository/memory"
	"github.com/avc/pointledger/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// storage объединяет репозитории и менеджер транзакций выбранного хранилища
type storage struct {
	repos *domain.Repositories
	tx    domain.TxManager
	pool  *pgxpool.Pool // nil для хранилища в памяти
}

// initStorage создает хранилище по конфигурации. Для PostgreSQL выполняются миграции.
func initStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage, error) {
	if cfg.Storage == config.StorageMemory {
		store := memory.New()
		logger.Warn("using in-memory storage, data will be lost on restart")
		return &storage{repos: store.Repositories(), tx: store}, nil
	}

	dbPool, err := initDatabase(ctx, cfg.DatabaseURI, logger)
	if err != nil {
		return nil, err
	}
	return &storage{
		repos: postgres.NewRepositories(dbPool),
		tx:    postgres.NewTxManager(dbPool),
		pool:  dbPool,
	}, nil
}

// initDatabase создает пул соединений с базой данных и выполняет миграции
func initDatabase(ctx context.Context, databaseURI string, logger *zap.Logger) (*pgxpool.Pool, error) {
	dbPool, err := connect(ctx, databaseURI)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	applied, err := postgres.RunMigrations(ctx, dbPool, logger)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("migrations completed successfully", zap.Strings("applied", applied))

	return dbPool, nil
}

func connect(ctx context.Context, databaseURI string) (*pgxpool.Pool, error) {
	dbPool, err := pgxpool.New(ctx, databaseURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbPool, nil
}

// Migrate применяет миграции к базе данных и возвращает имена примененных
func Migrate(ctx context.Context, databaseURI string, logger *zap.Logger) ([]string, error) {
	dbPool, err := connect(ctx, databaseURI)
	if err != nil {
		return nil, err
	}
	defer dbPool.Close()

	applied, err := postgres.RunMigrations(ctx, dbPool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return applied, nil
}
