package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/avc/pointledger/internal/config"
	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/worker"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const dryRunLimit = 1000

// App представляет приложение
type App struct {
	config  *config.Config
	logger  *zap.Logger
	storage *storage
	deps    *dependencies
	router  *chi.Mux
	server  *http.Server
}

// NewApp создает приложение по загруженной конфигурации
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Инициализация хранилища
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Инициализация зависимостей
	deps := initDependencies(cfg, store, logger)

	// Настройка роутера
	router := setupRouter(cfg, deps, logger)

	// Создание HTTP сервера
	server := createServer(cfg.RunAddress, router)

	return &App{
		config:  cfg,
		logger:  logger,
		storage: store,
		deps:    deps,
		router:  router,
		server:  server,
	}, nil
}

// Handler возвращает корневой HTTP обработчик
func (a *App) Handler() http.Handler {
	return a.router
}

// Run запускает фоновые задачи и HTTP сервер до отмены ctx
func (a *App) Run(ctx context.Context) error {
	// Запуск worker pool
	a.deps.workerPool.Start(ctx)
	a.logger.Info("worker pool started")

	// Запуск HTTP сервера и ожидание сигнала завершения
	err := a.runServer(ctx)

	// Graceful shutdown
	a.shutdown()

	return err
}

// ExpirePoints списывает просроченные партии баллов. С dryRun только возвращает число партий к списанию.
func (a *App) ExpirePoints(ctx context.Context, now time.Time, dryRun bool) (int, error) {
	if dryRun {
		due, err := a.deps.services.points.DueForExpiry(ctx, now, dryRunLimit)
		if err != nil {
			return 0, err
		}
		for _, lot := range due {
			a.logger.Info("lot due for expiry",
				zap.Int64("lot_id", lot.ID),
				zap.Int64("user_id", lot.UserID),
				zap.Int64("quantity", lot.Quantity),
				zap.Time("expires_at", lot.ExpiresAt),
			)
		}
		return len(due), nil
	}
	return a.deps.workerPool.RunOnce(ctx, worker.JobExpirePoints)
}

// ExpireTransfers переводит просроченные ожидающие переводы в expired
func (a *App) ExpireTransfers(ctx context.Context) (int, error) {
	return a.deps.workerPool.RunOnce(ctx, worker.JobExpireTransfers)
}

// CreateUser создает пользователя с ролью, например первого администратора
func (a *App) CreateUser(ctx context.Context, login, password string, role domain.Role) (*domain.User, error) {
	user, err := a.deps.services.auth.RegisterWithRole(ctx, login, password, role)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Close освобождает ресурсы приложения без запуска сервера
func (a *App) Close() {
	if a.deps.async != nil {
		a.deps.async.Close()
	}
	if a.storage.pool != nil {
		a.storage.pool.Close()
	}
}
