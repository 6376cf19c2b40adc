package app

import (
	"github.com/avc/pointledger/internal/config"
	"github.com/avc/pointledger/internal/handlers"
	"github.com/avc/pointledger/internal/ratelimit"
	"github.com/avc/pointledger/internal/service"
	"github.com/avc/pointledger/internal/utils/jwt"
	"github.com/avc/pointledger/internal/utils/password"
	"github.com/avc/pointledger/internal/worker"
	"go.uber.org/zap"
)

// services содержит все сервисы приложения
type services struct {
	auth      *service.AuthService
	points    *service.PointService
	transfers *service.TransferService
	deposits  *service.DepositService
	stores    *service.StoreService
	detector  *service.DuplicateDetector
	claims    *service.ClaimService
}

// handlerSet содержит все хендлеры приложения
type handlerSet struct {
	auth      *handlers.AuthHandler
	points    *handlers.PointsHandler
	transfers *handlers.TransfersHandler
	claims    *handlers.ClaimsHandler
	stores    *handlers.StoresHandler
	admin     *handlers.AdminHandler
	health    *handlers.HealthHandler
}

// dependencies содержит все зависимости приложения
type dependencies struct {
	services   *services
	handlers   *handlerSet
	jwtManager *jwt.Manager
	limiter    *ratelimit.FixedWindow
	async      *service.AsyncNotifier
	workerPool *worker.Pool
}

// initDependencies создает все зависимости приложения поверх хранилища
func initDependencies(cfg *config.Config, store *storage, logger *zap.Logger) *dependencies {
	repos := store.repos
	rules := cfg.Rules

	// Утилиты
	passwordHasher := password.NewBCryptHasher(cfg.PasswordCost)
	jwtManager := jwt.NewManager(cfg.JWTSecret, cfg.JWTTokenTTL)
	limiter := ratelimit.New()

	// Уведомления: без адреса только в лог, иначе асинхронно по HTTP
	var (
		notifier service.Notifier = service.NewLogNotifier(logger)
		async    *service.AsyncNotifier
	)
	if cfg.NotificationURL != "" {
		async = service.NewAsyncNotifier(
			service.NewHTTPNotifier(cfg.NotificationURL, cfg.NotificationTimeout),
			cfg.NotificationQueue, cfg.NotificationWorkers, logger,
		)
		notifier = async
	}

	// Платежный шлюз: без адреса используется mock
	var gateway service.PaymentGateway
	if cfg.PaymentGatewayURL == "" {
		logger.Warn("payment gateway URL is not set, using mock gateway")
		gateway = service.NewMockPaymentGateway(logger)
	} else {
		gateway = service.NewPaymentGateway(
			cfg.PaymentGatewayURL, cfg.PaymentGatewayKey,
			cfg.PaymentGatewayTimeout, cfg.PaymentGatewayAttempts, cfg.PaymentGatewayBackoff,
		)
	}

	// Сервисы
	claimRules := rules.Claims
	if claimRules.LotExpiryMonths <= 0 {
		claimRules.LotExpiryMonths = rules.PointExpiryMonths
	}
	transferRules := rules.Transfer
	if transferRules.LotExpiryMonths <= 0 {
		transferRules.LotExpiryMonths = rules.PointExpiryMonths
	}

	svcs := &services{
		auth:      service.NewAuthService(repos.Users, passwordHasher, jwtManager),
		points:    service.NewPointService(store.tx, repos, logger, rules.PointExpiryMonths),
		transfers: service.NewTransferService(store.tx, repos, notifier, logger, transferRules),
		deposits:  service.NewDepositService(store.tx, repos, notifier, logger, rules.Deposit),
		stores:    service.NewStoreService(repos, logger),
		detector:  service.NewDuplicateDetector(repos, logger, rules.Duplicate),
	}
	payments := service.NewPaymentProcessor(gateway, svcs.deposits, cfg.Currency, logger)
	svcs.claims = service.NewClaimService(
		store.tx, repos, svcs.detector, payments, svcs.stores, limiter, notifier, logger, claimRules,
	)

	// Хендлеры
	pingers := map[string]handlers.Pinger{}
	if store.pool != nil {
		pingers["database"] = store.pool
	}
	hdlrs := &handlerSet{
		auth:      handlers.NewAuthHandler(svcs.auth, logger),
		points:    handlers.NewPointsHandler(svcs.points, logger),
		transfers: handlers.NewTransfersHandler(svcs.transfers, logger),
		claims:    handlers.NewClaimsHandler(svcs.claims, svcs.stores, logger),
		stores:    handlers.NewStoresHandler(svcs.stores, svcs.deposits, logger),
		admin:     handlers.NewAdminHandler(svcs.detector, svcs.claims, logger),
		health:    handlers.NewHealthHandler(cfg.Storage, pingers, logger),
	}

	// Фоновые задачи
	workerPool := worker.NewPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize, logger,
		worker.MaintenanceJobs(svcs.points, svcs.transfers, svcs.deposits, limiter, rules.Jobs)...,
	)
	workerPool.SetScanInterval(cfg.WorkerScanInterval)

	return &dependencies{
		services:   svcs,
		handlers:   hdlrs,
		jwtManager: jwtManager,
		limiter:    limiter,
		async:      async,
		workerPool: workerPool,
	}
}
