package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/avc/pointledger/internal/service"
	"github.com/avc/pointledger/internal/worker"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Rules содержит бизнес-правила, которые можно переопределить TOML файлом
type Rules struct {
	PointExpiryMonths int                    `toml:"point_expiry_months"`
	Claims            service.ClaimRules     `toml:"claims"`
	Deposit           service.DepositRules   `toml:"deposit"`
	Transfer          service.TransferRules  `toml:"transfer"`
	Duplicate         service.DuplicateRules `toml:"duplicate"`
	Jobs              worker.Intervals       `toml:"jobs"`
}

// Config содержит конфигурацию приложения
type Config struct {
	RunAddress  string        // Адрес и порт запуска сервиса
	Storage     string        // memory или postgres
	DatabaseURI string        // URI подключения к БД
	JWTSecret   string        // Секретный ключ для JWT
	JWTTokenTTL time.Duration // Время жизни JWT токена
	LogLevel    string        // Уровень логирования
	EnvFile     string        // Файл с переменными окружения
	RulesFile   string        // TOML файл с бизнес-правилами

	// Worker Pool конфигурация
	WorkerPoolSize     int
	WorkerQueueSize    int
	WorkerScanInterval time.Duration

	// Платежный шлюз, пустой адрес включает mock
	PaymentGatewayURL      string
	PaymentGatewayKey      string
	PaymentGatewayTimeout  time.Duration
	PaymentGatewayAttempts int
	PaymentGatewayBackoff  time.Duration
	Currency               string

	// Служба уведомлений, пустой адрес означает запись в лог
	NotificationURL     string
	NotificationTimeout time.Duration
	NotificationQueue   int
	NotificationWorkers int

	// Ограничения частоты запросов в минуту на IP
	ClaimRateLimit   int
	WebhookRateLimit int

	// Стоимость bcrypt для хешей паролей
	PasswordCost int

	Rules Rules
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	return &Config{
		RunAddress:             ":8080",
		Storage:                StoragePostgres,
		JWTTokenTTL:            24 * time.Hour,
		LogLevel:               "info",
		EnvFile:                ".env",
		WorkerPoolSize:         2,
		WorkerQueueSize:        16,
		WorkerScanInterval:     10 * time.Second,
		PaymentGatewayTimeout:  30 * time.Second,
		PaymentGatewayAttempts: 2,
		PaymentGatewayBackoff:  time.Second,
		Currency:               "JPY",
		NotificationTimeout:    5 * time.Second,
		NotificationQueue:      256,
		NotificationWorkers:    2,
		ClaimRateLimit:         10,
		WebhookRateLimit:       60,
		PasswordCost:           10,
		Rules: Rules{
			PointExpiryMonths: 6,
			Claims:            service.DefaultClaimRules(),
			Deposit:           service.DefaultDepositRules(),
			Transfer:          service.DefaultTransferRules(),
			Duplicate:         service.DefaultDuplicateRules(),
			Jobs:              worker.DefaultIntervals(),
		},
	}
}

// RegisterFlags добавляет флаги командной строки
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.RunAddress, "address", "a", c.RunAddress, "address and port to run server")
	fs.StringVarP(&c.DatabaseURI, "database", "d", c.DatabaseURI, "database URI")
	fs.StringVar(&c.Storage, "storage", c.Storage, "storage backend: postgres or memory")
	fs.StringVar(&c.RulesFile, "rules", c.RulesFile, "TOML file with business rules")
	fs.StringVar(&c.EnvFile, "env-file", c.EnvFile, "file with environment variables")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level")
	fs.StringVar(&c.PaymentGatewayURL, "gateway", c.PaymentGatewayURL, "payment gateway base URL, empty for mock")
	fs.StringVar(&c.NotificationURL, "notify", c.NotificationURL, "notification service URL, empty to log only")
}

// Load дополняет конфигурацию файлом правил и переменными окружения.
// Приоритет: env переменные > флаги > файл правил > дефолтные значения
func (c *Config) Load() error {
	if c.EnvFile != "" {
		if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: failed to load %s: %w", c.EnvFile, err)
		}
	}

	if envRules, ok := os.LookupEnv("RULES_FILE"); ok {
		c.RulesFile = envRules
	}
	if c.RulesFile != "" {
		if _, err := toml.DecodeFile(c.RulesFile, &c.Rules); err != nil {
			return fmt.Errorf("config: failed to read rules file %s: %w", c.RulesFile, err)
		}
	}

	lookupString("RUN_ADDRESS", &c.RunAddress)
	lookupString("DATABASE_URI", &c.DatabaseURI)
	lookupString("STORAGE", &c.Storage)
	lookupString("LOG_LEVEL", &c.LogLevel)
	lookupString("PAYMENT_GATEWAY_URL", &c.PaymentGatewayURL)
	lookupString("PAYMENT_GATEWAY_KEY", &c.PaymentGatewayKey)
	lookupString("CURRENCY", &c.Currency)
	lookupString("NOTIFICATION_URL", &c.NotificationURL)

	// JWT секрет только из env, не из флагов
	if envJWTSecret, ok := os.LookupEnv("JWT_SECRET"); ok {
		c.JWTSecret = envJWTSecret
	} else {
		c.JWTSecret = "default-secret-key-change-in-production"
	}

	lookupInt("WORKER_POOL_SIZE", &c.WorkerPoolSize)
	lookupInt("WORKER_QUEUE_SIZE", &c.WorkerQueueSize)
	lookupInt("PAYMENT_GATEWAY_ATTEMPTS", &c.PaymentGatewayAttempts)
	lookupInt("NOTIFICATION_WORKERS", &c.NotificationWorkers)
	lookupInt("CLAIM_RATE_LIMIT", &c.ClaimRateLimit)
	lookupInt("WEBHOOK_RATE_LIMIT", &c.WebhookRateLimit)
	lookupInt("PASSWORD_COST", &c.PasswordCost)

	lookupDuration("JWT_TOKEN_TTL", &c.JWTTokenTTL)
	lookupDuration("WORKER_SCAN_INTERVAL", &c.WorkerScanInterval)
	lookupDuration("PAYMENT_GATEWAY_TIMEOUT", &c.PaymentGatewayTimeout)
	lookupDuration("PAYMENT_GATEWAY_BACKOFF", &c.PaymentGatewayBackoff)
	lookupDuration("NOTIFICATION_TIMEOUT", &c.NotificationTimeout)

	return c.Validate()
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURI == "" {
			return fmt.Errorf("database URI is required for postgres storage (use -d flag or DATABASE_URI env)")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if c.Rules.Claims.PointsDivisor <= 0 {
		return fmt.Errorf("claims.points_divisor must be positive")
	}
	if c.Rules.Deposit.MinCharge <= 0 || c.Rules.Deposit.MaxCharge < c.Rules.Deposit.MinCharge {
		return fmt.Errorf("deposit charge limits are invalid")
	}
	if c.Rules.Transfer.MinAmount <= 0 || c.Rules.Transfer.MaxAmount < c.Rules.Transfer.MinAmount {
		return fmt.Errorf("transfer amount limits are invalid")
	}
	return nil
}

func lookupString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

// Некорректные и неположительные значения игнорируются
func lookupInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func lookupDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
