package app

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger создает логгер. "production" включает JSON формат,
// остальные значения трактуются как уровень для development логгера.
func NewLogger(logLevel string) (*zap.Logger, error) {
	if logLevel == "production" {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to init logger: %w", err)
		}
		return logger, nil
	}

	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return logger, nil
}
