package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

const checkTimeout = 2 * time.Second

// Pinger проверяет доступность зависимости
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc позволяет использовать функцию как Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler отдает состояние сервиса и его зависимостей
type HealthHandler struct {
	storage string
	pingers map[string]Pinger
	started time.Time
	logger  *zap.Logger
}

// NewHealthHandler создает новый HealthHandler.
// pingers - именованные проверки зависимостей, для хранилища в памяти может быть пустым.
func NewHealthHandler(storage string, pingers map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		pingers: pingers,
		started: time.Now(),
		logger:  logger,
	}
}

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status  string            `json:"status"`
	Storage string            `json:"storage"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}

// Health возвращает статус приложения и результат каждой проверки
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	failed := h.runChecks(r.Context())

	response := HealthResponse{
		Status:  "ok",
		Storage: h.storage,
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
		Checks:  make(map[string]string, len(h.pingers)),
	}
	for name := range h.pingers {
		response.Checks[name] = "ok"
	}
	for name := range failed {
		response.Checks[name] = "unavailable"
		response.Status = "degraded"
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, status, response)
}

// Ready возвращает готовность приложения принимать трафик
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if failed := h.runChecks(r.Context()); len(failed) > 0 {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// runChecks выполняет проверки по порядку имен и возвращает упавшие
func (h *HealthHandler) runChecks(ctx context.Context) map[string]error {
	names := make([]string, 0, len(h.pingers))
	for name := range h.pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed map[string]error
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.pingers[name].Ping(pctx)
		cancel()
		if err == nil {
			continue
		}
		if failed == nil {
			failed = make(map[string]error)
		}
		failed[name] = err
		h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
	}
	return failed
}
