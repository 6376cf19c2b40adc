package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/metrics"
	"github.com/avc/pointledger/internal/service"
	"github.com/avc/pointledger/internal/utils/jwt"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	RoleKey      contextKey = "role"
	RequestIDKey contextKey = "request_id"
)

// AuthMiddleware проверяет JWT токен и извлекает ID и роль пользователя
func AuthMiddleware(jwtManager *jwt.Manager, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			// Извлекаем токен из заголовка "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, logger, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := jwtManager.Validate(parts[1])
			if err != nil {
				writeError(w, logger, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, domain.Role(claims.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole пропускает только пользователей с одной из ролей
func RequireRole(logger *zap.Logger, roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := r.Context().Value(RoleKey).(domain.Role)
			if !slices.Contains(roles, role) {
				writeError(w, logger, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Limiter ограничивает частоту запросов по ключу
type Limiter interface {
	Allow(key string, limit int, window time.Duration) bool
	RetryAfter(key string) time.Duration
}

// RateLimitMiddleware ограничивает число запросов с одного IP в минуту
func RateLimitMiddleware(limiter Limiter, scope string, perMinute int, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + ClientIP(r)
			if !limiter.Allow(key, perMinute, time.Minute) {
				metrics.RateLimited.WithLabelValues(scope).Inc()
				retryAfter := int(limiter.RetryAfter(key).Round(time.Second).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
				writeError(w, logger, http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("too many requests, limit is %d per minute", perMinute))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP возвращает адрес клиента: первый адрес X-Forwarded-For или RemoteAddr
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestIDMiddleware генерирует уникальный request ID
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New().String()
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggingMiddleware логирует HTTP запросы
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				requestID, _ := r.Context().Value(RequestIDKey).(string)
				logger.Info("HTTP request",
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// RecoveryMiddleware обрабатывает паники
func RecoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID, _ := r.Context().Value(RequestIDKey).(string)
					logger.Error("panic recovered",
						zap.String("request_id", requestID),
						zap.Any("panic", rec),
					)
					writeError(w, logger, http.StatusInternalServerError, "internal_error", "Internal Server Error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserID извлекает user ID из контекста
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// GetActor извлекает пользователя и его роль из контекста
func GetActor(ctx context.Context) (service.Actor, bool) {
	userID, ok := GetUserID(ctx)
	if !ok {
		return service.Actor{}, false
	}
	role, _ := ctx.Value(RoleKey).(domain.Role)
	return service.Actor{ID: userID, Role: role}, true
}
