package handlers

import (
	"context"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// PointService определяет методы работы с баллами пользователя
type PointService interface {
	Balance(ctx context.Context, userID int64) (*domain.Balance, error)
	History(ctx context.Context, userID int64, rng domain.TimeRange) iter.Seq2[*domain.LedgerEntry, error]
	Spend(ctx context.Context, userID, storeID, amount int64, reference string) (*domain.ConsumptionPlan, error)
	Credit(ctx context.Context, userID, amount int64, expiryMonths int, reason string) (*domain.PointLot, error)
}

type PointsHandler struct {
	pointService PointService
	logger       *zap.Logger
}

func NewPointsHandler(pointService PointService, logger *zap.Logger) *PointsHandler {
	return &PointsHandler{
		pointService: pointService,
		logger:       logger,
	}
}

func (h *PointsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	balance, err := h.pointService.Balance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get balance", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, balance)
}

// History отдает журнал за период from..to (RFC3339), не больше limit записей
func (h *PointsHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	q := r.URL.Query()
	var rng domain.TimeRange
	for name, dst := range map[string]*time.Time{"from": &rng.From, "to": &rng.To} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, h.logger, http.StatusBadRequest, "invalid_input", name+" must be RFC3339")
				return
			}
			*dst = t
		}
	}
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries := make([]*domain.LedgerEntry, 0, limit)
	for entry, err := range h.pointService.History(r.Context(), userID, rng) {
		if err != nil {
			writeServiceError(w, r, h.logger, "get history", err)
			return
		}
		entries = append(entries, entry)
		if len(entries) == limit {
			break
		}
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, entries)
}

type spendRequest struct {
	StoreID   int64  `json:"store_id" validate:"required,gt=0"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required,max=128"`
}

func (h *PointsHandler) Spend(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req spendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	plan, err := h.pointService.Spend(r.Context(), userID, req.StoreID, req.Amount, req.Reference)
	if err != nil {
		writeServiceError(w, r, h.logger, "spend points", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, plan)
}

type creditRequest struct {
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	ExpiryMonths int    `json:"expiry_months" validate:"gte=0,lte=120"`
	Reason       string `json:"reason" validate:"required,max=256"`
}

// Credit начисляет баллы пользователю вручную, доступно администратору
func (h *PointsHandler) Credit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r, "userID")
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid user id")
		return
	}

	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	lot, err := h.pointService.Credit(r.Context(), userID, req.Amount, req.ExpiryMonths, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "credit points", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, lot)
}
