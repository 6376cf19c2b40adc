package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/service"
	"go.uber.org/zap"
)

// ClaimService определяет методы работы с заявками на начисление баллов
type ClaimService interface {
	Submit(ctx context.Context, in service.ClaimInput) (*domain.Claim, []*domain.DuplicateFinding, error)
	IngestWebhook(ctx context.Context, apiKey string, p service.WebhookPurchase, ip, userAgent string) (*domain.Claim, error)
	Approve(ctx context.Context, actor service.Actor, claimID int64) (*domain.Claim, error)
	Reject(ctx context.Context, actor service.Actor, claimID int64, reason string) (*domain.Claim, error)
	Get(ctx context.Context, actor service.Actor, claimID int64) (*domain.Claim, error)
	List(ctx context.Context, filter domain.ClaimFilter) ([]*domain.Claim, error)
}

// StoreAuthorizer проверяет права пользователя на магазин
type StoreAuthorizer interface {
	Authorize(ctx context.Context, actor service.Actor, storeID int64) error
}

type ClaimsHandler struct {
	claimService ClaimService
	stores       StoreAuthorizer
	logger       *zap.Logger
}

func NewClaimsHandler(claimService ClaimService, stores StoreAuthorizer, logger *zap.Logger) *ClaimsHandler {
	return &ClaimsHandler{
		claimService: claimService,
		stores:       stores,
		logger:       logger,
	}
}

type submitClaimRequest struct {
	StoreID     int64     `json:"store_id" validate:"required,gt=0"`
	Amount      float64   `json:"amount" validate:"required,gt=0,lte=100000000"`
	OrderID     string    `json:"order_id" validate:"required,max=100"`
	PurchasedAt time.Time `json:"purchased_at" validate:"required"`
}

type submitClaimResponse struct {
	Claim    *domain.Claim              `json:"claim"`
	Findings []*domain.DuplicateFinding `json:"findings"`
}

type claimErrorResponse struct {
	ErrorResponse
	ClaimID int64              `json:"claim_id,omitempty"`
	Status  domain.ClaimStatus `json:"status,omitempty"`
	Claim   *domain.Claim      `json:"claim,omitempty"`
}

// Submit принимает заявку по чеку. Повторная подача заказа возвращает 409.
// ID и статус существующей заявки раскрываются только ее владельцу.
func (h *ClaimsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req submitClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	claim, findings, err := h.claimService.Submit(r.Context(), service.ClaimInput{
		UserID:      userID,
		StoreID:     req.StoreID,
		Amount:      req.Amount,
		OrderID:     req.OrderID,
		PurchasedAt: req.PurchasedAt,
		IPAddress:   ClientIP(r),
		UserAgent:   r.UserAgent(),
	})
	if errors.Is(err, domain.ErrDuplicateOrder) && claim != nil && claim.UserID == userID {
		writeJSON(w, h.logger, http.StatusConflict, claimErrorResponse{
			ErrorResponse: ErrorResponse{Code: "duplicate_order", Message: "order has already been submitted"},
			ClaimID:       claim.ID,
			Status:        claim.Status,
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "submit claim", err)
		return
	}

	if findings == nil {
		findings = []*domain.DuplicateFinding{}
	}
	writeJSON(w, h.logger, http.StatusCreated, submitClaimResponse{Claim: claim, Findings: findings})
}

// List возвращает заявки текущего пользователя
func (h *ClaimsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	filter, ok := h.claimFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = userID
	h.writeClaims(w, r, filter)
}

// ListByStore возвращает заявки магазина его менеджеру или администратору
func (h *ClaimsHandler) ListByStore(w http.ResponseWriter, r *http.Request) {
	actor, ok := GetActor(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	storeID, ok := pathID(r, "storeID")
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid store id")
		return
	}
	if err := h.stores.Authorize(r.Context(), actor, storeID); err != nil {
		writeServiceError(w, r, h.logger, "authorize store", err)
		return
	}

	filter, ok := h.claimFilter(w, r)
	if !ok {
		return
	}
	filter.StoreID = storeID
	h.writeClaims(w, r, filter)
}

func (h *ClaimsHandler) claimFilter(w http.ResponseWriter, r *http.Request) (domain.ClaimFilter, bool) {
	q := r.URL.Query()
	filter := domain.ClaimFilter{Status: domain.ClaimStatus(q.Get("status"))}
	switch filter.Status {
	case "", domain.ClaimPending, domain.ClaimApproved, domain.ClaimRejected, domain.ClaimCompleted, domain.ClaimFailed:
	default:
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "unknown status")
		return filter, false
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return filter, false
		}
		filter.Limit = n
	}
	return filter, true
}

func (h *ClaimsHandler) writeClaims(w http.ResponseWriter, r *http.Request, filter domain.ClaimFilter) {
	claims, err := h.claimService.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list claims", err)
		return
	}
	if len(claims) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, claims)
}

func (h *ClaimsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, claimID, ok := h.claimParams(w, r)
	if !ok {
		return
	}

	claim, err := h.claimService.Get(r.Context(), actor, claimID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get claim", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, claim)
}

// Approve одобряет заявку и проводит оплату.
// Если оплата прошла, а начисление нет, отвечает 202 с заявкой в статусе failed.
func (h *ClaimsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	actor, claimID, ok := h.claimParams(w, r)
	if !ok {
		return
	}

	claim, err := h.claimService.Approve(r.Context(), actor, claimID)
	if errors.Is(err, domain.ErrReconciliationRequired) {
		writeJSON(w, h.logger, http.StatusAccepted, claimErrorResponse{
			ErrorResponse: ErrorResponse{Code: "reconciliation_required", Message: "payment captured, points will be granted after reconciliation"},
			Claim:         claim,
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "approve claim", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, claim)
}

type rejectClaimRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *ClaimsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, claimID, ok := h.claimParams(w, r)
	if !ok {
		return
	}

	var req rejectClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	claim, err := h.claimService.Reject(r.Context(), actor, claimID, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "reject claim", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, claim)
}

func (h *ClaimsHandler) claimParams(w http.ResponseWriter, r *http.Request) (service.Actor, int64, bool) {
	actor, ok := GetActor(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return actor, 0, false
	}
	claimID, ok := pathID(r, "claimID")
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid claim id")
		return actor, 0, false
	}
	return actor, claimID, true
}

type webhookQuery struct {
	UserID       int64   `validate:"required,gt=0"`
	Amount       float64 `validate:"required,gt=0,lte=100000000"`
	OrderID      string  `validate:"required,max=100"`
	StoreKey     string  `validate:"required"`
	PurchaseDate time.Time
}

type webhookResponse struct {
	ClaimID       int64              `json:"claim_id"`
	Status        domain.ClaimStatus `json:"status"`
	PointsToAward int64              `json:"points_to_award"`
}

// Webhook принимает уведомление магазина о покупке в параметрах GET запроса.
// Повторная доставка того же заказа отвечает тем же claim_id.
func (h *ClaimsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		in  webhookQuery
		err error
	)
	in.OrderID = q.Get("order_id")
	in.StoreKey = q.Get("store_key")
	if in.UserID, err = strconv.ParseInt(q.Get("user_id"), 10, 64); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "user_id must be an integer")
		return
	}
	if in.Amount, err = strconv.ParseFloat(q.Get("amount"), 64); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "amount must be a number")
		return
	}
	in.PurchaseDate = time.Now()
	if v := q.Get("purchase_date"); v != "" {
		if in.PurchaseDate, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "purchase_date must be RFC3339")
			return
		}
	}
	if err := validate.Struct(in); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	claim, err := h.claimService.IngestWebhook(r.Context(), in.StoreKey, service.WebhookPurchase{
		UserID:      in.UserID,
		OrderID:     in.OrderID,
		Amount:      in.Amount,
		PurchasedAt: in.PurchaseDate,
	}, ClientIP(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, r, h.logger, "ingest webhook", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, webhookResponse{
		ClaimID:       claim.ID,
		Status:        claim.Status,
		PointsToAward: claim.PointsToAward,
	})
}
