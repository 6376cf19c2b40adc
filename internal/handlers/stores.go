package handlers

import (
	"context"
	"net/http"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/service"
	"go.uber.org/zap"
)

// StoreService определяет методы управления магазинами
type StoreService interface {
	CreateStore(ctx context.Context, name, email string, cardPayment bool) (*domain.Store, error)
	Get(ctx context.Context, storeID int64) (*domain.Store, error)
	List(ctx context.Context) ([]*domain.Store, error)
	AddManager(ctx context.Context, storeID, userID int64) error
	IssueWebhookKey(ctx context.Context, storeID int64, ratePerMinute int) (*domain.WebhookKey, error)
	Authorize(ctx context.Context, actor service.Actor, storeID int64) error
}

// DepositService определяет методы работы с депозитом магазина
type DepositService interface {
	Charge(ctx context.Context, storeID, amount int64, method, reference string) (*domain.DepositTransaction, error)
	Summary(ctx context.Context, storeID int64) (*domain.DepositSummary, error)
	SetupAutoCharge(ctx context.Context, rule *domain.AutoChargeRule) error
	DisableAutoCharge(ctx context.Context, storeID int64) error
}

type StoresHandler struct {
	storeService   StoreService
	depositService DepositService
	logger         *zap.Logger
}

func NewStoresHandler(storeService StoreService, depositService DepositService, logger *zap.Logger) *StoresHandler {
	return &StoresHandler{
		storeService:   storeService,
		depositService: depositService,
		logger:         logger,
	}
}

type createStoreRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"omitempty,email"`
	CardPayment bool   `json:"card_payment_enabled"`
}

func (h *StoresHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	store, err := h.storeService.CreateStore(r.Context(), req.Name, req.Email, req.CardPayment)
	if err != nil {
		writeServiceError(w, r, h.logger, "create store", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, store)
}

func (h *StoresHandler) List(w http.ResponseWriter, r *http.Request) {
	stores, err := h.storeService.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list stores", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stores)
}

type addManagerRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (h *StoresHandler) AddManager(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathID(r, "storeID")
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid store id")
		return
	}

	var req addManagerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	if err := h.storeService.AddManager(r.Context(), storeID, req.UserID); err != nil {
		writeServiceError(w, r, h.logger, "add store manager", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type issueKeyRequest struct {
	RateLimitPerMinute int `json:"rate_limit_per_minute" validate:"gte=0,lte=10000"`
}

type issueKeyResponse struct {
	*domain.WebhookKey
	Key string `json:"key"`
}

// IssueWebhookKey выпускает ключ webhook. Значение ключа отдается только в этом ответе.
func (h *StoresHandler) IssueWebhookKey(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.authorizeStore(w, r)
	if !ok {
		return
	}

	var req issueKeyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, h.logger, err)
			return
		}
	}

	key, err := h.storeService.IssueWebhookKey(r.Context(), storeID, req.RateLimitPerMinute)
	if err != nil {
		writeServiceError(w, r, h.logger, "issue webhook key", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, issueKeyResponse{WebhookKey: key, Key: key.Key})
}

func (h *StoresHandler) DepositSummary(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.authorizeStore(w, r)
	if !ok {
		return
	}

	summary, err := h.depositService.Summary(r.Context(), storeID)
	if err != nil {
		writeServiceError(w, r, h.logger, "get deposit summary", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, summary)
}

type chargeRequest struct {
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Method    string `json:"payment_method" validate:"required,oneof=card bank_transfer"`
	Reference string `json:"payment_reference" validate:"max=128"`
}

func (h *StoresHandler) Charge(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.authorizeStore(w, r)
	if !ok {
		return
	}

	var req chargeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	t, err := h.depositService.Charge(r.Context(), storeID, req.Amount, req.Method, req.Reference)
	if err != nil {
		writeServiceError(w, r, h.logger, "charge deposit", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, t)
}

type autoChargeRequest struct {
	TriggerAmount int64  `json:"trigger_amount" validate:"required,gt=0"`
	ChargeAmount  int64  `json:"charge_amount" validate:"required,gt=0"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=card bank_transfer"`
	PaymentRef    string `json:"payment_ref" validate:"max=128"`
	DailyCap      int64  `json:"daily_cap" validate:"gte=0"`
	MonthlyCap    int64  `json:"monthly_cap" validate:"gte=0"`
}

func (h *StoresHandler) SetupAutoCharge(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.authorizeStore(w, r)
	if !ok {
		return
	}

	var req autoChargeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	rule := &domain.AutoChargeRule{
		StoreID:       storeID,
		TriggerAmount: req.TriggerAmount,
		ChargeAmount:  req.ChargeAmount,
		PaymentMethod: req.PaymentMethod,
		PaymentRef:    req.PaymentRef,
		DailyCap:      req.DailyCap,
		MonthlyCap:    req.MonthlyCap,
	}
	if err := h.depositService.SetupAutoCharge(r.Context(), rule); err != nil {
		writeServiceError(w, r, h.logger, "setup auto charge", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, rule)
}

func (h *StoresHandler) DisableAutoCharge(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.authorizeStore(w, r)
	if !ok {
		return
	}

	if err := h.depositService.DisableAutoCharge(r.Context(), storeID); err != nil {
		writeServiceError(w, r, h.logger, "disable auto charge", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeStore достает ID магазина из пути и проверяет права пользователя на него
func (h *StoresHandler) authorizeStore(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actor, ok := GetActor(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return 0, false
	}
	storeID, ok := pathID(r, "storeID")
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid store id")
		return 0, false
	}
	if err := h.storeService.Authorize(r.Context(), actor, storeID); err != nil {
		writeServiceError(w, r, h.logger, "authorize store", err)
		return 0, false
	}
	return storeID, true
}
