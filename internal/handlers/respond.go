package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/avc/pointledger/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrorResponse представляет тело ответа с ошибкой
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

// Порядок важен: PaymentFailure оборачивает причины отказа, поэтому ErrPaymentFailed проверяется раньше них
var errorMappings = []errorMapping{
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrDuplicateOrder, http.StatusConflict, "duplicate_order"},
	{domain.ErrUserExists, http.StatusConflict, "user_exists"},
	{domain.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domain.ErrAlreadyRefunded, http.StatusConflict, "already_refunded"},
	{domain.ErrReconciliationRequired, http.StatusAccepted, "reconciliation_required"},
	{domain.ErrPaymentFailed, http.StatusPaymentRequired, "payment_failed"},
	{domain.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
	{domain.ErrInsufficientDeposit, http.StatusPaymentRequired, "insufficient_deposit"},
	{domain.ErrPaymentGateway, http.StatusBadGateway, "payment_gateway_error"},
	{domain.ErrTransferExpired, http.StatusGone, "transfer_expired"},
	{domain.ErrSelfTransfer, http.StatusUnprocessableEntity, "self_transfer"},
	{domain.ErrInvalidAmount, http.StatusUnprocessableEntity, "invalid_amount"},
	{domain.ErrStoreInactive, http.StatusUnprocessableEntity, "store_inactive"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{domain.ErrWebhookKeyInvalid, http.StatusUnauthorized, "invalid_store_key"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{domain.ErrStoreNotFound, http.StatusNotFound, "store_not_found"},
	{domain.ErrClaimNotFound, http.StatusNotFound, "claim_not_found"},
	{domain.ErrTransferNotFound, http.StatusNotFound, "transfer_not_found"},
	{domain.ErrLotNotFound, http.StatusNotFound, "lot_not_found"},
	{domain.ErrDepositTxNotFound, http.StatusNotFound, "deposit_transaction_not_found"},
	{domain.ErrFindingNotFound, http.StatusNotFound, "finding_not_found"},
	{domain.ErrReconciliationNotFound, http.StatusNotFound, "reconciliation_item_not_found"},
	{domain.ErrRuleNotFound, http.StatusNotFound, "auto_charge_rule_not_found"},
}

// errorStatus возвращает HTTP статус и код для ошибки сервиса
func errorStatus(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, code, message string) {
	writeJSON(w, logger, status, ErrorResponse{Code: code, Message: message})
}

// writeServiceError пишет ответ по ошибке сервиса, неизвестные ошибки логируются
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, op string, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		requestID, _ := r.Context().Value(RequestIDKey).(string)
		logger.Error("failed to "+op, zap.String("request_id", requestID), zap.Error(err))
		writeError(w, logger, status, code, "Internal Server Error")
		return
	}
	writeError(w, logger, status, code, err.Error())
}

// decodeJSON читает тело запроса и проверяет теги validate
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func writeBadRequest(w http.ResponseWriter, logger *zap.Logger, err error) {
	writeError(w, logger, http.StatusBadRequest, "invalid_input", err.Error())
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
