package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/avc/pointledger/internal/domain"
	"go.uber.org/zap"
)

// TransferService определяет методы переводов баллов
type TransferService interface {
	Create(ctx context.Context, senderID, recipientID, amount int64, message string) (*domain.Transfer, error)
	Accept(ctx context.Context, transferID, recipientID int64) (*domain.Transfer, error)
	Decline(ctx context.Context, transferID, recipientID int64, reason string) (*domain.Transfer, error)
	Cancel(ctx context.Context, transferID, senderID int64) (*domain.Transfer, error)
	List(ctx context.Context, userID int64) ([]*domain.Transfer, error)
}

type TransfersHandler struct {
	transferService TransferService
	logger          *zap.Logger
}

func NewTransfersHandler(transferService TransferService, logger *zap.Logger) *TransfersHandler {
	return &TransfersHandler{
		transferService: transferService,
		logger:          logger,
	}
}

type createTransferRequest struct {
	RecipientID int64  `json:"recipient_id" validate:"required,gt=0"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Message     string `json:"message" validate:"max=200"`
}

func (h *TransfersHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	var req createTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	t, err := h.transferService.Create(r.Context(), userID, req.RecipientID, req.Amount, req.Message)
	if err != nil {
		writeServiceError(w, r, h.logger, "create transfer", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, t)
}

func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	transfers, err := h.transferService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list transfers", err)
		return
	}
	if len(transfers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, transfers)
}

// Accept принимает перевод. Истекший или неоплатимый перевод возвращается вместе с кодом ошибки.
func (h *TransfersHandler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, transferID, ok := h.transferParams(w, r)
	if !ok {
		return
	}

	t, err := h.transferService.Accept(r.Context(), transferID, userID)
	if err != nil {
		if t != nil && (errors.Is(err, domain.ErrTransferExpired) || errors.Is(err, domain.ErrInsufficientBalance)) {
			status, code := errorStatus(err)
			writeJSON(w, h.logger, status, struct {
				ErrorResponse
				Transfer *domain.Transfer `json:"transfer"`
			}{ErrorResponse{Code: code, Message: err.Error()}, t})
			return
		}
		writeServiceError(w, r, h.logger, "accept transfer", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, t)
}

type declineTransferRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

func (h *TransfersHandler) Decline(w http.ResponseWriter, r *http.Request) {
	userID, transferID, ok := h.transferParams(w, r)
	if !ok {
		return
	}

	var req declineTransferRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, h.logger, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "declined by recipient"
	}

	t, err := h.transferService.Decline(r.Context(), transferID, userID, req.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, "decline transfer", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, t)
}

func (h *TransfersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, transferID, ok := h.transferParams(w, r)
	if !ok {
		return
	}

	t, err := h.transferService.Cancel(r.Context(), transferID, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel transfer", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, t)
}

func (h *TransfersHandler) transferParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeError(w, h.logger, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return 0, 0, false
	}
	transferID, ok := pathID(r, "transferID")
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid transfer id")
		return 0, 0, false
	}
	return userID, transferID, true
}
