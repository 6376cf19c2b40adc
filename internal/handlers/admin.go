package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/service"
	"go.uber.org/zap"
)

// FindingService определяет методы разбора находок детектора дубликатов
type FindingService interface {
	ListFindings(ctx context.Context, claimID int64, unresolvedOnly bool) ([]*domain.DuplicateFinding, error)
	ResolveFinding(ctx context.Context, id, operatorID int64, note string) error
	Stats(ctx context.Context, days int) (*domain.FindingStats, error)
}

// ReconciliationService определяет методы очереди сверки
type ReconciliationService interface {
	ListReconciliation(ctx context.Context, unresolvedOnly bool) ([]*domain.ReconciliationItem, error)
	ResolveReconciliation(ctx context.Context, actor service.Actor, itemID int64, refund bool) error
}

type AdminHandler struct {
	findings       FindingService
	reconciliation ReconciliationService
	logger         *zap.Logger
}

func NewAdminHandler(findings FindingService, reconciliation ReconciliationService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		findings:       findings,
		reconciliation: reconciliation,
		logger:         logger,
	}
}

// ListFindings возвращает находки, по умолчанию только неразобранные
func (h *AdminHandler) ListFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var claimID int64
	if v := q.Get("claim_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid claim_id")
			return
		}
		claimID = id
	}

	findings, err := h.findings.ListFindings(r.Context(), claimID, q.Get("all") != "true")
	if err != nil {
		writeServiceError(w, r, h.logger, "list findings", err)
		return
	}
	if findings == nil {
		findings = []*domain.DuplicateFinding{}
	}
	writeJSON(w, h.logger, http.StatusOK, findings)
}

type resolveFindingRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

func (h *AdminHandler) ResolveFinding(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	findingID, ok := pathID(r, "findingID")
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid finding id")
		return
	}

	var req resolveFindingRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, h.logger, err)
			return
		}
	}

	if err := h.findings.ResolveFinding(r.Context(), findingID, actor.ID, req.Note); err != nil {
		writeServiceError(w, r, h.logger, "resolve finding", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) FindingStats(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "days must be a positive integer")
			return
		}
		days = n
	}

	stats, err := h.findings.Stats(r.Context(), days)
	if err != nil {
		writeServiceError(w, r, h.logger, "get finding stats", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, stats)
}

func (h *AdminHandler) ListReconciliation(w http.ResponseWriter, r *http.Request) {
	items, err := h.reconciliation.ListReconciliation(r.Context(), r.URL.Query().Get("all") != "true")
	if err != nil {
		writeServiceError(w, r, h.logger, "list reconciliation items", err)
		return
	}
	if items == nil {
		items = []*domain.ReconciliationItem{}
	}
	writeJSON(w, h.logger, http.StatusOK, items)
}

type resolveReconciliationRequest struct {
	Refund bool `json:"refund"`
}

// ResolveReconciliation закрывает элемент сверки, при refund возвращая оплату магазину
func (h *AdminHandler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	actor, _ := GetActor(r.Context())
	itemID, ok := pathID(r, "itemID")
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_input", "invalid item id")
		return
	}

	var req resolveReconciliationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, h.logger, err)
		return
	}

	if err := h.reconciliation.ResolveReconciliation(r.Context(), actor, itemID, req.Refund); err != nil {
		writeServiceError(w, r, h.logger, "resolve reconciliation item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
