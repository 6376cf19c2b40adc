package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ledgerOf отдает записи по порядку, затем err, если он задан
func ledgerOf(entries []*domain.LedgerEntry, err error) iter.Seq2[*domain.LedgerEntry, error] {
	return func(yield func(*domain.LedgerEntry, error) bool) {
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func TestPointsHandler_History(t *testing.T) {
	entries := []*domain.LedgerEntry{
		{ID: 3, Delta: -10, Kind: domain.EntryPayment},
		{ID: 2, Delta: 50, Kind: domain.EntryGrant},
		{ID: 1, Delta: 20, Kind: domain.EntryGrant},
	}
	from := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Limit and range", func(t *testing.T) {
		svc := &pointServiceMock{}
		svc.On("History", mock.Anything, int64(5), mock.MatchedBy(func(rng domain.TimeRange) bool {
			return rng.From.Equal(from) && rng.To.IsZero()
		})).Return(ledgerOf(entries, nil)).Once()
		h := NewPointsHandler(svc, zap.NewNop())

		req := withActor(httptest.NewRequest(http.MethodGet, "/api/points/history?from=2026-01-01T00:00:00Z&limit=2", nil),
			5, domain.RoleUser, nil)
		w := httptest.NewRecorder()
		h.History(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var got []domain.LedgerEntry
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		require.Len(t, got, 2)
		assert.Equal(t, int64(3), got[0].ID)
		assert.Equal(t, int64(2), got[1].ID)
		svc.AssertExpectations(t)
	})

	t.Run("Empty", func(t *testing.T) {
		svc := &pointServiceMock{}
		svc.On("History", mock.Anything, int64(5), domain.TimeRange{}).Return(ledgerOf(nil, nil)).Once()
		h := NewPointsHandler(svc, zap.NewNop())

		w := httptest.NewRecorder()
		h.History(w, withActor(httptest.NewRequest(http.MethodGet, "/api/points/history", nil), 5, domain.RoleUser, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Storage error", func(t *testing.T) {
		svc := &pointServiceMock{}
		svc.On("History", mock.Anything, int64(5), domain.TimeRange{}).
			Return(ledgerOf(entries[:1], errors.New("conn reset"))).Once()
		h := NewPointsHandler(svc, zap.NewNop())

		w := httptest.NewRecorder()
		h.History(w, withActor(httptest.NewRequest(http.MethodGet, "/api/points/history", nil), 5, domain.RoleUser, nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal_error", decodeError(t, w)["code"])
	})

	for _, query := range []string{"?from=yesterday", "?to=2026-13-01", "?limit=0", "?limit=ten"} {
		t.Run("Bad query "+query, func(t *testing.T) {
			h := NewPointsHandler(&pointServiceMock{}, zap.NewNop())
			w := httptest.NewRecorder()
			h.History(w, withActor(httptest.NewRequest(http.MethodGet, "/api/points/history"+query, nil), 5, domain.RoleUser, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestPointsHandler_Spend(t *testing.T) {
	svc := &pointServiceMock{}
	h := NewPointsHandler(svc, zap.NewNop())

	t.Run("Insufficient balance", func(t *testing.T) {
		svc.On("Spend", mock.Anything, int64(5), int64(2), int64(300), "order-1").
			Return(nil, domain.ErrInsufficientBalance).Once()

		body := `{"store_id":2,"amount":300,"reference":"order-1"}`
		w := httptest.NewRecorder()
		h.Spend(w, withActor(httptest.NewRequest(http.MethodPost, "/api/points/spend", bytes.NewBufferString(body)), 5, domain.RoleUser, nil))

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, "insufficient_balance", decodeError(t, w)["code"])
	})

	t.Run("Negative amount", func(t *testing.T) {
		body := `{"store_id":2,"amount":-5,"reference":"order-1"}`
		w := httptest.NewRecorder()
		h.Spend(w, withActor(httptest.NewRequest(http.MethodPost, "/api/points/spend", bytes.NewBufferString(body)), 5, domain.RoleUser, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	svc.AssertExpectations(t)
}

func TestTransfersHandler(t *testing.T) {
	svc := &transferServiceMock{}
	h := NewTransfersHandler(svc, zap.NewNop())
	params := map[string]string{"transferID": "12"}

	t.Run("Create", func(t *testing.T) {
		svc.On("Create", mock.Anything, int64(1), int64(2), int64(100), "thanks").
			Return(&domain.Transfer{ID: 12, SenderID: 1, RecipientID: 2, Amount: 100, Fee: 10, Status: domain.TransferPending}, nil).Once()

		body := `{"recipient_id":2,"amount":100,"message":"thanks"}`
		w := httptest.NewRecorder()
		h.Create(w, withActor(httptest.NewRequest(http.MethodPost, "/api/transfers", bytes.NewBufferString(body)), 1, domain.RoleUser, nil))

		require.Equal(t, http.StatusCreated, w.Code)
		var got domain.Transfer
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, int64(10), got.Fee)
	})

	t.Run("Self transfer", func(t *testing.T) {
		svc.On("Create", mock.Anything, int64(1), int64(1), int64(100), "").
			Return(nil, domain.ErrSelfTransfer).Once()

		w := httptest.NewRecorder()
		h.Create(w, withActor(httptest.NewRequest(http.MethodPost, "/api/transfers",
			bytes.NewBufferString(`{"recipient_id":1,"amount":100}`)), 1, domain.RoleUser, nil))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Accept expired returns transfer", func(t *testing.T) {
		expired := &domain.Transfer{ID: 12, Status: domain.TransferExpired}
		svc.On("Accept", mock.Anything, int64(12), int64(2)).
			Return(expired, domain.ErrTransferExpired).Once()

		w := httptest.NewRecorder()
		h.Accept(w, withActor(httptest.NewRequest(http.MethodPost, "/api/transfers/12/accept", nil), 2, domain.RoleUser, params))

		assert.Equal(t, http.StatusGone, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "transfer_expired", body["code"])
		transfer, ok := body["transfer"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "expired", transfer["status"])
	})

	t.Run("Accept not found", func(t *testing.T) {
		svc.On("Accept", mock.Anything, int64(12), int64(2)).Return(nil, domain.ErrTransferNotFound).Once()

		w := httptest.NewRecorder()
		h.Accept(w, withActor(httptest.NewRequest(http.MethodPost, "/api/transfers/12/accept", nil), 2, domain.RoleUser, params))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Decline without body", func(t *testing.T) {
		svc.On("Decline", mock.Anything, int64(12), int64(2), "declined by recipient").
			Return(&domain.Transfer{ID: 12, Status: domain.TransferDeclined}, nil).Once()

		w := httptest.NewRecorder()
		h.Decline(w, withActor(httptest.NewRequest(http.MethodPost, "/api/transfers/12/decline", nil), 2, domain.RoleUser, params))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Cancel bad id", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Cancel(w, withActor(httptest.NewRequest(http.MethodPost, "/api/transfers/x/cancel", nil), 1, domain.RoleUser,
			map[string]string{"transferID": "x"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("List empty", func(t *testing.T) {
		svc.On("List", mock.Anything, int64(1)).Return([]*domain.Transfer{}, nil).Once()

		w := httptest.NewRecorder()
		h.List(w, withActor(httptest.NewRequest(http.MethodGet, "/api/transfers", nil), 1, domain.RoleUser, nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	svc.AssertExpectations(t)
}

func TestStoresHandler(t *testing.T) {
	stores := &storeServiceMock{}
	deposits := &depositServiceMock{}
	h := NewStoresHandler(stores, deposits, zap.NewNop())
	manager := service.Actor{ID: 8, Role: domain.RoleStoreManager}
	params := map[string]string{"storeID": "3"}

	t.Run("Charge", func(t *testing.T) {
		stores.On("Authorize", mock.Anything, manager, int64(3)).Return(nil).Once()
		deposits.On("Charge", mock.Anything, int64(3), int64(10000), "card", "pi_1").
			Return(&domain.DepositTransaction{ID: 1, StoreID: 3, Amount: 10000}, nil).Once()

		body := `{"amount":10000,"payment_method":"card","payment_reference":"pi_1"}`
		w := httptest.NewRecorder()
		h.Charge(w, withActor(httptest.NewRequest(http.MethodPost, "/api/stores/3/deposit/charge", bytes.NewBufferString(body)),
			manager.ID, manager.Role, params))
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("Charge unknown method", func(t *testing.T) {
		stores.On("Authorize", mock.Anything, manager, int64(3)).Return(nil).Once()

		body := `{"amount":10000,"payment_method":"cash"}`
		w := httptest.NewRecorder()
		h.Charge(w, withActor(httptest.NewRequest(http.MethodPost, "/api/stores/3/deposit/charge", bytes.NewBufferString(body)),
			manager.ID, manager.Role, params))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Other store", func(t *testing.T) {
		stores.On("Authorize", mock.Anything, manager, int64(4)).Return(domain.ErrForbidden).Once()

		w := httptest.NewRecorder()
		h.DepositSummary(w, withActor(httptest.NewRequest(http.MethodGet, "/api/stores/4/deposit", nil),
			manager.ID, manager.Role, map[string]string{"storeID": "4"}))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Issue key with default rate", func(t *testing.T) {
		stores.On("Authorize", mock.Anything, manager, int64(3)).Return(nil).Once()
		stores.On("IssueWebhookKey", mock.Anything, int64(3), 0).
			Return(&domain.WebhookKey{ID: 6, StoreID: 3, Key: "sk_secret", RateLimitPerMinute: 60, Active: true}, nil).Once()

		w := httptest.NewRecorder()
		h.IssueWebhookKey(w, withActor(httptest.NewRequest(http.MethodPost, "/api/stores/3/webhook-keys", nil),
			manager.ID, manager.Role, params))

		require.Equal(t, http.StatusCreated, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "sk_secret", body["key"])
		assert.EqualValues(t, 60, body["rate_limit_per_minute"])
	})

	t.Run("Setup auto charge", func(t *testing.T) {
		stores.On("Authorize", mock.Anything, manager, int64(3)).Return(nil).Once()
		deposits.On("SetupAutoCharge", mock.Anything, mock.MatchedBy(func(r *domain.AutoChargeRule) bool {
			return r.StoreID == 3 && r.TriggerAmount == 1000 && r.ChargeAmount == 5000
		})).Return(nil).Once()

		body := `{"trigger_amount":1000,"charge_amount":5000,"payment_method":"card"}`
		w := httptest.NewRecorder()
		h.SetupAutoCharge(w, withActor(httptest.NewRequest(http.MethodPut, "/api/stores/3/deposit/auto-charge", bytes.NewBufferString(body)),
			manager.ID, manager.Role, params))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Add manager", func(t *testing.T) {
		stores.On("AddManager", mock.Anything, int64(3), int64(8)).Return(nil).Once()

		w := httptest.NewRecorder()
		h.AddManager(w, withActor(httptest.NewRequest(http.MethodPost, "/api/admin/stores/3/managers", bytes.NewBufferString(`{"user_id":8}`)),
			1, domain.RoleAdmin, params))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	stores.AssertExpectations(t)
	deposits.AssertExpectations(t)
}

func TestAdminHandler(t *testing.T) {
	svc := &adminServiceMock{}
	h := NewAdminHandler(svc, svc, zap.NewNop())
	admin := service.Actor{ID: 1, Role: domain.RoleAdmin}

	t.Run("Findings default to unresolved", func(t *testing.T) {
		svc.On("ListFindings", mock.Anything, int64(0), true).Return(nil, nil).Once()

		w := httptest.NewRecorder()
		h.ListFindings(w, withActor(httptest.NewRequest(http.MethodGet, "/api/admin/findings", nil), admin.ID, admin.Role, nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("All findings of a claim", func(t *testing.T) {
		svc.On("ListFindings", mock.Anything, int64(9), false).
			Return([]*domain.DuplicateFinding{{ID: 2, ClaimID: 9}}, nil).Once()

		w := httptest.NewRecorder()
		h.ListFindings(w, withActor(httptest.NewRequest(http.MethodGet, "/api/admin/findings?claim_id=9&all=true", nil), admin.ID, admin.Role, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Bad claim id", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ListFindings(w, withActor(httptest.NewRequest(http.MethodGet, "/api/admin/findings?claim_id=-1", nil), admin.ID, admin.Role, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Resolve finding", func(t *testing.T) {
		svc.On("ResolveFinding", mock.Anything, int64(2), admin.ID, "same customer").Return(nil).Once()

		w := httptest.NewRecorder()
		h.ResolveFinding(w, withActor(httptest.NewRequest(http.MethodPost, "/api/admin/findings/2/resolve",
			bytes.NewBufferString(`{"note":"same customer"}`)), admin.ID, admin.Role, map[string]string{"findingID": "2"}))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Stats", func(t *testing.T) {
		svc.On("Stats", mock.Anything, 7).Return(&domain.FindingStats{Total: 4, Resolved: 1, ResolutionRate: 0.25, PeriodDays: 7}, nil).Once()

		w := httptest.NewRecorder()
		h.FindingStats(w, withActor(httptest.NewRequest(http.MethodGet, "/api/admin/findings/stats?days=7", nil), admin.ID, admin.Role, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var stats domain.FindingStats
		require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
		assert.Equal(t, 4, stats.Total)
	})

	t.Run("Resolve reconciliation with refund", func(t *testing.T) {
		svc.On("ResolveReconciliation", mock.Anything, admin, int64(5), true).Return(nil).Once()

		w := httptest.NewRecorder()
		h.ResolveReconciliation(w, withActor(httptest.NewRequest(http.MethodPost, "/api/admin/reconciliation/5/resolve",
			bytes.NewBufferString(`{"refund":true}`)), admin.ID, admin.Role, map[string]string{"itemID": "5"}))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Resolve resolved item", func(t *testing.T) {
		svc.On("ResolveReconciliation", mock.Anything, admin, int64(5), false).Return(domain.ErrInvalidStateTransition).Once()

		w := httptest.NewRecorder()
		h.ResolveReconciliation(w, withActor(httptest.NewRequest(http.MethodPost, "/api/admin/reconciliation/5/resolve",
			bytes.NewBufferString(`{"refund":false}`)), admin.ID, admin.Role, map[string]string{"itemID": "5"}))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Refund already made", func(t *testing.T) {
		svc.On("ResolveReconciliation", mock.Anything, admin, int64(6), true).
			Return(fmt.Errorf("claim service: payment processor: %w", domain.ErrAlreadyRefunded)).Once()

		w := httptest.NewRecorder()
		h.ResolveReconciliation(w, withActor(httptest.NewRequest(http.MethodPost, "/api/admin/reconciliation/6/resolve",
			bytes.NewBufferString(`{"refund":true}`)), admin.ID, admin.Role, map[string]string{"itemID": "6"}))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "already_refunded", decodeError(t, w)["code"])
	})

	svc.AssertExpectations(t)
}
