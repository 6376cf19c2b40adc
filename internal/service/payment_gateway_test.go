package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPaymentGateway_InitiatePayment(t *testing.T) {
	ctx := context.Background()
	req := PaymentRequest{StoreID: 3, Amount: 150, Currency: "JPY", Reference: "claim:42"}

	t.Run("Success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/payments", r.URL.Path)
			assert.Equal(t, "claim:42", r.Header.Get("Idempotency-Key"))
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			var got PaymentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			assert.Equal(t, req, got)

			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(GatewayResponse{PaymentID: "pay_1", Status: "succeeded"})
		}))
		defer server.Close()

		gateway := NewPaymentGateway(server.URL, "secret", time.Second, 2, time.Millisecond)
		resp, err := gateway.InitiatePayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "pay_1", resp.PaymentID)
		assert.Equal(t, 1, resp.Attempts)
	})

	t.Run("Retries server error once", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(GatewayResponse{PaymentID: "pay_2", Status: "completed"})
		}))
		defer server.Close()

		gateway := NewPaymentGateway(server.URL, "", time.Second, 2, time.Millisecond)
		resp, err := gateway.InitiatePayment(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "pay_2", resp.PaymentID)
		assert.Equal(t, 2, resp.Attempts)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Gives up after all attempts", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		gateway := NewPaymentGateway(server.URL, "", time.Second, 2, time.Millisecond)
		resp, err := gateway.InitiatePayment(ctx, req)
		assert.ErrorIs(t, err, domain.ErrPaymentGateway)
		assert.Nil(t, resp)
		assert.Equal(t, int32(2), calls.Load())

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	})

	t.Run("Rate limit exceeded", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		gateway := NewPaymentGateway(server.URL, "", time.Second, 1, time.Millisecond)
		resp, err := gateway.InitiatePayment(ctx, req)
		assert.ErrorIs(t, err, domain.ErrPaymentGateway)
		assert.Nil(t, resp)

		var rateLimitErr *RateLimitError
		require.ErrorAs(t, err, &rateLimitErr)
		assert.Equal(t, time.Minute, rateLimitErr.RetryAfter)
	})

	t.Run("Declined payment", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(GatewayResponse{PaymentID: "pay_3", Status: "declined"})
		}))
		defer server.Close()

		gateway := NewPaymentGateway(server.URL, "", time.Second, 2, time.Millisecond)
		resp, err := gateway.InitiatePayment(ctx, req)
		assert.ErrorIs(t, err, domain.ErrPaymentGateway)
		assert.Nil(t, resp)
	})

	t.Run("Invalid JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("invalid json"))
		}))
		defer server.Close()

		gateway := NewPaymentGateway(server.URL, "", time.Second, 2, time.Millisecond)
		resp, err := gateway.InitiatePayment(ctx, req)
		assert.ErrorIs(t, err, domain.ErrPaymentGateway)
		assert.Nil(t, resp)
	})

	t.Run("Timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		gateway := NewPaymentGateway(server.URL, "", 20*time.Millisecond, 1, time.Millisecond)
		_, err := gateway.InitiatePayment(ctx, req)
		assert.ErrorIs(t, err, domain.ErrPaymentGateway)
	})
}

func TestPaymentGateway_Refund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_1/refund", r.URL.Path)

		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(150), body["amount"])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	gateway := NewPaymentGateway(server.URL, "", time.Second, 1, time.Millisecond)
	require.NoError(t, gateway.Refund(context.Background(), "pay_1", 150))
}

func TestMockPaymentGateway(t *testing.T) {
	gateway := NewMockPaymentGateway(zap.NewNop())

	resp, err := gateway.InitiatePayment(context.Background(), PaymentRequest{StoreID: 1, Amount: 10})
	require.NoError(t, err)
	assert.Contains(t, resp.PaymentID, "mock_")
	assert.NoError(t, gateway.Refund(context.Background(), resp.PaymentID, 10))
}
