package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPNotifier_Notify(t *testing.T) {
	received := make(chan domain.Notification, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var msg domain.Notification
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewHTTPNotifier(server.URL, time.Second)
	err := n.Notify(context.Background(), domain.Notification{Kind: "points_awarded", UserID: 4, Title: "Points"})
	require.NoError(t, err)

	msg := <-received
	assert.Equal(t, "points_awarded", msg.Kind)
	assert.Equal(t, int64(4), msg.UserID)
}

func TestHTTPNotifier_RejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown recipient", http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewHTTPNotifier(server.URL, time.Second)
	err := n.Notify(context.Background(), domain.Notification{Kind: "transfer_received"})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "unknown recipient")
}

func TestAsyncNotifier_DeliversBeforeClose(t *testing.T) {
	next := &recordingNotifier{}
	n := NewAsyncNotifier(next, 16, 2, zap.NewNop())

	for i := 0; i < 10; i++ {
		require.NoError(t, n.Notify(context.Background(), domain.Notification{Kind: "deposit_low"}))
	}
	n.Close()

	assert.Len(t, next.kinds(), 10)

	// Повторное закрытие безопасно
	assert.NotPanics(t, n.Close)
}

func TestAsyncNotifier_DropsWhenFull(t *testing.T) {
	next := &recordingNotifier{}
	// Без воркеров очередь никто не разбирает
	n := NewAsyncNotifier(next, 1, 0, zap.NewNop())

	require.NoError(t, n.Notify(context.Background(), domain.Notification{Kind: "first"}))
	require.NoError(t, n.Notify(context.Background(), domain.Notification{Kind: "dropped"}))
	assert.Len(t, n.queue, 1)

	n.Close()
	assert.Empty(t, next.kinds())
}
