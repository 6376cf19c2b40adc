package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/metrics"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// PaymentRequest описывает списание с карты магазина
type PaymentRequest struct {
	StoreID     int64  `json:"store_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
}

// GatewayResponse описывает ответ платежного шлюза
type GatewayResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Attempts  int    `json:"-"`
}

// PaymentGateway определяет методы взаимодействия с платежным шлюзом
type PaymentGateway interface {
	InitiatePayment(ctx context.Context, req PaymentRequest) (*GatewayResponse, error)
	Refund(ctx context.Context, paymentID string, amount int64) error
}

// HTTPPaymentGateway реализует PaymentGateway поверх HTTP с повторами запросов
type HTTPPaymentGateway struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

type attemptsKey struct{}

// NewPaymentGateway создает новый HTTPPaymentGateway.
// attempts - общее число попыток, backoff - пауза между ними.
func NewPaymentGateway(baseURL, apiKey string, timeout time.Duration, attempts int, backoff time.Duration) *HTTPPaymentGateway {
	if attempts < 1 {
		attempts = 1
	}

	client := retryablehttp.NewClient()
	client.RetryMax = attempts - 1
	client.RetryWaitMin = backoff
	client.RetryWaitMax = backoff
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if counter, ok := req.Context().Value(attemptsKey{}).(*atomic.Int32); ok {
			counter.Store(int32(attempt + 1))
		}
	}

	return &HTTPPaymentGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

// InitiatePayment списывает сумму с карты магазина
func (g *HTTPPaymentGateway) InitiatePayment(ctx context.Context, payment PaymentRequest) (*GatewayResponse, error) {
	body, err := json.Marshal(payment)
	if err != nil {
		return nil, fmt.Errorf("payment gateway: failed to encode request: %w", err)
	}

	counter := &atomic.Int32{}
	ctx = context.WithValue(ctx, attemptsKey{}, counter)

	resp, err := g.do(ctx, g.baseURL+"/payments", body, payment.Reference)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkGatewayStatus(resp); err != nil {
		return nil, err
	}

	var result GatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("payment gateway: %w: failed to decode response: %w", domain.ErrPaymentGateway, err)
	}
	result.Attempts = int(counter.Load())

	switch result.Status {
	case "succeeded", "completed":
		return &result, nil
	default:
		return nil, fmt.Errorf("payment gateway: %w: payment %s is %q", domain.ErrPaymentGateway, result.PaymentID, result.Status)
	}
}

// Refund возвращает средства по ранее проведенному платежу
func (g *HTTPPaymentGateway) Refund(ctx context.Context, paymentID string, amount int64) error {
	body, err := json.Marshal(map[string]int64{"amount": amount})
	if err != nil {
		return fmt.Errorf("payment gateway: failed to encode refund: %w", err)
	}

	resp, err := g.do(ctx, g.baseURL+"/payments/"+paymentID+"/refund", body, "refund:"+paymentID)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return checkGatewayStatus(resp)
}

func (g *HTTPPaymentGateway) do(ctx context.Context, url string, body []byte, idempotencyKey string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment gateway: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w: failed to execute request: %w", domain.ErrPaymentGateway, err)
	}
	return resp, nil
}

func checkGatewayStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		seconds, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return fmt.Errorf("payment gateway: %w: %w", domain.ErrPaymentGateway, NewRateLimitError(time.Duration(seconds)*time.Second))

	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("payment gateway: %w: %w", domain.ErrPaymentGateway,
			&StatusError{Service: "payment gateway", StatusCode: resp.StatusCode, Body: string(data)})
	}
}

// MockPaymentGateway принимает все платежи без внешних вызовов.
// Используется, когда адрес шлюза не настроен.
type MockPaymentGateway struct {
	logger *zap.Logger
}

// NewMockPaymentGateway создает новый MockPaymentGateway
func NewMockPaymentGateway(logger *zap.Logger) *MockPaymentGateway {
	return &MockPaymentGateway{logger: logger}
}

// InitiatePayment возвращает успешный платеж
func (g *MockPaymentGateway) InitiatePayment(_ context.Context, req PaymentRequest) (*GatewayResponse, error) {
	id := "mock_" + ksuid.New().String()
	g.logger.Debug("mock payment", zap.Int64("store_id", req.StoreID), zap.Int64("amount", req.Amount), zap.String("payment_id", id))
	return &GatewayResponse{PaymentID: id, Status: "succeeded", Attempts: 1}, nil
}

// Refund ничего не делает
func (g *MockPaymentGateway) Refund(_ context.Context, paymentID string, amount int64) error {
	g.logger.Debug("mock refund", zap.String("payment_id", paymentID), zap.Int64("amount", amount))
	return nil
}
