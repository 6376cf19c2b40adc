package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Notifier доставляет уведомления пользователям и магазинам
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// LogNotifier только пишет уведомления в лог
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает новый LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify пишет уведомление в лог
func (n *LogNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.logger.Info("notification",
		zap.String("kind", msg.Kind),
		zap.Int64("user_id", msg.UserID),
		zap.Int64("store_id", msg.StoreID),
		zap.String("title", msg.Title),
		zap.String("priority", msg.Priority),
	)
	return nil
}

// HTTPNotifier отправляет уведомления POST запросом в JSON
type HTTPNotifier struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPNotifier создает новый HTTPNotifier
func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &HTTPNotifier{url: url, client: client}
}

// Notify отправляет уведомление
func (n *HTTPNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notifier: failed to encode notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Service: "notifier", StatusCode: resp.StatusCode, Body: string(data)}
	}

	return nil
}

// AsyncNotifier доставляет уведомления в фоне и никогда не блокирует вызывающего.
// При переполнении очереди уведомление отбрасывается с предупреждением в логе.
type AsyncNotifier struct {
	next    Notifier
	queue   chan domain.Notification
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

// NewAsyncNotifier создает AsyncNotifier и запускает workers горутин доставки
func NewAsyncNotifier(next Notifier, queueSize, workers int, logger *zap.Logger) *AsyncNotifier {
	n := &AsyncNotifier{
		next:    next,
		queue:   make(chan domain.Notification, queueSize),
		logger:  logger,
		timeout: 10 * time.Second,
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Notify ставит уведомление в очередь
func (n *AsyncNotifier) Notify(_ context.Context, msg domain.Notification) error {
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn("notification queue is full, dropping", zap.String("kind", msg.Kind))
	}
	return nil
}

// Close дожидается доставки уже поставленных уведомлений
func (n *AsyncNotifier) Close() {
	n.once.Do(func() { close(n.queue) })
	n.wg.Wait()
}

func (n *AsyncNotifier) worker() {
	defer n.wg.Done()

	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.next.Notify(ctx, msg); err != nil {
			n.logger.Warn("failed to deliver notification", zap.String("kind", msg.Kind), zap.Error(err))
		}
		cancel()
	}
}
