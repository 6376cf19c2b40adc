package service

import (
	"context"
	"sync"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/stretchr/testify/mock"
)

type userRepositoryMock struct {
	mock.Mock
}

func (m *userRepositoryMock) CreateUser(ctx context.Context, login, passwordHash string, role domain.Role) (*domain.User, error) {
	args := m.Called(ctx, login, passwordHash, role)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

func (m *userRepositoryMock) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	args := m.Called(ctx, login)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

func (m *userRepositoryMock) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

type hasherMock struct {
	mock.Mock
}

func (m *hasherMock) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *hasherMock) Check(hash, password string) error {
	return m.Called(hash, password).Error(0)
}

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) InitiatePayment(ctx context.Context, req PaymentRequest) (*GatewayResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*GatewayResponse)
	return resp, args.Error(1)
}

func (m *gatewayMock) Refund(ctx context.Context, paymentID string, amount int64) error {
	return m.Called(ctx, paymentID, amount).Error(0)
}

// recordingNotifier запоминает отправленные уведомления
type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last() domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return domain.Notification{}
	}
	return n.sent[len(n.sent)-1]
}

// ofKind возвращает уведомления одного вида в порядке отправки
func (n *recordingNotifier) ofKind(kind string) []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Notification
	for _, msg := range n.sent {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Kind)
	}
	return out
}

// fixedClock возвращает управляемое время
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock {
	return &fixedClock{t: t}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// allowAll пропускает все запросы
type allowAll struct{}

func (allowAll) Allow(string, int, time.Duration) bool { return true }

// denyAll отклоняет все запросы
type denyAll struct{}

func (denyAll) Allow(string, int, time.Duration) bool { return false }
