package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

// testEnv собирает сервисы поверх хранилища в памяти с управляемыми часами
type testEnv struct {
	store    *memory.Store
	repos    *domain.Repositories
	clock    *fixedClock
	notifier *recordingNotifier
	gateway  *gatewayMock

	points    *PointService
	deposits  *DepositService
	transfers *TransferService
	detector  *DuplicateDetector
	stores    *StoreService
	payments  *PaymentProcessor
	claims    *ClaimService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.New()
	repos := store.Repositories()
	logger := zap.NewNop()

	env := &testEnv{
		store:    store,
		repos:    repos,
		clock:    newFixedClock(t0),
		notifier: &recordingNotifier{},
		gateway:  &gatewayMock{},
	}

	env.points = NewPointService(store, repos, logger, 6)
	env.points.now = env.clock.Now

	env.deposits = NewDepositService(store, repos, env.notifier, logger, DefaultDepositRules())
	env.deposits.now = env.clock.Now

	env.transfers = NewTransferService(store, repos, env.notifier, logger, DefaultTransferRules())
	env.transfers.now = env.clock.Now

	env.detector = NewDuplicateDetector(repos, logger, DefaultDuplicateRules())
	env.detector.now = env.clock.Now

	env.stores = NewStoreService(repos, logger)
	env.stores.now = env.clock.Now

	env.payments = NewPaymentProcessor(env.gateway, env.deposits, "JPY", logger)
	env.claims = env.newClaimService(store, allowAll{})

	return env
}

func (e *testEnv) newClaimService(tx domain.TxManager, limiter Limiter) *ClaimService {
	svc := NewClaimService(tx, e.repos, e.detector, e.payments, e.stores, limiter, e.notifier, zap.NewNop(), DefaultClaimRules())
	svc.now = e.clock.Now
	return svc
}

func (e *testEnv) user(t *testing.T, login string) *domain.User {
	t.Helper()
	u, err := e.repos.Users.CreateUser(context.Background(), login, "hash", domain.RoleUser)
	require.NoError(t, err)
	return u
}

func (e *testEnv) shop(t *testing.T, name string, cardPayment bool) *domain.Store {
	t.Helper()
	s, err := e.stores.CreateStore(context.Background(), name, name+"@example.com", cardPayment)
	require.NoError(t, err)
	return s
}

// grant выпускает партию с заданным сроком действия
func (e *testEnv) grant(t *testing.T, userID, amount int64, expiresAt time.Time) *domain.PointLot {
	t.Helper()
	var lot *domain.PointLot
	err := e.store.WithinTx(context.Background(), domain.Locks{Users: []int64{userID}}, func(ctx context.Context, repos *domain.Repositories) error {
		var err error
		lot, _, err = credit(ctx, repos, movement{
			UserID:    userID,
			Amount:    amount,
			Kind:      domain.EntryGrant,
			Reference: fmt.Sprintf("test:%d", amount),
		}, expiresAt, e.clock.Now())
		return err
	})
	require.NoError(t, err)
	return lot
}

func (e *testEnv) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := e.points.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b.Current
}

// ledgerSum складывает все записи журнала пользователя
func (e *testEnv) ledgerSum(t *testing.T, userID int64) int64 {
	t.Helper()
	var sum int64
	for entry, err := range e.points.History(context.Background(), userID, domain.TimeRange{}) {
		require.NoError(t, err)
		sum += entry.Delta
	}
	return sum
}

func (e *testEnv) entries(t *testing.T, userID int64) []*domain.LedgerEntry {
	t.Helper()
	var out []*domain.LedgerEntry
	for entry, err := range e.points.History(context.Background(), userID, domain.TimeRange{}) {
		require.NoError(t, err)
		out = append(out, entry)
	}
	return out
}

// failingUserTx отказывает в единицах работы, блокирующих пользователей
type failingUserTx struct {
	inner domain.TxManager
	err   error
}

func (f failingUserTx) WithinTx(ctx context.Context, locks domain.Locks, fn func(ctx context.Context, repos *domain.Repositories) error) error {
	if len(locks.Users) > 0 {
		return f.err
	}
	return f.inner.WithinTx(ctx, locks, fn)
}
