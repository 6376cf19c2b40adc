package handlers

import (
	"context"
	"iter"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/service"
	"github.com/stretchr/testify/mock"
)

type authServiceMock struct {
	mock.Mock
}

func (m *authServiceMock) Register(ctx context.Context, login, password string) (string, error) {
	args := m.Called(ctx, login, password)
	return args.String(0), args.Error(1)
}

func (m *authServiceMock) Login(ctx context.Context, login, password string) (string, error) {
	args := m.Called(ctx, login, password)
	return args.String(0), args.Error(1)
}

func (m *authServiceMock) Me(ctx context.Context, userID int64) (*domain.User, error) {
	args := m.Called(ctx, userID)
	user, _ := args.Get(0).(*domain.User)
	return user, args.Error(1)
}

type claimServiceMock struct {
	mock.Mock
}

func (m *claimServiceMock) Submit(ctx context.Context, in service.ClaimInput) (*domain.Claim, []*domain.DuplicateFinding, error) {
	args := m.Called(ctx, in)
	claim, _ := args.Get(0).(*domain.Claim)
	findings, _ := args.Get(1).([]*domain.DuplicateFinding)
	return claim, findings, args.Error(2)
}

func (m *claimServiceMock) IngestWebhook(ctx context.Context, apiKey string, p service.WebhookPurchase, ip, userAgent string) (*domain.Claim, error) {
	args := m.Called(ctx, apiKey, p, ip, userAgent)
	claim, _ := args.Get(0).(*domain.Claim)
	return claim, args.Error(1)
}

func (m *claimServiceMock) Approve(ctx context.Context, actor service.Actor, claimID int64) (*domain.Claim, error) {
	args := m.Called(ctx, actor, claimID)
	claim, _ := args.Get(0).(*domain.Claim)
	return claim, args.Error(1)
}

func (m *claimServiceMock) Reject(ctx context.Context, actor service.Actor, claimID int64, reason string) (*domain.Claim, error) {
	args := m.Called(ctx, actor, claimID, reason)
	claim, _ := args.Get(0).(*domain.Claim)
	return claim, args.Error(1)
}

func (m *claimServiceMock) Get(ctx context.Context, actor service.Actor, claimID int64) (*domain.Claim, error) {
	args := m.Called(ctx, actor, claimID)
	claim, _ := args.Get(0).(*domain.Claim)
	return claim, args.Error(1)
}

func (m *claimServiceMock) List(ctx context.Context, filter domain.ClaimFilter) ([]*domain.Claim, error) {
	args := m.Called(ctx, filter)
	claims, _ := args.Get(0).([]*domain.Claim)
	return claims, args.Error(1)
}

type authorizerMock struct {
	mock.Mock
}

func (m *authorizerMock) Authorize(ctx context.Context, actor service.Actor, storeID int64) error {
	return m.Called(ctx, actor, storeID).Error(0)
}

type pointServiceMock struct {
	mock.Mock
}

func (m *pointServiceMock) Balance(ctx context.Context, userID int64) (*domain.Balance, error) {
	args := m.Called(ctx, userID)
	balance, _ := args.Get(0).(*domain.Balance)
	return balance, args.Error(1)
}

func (m *pointServiceMock) History(ctx context.Context, userID int64, rng domain.TimeRange) iter.Seq2[*domain.LedgerEntry, error] {
	args := m.Called(ctx, userID, rng)
	return args.Get(0).(iter.Seq2[*domain.LedgerEntry, error])
}

func (m *pointServiceMock) Spend(ctx context.Context, userID, storeID, amount int64, reference string) (*domain.ConsumptionPlan, error) {
	args := m.Called(ctx, userID, storeID, amount, reference)
	plan, _ := args.Get(0).(*domain.ConsumptionPlan)
	return plan, args.Error(1)
}

func (m *pointServiceMock) Credit(ctx context.Context, userID, amount int64, expiryMonths int, reason string) (*domain.PointLot, error) {
	args := m.Called(ctx, userID, amount, expiryMonths, reason)
	lot, _ := args.Get(0).(*domain.PointLot)
	return lot, args.Error(1)
}

type transferServiceMock struct {
	mock.Mock
}

func (m *transferServiceMock) Create(ctx context.Context, senderID, recipientID, amount int64, message string) (*domain.Transfer, error) {
	args := m.Called(ctx, senderID, recipientID, amount, message)
	t, _ := args.Get(0).(*domain.Transfer)
	return t, args.Error(1)
}

func (m *transferServiceMock) Accept(ctx context.Context, transferID, recipientID int64) (*domain.Transfer, error) {
	args := m.Called(ctx, transferID, recipientID)
	t, _ := args.Get(0).(*domain.Transfer)
	return t, args.Error(1)
}

func (m *transferServiceMock) Decline(ctx context.Context, transferID, recipientID int64, reason string) (*domain.Transfer, error) {
	args := m.Called(ctx, transferID, recipientID, reason)
	t, _ := args.Get(0).(*domain.Transfer)
	return t, args.Error(1)
}

func (m *transferServiceMock) Cancel(ctx context.Context, transferID, senderID int64) (*domain.Transfer, error) {
	args := m.Called(ctx, transferID, senderID)
	t, _ := args.Get(0).(*domain.Transfer)
	return t, args.Error(1)
}

func (m *transferServiceMock) List(ctx context.Context, userID int64) ([]*domain.Transfer, error) {
	args := m.Called(ctx, userID)
	transfers, _ := args.Get(0).([]*domain.Transfer)
	return transfers, args.Error(1)
}

type storeServiceMock struct {
	authorizerMock
}

func (m *storeServiceMock) CreateStore(ctx context.Context, name, email string, cardPayment bool) (*domain.Store, error) {
	args := m.Called(ctx, name, email, cardPayment)
	store, _ := args.Get(0).(*domain.Store)
	return store, args.Error(1)
}

func (m *storeServiceMock) Get(ctx context.Context, storeID int64) (*domain.Store, error) {
	args := m.Called(ctx, storeID)
	store, _ := args.Get(0).(*domain.Store)
	return store, args.Error(1)
}

func (m *storeServiceMock) List(ctx context.Context) ([]*domain.Store, error) {
	args := m.Called(ctx)
	stores, _ := args.Get(0).([]*domain.Store)
	return stores, args.Error(1)
}

func (m *storeServiceMock) AddManager(ctx context.Context, storeID, userID int64) error {
	return m.Called(ctx, storeID, userID).Error(0)
}

func (m *storeServiceMock) IssueWebhookKey(ctx context.Context, storeID int64, ratePerMinute int) (*domain.WebhookKey, error) {
	args := m.Called(ctx, storeID, ratePerMinute)
	key, _ := args.Get(0).(*domain.WebhookKey)
	return key, args.Error(1)
}

type depositServiceMock struct {
	mock.Mock
}

func (m *depositServiceMock) Charge(ctx context.Context, storeID, amount int64, method, reference string) (*domain.DepositTransaction, error) {
	args := m.Called(ctx, storeID, amount, method, reference)
	t, _ := args.Get(0).(*domain.DepositTransaction)
	return t, args.Error(1)
}

func (m *depositServiceMock) Summary(ctx context.Context, storeID int64) (*domain.DepositSummary, error) {
	args := m.Called(ctx, storeID)
	summary, _ := args.Get(0).(*domain.DepositSummary)
	return summary, args.Error(1)
}

func (m *depositServiceMock) SetupAutoCharge(ctx context.Context, rule *domain.AutoChargeRule) error {
	return m.Called(ctx, rule).Error(0)
}

func (m *depositServiceMock) DisableAutoCharge(ctx context.Context, storeID int64) error {
	return m.Called(ctx, storeID).Error(0)
}

type adminServiceMock struct {
	mock.Mock
}

func (m *adminServiceMock) ListFindings(ctx context.Context, claimID int64, unresolvedOnly bool) ([]*domain.DuplicateFinding, error) {
	args := m.Called(ctx, claimID, unresolvedOnly)
	findings, _ := args.Get(0).([]*domain.DuplicateFinding)
	return findings, args.Error(1)
}

func (m *adminServiceMock) ResolveFinding(ctx context.Context, id, operatorID int64, note string) error {
	return m.Called(ctx, id, operatorID, note).Error(0)
}

func (m *adminServiceMock) Stats(ctx context.Context, days int) (*domain.FindingStats, error) {
	args := m.Called(ctx, days)
	stats, _ := args.Get(0).(*domain.FindingStats)
	return stats, args.Error(1)
}

func (m *adminServiceMock) ListReconciliation(ctx context.Context, unresolvedOnly bool) ([]*domain.ReconciliationItem, error) {
	args := m.Called(ctx, unresolvedOnly)
	items, _ := args.Get(0).([]*domain.ReconciliationItem)
	return items, args.Error(1)
}

func (m *adminServiceMock) ResolveReconciliation(ctx context.Context, actor service.Actor, itemID int64, refund bool) error {
	return m.Called(ctx, actor, itemID, refund).Error(0)
}
