package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinTx_RollbackRestoresState(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repositories()

	user, err := repos.Users.CreateUser(ctx, "alice", "hash", domain.RoleUser)
	require.NoError(t, err)

	lot := &domain.PointLot{UserID: user.ID, Quantity: 100, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repos.Points.InsertLot(ctx, lot))

	boom := errors.New("boom")
	err = s.WithinTx(ctx, domain.Locks{Users: []int64{user.ID}}, func(ctx context.Context, tx *domain.Repositories) error {
		require.NoError(t, tx.Points.UpdateLotQuantity(ctx, lot.ID, 10))
		require.NoError(t, tx.Points.InsertLot(ctx, &domain.PointLot{UserID: user.ID, Quantity: 5, ExpiresAt: time.Now().Add(time.Hour)}))
		require.NoError(t, tx.Ledger.AppendEntry(ctx, &domain.LedgerEntry{UserID: user.ID, Delta: -90}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	lots, err := repos.Points.ActiveLots(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, int64(100), lots[0].Quantity)

	entries, err := repos.Ledger.ListEntries(ctx, user.ID, domain.TimeRange{}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithinTx_SerializesSameAccount(t *testing.T) {
	s := New()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithinTx(ctx, domain.Locks{Users: []int64{2, 1}}, func(ctx context.Context, _ *domain.Repositories) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestCreateClaim_ActiveOrderUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repositories()

	first := &domain.Claim{ExternalOrderID: "ORD-1", Status: domain.ClaimPending, CreatedAt: time.Now()}
	require.NoError(t, repos.Claims.CreateClaim(ctx, first))

	err := repos.Claims.CreateClaim(ctx, &domain.Claim{ExternalOrderID: "ORD-1", Status: domain.ClaimPending})
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)

	rejected := *first
	rejected.Status = domain.ClaimRejected
	require.NoError(t, repos.Claims.UpdateClaim(ctx, &rejected, domain.ClaimPending))

	assert.NoError(t, repos.Claims.CreateClaim(ctx, &domain.Claim{ExternalOrderID: "ORD-1", Status: domain.ClaimPending}))

	err = repos.Claims.UpdateClaim(ctx, &rejected, domain.ClaimPending)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestListEntries_Keyset(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repositories()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, repos.Ledger.AppendEntry(ctx, &domain.LedgerEntry{
			UserID:    1,
			Delta:     int64(i + 1),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := repos.Ledger.ListEntries(ctx, 1, domain.TimeRange{}, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].Delta)
	assert.Equal(t, int64(4), page[1].Delta)

	page, err = repos.Ledger.ListEntries(ctx, 1, domain.TimeRange{}, page[1], 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].Delta)
	assert.Equal(t, int64(1), page[2].Delta)
}

func TestInsertDepositTransaction_Unique(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repositories()

	require.NoError(t, repos.Deposits.InsertDepositTransaction(ctx, &domain.DepositTransaction{StoreID: 1, Reference: "claim:1", Type: domain.DepositConsumption}))

	err := repos.Deposits.InsertDepositTransaction(ctx, &domain.DepositTransaction{StoreID: 1, Reference: "claim:1", Type: domain.DepositConsumption})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrAlreadyRefunded)

	require.NoError(t, repos.Deposits.InsertDepositTransaction(ctx, &domain.DepositTransaction{
		StoreID: 1, Reference: "REF-1", Type: domain.DepositRefund, PaymentRef: "deposit_tx:1",
	}))
	err = repos.Deposits.InsertDepositTransaction(ctx, &domain.DepositTransaction{
		StoreID: 1, Reference: "REF-2", Type: domain.DepositRefund, PaymentRef: "deposit_tx:1",
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)
}

func TestReconciliation_ResolveReopen(t *testing.T) {
	s := New()
	ctx := context.Background()
	repos := s.Repositories()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	item := &domain.ReconciliationItem{ClaimID: 1, PaymentMethod: domain.PaymentCard, PaymentRef: "pay_1", Amount: 25}
	require.NoError(t, repos.Claims.InsertReconciliation(ctx, item))

	assert.ErrorIs(t, repos.Claims.ReopenReconciliation(ctx, item.ID), domain.ErrInvalidStateTransition)
	require.NoError(t, repos.Claims.ResolveReconciliation(ctx, item.ID, 7, at))
	assert.ErrorIs(t, repos.Claims.ResolveReconciliation(ctx, item.ID, 7, at), domain.ErrInvalidStateTransition)
	assert.ErrorIs(t, repos.Claims.ResolveReconciliation(ctx, 9999, 7, at), domain.ErrReconciliationNotFound)

	require.NoError(t, repos.Claims.ReopenReconciliation(ctx, item.ID))
	got, err := repos.Claims.GetReconciliation(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, got.Resolved)
	assert.Nil(t, got.ResolvedAt)
}
