package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointService_Credit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	t.Run("Default expiry", func(t *testing.T) {
		lot, err := env.points.Credit(ctx, alice.ID, 300, 0, "welcome bonus")
		require.NoError(t, err)
		assert.Equal(t, int64(300), lot.Quantity)
		assert.Equal(t, t0.AddDate(0, 6, 0), lot.ExpiresAt)
	})

	t.Run("Custom expiry", func(t *testing.T) {
		lot, err := env.points.Credit(ctx, alice.ID, 100, 1, "campaign")
		require.NoError(t, err)
		assert.Equal(t, t0.AddDate(0, 1, 0), lot.ExpiresAt)
	})

	t.Run("Invalid amount", func(t *testing.T) {
		_, err := env.points.Credit(ctx, alice.ID, 0, 0, "nothing")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("Unknown user", func(t *testing.T) {
		_, err := env.points.Credit(ctx, 9999, 10, 0, "ghost")
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	assert.Equal(t, int64(400), env.balance(t, alice.ID))
	assert.Equal(t, int64(400), env.ledgerSum(t, alice.ID))
}

func TestPointService_ConsumeNearestExpiryFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	soon := env.grant(t, alice.ID, 300, t0.AddDate(0, 0, 5))
	later := env.grant(t, alice.ID, 200, t0.AddDate(0, 0, 40))

	plan, err := env.points.Consume(ctx, alice.ID, 250, "order:1")
	require.NoError(t, err)
	require.Len(t, plan.Draws, 1)
	assert.Equal(t, domain.LotDraw{LotID: soon.ID, Quantity: 250, Remaining: 50}, plan.Draws[0])
	assert.Equal(t, int64(500), plan.Entry.BalanceBefore)
	assert.Equal(t, int64(250), plan.Entry.BalanceAfter)

	balance, err := env.points.Balance(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), balance.Current)
	require.Len(t, balance.Lots, 2)
	assert.Equal(t, int64(50), balance.Lots[0].Quantity)
	assert.Equal(t, later.ID, balance.Lots[1].ID)
	assert.Equal(t, int64(50), balance.ExpiringSoon)

	t.Run("Spans lots", func(t *testing.T) {
		plan, err := env.points.Consume(ctx, alice.ID, 100, "order:2")
		require.NoError(t, err)
		require.Len(t, plan.Draws, 2)
		assert.Equal(t, int64(50), plan.Draws[0].Quantity)
		assert.Equal(t, int64(50), plan.Draws[1].Quantity)
		assert.Equal(t, int64(150), plan.Draws[1].Remaining)
	})

	t.Run("Insufficient balance changes nothing", func(t *testing.T) {
		_, err := env.points.Consume(ctx, alice.ID, 151, "order:3")
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
		assert.Equal(t, int64(150), env.balance(t, alice.ID))
	})

	assert.Equal(t, env.balance(t, alice.ID), env.ledgerSum(t, alice.ID))
}

func TestPointService_ExpiredLotsAreNotSpendable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")

	env.grant(t, alice.ID, 100, t0.Add(time.Hour))
	env.grant(t, alice.ID, 40, t0.AddDate(0, 1, 0))
	env.clock.Advance(2 * time.Hour)

	balance, err := env.points.Balance(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(140), balance.Current)
	assert.Equal(t, int64(40), balance.Available)

	_, err = env.points.Consume(ctx, alice.ID, 50, "order:1")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestPointService_SweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	expiring := env.grant(t, alice.ID, 300, t0.AddDate(0, 0, 5))
	env.grant(t, alice.ID, 200, t0.AddDate(0, 0, 40))
	env.grant(t, bob.ID, 70, t0.AddDate(0, 0, 1))

	_, err := env.points.Consume(ctx, alice.ID, 250, "order:1")
	require.NoError(t, err)

	env.clock.Advance(6 * 24 * time.Hour)
	now := env.clock.Now()

	due, err := env.points.DueForExpiry(ctx, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	count, err := env.points.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, int64(200), env.balance(t, alice.ID))
	assert.Equal(t, int64(0), env.balance(t, bob.ID))
	assert.Equal(t, int64(200), env.ledgerSum(t, alice.ID))
	assert.Equal(t, int64(0), env.ledgerSum(t, bob.ID))

	entries := env.entries(t, alice.ID)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.EntryExpire, entries[0].Kind)
	assert.Equal(t, int64(-50), entries[0].Delta)
	assert.Equal(t, fmt.Sprintf("lot:%d", expiring.ID), entries[0].ReferenceID)

	t.Run("Idempotent", func(t *testing.T) {
		count, err := env.points.SweepExpired(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.Len(t, env.entries(t, alice.ID), 4)
	})
}

func TestPointService_ConcurrentConsume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	env.grant(t, alice.ID, 1000, t0.AddDate(0, 1, 0))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.points.Consume(ctx, alice.ID, 100, "burst"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, int64(0), env.balance(t, alice.ID))
	assert.Equal(t, int64(0), env.ledgerSum(t, alice.ID))

	for _, e := range env.entries(t, alice.ID) {
		assert.Equal(t, e.BalanceBefore+e.Delta, e.BalanceAfter)
	}
}

func TestPointService_Spend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice")
	shop := env.shop(t, "Books", false)
	env.grant(t, alice.ID, 500, t0.AddDate(0, 1, 0))

	plan, err := env.points.Spend(ctx, alice.ID, shop.ID, 120, "receipt:1")
	require.NoError(t, err)
	require.NotNil(t, plan.Entry.StoreID)
	assert.Equal(t, shop.ID, *plan.Entry.StoreID)
	assert.Equal(t, domain.EntryPayment, plan.Entry.Kind)

	closed := &domain.Store{Name: "Closed"}
	require.NoError(t, env.repos.Stores.CreateStore(ctx, closed))
	_, err = env.points.Spend(ctx, alice.ID, closed.ID, 10, "receipt:2")
	assert.ErrorIs(t, err, domain.ErrStoreInactive)
}

func TestPointService_HistoryPaging(t *testing.T) {
	env := newTestEnv(t)
	env.points.pageSize = 2
	alice := env.user(t, "alice")

	for i := 0; i < 5; i++ {
		env.grant(t, alice.ID, int64(10*(i+1)), t0.AddDate(0, 1, 0))
		env.clock.Advance(time.Minute)
	}

	entries := env.entries(t, alice.ID)
	require.Len(t, entries, 5)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].CreatedAt.After(entries[i].CreatedAt))
	}
	assert.Equal(t, int64(50), entries[0].Delta)

	t.Run("Range and early stop", func(t *testing.T) {
		rng := domain.TimeRange{From: t0.Add(time.Minute), To: t0.Add(4 * time.Minute)}
		var got []int64
		for e, err := range env.points.History(context.Background(), alice.ID, rng) {
			require.NoError(t, err)
			got = append(got, e.Delta)
			if len(got) == 2 {
				break
			}
		}
		assert.Equal(t, []int64{40, 30}, got)
	})
}
