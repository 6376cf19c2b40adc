package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func depositBalance(t *testing.T, env *testEnv, storeID int64) int64 {
	t.Helper()
	acc, err := env.repos.Deposits.GetAccount(context.Background(), storeID)
	require.NoError(t, err)
	return acc.Balance
}

func TestDepositService_Charge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shop := env.shop(t, "Books", false)

	t.Run("Success", func(t *testing.T) {
		tx, err := env.deposits.Charge(ctx, shop.ID, 10000, "card", "tok_1")
		require.NoError(t, err)
		assert.Equal(t, int64(9700), tx.Amount)
		assert.Equal(t, int64(300), tx.Fee)
		assert.Equal(t, int64(10000), tx.Gross())
		assert.Equal(t, domain.DepositCharge, tx.Type)
		assert.Equal(t, domain.DepositTxCompleted, tx.Status)
		assert.Contains(t, tx.Reference, "DEP-")
		assert.Equal(t, int64(9700), depositBalance(t, env, shop.ID))
	})

	t.Run("Fee is rounded down", func(t *testing.T) {
		tx, err := env.deposits.Charge(ctx, shop.ID, 1033, "card", "tok_2")
		require.NoError(t, err)
		assert.Equal(t, int64(30), tx.Fee)
		assert.Equal(t, int64(1003), tx.Amount)
	})

	t.Run("Amount out of range", func(t *testing.T) {
		_, err := env.deposits.Charge(ctx, shop.ID, 999, "card", "")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		_, err = env.deposits.Charge(ctx, shop.ID, 1000001, "card", "")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("Unknown store", func(t *testing.T) {
		_, err := env.deposits.Charge(ctx, 9999, 5000, "card", "")
		assert.ErrorIs(t, err, domain.ErrStoreNotFound)
	})
}

func TestDepositService_Consume(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shop := env.shop(t, "Books", false)

	_, err := env.deposits.Charge(ctx, shop.ID, 20000, "card", "")
	require.NoError(t, err)

	tx, err := env.deposits.Consume(ctx, shop.ID, 5000, "points for claim:1", "claim:1")
	require.NoError(t, err)
	assert.Equal(t, int64(19400), tx.BalanceBefore)
	assert.Equal(t, int64(14400), tx.BalanceAfter)
	assert.Empty(t, env.notifier.kinds())

	t.Run("Insufficient deposit", func(t *testing.T) {
		_, err := env.deposits.Consume(ctx, shop.ID, 20000, "too much", "claim:2")
		assert.ErrorIs(t, err, domain.ErrInsufficientDeposit)
		assert.Equal(t, int64(14400), depositBalance(t, env, shop.ID))
	})

	t.Run("Low balance notification", func(t *testing.T) {
		_, err := env.deposits.Consume(ctx, shop.ID, 5000, "points for claim:3", "claim:3")
		require.NoError(t, err)
		assert.Equal(t, []string{"deposit_low_balance"}, env.notifier.kinds())
	})

	t.Run("Invalid amount", func(t *testing.T) {
		_, err := env.deposits.Consume(ctx, shop.ID, 0, "", "")
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})
}

func TestDepositService_AutoChargeDailyCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shop := env.shop(t, "Books", false)

	_, err := env.deposits.Charge(ctx, shop.ID, 10000, "card", "")
	require.NoError(t, err)
	require.NoError(t, env.deposits.SetupAutoCharge(ctx, &domain.AutoChargeRule{
		StoreID:       shop.ID,
		TriggerAmount: 5000,
		ChargeAmount:  10000,
		DailyCap:      20000,
	}))

	_, err = env.deposits.Consume(ctx, shop.ID, 5000, "claim", "claim:1")
	require.NoError(t, err)
	assert.Equal(t, int64(14400), depositBalance(t, env, shop.ID))

	_, err = env.deposits.Consume(ctx, shop.ID, 10000, "claim", "claim:2")
	require.NoError(t, err)
	assert.Equal(t, int64(14100), depositBalance(t, env, shop.ID))

	_, err = env.deposits.Consume(ctx, shop.ID, 10000, "claim", "claim:3")
	require.NoError(t, err)
	assert.Equal(t, int64(4100), depositBalance(t, env, shop.ID))
	assert.Equal(t, []string{"deposit_auto_charge", "deposit_auto_charge", "deposit_low_balance"}, env.notifier.kinds())

	tx, decision, err := env.deposits.EvaluateAutoCharge(ctx, shop.ID)
	require.NoError(t, err)
	assert.Nil(t, tx)
	assert.Equal(t, domain.AutoChargeDailyCap, decision)

	env.clock.Advance(24 * time.Hour)
	tx, decision, err = env.deposits.EvaluateAutoCharge(ctx, shop.ID)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, domain.AutoChargeFire, decision)
	assert.Equal(t, domain.DepositAutoCharge, tx.Type)
	assert.Equal(t, int64(13800), depositBalance(t, env, shop.ID))
	assert.Equal(t, "deposit_auto_charge", env.notifier.last().Kind)
	assert.Equal(t, shop.ID, env.notifier.last().StoreID)

	rule, err := env.repos.Deposits.GetAutoChargeRule(ctx, shop.ID)
	require.NoError(t, err)
	require.NotNil(t, rule.LastTriggeredAt)
	assert.Equal(t, env.clock.Now(), *rule.LastTriggeredAt)

	summary, err := env.deposits.Summary(ctx, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(13800), summary.Account.Balance)
	assert.Equal(t, int64(40000), summary.MonthCharged)
	assert.Equal(t, int64(25000), summary.MonthConsumed)
	assert.Equal(t, int64(1200), summary.MonthFees)
	assert.NotNil(t, summary.AutoChargeRule)
	assert.Len(t, summary.Recent, 7)
}

func TestDepositService_AutoChargeMonthlyCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shop := env.shop(t, "Books", false)

	_, err := env.deposits.Charge(ctx, shop.ID, 10000, "card", "")
	require.NoError(t, err)
	require.NoError(t, env.deposits.SetupAutoCharge(ctx, &domain.AutoChargeRule{
		StoreID:       shop.ID,
		TriggerAmount: 5000,
		ChargeAmount:  10000,
		MonthlyCap:    15000,
	}))

	_, err = env.deposits.Consume(ctx, shop.ID, 5000, "claim", "claim:1")
	require.NoError(t, err)
	assert.Equal(t, int64(14400), depositBalance(t, env, shop.ID))

	_, err = env.deposits.Consume(ctx, shop.ID, 10000, "claim", "claim:2")
	require.NoError(t, err)
	assert.Equal(t, int64(4400), depositBalance(t, env, shop.ID))

	_, decision, err := env.deposits.EvaluateAutoCharge(ctx, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AutoChargeMonthlyCap, decision)
}

func TestDepositService_AutoChargeRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shop := env.shop(t, "Books", false)

	t.Run("No rule", func(t *testing.T) {
		tx, decision, err := env.deposits.EvaluateAutoCharge(ctx, shop.ID)
		require.NoError(t, err)
		assert.Nil(t, tx)
		assert.Equal(t, domain.AutoChargeDisabled, decision)
	})

	t.Run("Invalid rule", func(t *testing.T) {
		err := env.deposits.SetupAutoCharge(ctx, &domain.AutoChargeRule{StoreID: shop.ID, TriggerAmount: 0, ChargeAmount: 5000})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		err = env.deposits.SetupAutoCharge(ctx, &domain.AutoChargeRule{StoreID: shop.ID, TriggerAmount: 100, ChargeAmount: 10})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	})

	t.Run("Disabled rule", func(t *testing.T) {
		require.NoError(t, env.deposits.SetupAutoCharge(ctx, &domain.AutoChargeRule{StoreID: shop.ID, TriggerAmount: 5000, ChargeAmount: 5000}))
		require.NoError(t, env.deposits.DisableAutoCharge(ctx, shop.ID))

		_, decision, err := env.deposits.EvaluateAutoCharge(ctx, shop.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AutoChargeDisabled, decision)
	})

	t.Run("Disable without rule", func(t *testing.T) {
		other := env.shop(t, "Toys", false)
		assert.ErrorIs(t, env.deposits.DisableAutoCharge(ctx, other.ID), domain.ErrRuleNotFound)
	})
}

func TestDepositService_RunAutoCharges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	low := env.shop(t, "Low", false)
	high := env.shop(t, "High", false)

	for _, s := range []*domain.Store{low, high} {
		_, err := env.deposits.Charge(ctx, s.ID, 10000, "card", "")
		require.NoError(t, err)
	}
	_, err := env.deposits.Consume(ctx, low.ID, 6000, "claim", "claim:1")
	require.NoError(t, err)

	for _, s := range []*domain.Store{low, high} {
		require.NoError(t, env.deposits.SetupAutoCharge(ctx, &domain.AutoChargeRule{StoreID: s.ID, TriggerAmount: 5000, ChargeAmount: 5000}))
	}

	fired, err := env.deposits.RunAutoCharges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, int64(3700+4850), depositBalance(t, env, low.ID))
	assert.Equal(t, int64(9700), depositBalance(t, env, high.ID))
}

func TestDepositService_RefundConsumption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	shop := env.shop(t, "Books", false)

	charge, err := env.deposits.Charge(ctx, shop.ID, 20000, "card", "")
	require.NoError(t, err)
	consumed, err := env.deposits.Consume(ctx, shop.ID, 1500, "claim", "claim:1")
	require.NoError(t, err)

	refund, err := env.deposits.RefundConsumption(ctx, shop.ID, consumed.ID, "operator refund")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositRefund, refund.Type)
	assert.Equal(t, int64(1500), refund.Amount)
	assert.Equal(t, int64(19400), depositBalance(t, env, shop.ID))
	assert.NotEqual(t, consumed.Reference, refund.Reference)
	assert.Contains(t, refund.Reference, "REF-")
	assert.Equal(t, fmt.Sprintf("deposit_tx:%d", consumed.ID), refund.PaymentRef)

	t.Run("Second refund rejected", func(t *testing.T) {
		_, err := env.deposits.RefundConsumption(ctx, shop.ID, consumed.ID, "operator refund again")
		assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)
		assert.Equal(t, int64(19400), depositBalance(t, env, shop.ID))
	})

	_, err = env.deposits.RefundConsumption(ctx, shop.ID, charge.ID, "wrong type")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = env.deposits.RefundConsumption(ctx, shop.ID, 9999, "missing")
	assert.ErrorIs(t, err, domain.ErrDepositTxNotFound)
}
