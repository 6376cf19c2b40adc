package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/metrics"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// DepositRules задает ограничения депозитов магазинов
type DepositRules struct {
	MinCharge           int64   `toml:"min_charge"`
	MaxCharge           int64   `toml:"max_charge"`
	FeeRate             float64 `toml:"fee_rate"`
	LowBalanceThreshold int64   `toml:"low_balance_threshold"`
	RecentLimit         int     `toml:"recent_limit"`
}

// DefaultDepositRules возвращает ограничения по умолчанию
func DefaultDepositRules() DepositRules {
	return DepositRules{
		MinCharge:           1000,
		MaxCharge:           1000000,
		FeeRate:             0.03,
		LowBalanceThreshold: 10000,
		RecentLimit:         10,
	}
}

// DepositService управляет предоплаченными депозитами магазинов
type DepositService struct {
	tx       domain.TxManager
	repos    *domain.Repositories
	notifier Notifier
	logger   *zap.Logger
	rules    DepositRules
	now      func() time.Time
}

// NewDepositService создает новый DepositService
func NewDepositService(tx domain.TxManager, repos *domain.Repositories, notifier Notifier, logger *zap.Logger, rules DepositRules) *DepositService {
	return &DepositService{
		tx:       tx,
		repos:    repos,
		notifier: notifier,
		logger:   logger,
		rules:    rules,
		now:      time.Now,
	}
}

// Charge пополняет депозит магазина. На депозит зачисляется сумма за вычетом комиссии.
func (s *DepositService) Charge(ctx context.Context, storeID, amount int64, method, reference string) (*domain.DepositTransaction, error) {
	if amount < s.rules.MinCharge || amount > s.rules.MaxCharge {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.repos.Stores.GetStore(ctx, storeID); err != nil {
		return nil, fmt.Errorf("deposit service: failed to get store %d: %w", storeID, err)
	}

	now := s.now()
	var t *domain.DepositTransaction
	err := s.tx.WithinTx(ctx, domain.Locks{Stores: []int64{storeID}}, func(ctx context.Context, repos *domain.Repositories) error {
		var err error
		t, err = s.chargeTx(ctx, repos, storeID, amount, domain.DepositCharge, method, reference, "deposit charge", now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deposit service: failed to charge store %d: %w", storeID, err)
	}

	s.logger.Info("deposit charged",
		zap.Int64("store_id", storeID),
		zap.Int64("amount", amount),
		zap.Int64("fee", t.Fee),
		zap.String("reference", t.Reference),
	)
	return t, nil
}

func (s *DepositService) chargeTx(
	ctx context.Context,
	repos *domain.Repositories,
	storeID, amount int64,
	txType domain.DepositTxType,
	method, paymentRef, description string,
	now time.Time,
) (*domain.DepositTransaction, error) {
	acc, err := repos.Deposits.GetAccount(ctx, storeID)
	if err != nil {
		return nil, err
	}

	fee := int64(math.Floor(float64(amount) * s.rules.FeeRate))
	net := amount - fee

	t := &domain.DepositTransaction{
		StoreID:       storeID,
		Reference:     "DEP-" + ksuid.New().String(),
		Type:          txType,
		Amount:        net,
		Fee:           fee,
		BalanceBefore: acc.Balance,
		BalanceAfter:  acc.Balance + net,
		PaymentMethod: method,
		PaymentRef:    paymentRef,
		Status:        domain.DepositTxCompleted,
		Description:   description,
		CreatedAt:     now,
	}
	if err := repos.Deposits.UpdateBalance(ctx, storeID, t.BalanceAfter); err != nil {
		return nil, err
	}
	if err := repos.Deposits.InsertDepositTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Consume списывает сумму с депозита магазина.
// После фиксации списания проверяется правило автопополнения и порог низкого баланса.
func (s *DepositService) Consume(ctx context.Context, storeID, amount int64, usedFor, reference string) (*domain.DepositTransaction, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.now()
	var t *domain.DepositTransaction
	err := s.tx.WithinTx(ctx, domain.Locks{Stores: []int64{storeID}}, func(ctx context.Context, repos *domain.Repositories) error {
		var err error
		t, err = consumeTx(ctx, repos, storeID, amount, usedFor, reference, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("deposit service: failed to consume deposit of store %d: %w", storeID, err)
	}

	s.afterConsume(ctx, storeID, t.BalanceAfter)
	return t, nil
}

func consumeTx(ctx context.Context, repos *domain.Repositories, storeID, amount int64, usedFor, reference string, now time.Time) (*domain.DepositTransaction, error) {
	acc, err := repos.Deposits.GetAccount(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if acc.Balance < amount {
		return nil, domain.ErrInsufficientDeposit
	}

	t := &domain.DepositTransaction{
		StoreID:       storeID,
		Reference:     reference,
		Type:          domain.DepositConsumption,
		Amount:        amount,
		BalanceBefore: acc.Balance,
		BalanceAfter:  acc.Balance - amount,
		PaymentMethod: string(domain.PaymentDeposit),
		Status:        domain.DepositTxCompleted,
		Description:   usedFor,
		CreatedAt:     now,
	}
	if err := repos.Deposits.UpdateBalance(ctx, storeID, t.BalanceAfter); err != nil {
		return nil, err
	}
	if err := repos.Deposits.InsertDepositTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// afterConsume не возвращает ошибок: списание уже зафиксировано
func (s *DepositService) afterConsume(ctx context.Context, storeID, balance int64) {
	charged, decision, err := s.EvaluateAutoCharge(ctx, storeID)
	if err != nil {
		s.logger.Error("auto charge evaluation failed", zap.Int64("store_id", storeID), zap.Error(err))
	}
	if charged != nil {
		balance = charged.BalanceAfter
	}

	if balance < s.rules.LowBalanceThreshold {
		s.notify(ctx, domain.Notification{
			Kind:     "deposit_low_balance",
			StoreID:  storeID,
			Title:    "Low deposit balance",
			Message:  fmt.Sprintf("Deposit balance is %d, below the threshold of %d (auto charge: %s)", balance, s.rules.LowBalanceThreshold, decision),
			Priority: "high",
		})
	}
}

func (s *DepositService) notify(ctx context.Context, n domain.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to send notification",
			zap.String("kind", n.Kind),
			zap.Int64("store_id", n.StoreID),
			zap.Error(err),
		)
	}
}

// EvaluateAutoCharge пополняет депозит по правилу магазина, если баланс ниже порога
// и лимиты за день и месяц не превышены. Пополнение не вызывает повторной проверки.
func (s *DepositService) EvaluateAutoCharge(ctx context.Context, storeID int64) (*domain.DepositTransaction, domain.AutoChargeDecision, error) {
	now := s.now()
	var (
		t        *domain.DepositTransaction
		decision domain.AutoChargeDecision
		trigger  int64
	)
	err := s.tx.WithinTx(ctx, domain.Locks{Stores: []int64{storeID}}, func(ctx context.Context, repos *domain.Repositories) error {
		rule, err := repos.Deposits.GetAutoChargeRule(ctx, storeID)
		if errors.Is(err, domain.ErrRuleNotFound) {
			decision = domain.AutoChargeDisabled
			return nil
		}
		if err != nil {
			return err
		}

		acc, err := repos.Deposits.GetAccount(ctx, storeID)
		if err != nil {
			return err
		}
		today, err := repos.Deposits.SumDepositTransactions(ctx, storeID, domain.DepositAutoCharge, domain.DayStart(now))
		if err != nil {
			return err
		}
		month, err := repos.Deposits.SumDepositTransactions(ctx, storeID, domain.DepositAutoCharge, domain.MonthStart(now))
		if err != nil {
			return err
		}

		decision = rule.Evaluate(acc.Balance, today, month)
		trigger = rule.TriggerAmount
		if decision != domain.AutoChargeFire {
			return nil
		}

		t, err = s.chargeTx(ctx, repos, storeID, rule.ChargeAmount, domain.DepositAutoCharge, rule.PaymentMethod, rule.PaymentRef, "auto charge", now)
		if err != nil {
			return err
		}
		return repos.Deposits.TouchAutoChargeRule(ctx, storeID, now)
	})
	if err != nil {
		return nil, "", fmt.Errorf("deposit service: failed to evaluate auto charge of store %d: %w", storeID, err)
	}

	metrics.AutoCharges.WithLabelValues(string(decision)).Inc()
	if t != nil {
		s.logger.Info("deposit auto charged",
			zap.Int64("store_id", storeID),
			zap.Int64("amount", t.Gross()),
			zap.Int64("balance", t.BalanceAfter),
		)
		s.notify(ctx, domain.Notification{
			Kind:     "deposit_auto_charge",
			StoreID:  storeID,
			Title:    "Deposit auto charged",
			Message:  fmt.Sprintf("Deposit balance fell below %d, %d was charged automatically. New balance: %d", trigger, t.Gross(), t.BalanceAfter),
			Priority: "high",
		})
	}
	return t, decision, nil
}

// RunAutoCharges проверяет правила всех магазинов с балансом ниже порога
func (s *DepositService) RunAutoCharges(ctx context.Context) (int, error) {
	storeIDs, err := s.repos.Deposits.ListAutoChargeCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("deposit service: failed to list auto charge candidates: %w", err)
	}

	fired := 0
	var errs []error
	for _, storeID := range storeIDs {
		t, _, err := s.EvaluateAutoCharge(ctx, storeID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t != nil {
			fired++
		}
	}
	return fired, errors.Join(errs...)
}

// SetupAutoCharge включает или обновляет правило автопополнения
func (s *DepositService) SetupAutoCharge(ctx context.Context, rule *domain.AutoChargeRule) error {
	if rule.TriggerAmount <= 0 || rule.DailyCap < 0 || rule.MonthlyCap < 0 {
		return domain.ErrInvalidInput
	}
	if rule.ChargeAmount < s.rules.MinCharge || rule.ChargeAmount > s.rules.MaxCharge {
		return domain.ErrInvalidAmount
	}
	if rule.PaymentMethod == "" {
		rule.PaymentMethod = string(domain.PaymentCard)
	}
	rule.Enabled = true

	if _, err := s.repos.Stores.GetStore(ctx, rule.StoreID); err != nil {
		return fmt.Errorf("deposit service: failed to get store %d: %w", rule.StoreID, err)
	}

	err := s.tx.WithinTx(ctx, domain.Locks{Stores: []int64{rule.StoreID}}, func(ctx context.Context, repos *domain.Repositories) error {
		return repos.Deposits.UpsertAutoChargeRule(ctx, rule)
	})
	if err != nil {
		return fmt.Errorf("deposit service: failed to save auto charge rule of store %d: %w", rule.StoreID, err)
	}
	return nil
}

// DisableAutoCharge выключает правило автопополнения
func (s *DepositService) DisableAutoCharge(ctx context.Context, storeID int64) error {
	err := s.tx.WithinTx(ctx, domain.Locks{Stores: []int64{storeID}}, func(ctx context.Context, repos *domain.Repositories) error {
		rule, err := repos.Deposits.GetAutoChargeRule(ctx, storeID)
		if err != nil {
			return err
		}
		rule.Enabled = false
		return repos.Deposits.UpsertAutoChargeRule(ctx, rule)
	})
	if err != nil {
		return fmt.Errorf("deposit service: failed to disable auto charge of store %d: %w", storeID, err)
	}
	return nil
}

// Summary возвращает сводку по депозиту магазина за текущий месяц
func (s *DepositService) Summary(ctx context.Context, storeID int64) (*domain.DepositSummary, error) {
	if _, err := s.repos.Stores.GetStore(ctx, storeID); err != nil {
		return nil, fmt.Errorf("deposit service: failed to get store %d: %w", storeID, err)
	}

	acc, err := s.repos.Deposits.GetAccount(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("deposit service: failed to get account of store %d: %w", storeID, err)
	}
	recent, err := s.repos.Deposits.ListDepositTransactions(ctx, storeID, s.rules.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("deposit service: failed to list transactions of store %d: %w", storeID, err)
	}

	since := domain.MonthStart(s.now())
	summary := &domain.DepositSummary{Account: acc, Recent: recent}
	for _, txType := range []domain.DepositTxType{domain.DepositCharge, domain.DepositAutoCharge} {
		sum, err := s.repos.Deposits.SumDepositTransactions(ctx, storeID, txType, since)
		if err != nil {
			return nil, fmt.Errorf("deposit service: failed to sum %s of store %d: %w", txType, storeID, err)
		}
		summary.MonthCharged += sum
	}
	if summary.MonthConsumed, err = s.repos.Deposits.SumDepositTransactions(ctx, storeID, domain.DepositConsumption, since); err != nil {
		return nil, fmt.Errorf("deposit service: failed to sum consumption of store %d: %w", storeID, err)
	}
	if summary.MonthFees, err = s.repos.Deposits.SumDepositFees(ctx, storeID, since); err != nil {
		return nil, fmt.Errorf("deposit service: failed to sum fees of store %d: %w", storeID, err)
	}

	rule, err := s.repos.Deposits.GetAutoChargeRule(ctx, storeID)
	switch {
	case err == nil:
		summary.AutoChargeRule = rule
	case !errors.Is(err, domain.ErrRuleNotFound):
		return nil, fmt.Errorf("deposit service: failed to get auto charge rule of store %d: %w", storeID, err)
	}

	return summary, nil
}

// RefundConsumption возвращает на депозит ранее списанную сумму.
// Возврат получает собственный reference, связь с исходной операцией хранится в PaymentRef.
// Повторный возврат той же операции отклоняется с ErrAlreadyRefunded.
func (s *DepositService) RefundConsumption(ctx context.Context, storeID, depositTxID int64, reason string) (*domain.DepositTransaction, error) {
	now := s.now()
	var refund *domain.DepositTransaction
	err := s.tx.WithinTx(ctx, domain.Locks{Stores: []int64{storeID}}, func(ctx context.Context, repos *domain.Repositories) error {
		original, err := repos.Deposits.GetDepositTransaction(ctx, depositTxID)
		if err != nil {
			return err
		}
		if original.StoreID != storeID || original.Type != domain.DepositConsumption {
			return domain.ErrInvalidInput
		}

		acc, err := repos.Deposits.GetAccount(ctx, storeID)
		if err != nil {
			return err
		}
		refund = &domain.DepositTransaction{
			StoreID:       storeID,
			Reference:     "REF-" + ksuid.New().String(),
			Type:          domain.DepositRefund,
			Amount:        original.Amount,
			BalanceBefore: acc.Balance,
			BalanceAfter:  acc.Balance + original.Amount,
			PaymentMethod: string(domain.PaymentDeposit),
			PaymentRef:    fmt.Sprintf("deposit_tx:%d", original.ID),
			Status:        domain.DepositTxCompleted,
			Description:   reason,
			CreatedAt:     now,
		}
		if err := repos.Deposits.UpdateBalance(ctx, storeID, refund.BalanceAfter); err != nil {
			return err
		}
		return repos.Deposits.InsertDepositTransaction(ctx, refund)
	})
	if err != nil {
		return nil, fmt.Errorf("deposit service: failed to refund deposit transaction %d: %w", depositTxID, err)
	}
	return refund, nil
}
