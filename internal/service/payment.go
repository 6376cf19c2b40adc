package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/metrics"
	"go.uber.org/zap"
)

// PaymentProcessor оплачивает начисленные баллы за счет магазина:
// сначала картой через шлюз, при отказе с депозита.
type PaymentProcessor struct {
	gateway  PaymentGateway
	deposits *DepositService
	currency string
	logger   *zap.Logger
}

// NewPaymentProcessor создает новый PaymentProcessor
func NewPaymentProcessor(gateway PaymentGateway, deposits *DepositService, currency string, logger *zap.Logger) *PaymentProcessor {
	return &PaymentProcessor{
		gateway:  gateway,
		deposits: deposits,
		currency: currency,
		logger:   logger,
	}
}

// Pay проводит оплату заявки. Вызывается вне транзакции базы данных.
func (p *PaymentProcessor) Pay(ctx context.Context, store *domain.Store, claim *domain.Claim) domain.PaymentResult {
	reference := fmt.Sprintf("claim:%d", claim.ID)
	failure := domain.PaymentFailure{}

	if store.CardPaymentEnabled {
		resp, err := p.gateway.InitiatePayment(ctx, PaymentRequest{
			StoreID:     store.ID,
			Amount:      claim.PointsToAward,
			Currency:    p.currency,
			Reference:   reference,
			Description: fmt.Sprintf("points for order %s", claim.ExternalOrderID),
		})
		if err == nil {
			metrics.Payments.WithLabelValues(string(domain.PaymentCard), "success").Inc()
			return domain.CardPayment{PaymentID: resp.PaymentID, Amount: claim.PointsToAward, Attempts: resp.Attempts}
		}
		metrics.Payments.WithLabelValues(string(domain.PaymentCard), "failure").Inc()
		p.logger.Warn("card payment failed, falling back to deposit",
			zap.Int64("claim_id", claim.ID),
			zap.Int64("store_id", store.ID),
			zap.Error(err),
		)
		failure.CardErr = err
	}

	t, err := p.deposits.Consume(ctx, store.ID, claim.PointsToAward, "points for "+reference, reference)
	if err != nil {
		metrics.Payments.WithLabelValues(string(domain.PaymentDeposit), "failure").Inc()
		failure.DepositErr = err
		return failure
	}

	metrics.Payments.WithLabelValues(string(domain.PaymentDeposit), "success").Inc()
	return domain.DepositPayment{Transaction: t}
}

// Refund отменяет оплату, зафиксированную в элементе очереди сверки
func (p *PaymentProcessor) Refund(ctx context.Context, storeID int64, item *domain.ReconciliationItem) error {
	switch item.PaymentMethod {
	case domain.PaymentCard:
		if err := p.gateway.Refund(ctx, item.PaymentRef, item.Amount); err != nil {
			return fmt.Errorf("payment processor: failed to refund card payment %s: %w", item.PaymentRef, err)
		}
		return nil

	case domain.PaymentDeposit:
		if item.DepositTxID == nil {
			return errors.New("payment processor: reconciliation item has no deposit transaction")
		}
		if _, err := p.deposits.RefundConsumption(ctx, storeID, *item.DepositTxID, fmt.Sprintf("reconciliation:%d", item.ID)); err != nil {
			return fmt.Errorf("payment processor: %w", err)
		}
		return nil
	}

	return fmt.Errorf("payment processor: unknown payment method %q", item.PaymentMethod)
}
