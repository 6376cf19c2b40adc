package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/metrics"
	"go.uber.org/zap"
)

// ClaimRules задает правила начисления баллов по заявкам
type ClaimRules struct {
	PointsDivisor   int64 `toml:"points_divisor"`
	LotExpiryMonths int   `toml:"lot_expiry_months"`
}

// DefaultClaimRules возвращает правила по умолчанию: 1 балл за каждые 100 единиц суммы
func DefaultClaimRules() ClaimRules {
	return ClaimRules{PointsDivisor: 100, LotExpiryMonths: defaultLotExpiryMonths}
}

// Limiter ограничивает частоту операций по ключу
type Limiter interface {
	Allow(key string, limit int, window time.Duration) bool
}

// ClaimInput описывает заявку на начисление баллов за покупку
type ClaimInput struct {
	UserID      int64
	StoreID     int64
	Amount      float64
	OrderID     string
	PurchasedAt time.Time
	IPAddress   string
	UserAgent   string
}

// WebhookPurchase описывает покупку, о которой сообщил магазин
type WebhookPurchase struct {
	UserID      int64
	OrderID     string
	Amount      float64
	PurchasedAt time.Time
}

// ClaimService проводит заявки от подачи до начисления баллов
type ClaimService struct {
	tx       domain.TxManager
	repos    *domain.Repositories
	detector *DuplicateDetector
	payments *PaymentProcessor
	stores   *StoreService
	limiter  Limiter
	notifier Notifier
	logger   *zap.Logger
	rules    ClaimRules
	now      func() time.Time
}

// NewClaimService создает новый ClaimService
func NewClaimService(
	tx domain.TxManager,
	repos *domain.Repositories,
	detector *DuplicateDetector,
	payments *PaymentProcessor,
	stores *StoreService,
	limiter Limiter,
	notifier Notifier,
	logger *zap.Logger,
	rules ClaimRules,
) *ClaimService {
	if rules.PointsDivisor <= 0 {
		rules.PointsDivisor = DefaultClaimRules().PointsDivisor
	}
	if rules.LotExpiryMonths <= 0 {
		rules.LotExpiryMonths = defaultLotExpiryMonths
	}
	return &ClaimService{
		tx:       tx,
		repos:    repos,
		detector: detector,
		payments: payments,
		stores:   stores,
		limiter:  limiter,
		notifier: notifier,
		logger:   logger,
		rules:    rules,
		now:      time.Now,
	}
}

// Submit принимает заявку по чеку. Находки детектора сохраняются вместе с заявкой.
// Если по заказу уже есть активная заявка, она возвращается вместе с ErrDuplicateOrder.
func (s *ClaimService) Submit(ctx context.Context, in ClaimInput) (*domain.Claim, []*domain.DuplicateFinding, error) {
	return s.submit(ctx, in, domain.ClaimSourceReceipt)
}

func (s *ClaimService) submit(ctx context.Context, in ClaimInput, source domain.ClaimSource) (*domain.Claim, []*domain.DuplicateFinding, error) {
	now := s.now()
	in.OrderID = strings.TrimSpace(in.OrderID)
	if in.OrderID == "" || in.PurchasedAt.IsZero() || in.PurchasedAt.After(now.Add(5*time.Minute)) {
		return nil, nil, domain.ErrInvalidInput
	}
	if !domain.ValidAmount(in.Amount) {
		return nil, nil, domain.ErrInvalidAmount
	}

	store, err := s.repos.Stores.GetStore(ctx, in.StoreID)
	if err != nil {
		return nil, nil, fmt.Errorf("claim service: failed to get store %d: %w", in.StoreID, err)
	}
	if !store.Active {
		return nil, nil, domain.ErrStoreInactive
	}

	points := domain.PointsFor(in.Amount, s.rules.PointsDivisor)
	if points == 0 {
		return nil, nil, domain.ErrInvalidAmount
	}

	claim := &domain.Claim{
		UserID:          in.UserID,
		StoreID:         in.StoreID,
		Source:          source,
		Amount:          in.Amount,
		ExternalOrderID: in.OrderID,
		PurchasedAt:     in.PurchasedAt,
		RequestHash:     domain.RequestHash(in.UserID, in.StoreID, in.OrderID, in.Amount, in.PurchasedAt),
		Status:          domain.ClaimPending,
		PointsToAward:   points,
		IPAddress:       in.IPAddress,
		UserAgent:       in.UserAgent,
		CreatedAt:       now,
	}

	findings, err := s.detector.Detect(ctx, claim)
	if err != nil {
		s.logger.Warn("duplicate detection failed, accepting claim without findings",
			zap.String("order_id", in.OrderID),
			zap.Error(err),
		)
		findings = nil
	}

	stored := make([]*domain.DuplicateFinding, 0, len(findings))
	err = s.tx.WithinTx(ctx, domain.Locks{}, func(ctx context.Context, repos *domain.Repositories) error {
		if err := repos.Claims.CreateClaim(ctx, claim); err != nil {
			return err
		}
		for _, f := range findings {
			// Совпадение номера заказа отсекается уникальным индексом и не сохраняется
			if f.Type == domain.FindingOrderID {
				continue
			}
			f.ClaimID = claim.ID
			f.CreatedAt = now
			if err := repos.Claims.InsertFinding(ctx, f); err != nil {
				return err
			}
			stored = append(stored, f)
		}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateOrder) {
		existing, getErr := s.repos.Claims.GetActiveClaimByOrderID(ctx, in.OrderID)
		if getErr != nil {
			return nil, nil, fmt.Errorf("claim service: failed to get claim for order %q: %w", in.OrderID, errors.Join(err, getErr))
		}
		return existing, nil, domain.ErrDuplicateOrder
	}
	if err != nil {
		return nil, nil, fmt.Errorf("claim service: failed to create claim for order %q: %w", in.OrderID, err)
	}

	metrics.ClaimsSubmitted.WithLabelValues(string(source)).Inc()
	for _, f := range stored {
		metrics.DuplicateFindings.WithLabelValues(string(f.Type), string(f.Severity)).Inc()
	}
	s.logger.Info("claim submitted",
		zap.Int64("claim_id", claim.ID),
		zap.Int64("user_id", claim.UserID),
		zap.Int64("store_id", claim.StoreID),
		zap.String("source", string(source)),
		zap.Int("findings", len(stored)),
	)

	s.notify(ctx, domain.Notification{
		Kind:     "claim_approval_request",
		StoreID:  claim.StoreID,
		Title:    "New purchase claim",
		Message:  fmt.Sprintf("Claim %d for order %s (%d points) is waiting for approval", claim.ID, claim.ExternalOrderID, claim.PointsToAward),
		Priority: "high",
	})
	for _, f := range stored {
		if f.Severity != domain.SeverityHigh && f.Severity != domain.SeverityCritical {
			continue
		}
		s.notify(ctx, domain.Notification{
			Kind:     "admin_alert",
			StoreID:  claim.StoreID,
			Title:    "Suspicious claim",
			Message:  fmt.Sprintf("Finding %s (%s) on claim %d of user %d in store %d", f.Type, f.Severity, claim.ID, claim.UserID, claim.StoreID),
			Priority: "urgent",
		})
	}
	return claim, stored, nil
}

// IngestWebhook принимает уведомление магазина о покупке.
// Повторное уведомление о том же заказе того же пользователя возвращает уже созданную заявку.
func (s *ClaimService) IngestWebhook(ctx context.Context, apiKey string, p WebhookPurchase, ip, userAgent string) (*domain.Claim, error) {
	key, err := s.repos.Stores.GetWebhookKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, domain.ErrWebhookKeyInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("claim service: failed to check webhook key: %w", err)
	}
	if s.limiter != nil && !s.limiter.Allow(fmt.Sprintf("webhook_key:%d", key.ID), key.RateLimitPerMinute, time.Minute) {
		metrics.RateLimited.WithLabelValues("webhook_key").Inc()
		return nil, domain.ErrRateLimited
	}
	if err := s.repos.Stores.TouchWebhookKey(ctx, key.ID, s.now()); err != nil {
		s.logger.Warn("failed to touch webhook key", zap.Int64("key_id", key.ID), zap.Error(err))
	}

	if _, err := s.repos.Users.GetUserByID(ctx, p.UserID); err != nil {
		return nil, fmt.Errorf("claim service: failed to get user %d: %w", p.UserID, err)
	}

	claim, _, err := s.submit(ctx, ClaimInput{
		UserID:      p.UserID,
		StoreID:     key.StoreID,
		Amount:      p.Amount,
		OrderID:     p.OrderID,
		PurchasedAt: p.PurchasedAt,
		IPAddress:   ip,
		UserAgent:   userAgent,
	}, domain.ClaimSourceWebhook)
	if errors.Is(err, domain.ErrDuplicateOrder) && claim != nil &&
		claim.StoreID == key.StoreID && claim.UserID == p.UserID {
		return claim, nil
	}
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// Approve одобряет заявку, оплачивает баллы за счет магазина и начисляет их пользователю.
// Оплата выполняется вне транзакции и не зависит от отмены ctx. Если оплата прошла, а начисление нет,
// заявка переходит в failed и попадает в очередь сверки.
func (s *ClaimService) Approve(ctx context.Context, actor Actor, claimID int64) (*domain.Claim, error) {
	claim, err := s.repos.Claims.GetClaim(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("claim service: failed to get claim %d: %w", claimID, err)
	}
	if err := s.stores.Authorize(ctx, actor, claim.StoreID); err != nil {
		return nil, err
	}
	if !claim.Status.CanTransition(domain.ClaimApproved) {
		return nil, domain.ErrInvalidStateTransition
	}

	store, err := s.repos.Stores.GetStore(ctx, claim.StoreID)
	if err != nil {
		return nil, fmt.Errorf("claim service: failed to get store %d: %w", claim.StoreID, err)
	}

	now := s.now()
	approved := *claim
	approved.Status = domain.ClaimApproved
	approved.ApprovedAt = &now
	approved.ProcessedBy = &actor.ID
	if err := s.repos.Claims.UpdateClaim(ctx, &approved, domain.ClaimPending); err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("claim service: failed to approve claim %d: %w", claimID, err)
	}
	metrics.ClaimTransitions.WithLabelValues(string(domain.ClaimApproved)).Inc()

	// Одобренная заявка доводится до конца даже при отмене запроса
	ctx = context.WithoutCancel(ctx)

	switch r := s.payments.Pay(ctx, store, &approved).(type) {
	case domain.CardPayment:
		approved.PaymentMethod = domain.PaymentCard
		approved.PaymentReference = r.PaymentID
	case domain.DepositPayment:
		approved.PaymentMethod = domain.PaymentDeposit
		approved.PaymentReference = r.Transaction.Reference
		approved.DepositTxID = &r.Transaction.ID
	case domain.PaymentFailure:
		reverted := *claim
		if err := s.repos.Claims.UpdateClaim(ctx, &reverted, domain.ClaimApproved); err != nil {
			s.logger.Error("failed to return claim to pending", zap.Int64("claim_id", claimID), zap.Error(err))
		}
		metrics.ClaimTransitions.WithLabelValues(string(domain.ClaimPending)).Inc()
		s.logger.Warn("claim payment failed", zap.Int64("claim_id", claimID), zap.Error(r))
		s.notify(ctx, domain.Notification{
			Kind:     "payment_failure",
			StoreID:  claim.StoreID,
			Title:    "Claim payment failed",
			Message:  fmt.Sprintf("Claim %d (%d points) could not be paid: %v", claimID, claim.PointsToAward, r),
			Priority: "high",
		})
		return nil, fmt.Errorf("claim service: claim %d: %w", claimID, r)
	}

	completed, err := s.settle(ctx, &approved)
	if err != nil {
		return s.enqueueReconciliation(ctx, &approved, err)
	}

	metrics.ClaimTransitions.WithLabelValues(string(domain.ClaimCompleted)).Inc()
	metrics.PointsMoved.WithLabelValues(string(domain.EntryGrant)).Add(float64(completed.PointsAwarded))
	s.notify(ctx, domain.Notification{
		Kind:     "claim_completed",
		UserID:   completed.UserID,
		Title:    "Points awarded",
		Message:  fmt.Sprintf("%d points were added for order %s", completed.PointsAwarded, completed.ExternalOrderID),
		Priority: "normal",
	})
	return completed, nil
}

// settle начисляет баллы и завершает заявку в одной единице работы
func (s *ClaimService) settle(ctx context.Context, approved *domain.Claim) (*domain.Claim, error) {
	now := s.now()
	completed := *approved
	completed.Status = domain.ClaimCompleted
	completed.PointsAwarded = approved.PointsToAward
	completed.CompletedAt = &now

	err := s.tx.WithinTx(ctx, domain.Locks{Users: []int64{approved.UserID}}, func(ctx context.Context, repos *domain.Repositories) error {
		storeID := approved.StoreID
		if _, _, err := credit(ctx, repos, movement{
			UserID:      approved.UserID,
			StoreID:     &storeID,
			Amount:      approved.PointsToAward,
			Kind:        domain.EntryGrant,
			Reference:   fmt.Sprintf("claim:%d", approved.ID),
			Description: "purchase order " + approved.ExternalOrderID,
		}, now.AddDate(0, s.rules.LotExpiryMonths, 0), now); err != nil {
			return err
		}
		return repos.Claims.UpdateClaim(ctx, &completed, domain.ClaimApproved)
	})
	if err != nil {
		return nil, err
	}
	return &completed, nil
}

func (s *ClaimService) enqueueReconciliation(ctx context.Context, approved *domain.Claim, cause error) (*domain.Claim, error) {
	now := s.now()
	failed := *approved
	failed.Status = domain.ClaimFailed
	if err := s.repos.Claims.UpdateClaim(ctx, &failed, domain.ClaimApproved); err != nil {
		s.logger.Error("failed to mark claim failed", zap.Int64("claim_id", approved.ID), zap.Error(err))
	}

	item := &domain.ReconciliationItem{
		ClaimID:       approved.ID,
		PaymentMethod: approved.PaymentMethod,
		PaymentRef:    approved.PaymentReference,
		DepositTxID:   approved.DepositTxID,
		Amount:        approved.PointsToAward,
		Error:         cause.Error(),
		CreatedAt:     now,
	}
	if err := s.repos.Claims.InsertReconciliation(ctx, item); err != nil {
		s.logger.Error("failed to enqueue reconciliation", zap.Int64("claim_id", approved.ID), zap.Error(err))
	}

	metrics.ClaimTransitions.WithLabelValues(string(domain.ClaimFailed)).Inc()
	metrics.ReconciliationEnqueued.Inc()
	s.logger.Error("claim paid but points not granted",
		zap.Int64("claim_id", approved.ID),
		zap.String("payment_method", string(approved.PaymentMethod)),
		zap.String("payment_reference", approved.PaymentReference),
		zap.Int64("amount", approved.PointsToAward),
		zap.Error(cause),
	)
	return &failed, fmt.Errorf("claim service: claim %d: %w: %w", approved.ID, domain.ErrReconciliationRequired, cause)
}

// Reject отклоняет ожидающую заявку с указанием причины
func (s *ClaimService) Reject(ctx context.Context, actor Actor, claimID int64, reason string) (*domain.Claim, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.ErrInvalidInput
	}

	claim, err := s.repos.Claims.GetClaim(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("claim service: failed to get claim %d: %w", claimID, err)
	}
	if err := s.stores.Authorize(ctx, actor, claim.StoreID); err != nil {
		return nil, err
	}
	if !claim.Status.CanTransition(domain.ClaimRejected) {
		return nil, domain.ErrInvalidStateTransition
	}

	rejected := *claim
	rejected.Status = domain.ClaimRejected
	rejected.RejectionReason = reason
	rejected.ProcessedBy = &actor.ID
	if err := s.repos.Claims.UpdateClaim(ctx, &rejected, domain.ClaimPending); err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("claim service: failed to reject claim %d: %w", claimID, err)
	}

	metrics.ClaimTransitions.WithLabelValues(string(domain.ClaimRejected)).Inc()
	s.notify(ctx, domain.Notification{
		Kind:     "claim_rejected",
		UserID:   rejected.UserID,
		Title:    "Claim rejected",
		Message:  fmt.Sprintf("Claim for order %s was rejected: %s", rejected.ExternalOrderID, reason),
		Priority: "normal",
	})
	return &rejected, nil
}

// Get возвращает заявку владельцу, менеджеру магазина или администратору
func (s *ClaimService) Get(ctx context.Context, actor Actor, claimID int64) (*domain.Claim, error) {
	claim, err := s.repos.Claims.GetClaim(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("claim service: failed to get claim %d: %w", claimID, err)
	}
	if claim.UserID == actor.ID {
		return claim, nil
	}
	if err := s.stores.Authorize(ctx, actor, claim.StoreID); err != nil {
		return nil, err
	}
	return claim, nil
}

// List возвращает заявки под фильтр
func (s *ClaimService) List(ctx context.Context, filter domain.ClaimFilter) ([]*domain.Claim, error) {
	claims, err := s.repos.Claims.ListClaims(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("claim service: failed to list claims: %w", err)
	}
	return claims, nil
}

// ListReconciliation возвращает очередь сверки
func (s *ClaimService) ListReconciliation(ctx context.Context, unresolvedOnly bool) ([]*domain.ReconciliationItem, error) {
	items, err := s.repos.Claims.ListReconciliation(ctx, unresolvedOnly)
	if err != nil {
		return nil, fmt.Errorf("claim service: failed to list reconciliation items: %w", err)
	}
	return items, nil
}

// ResolveReconciliation закрывает элемент очереди сверки.
// При refund оплата возвращается магазину через шлюз или на депозит.
func (s *ClaimService) ResolveReconciliation(ctx context.Context, actor Actor, itemID int64, refund bool) error {
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}

	item, err := s.repos.Claims.GetReconciliation(ctx, itemID)
	if err != nil {
		return fmt.Errorf("claim service: failed to get reconciliation item %d: %w", itemID, err)
	}

	// Элемент закрывается до возврата средств: параллельный вызов получит ErrInvalidStateTransition
	if err := s.repos.Claims.ResolveReconciliation(ctx, itemID, actor.ID, s.now()); err != nil {
		return fmt.Errorf("claim service: failed to resolve reconciliation item %d: %w", itemID, err)
	}

	if refund {
		if err := s.refundReconciliation(ctx, item); err != nil {
			if rerr := s.repos.Claims.ReopenReconciliation(context.WithoutCancel(ctx), itemID); rerr != nil {
				s.logger.Error("failed to reopen reconciliation item",
					zap.Int64("item_id", itemID),
					zap.Error(rerr),
				)
			}
			return fmt.Errorf("claim service: %w", err)
		}
	}

	s.logger.Info("reconciliation item resolved",
		zap.Int64("item_id", itemID),
		zap.Int64("resolved_by", actor.ID),
		zap.Bool("refund", refund),
	)
	return nil
}

func (s *ClaimService) refundReconciliation(ctx context.Context, item *domain.ReconciliationItem) error {
	claim, err := s.repos.Claims.GetClaim(ctx, item.ClaimID)
	if err != nil {
		return fmt.Errorf("failed to get claim %d: %w", item.ClaimID, err)
	}
	return s.payments.Refund(ctx, claim.StoreID, item)
}

func (s *ClaimService) notify(ctx context.Context, n domain.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to send notification", zap.String("kind", n.Kind), zap.Error(err))
	}
}
