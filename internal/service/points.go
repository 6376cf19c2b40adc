package service

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultLotExpiryMonths = 6
	defaultExpiringWindow  = 30 * 24 * time.Hour
	defaultHistoryPage     = 50
	sweepBatchSize         = 500
)

// movement описывает одно изменение баланса пользователя
type movement struct {
	UserID      int64
	StoreID     *int64
	Amount      int64
	Kind        domain.EntryKind
	Reference   string
	Description string
}

// credit выпускает новую партию и пишет запись журнала.
// Вызывается внутри единицы работы, удерживающей блокировку пользователя.
func credit(ctx context.Context, repos *domain.Repositories, m movement, expiresAt, now time.Time) (*domain.PointLot, *domain.LedgerEntry, error) {
	if m.Amount <= 0 {
		return nil, nil, domain.ErrInvalidAmount
	}

	lots, err := repos.Points.ActiveLots(ctx, m.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load lots of user %d: %w", m.UserID, err)
	}
	before := domain.SumLots(lots)

	lot := &domain.PointLot{
		UserID:    m.UserID,
		Quantity:  m.Amount,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		SourceRef: m.Reference,
	}
	if err := repos.Points.InsertLot(ctx, lot); err != nil {
		return nil, nil, fmt.Errorf("failed to insert lot for user %d: %w", m.UserID, err)
	}

	entry := &domain.LedgerEntry{
		UserID:        m.UserID,
		StoreID:       m.StoreID,
		Delta:         m.Amount,
		Kind:          m.Kind,
		BalanceBefore: before,
		BalanceAfter:  before + m.Amount,
		ReferenceID:   m.Reference,
		Description:   m.Description,
		CreatedAt:     now,
	}
	if err := repos.Ledger.AppendEntry(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("failed to append ledger entry for user %d: %w", m.UserID, err)
	}

	return lot, entry, nil
}

// consume списывает баллы из партий с ближайшим сроком и пишет запись журнала.
// Вызывается внутри единицы работы, удерживающей блокировку пользователя.
func consume(ctx context.Context, repos *domain.Repositories, m movement, now time.Time) (*domain.ConsumptionPlan, error) {
	lots, err := repos.Points.ActiveLots(ctx, m.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lots of user %d: %w", m.UserID, err)
	}

	draws, err := domain.PlanConsumption(lots, m.Amount, now)
	if err != nil {
		return nil, err
	}
	before := domain.SumLots(lots)

	for _, d := range draws {
		if err := repos.Points.UpdateLotQuantity(ctx, d.LotID, d.Remaining); err != nil {
			return nil, fmt.Errorf("failed to update lot %d: %w", d.LotID, err)
		}
	}

	entry := &domain.LedgerEntry{
		UserID:        m.UserID,
		StoreID:       m.StoreID,
		Delta:         -m.Amount,
		Kind:          m.Kind,
		BalanceBefore: before,
		BalanceAfter:  before - m.Amount,
		ReferenceID:   m.Reference,
		Description:   m.Description,
		CreatedAt:     now,
	}
	if err := repos.Ledger.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry for user %d: %w", m.UserID, err)
	}

	return &domain.ConsumptionPlan{UserID: m.UserID, Total: m.Amount, Draws: draws, Entry: entry}, nil
}

// PointService управляет партиями баллов пользователей
type PointService struct {
	tx     domain.TxManager
	repos  *domain.Repositories
	logger *zap.Logger
	now    func() time.Time

	expiryMonths   int
	expiringWindow time.Duration
	pageSize       int
}

// NewPointService создает новый PointService
func NewPointService(tx domain.TxManager, repos *domain.Repositories, logger *zap.Logger, expiryMonths int) *PointService {
	if expiryMonths <= 0 {
		expiryMonths = defaultLotExpiryMonths
	}
	return &PointService{
		tx:             tx,
		repos:          repos,
		logger:         logger,
		now:            time.Now,
		expiryMonths:   expiryMonths,
		expiringWindow: defaultExpiringWindow,
		pageSize:       defaultHistoryPage,
	}
}

// Credit начисляет баллы новой партией. Если expiryMonths не положителен, используется срок по умолчанию.
func (s *PointService) Credit(ctx context.Context, userID, amount int64, expiryMonths int, reason string) (*domain.PointLot, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if expiryMonths <= 0 {
		expiryMonths = s.expiryMonths
	}

	now := s.now()
	var lot *domain.PointLot
	err := s.tx.WithinTx(ctx, domain.Locks{Users: []int64{userID}}, func(ctx context.Context, repos *domain.Repositories) error {
		if _, err := repos.Users.GetUserByID(ctx, userID); err != nil {
			return err
		}
		var err error
		lot, _, err = credit(ctx, repos, movement{
			UserID:      userID,
			Amount:      amount,
			Kind:        domain.EntryGrant,
			Reference:   reason,
			Description: reason,
		}, now.AddDate(0, expiryMonths, 0), now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("point service: failed to credit user %d: %w", userID, err)
	}

	metrics.PointsMoved.WithLabelValues(string(domain.EntryGrant)).Add(float64(amount))
	return lot, nil
}

// Consume списывает баллы пользователя целиком или не списывает вовсе
func (s *PointService) Consume(ctx context.Context, userID, amount int64, reason string) (*domain.ConsumptionPlan, error) {
	return s.consume(ctx, movement{
		UserID:      userID,
		Amount:      amount,
		Kind:        domain.EntryPayment,
		Reference:   reason,
		Description: reason,
	})
}

// Spend оплачивает покупку в магазине баллами
func (s *PointService) Spend(ctx context.Context, userID, storeID, amount int64, reference string) (*domain.ConsumptionPlan, error) {
	store, err := s.repos.Stores.GetStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("point service: failed to get store %d: %w", storeID, err)
	}
	if !store.Active {
		return nil, domain.ErrStoreInactive
	}

	return s.consume(ctx, movement{
		UserID:      userID,
		StoreID:     &storeID,
		Amount:      amount,
		Kind:        domain.EntryPayment,
		Reference:   reference,
		Description: "payment at " + store.Name,
	})
}

func (s *PointService) consume(ctx context.Context, m movement) (*domain.ConsumptionPlan, error) {
	if m.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.now()
	var plan *domain.ConsumptionPlan
	err := s.tx.WithinTx(ctx, domain.Locks{Users: []int64{m.UserID}}, func(ctx context.Context, repos *domain.Repositories) error {
		var err error
		plan, err = consume(ctx, repos, m, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("point service: failed to consume %d points of user %d: %w", m.Amount, m.UserID, err)
	}

	metrics.PointsMoved.WithLabelValues(string(m.Kind)).Add(float64(m.Amount))
	return plan, nil
}

// Balance возвращает баланс пользователя и его активные партии
func (s *PointService) Balance(ctx context.Context, userID int64) (*domain.Balance, error) {
	lots, err := s.repos.Points.ActiveLots(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("point service: failed to load lots of user %d: %w", userID, err)
	}

	now := s.now()
	soon := now.Add(s.expiringWindow)
	balance := &domain.Balance{
		Current:   domain.SumLots(lots),
		Available: domain.AvailableAt(lots, now),
		Lots:      lots,
	}
	for _, lot := range lots {
		if lot.ExpiresAt.After(now) && !lot.ExpiresAt.After(soon) {
			balance.ExpiringSoon += lot.Quantity
		}
	}
	if balance.Lots == nil {
		balance.Lots = []*domain.PointLot{}
	}

	return balance, nil
}

// History возвращает журнал пользователя от новых записей к старым.
// Страницы подгружаются по мере обхода, каждый обход начинается с самой новой записи.
func (s *PointService) History(ctx context.Context, userID int64, rng domain.TimeRange) iter.Seq2[*domain.LedgerEntry, error] {
	return func(yield func(*domain.LedgerEntry, error) bool) {
		var after *domain.LedgerEntry
		for {
			page, err := s.repos.Ledger.ListEntries(ctx, userID, rng, after, s.pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("point service: failed to list ledger of user %d: %w", userID, err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1]
		}
	}
}

// DueForExpiry возвращает партии с истекшим сроком без изменения данных
func (s *PointService) DueForExpiry(ctx context.Context, now time.Time, limit int) ([]*domain.PointLot, error) {
	lots, err := s.repos.Points.DueForExpiry(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("point service: failed to list lots due for expiry: %w", err)
	}
	return lots, nil
}

// SweepExpired списывает остатки просроченных партий и возвращает их количество.
// Повторный запуск не меняет уже обработанные партии.
func (s *PointService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		due, err := s.repos.Points.DueForExpiry(ctx, now, sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("point service: failed to list lots due for expiry: %w", err)
		}

		progress := 0
		for _, lot := range due {
			expired, err := s.expireLot(ctx, lot, now)
			if err != nil {
				return total, err
			}
			if expired {
				progress++
			}
		}
		total += progress

		if len(due) < sweepBatchSize || progress == 0 {
			break
		}
	}

	if total > 0 {
		metrics.LotsExpired.Add(float64(total))
		s.logger.Info("expired point lots", zap.Int("count", total))
	}
	return total, nil
}

func (s *PointService) expireLot(ctx context.Context, due *domain.PointLot, now time.Time) (bool, error) {
	expired := false
	err := s.tx.WithinTx(ctx, domain.Locks{Users: []int64{due.UserID}}, func(ctx context.Context, repos *domain.Repositories) error {
		lots, err := repos.Points.ActiveLots(ctx, due.UserID)
		if err != nil {
			return fmt.Errorf("failed to load lots of user %d: %w", due.UserID, err)
		}
		var quantity int64
		for _, lot := range lots {
			if lot.ID == due.ID {
				quantity = lot.Quantity
			}
		}
		before := domain.SumLots(lots)

		ok, err := repos.Points.MarkLotExpired(ctx, due.ID)
		if err != nil {
			return fmt.Errorf("failed to mark lot %d expired: %w", due.ID, err)
		}
		if !ok {
			return nil
		}
		expired = true
		if quantity == 0 {
			return nil
		}

		return repos.Ledger.AppendEntry(ctx, &domain.LedgerEntry{
			UserID:        due.UserID,
			Delta:         -quantity,
			Kind:          domain.EntryExpire,
			BalanceBefore: before,
			BalanceAfter:  before - quantity,
			ReferenceID:   fmt.Sprintf("lot:%d", due.ID),
			Description:   "points expired",
			CreatedAt:     now,
		})
	})
	if err != nil {
		return false, fmt.Errorf("point service: failed to expire lot %d: %w", due.ID, err)
	}
	return expired, nil
}
