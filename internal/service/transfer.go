package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"github.com/avc/pointledger/internal/metrics"
	"go.uber.org/zap"
)

// TransferRules задает ограничения переводов между пользователями
type TransferRules struct {
	MinAmount       int64                   `toml:"min_amount"`
	MaxAmount       int64                   `toml:"max_amount"`
	TTL             time.Duration           `toml:"ttl"`
	FeeRates        map[domain.Rank]float64 `toml:"fee_rates"`
	LotExpiryMonths int                     `toml:"lot_expiry_months"`
}

// DefaultTransferRules возвращает ограничения по умолчанию
func DefaultTransferRules() TransferRules {
	return TransferRules{
		MinAmount: 100,
		MaxAmount: 50000,
		TTL:       72 * time.Hour,
		FeeRates: map[domain.Rank]float64{
			domain.RankBronze:   0.10,
			domain.RankSilver:   0.08,
			domain.RankGold:     0.06,
			domain.RankPlatinum: 0.04,
			domain.RankDiamond:  0.02,
		},
		LotExpiryMonths: defaultLotExpiryMonths,
	}
}

// Fee возвращает комиссию за перевод amount для ранга отправителя
func (r TransferRules) Fee(rank domain.Rank, amount int64) int64 {
	rate, ok := r.FeeRates[rank]
	if !ok {
		rate = r.FeeRates[domain.RankBronze]
	}
	return int64(math.Floor(float64(amount) * rate))
}

// TransferService управляет переводами баллов между пользователями
type TransferService struct {
	tx       domain.TxManager
	repos    *domain.Repositories
	notifier Notifier
	logger   *zap.Logger
	rules    TransferRules
	now      func() time.Time
}

// NewTransferService создает новый TransferService
func NewTransferService(tx domain.TxManager, repos *domain.Repositories, notifier Notifier, logger *zap.Logger, rules TransferRules) *TransferService {
	if rules.LotExpiryMonths <= 0 {
		rules.LotExpiryMonths = defaultLotExpiryMonths
	}
	return &TransferService{
		tx:       tx,
		repos:    repos,
		notifier: notifier,
		logger:   logger,
		rules:    rules,
		now:      time.Now,
	}
}

// Create создает перевод в статусе pending. Баллы не резервируются до принятия.
func (s *TransferService) Create(ctx context.Context, senderID, recipientID, amount int64, message string) (*domain.Transfer, error) {
	if senderID == recipientID {
		return nil, domain.ErrSelfTransfer
	}
	if amount < s.rules.MinAmount || amount > s.rules.MaxAmount {
		return nil, domain.ErrInvalidAmount
	}

	sender, err := s.repos.Users.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("transfer service: failed to get sender %d: %w", senderID, err)
	}
	if _, err := s.repos.Users.GetUserByID(ctx, recipientID); err != nil {
		return nil, fmt.Errorf("transfer service: failed to get recipient %d: %w", recipientID, err)
	}

	now := s.now()
	fee := s.rules.Fee(sender.Rank, amount)

	lots, err := s.repos.Points.ActiveLots(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("transfer service: failed to load lots of user %d: %w", senderID, err)
	}
	if domain.AvailableAt(lots, now) < amount+fee {
		return nil, domain.ErrInsufficientBalance
	}

	t := &domain.Transfer{
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      amount,
		Fee:         fee,
		Message:     message,
		Status:      domain.TransferPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.rules.TTL),
	}
	if err := s.repos.Transfers.CreateTransfer(ctx, t); err != nil {
		return nil, fmt.Errorf("transfer service: failed to create transfer: %w", err)
	}

	metrics.Transfers.WithLabelValues(string(domain.TransferPending)).Inc()
	s.notify(ctx, domain.Notification{
		Kind:     "transfer_received",
		UserID:   recipientID,
		Title:    "Points transfer",
		Message:  fmt.Sprintf("%s wants to send you %d points", sender.Login, amount),
		Priority: "normal",
	})
	return t, nil
}

// Accept принимает перевод: списывает сумму и комиссию у отправителя и начисляет сумму получателю.
// Опоздавшее принятие переводит перевод в expired, нехватка баллов - в declined.
func (s *TransferService) Accept(ctx context.Context, transferID, recipientID int64) (*domain.Transfer, error) {
	t, err := s.repos.Transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer service: failed to get transfer %d: %w", transferID, err)
	}
	if t.RecipientID != recipientID {
		return nil, domain.ErrForbidden
	}

	now := s.now()
	var outcome error
	err = s.tx.WithinTx(ctx, domain.Locks{Users: []int64{t.SenderID, t.RecipientID}}, func(ctx context.Context, repos *domain.Repositories) error {
		cur, err := repos.Transfers.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if cur.Status != domain.TransferPending {
			return domain.ErrInvalidStateTransition
		}
		t = cur
		t.ProcessedAt = &now

		if !now.Before(t.ExpiresAt) {
			t.Status = domain.TransferExpired
			outcome = domain.ErrTransferExpired
			return repos.Transfers.UpdateTransferStatus(ctx, t)
		}

		lots, err := repos.Points.ActiveLots(ctx, t.SenderID)
		if err != nil {
			return err
		}
		if domain.AvailableAt(lots, now) < t.Amount+t.Fee {
			t.Status = domain.TransferDeclined
			t.Reason = "insufficient_funds"
			outcome = domain.ErrInsufficientBalance
			return repos.Transfers.UpdateTransferStatus(ctx, t)
		}

		reference := fmt.Sprintf("transfer:%d", t.ID)
		if _, err := consume(ctx, repos, movement{
			UserID:      t.SenderID,
			Amount:      t.Amount,
			Kind:        domain.EntryTransferOut,
			Reference:   reference,
			Description: "transfer sent",
		}, now); err != nil {
			return err
		}
		if t.Fee > 0 {
			if _, err := consume(ctx, repos, movement{
				UserID:      t.SenderID,
				Amount:      t.Fee,
				Kind:        domain.EntryTransferOut,
				Reference:   reference + ":fee",
				Description: "transfer fee",
			}, now); err != nil {
				return err
			}
		}
		if _, _, err := credit(ctx, repos, movement{
			UserID:      t.RecipientID,
			Amount:      t.Amount,
			Kind:        domain.EntryTransferIn,
			Reference:   reference,
			Description: "transfer received",
		}, now.AddDate(0, s.rules.LotExpiryMonths, 0), now); err != nil {
			return err
		}

		t.Status = domain.TransferAccepted
		return repos.Transfers.UpdateTransferStatus(ctx, t)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("transfer service: failed to accept transfer %d: %w", transferID, err)
	}

	metrics.Transfers.WithLabelValues(string(t.Status)).Inc()
	if outcome != nil {
		s.logger.Info("transfer not accepted",
			zap.Int64("transfer_id", t.ID),
			zap.String("status", string(t.Status)),
		)
		return t, outcome
	}

	metrics.PointsMoved.WithLabelValues(string(domain.EntryTransferOut)).Add(float64(t.Amount + t.Fee))
	metrics.PointsMoved.WithLabelValues(string(domain.EntryTransferIn)).Add(float64(t.Amount))
	s.notify(ctx, domain.Notification{
		Kind:     "transfer_accepted",
		UserID:   t.SenderID,
		Title:    "Transfer accepted",
		Message:  fmt.Sprintf("Your transfer of %d points was accepted", t.Amount),
		Priority: "normal",
	})
	return t, nil
}

// Decline отклоняет перевод по решению получателя
func (s *TransferService) Decline(ctx context.Context, transferID, recipientID int64, reason string) (*domain.Transfer, error) {
	t, err := s.repos.Transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer service: failed to get transfer %d: %w", transferID, err)
	}
	if t.RecipientID != recipientID {
		return nil, domain.ErrForbidden
	}

	if err := s.finish(ctx, t, domain.TransferDeclined, reason); err != nil {
		return nil, err
	}
	s.notify(ctx, domain.Notification{
		Kind:     "transfer_declined",
		UserID:   t.SenderID,
		Title:    "Transfer declined",
		Message:  fmt.Sprintf("Your transfer of %d points was declined", t.Amount),
		Priority: "normal",
	})
	return t, nil
}

// Cancel отменяет перевод по решению отправителя
func (s *TransferService) Cancel(ctx context.Context, transferID, senderID int64) (*domain.Transfer, error) {
	t, err := s.repos.Transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("transfer service: failed to get transfer %d: %w", transferID, err)
	}
	if t.SenderID != senderID {
		return nil, domain.ErrForbidden
	}

	if err := s.finish(ctx, t, domain.TransferCancelled, "cancelled by sender"); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TransferService) finish(ctx context.Context, t *domain.Transfer, status domain.TransferStatus, reason string) error {
	if t.Status != domain.TransferPending {
		return domain.ErrInvalidStateTransition
	}

	now := s.now()
	t.Status = status
	t.Reason = reason
	t.ProcessedAt = &now
	if err := s.repos.Transfers.UpdateTransferStatus(ctx, t); err != nil {
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			return err
		}
		return fmt.Errorf("transfer service: failed to update transfer %d: %w", t.ID, err)
	}

	metrics.Transfers.WithLabelValues(string(status)).Inc()
	return nil
}

// ExpireSweep переводит просроченные ожидающие переводы в expired и возвращает их количество
func (s *TransferService) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		pending, err := s.repos.Transfers.ListExpiredPending(ctx, now, sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("transfer service: failed to list expired transfers: %w", err)
		}

		progress := 0
		for _, t := range pending {
			t.Status = domain.TransferExpired
			t.Reason = "expired"
			t.ProcessedAt = &now
			err := s.repos.Transfers.UpdateTransferStatus(ctx, t)
			if errors.Is(err, domain.ErrInvalidStateTransition) {
				continue
			}
			if err != nil {
				return total, fmt.Errorf("transfer service: failed to expire transfer %d: %w", t.ID, err)
			}
			progress++
		}
		total += progress

		if len(pending) < sweepBatchSize || progress == 0 {
			break
		}
	}

	if total > 0 {
		metrics.Transfers.WithLabelValues(string(domain.TransferExpired)).Add(float64(total))
		s.logger.Info("expired pending transfers", zap.Int("count", total))
	}
	return total, nil
}

// List возвращает переводы, где пользователь отправитель или получатель
func (s *TransferService) List(ctx context.Context, userID int64) ([]*domain.Transfer, error) {
	transfers, err := s.repos.Transfers.ListTransfersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("transfer service: failed to list transfers of user %d: %w", userID, err)
	}
	return transfers, nil
}

func (s *TransferService) notify(ctx context.Context, n domain.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to send notification", zap.String("kind", n.Kind), zap.Error(err))
	}
}
