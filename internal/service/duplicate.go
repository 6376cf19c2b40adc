package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avc/pointledger/internal/domain"
	"go.uber.org/zap"
)

// DuplicateRules задает пороги детектора дубликатов
type DuplicateRules struct {
	TimeWindow         time.Duration `toml:"time_window"`
	AmountTolerance    float64       `toml:"amount_tolerance"`
	HighSeverityWindow time.Duration `toml:"high_severity_window"`
	HighValueAmount    float64       `toml:"high_value_amount"`
	UserClaimsPerHour  int           `toml:"user_claims_per_hour"`
	SameAmountPerWeek  int           `toml:"same_amount_per_week"`
	StoreClaimsPerHour int           `toml:"store_claims_per_hour"`
}

// DefaultDuplicateRules возвращает пороги по умолчанию
func DefaultDuplicateRules() DuplicateRules {
	return DuplicateRules{
		TimeWindow:         24 * time.Hour,
		AmountTolerance:    0.01,
		HighSeverityWindow: 60 * time.Minute,
		HighValueAmount:    50000,
		UserClaimsPerHour:  5,
		SameAmountPerWeek:  3,
		StoreClaimsPerHour: 20,
	}
}

// DuplicateDetector ищет признаки повторной подачи заявки.
// Находки носят рекомендательный характер и не блокируют заявку.
type DuplicateDetector struct {
	repos  *domain.Repositories
	logger *zap.Logger
	rules  DuplicateRules
	now    func() time.Time
}

// NewDuplicateDetector создает новый DuplicateDetector
func NewDuplicateDetector(repos *domain.Repositories, logger *zap.Logger, rules DuplicateRules) *DuplicateDetector {
	return &DuplicateDetector{
		repos:  repos,
		logger: logger,
		rules:  rules,
		now:    time.Now,
	}
}

// Detect проверяет заявку и возвращает находки. Данные не изменяются.
func (d *DuplicateDetector) Detect(ctx context.Context, candidate *domain.Claim) ([]*domain.DuplicateFinding, error) {
	var findings []*domain.DuplicateFinding

	byOrder, err := d.checkOrderID(ctx, candidate)
	if err != nil {
		return nil, err
	}
	findings = append(findings, byOrder...)

	similar, err := d.checkPattern(ctx, candidate)
	if err != nil {
		return nil, err
	}
	findings = append(findings, similar...)

	suspicious, err := d.checkSuspicious(ctx, candidate)
	if err != nil {
		return nil, err
	}
	findings = append(findings, suspicious...)

	return findings, nil
}

func (d *DuplicateDetector) checkOrderID(ctx context.Context, candidate *domain.Claim) ([]*domain.DuplicateFinding, error) {
	existing, err := d.repos.Claims.GetActiveClaimByOrderID(ctx, candidate.ExternalOrderID)
	if errors.Is(err, domain.ErrClaimNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("duplicate detector: failed to check order %q: %w", candidate.ExternalOrderID, err)
	}
	if existing.ID == candidate.ID {
		return nil, nil
	}

	return []*domain.DuplicateFinding{{
		OriginalClaimID: &existing.ID,
		Type:            domain.FindingOrderID,
		Severity:        domain.SeverityCritical,
		Details: map[string]any{
			"matching_order_id": candidate.ExternalOrderID,
			"reason":            "order id already submitted",
		},
	}}, nil
}

func (d *DuplicateDetector) checkPattern(ctx context.Context, candidate *domain.Claim) ([]*domain.DuplicateFinding, error) {
	// Границы расширены на полцента, точное сравнение ведется в целых сотых
	margin := d.rules.AmountTolerance + 0.005
	similar, err := d.repos.Claims.FindSimilarClaims(ctx,
		candidate.UserID, candidate.StoreID,
		candidate.Amount-margin, candidate.Amount+margin,
		candidate.PurchasedAt.Add(-d.rules.TimeWindow), candidate.PurchasedAt.Add(d.rules.TimeWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("duplicate detector: failed to find similar claims: %w", err)
	}

	tolerance := domain.Cents(d.rules.AmountTolerance)
	var findings []*domain.DuplicateFinding
	for _, c := range similar {
		if c.ID == candidate.ID {
			continue
		}
		diff := absInt64(domain.Cents(c.Amount) - domain.Cents(candidate.Amount))
		if diff > tolerance {
			continue
		}
		dt := c.PurchasedAt.Sub(candidate.PurchasedAt).Abs()
		if dt > d.rules.TimeWindow {
			continue
		}

		severity := domain.SeverityMedium
		if dt < d.rules.HighSeverityWindow {
			severity = domain.SeverityHigh
		}
		findings = append(findings, &domain.DuplicateFinding{
			OriginalClaimID: &c.ID,
			Type:            domain.FindingPatternMatch,
			Severity:        severity,
			Details: map[string]any{
				"time_difference_minutes": int(dt.Minutes()),
				"amount_difference":       float64(diff) / 100,
				"reason":                  "same user, store, amount and purchase time",
			},
		})
	}
	return findings, nil
}

func (d *DuplicateDetector) checkSuspicious(ctx context.Context, candidate *domain.Claim) ([]*domain.DuplicateFinding, error) {
	now := d.now()
	var findings []*domain.DuplicateFinding

	count, latest, err := d.repos.Claims.CountClaims(ctx, domain.ClaimCountFilter{
		UserID: candidate.UserID,
		Since:  now.Add(-time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate detector: failed to count user claims: %w", err)
	}
	if count >= d.rules.UserClaimsPerHour {
		findings = append(findings, &domain.DuplicateFinding{
			OriginalClaimID: latest,
			Type:            domain.FindingSuspicious,
			Severity:        domain.SeverityHigh,
			Details: map[string]any{
				"reason":                 "too many claims in a short time",
				"request_count_per_hour": count,
				"threshold":              d.rules.UserClaimsPerHour,
			},
		})
	}

	amount := candidate.Amount
	count, latest, err = d.repos.Claims.CountClaims(ctx, domain.ClaimCountFilter{
		UserID: candidate.UserID,
		Amount: &amount,
		Since:  now.AddDate(0, 0, -7),
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate detector: failed to count same amount claims: %w", err)
	}
	if count >= d.rules.SameAmountPerWeek {
		findings = append(findings, &domain.DuplicateFinding{
			OriginalClaimID: latest,
			Type:            domain.FindingSuspicious,
			Severity:        domain.SeverityMedium,
			Details: map[string]any{
				"reason":            "repeated claims with the same amount",
				"same_amount_count": count,
				"amount":            amount,
				"period_days":       7,
			},
		})
	}

	if candidate.Amount > d.rules.HighValueAmount {
		findings = append(findings, &domain.DuplicateFinding{
			Type:     domain.FindingSuspicious,
			Severity: domain.SeverityMedium,
			Details: map[string]any{
				"reason":    "high value claim",
				"amount":    candidate.Amount,
				"threshold": d.rules.HighValueAmount,
			},
		})
	}

	count, latest, err = d.repos.Claims.CountClaims(ctx, domain.ClaimCountFilter{
		StoreID: candidate.StoreID,
		Since:   now.Add(-time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("duplicate detector: failed to count store claims: %w", err)
	}
	if count >= d.rules.StoreClaimsPerHour {
		findings = append(findings, &domain.DuplicateFinding{
			OriginalClaimID: latest,
			Type:            domain.FindingSuspicious,
			Severity:        domain.SeverityHigh,
			Details: map[string]any{
				"reason":                       "too many claims for the store",
				"store_request_count_per_hour": count,
				"threshold":                    d.rules.StoreClaimsPerHour,
			},
		})
	}

	return findings, nil
}

// OrderIDSimilarity возвращает похожесть номеров заказов от 0 до 1 по расстоянию Левенштейна без учета регистра
func OrderIDSimilarity(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))

	maxLen := max(len(ra), len(rb))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range a {
		cur := make([]int, len(b)+1)
		cur[0] = i + 1
		for j, cb := range b {
			cost := 1
			if ca == cb {
				cost = 0
			}
			cur[j+1] = min(prev[j+1]+1, cur[j]+1, prev[j]+cost)
		}
		prev = cur
	}
	return prev[len(b)]
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// ListFindings возвращает находки по заявке, claimID = 0 означает все заявки
func (d *DuplicateDetector) ListFindings(ctx context.Context, claimID int64, unresolvedOnly bool) ([]*domain.DuplicateFinding, error) {
	findings, err := d.repos.Claims.ListFindings(ctx, claimID, unresolvedOnly)
	if err != nil {
		return nil, fmt.Errorf("duplicate detector: failed to list findings: %w", err)
	}
	return findings, nil
}

// ResolveFinding отмечает находку разобранной
func (d *DuplicateDetector) ResolveFinding(ctx context.Context, id, operatorID int64, note string) error {
	if err := d.repos.Claims.ResolveFinding(ctx, id, operatorID, note, d.now()); err != nil {
		return fmt.Errorf("duplicate detector: failed to resolve finding %d: %w", id, err)
	}
	d.logger.Info("duplicate finding resolved", zap.Int64("finding_id", id), zap.Int64("resolved_by", operatorID))
	return nil
}

// Stats возвращает статистику находок за последние days дней
func (d *DuplicateDetector) Stats(ctx context.Context, days int) (*domain.FindingStats, error) {
	if days <= 0 {
		days = 30
	}

	stats, err := d.repos.Claims.FindingStats(ctx, d.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("duplicate detector: failed to collect stats: %w", err)
	}
	if stats.Total > 0 {
		stats.ResolutionRate = float64(stats.Resolved) / float64(stats.Total) * 100
	}
	stats.PeriodDays = days
	return stats, nil
}
