package worker

import (
	"context"
	"time"

	"github.com/avc/pointledger/internal/ratelimit"
	"github.com/avc/pointledger/internal/service"
)

// Имена задач обслуживания, они же значения метки job в метриках
const (
	// JobExpirePoints списывает просроченные партии баллов
	JobExpirePoints = "expire_points"
	// JobExpireTransfers возвращает отправителям непринятые переводы
	JobExpireTransfers = "expire_transfers"
	// JobAutoCharge пополняет депозиты магазинов по правилам автопополнения
	JobAutoCharge = "auto_charge"
	// JobRateLimitPrune очищает устаревшие окна ограничителя запросов
	JobRateLimitPrune = "ratelimit_prune"
)

// Intervals задает периодичность задач обслуживания
type Intervals struct {
	ExpirePoints    time.Duration `toml:"expire_points"`
	ExpireTransfers time.Duration `toml:"expire_transfers"`
	AutoCharge      time.Duration `toml:"auto_charge"`
	RateLimitPrune  time.Duration `toml:"ratelimit_prune"`
}

// DefaultIntervals возвращает периодичность по умолчанию
func DefaultIntervals() Intervals {
	return Intervals{
		ExpirePoints:    time.Hour,
		ExpireTransfers: 5 * time.Minute,
		AutoCharge:      15 * time.Minute,
		RateLimitPrune:  time.Minute,
	}
}

// MaintenanceJobs собирает задачи обслуживания: списание просроченных партий,
// истечение переводов, автопополнение депозитов и очистку окон rate limit
func MaintenanceJobs(
	points *service.PointService,
	transfers *service.TransferService,
	deposits *service.DepositService,
	limiter *ratelimit.FixedWindow,
	iv Intervals,
) []Job {
	return []Job{
		{Name: JobExpirePoints, Interval: iv.ExpirePoints, Run: points.SweepExpired},
		{Name: JobExpireTransfers, Interval: iv.ExpireTransfers, Run: transfers.ExpireSweep},
		{Name: JobAutoCharge, Interval: iv.AutoCharge, Run: func(ctx context.Context, _ time.Time) (int, error) {
			return deposits.RunAutoCharges(ctx)
		}},
		{Name: JobRateLimitPrune, Interval: iv.RateLimitPrune, Run: func(_ context.Context, now time.Time) (int, error) {
			return limiter.Prune(now), nil
		}},
	}
}
