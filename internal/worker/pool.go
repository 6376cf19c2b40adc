package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avc/pointledger/internal/metrics"
	"github.com/avc/pointledger/internal/service"
	"go.uber.org/zap"
)

// Job описывает периодическую фоновую задачу.
// Run возвращает количество обработанных записей.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int, error)
}

// Pool представляет пул воркеров для периодических задач обслуживания
type Pool struct {
	workers      int
	queue        chan string
	logger       *zap.Logger
	wg           sync.WaitGroup
	scanInterval time.Duration
	now          func() time.Time
	cancel       context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]Job
	order   []string
	nextRun map[string]time.Time
	running map[string]bool
}

// NewPool создает новый worker pool
func NewPool(workers, queueSize int, logger *zap.Logger, jobs ...Job) *Pool {
	p := &Pool{
		workers:      workers,
		queue:        make(chan string, queueSize),
		logger:       logger,
		scanInterval: 10 * time.Second,
		now:          time.Now,
		jobs:         make(map[string]Job, len(jobs)),
		nextRun:      make(map[string]time.Time, len(jobs)),
		running:      make(map[string]bool, len(jobs)),
	}
	for _, j := range jobs {
		p.jobs[j.Name] = j
		p.order = append(p.order, j.Name)
	}
	return p
}

// SetScanInterval задает период проверки расписания, неположительное значение игнорируется
func (p *Pool) SetScanInterval(d time.Duration) {
	if d > 0 {
		p.scanInterval = d
	}
}

// Start запускает worker pool
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.scanner(ctx)
}

// Stop останавливает worker pool и дожидается завершения текущих задач
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	close(p.queue)
}

// RunOnce выполняет задачу немедленно в текущей горутине
func (p *Pool) RunOnce(ctx context.Context, name string) (int, error) {
	job, ok := p.jobs[name]
	if !ok {
		return 0, errors.New("worker: unknown job " + name)
	}
	return p.execute(ctx, job)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Info("worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping", zap.Int("worker_id", id))
			return
		case name, ok := <-p.queue:
			if !ok {
				return
			}
			p.processJob(ctx, name)
		}
	}
}

func (p *Pool) scanner(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.scanInterval)
	defer ticker.Stop()

	p.scanDueJobs(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("scanner stopping")
			return
		case <-ticker.C:
			p.scanDueJobs(ctx)
		}
	}
}

// scanDueJobs ставит в очередь задачи, время которых подошло.
// Задача не ставится повторно, пока предыдущий запуск не завершился.
func (p *Pool) scanDueJobs(ctx context.Context) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, name := range p.order {
		if p.running[name] || now.Before(p.nextRun[name]) {
			continue
		}
		select {
		case p.queue <- name:
			p.running[name] = true
		case <-ctx.Done():
			return
		default:
			p.logger.Warn("queue is full, skipping job", zap.String("job", name))
		}
	}
}

func (p *Pool) processJob(ctx context.Context, name string) {
	job := p.jobs[name]
	next := job.Interval

	_, err := p.execute(ctx, job)
	var rateLimitErr *service.RateLimitError
	if errors.As(err, &rateLimitErr) && rateLimitErr.RetryAfter > next {
		next = rateLimitErr.RetryAfter
	}

	p.mu.Lock()
	p.running[name] = false
	p.nextRun[name] = p.now().Add(next)
	p.mu.Unlock()
}

func (p *Pool) execute(ctx context.Context, job Job) (int, error) {
	started := time.Now()
	p.logger.Debug("running job", zap.String("job", job.Name))

	n, err := job.Run(ctx, p.now())
	metrics.JobDuration.WithLabelValues(job.Name).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
		var rateLimitErr *service.RateLimitError
		if errors.As(err, &rateLimitErr) {
			p.logger.Warn("rate limit exceeded",
				zap.String("job", job.Name),
				zap.Duration("retry_after", rateLimitErr.RetryAfter),
			)
			return n, err
		}
		p.logger.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		return n, err
	}

	metrics.JobRuns.WithLabelValues(job.Name, "success").Inc()
	if n > 0 {
		p.logger.Info("job processed records", zap.String("job", job.Name), zap.Int("count", n))
	}
	return n, nil
}
