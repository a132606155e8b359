// Package scheduler runs the batch side of the system: a periodic sweep
// that enqueues stale health checks and upcoming certificate renewals,
// and the worker pool that drains the queue. State lives in the database
// and the queue, so both sides survive restarts and scale horizontally.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/craftlink/domain-warden/internal/config"
	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/health"
	"github.com/craftlink/domain-warden/internal/mapping"
	"github.com/craftlink/domain-warden/internal/metrics"
	"github.com/craftlink/domain-warden/internal/queue"
)

type Scheduler struct {
	repo    *db.Repository
	jobs    *queue.RedisQueue
	metrics *metrics.Collector
	config  *config.SchedulerConfig
	logger  *zap.Logger
}

func NewScheduler(repo *db.Repository, jobs *queue.RedisQueue, collector *metrics.Collector, cfg *config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		repo:    repo,
		jobs:    jobs,
		metrics: collector,
		config:  cfg,
		logger:  logger,
	}
}

// Run sweeps on a fixed tick until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep enqueues one batch of due work: mappings whose health data is
// stale and active managed certificates inside the renewal window.
func (s *Scheduler) Sweep(ctx context.Context) {
	stale, err := s.repo.FindNeedingHealthCheck(ctx, s.config.HealthStaleAfter, s.config.BatchLimit)
	if err != nil {
		s.logger.Error("Failed to find mappings needing health check", zap.Error(err))
	} else {
		for _, m := range stale {
			s.enqueue(ctx, m, queue.JobHealthCheck, 0)
		}
		if len(stale) > 0 {
			s.logger.Info("Scheduled health checks", zap.Int("count", len(stale)))
		}
	}

	expiring, err := s.repo.FindExpiringWithin(ctx, s.config.RenewBeforeExpiry, s.config.BatchLimit)
	if err != nil {
		s.logger.Error("Failed to find expiring certificates", zap.Error(err))
	} else {
		for _, m := range expiring {
			// Renewals pop before health checks.
			s.enqueue(ctx, m, queue.JobRenewCertificate, 1)
		}
		if len(expiring) > 0 {
			s.logger.Info("Scheduled certificate renewals", zap.Int("count", len(expiring)))
		}
	}

	if depth, err := s.jobs.Length(ctx); err == nil {
		s.metrics.SetQueueDepth(depth)
	}

	if counts, err := s.repo.CountMappingsByStatus(ctx); err == nil {
		for _, status := range []db.MappingStatus{
			db.StatusPendingVerification,
			db.StatusActive,
			db.StatusError,
			db.StatusDeleting,
		} {
			s.metrics.SetMappingCount(status, counts[status])
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, m *db.DomainMapping, jobType string, priority int) {
	job := &queue.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		MappingID: m.ID,
		TenantID:  m.TenantID,
		Hostname:  m.Hostname,
		Priority:  priority,
		CreatedAt: time.Now(),
	}

	if err := s.jobs.Push(ctx, job); err != nil {
		s.logger.Error("Failed to enqueue job",
			zap.Error(err),
			zap.String("job_type", jobType),
			zap.String("hostname", m.Hostname),
		)
	}
}

// Pool runs a fixed set of workers draining the job queue.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	logger  *zap.Logger
}

func NewPool(cfg *config.SchedulerConfig, jobs *queue.RedisQueue, repo *db.Repository, monitor *health.Monitor, mappings *mapping.Service, collector *metrics.Collector, logger *zap.Logger) *Pool {
	limiter := rate.NewLimiter(rate.Limit(cfg.ExternalCallsPerSec), cfg.ExternalCallsBurst)

	workers := make([]*Worker, cfg.WorkerCount)
	for i := range workers {
		workers[i] = NewWorker(i, jobs, repo, monitor, mappings, collector, limiter, cfg.CheckTimeout, logger)
	}

	return &Pool{workers: workers, logger: logger}
}

func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("worker_count", len(p.workers)))

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx)
		}(w)
	}

	<-ctx.Done()
	p.wg.Wait()
}
