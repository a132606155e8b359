package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/health"
	"github.com/craftlink/domain-warden/internal/mapping"
	"github.com/craftlink/domain-warden/internal/metrics"
	"github.com/craftlink/domain-warden/internal/queue"
)

// Worker consumes queued jobs and executes them against external systems
// (DNS, origin servers, the CA). The shared rate limiter keeps a batch
// pass from fanning out unbounded against those systems.
type Worker struct {
	id       int
	jobs     *queue.RedisQueue
	repo     *db.Repository
	monitor  *health.Monitor
	mappings *mapping.Service
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *zap.Logger
}

func NewWorker(id int, jobs *queue.RedisQueue, repo *db.Repository, monitor *health.Monitor, mappings *mapping.Service, collector *metrics.Collector, limiter *rate.Limiter, timeout time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		id:       id,
		jobs:     jobs,
		repo:     repo,
		monitor:  monitor,
		mappings: mappings,
		metrics:  collector,
		limiter:  limiter,
		timeout:  timeout,
		logger:   logger.With(zap.Int("worker_id", id)),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")
			return
		default:
		}

		job, err := w.jobs.Pop(ctx, 5*time.Second)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error("Failed to pop job", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()

	m, err := w.repo.GetMapping(jobCtx, job.MappingID, job.TenantID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			// Mapping removed between scheduling and execution.
			return
		}
		w.logger.Error("Failed to load mapping for job",
			zap.Error(err),
			zap.String("mapping_id", job.MappingID),
		)
		return
	}

	switch job.Type {
	case queue.JobHealthCheck:
		report := w.monitor.CheckHealth(jobCtx, m)
		w.metrics.RecordHealthCheck(m, report, time.Since(start))

	case queue.JobRenewCertificate:
		_, err := w.mappings.RenewCertificate(jobCtx, m.ID, m.TenantID, "scheduler")
		w.metrics.RecordRenewal(err == nil)
		if err != nil && !errors.Is(err, mapping.ErrInvalidState) {
			w.logger.Warn("Scheduled renewal failed",
				zap.Error(err),
				zap.String("mapping_id", m.ID),
				zap.String("hostname", m.Hostname),
			)
		}

	default:
		w.logger.Error("Unknown job type", zap.String("type", job.Type))
		return
	}

	w.logger.Debug("Job completed",
		zap.String("job_type", job.Type),
		zap.String("mapping_id", job.MappingID),
		zap.Duration("duration", time.Since(start)),
	)
}
