package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/certs"
	"github.com/craftlink/domain-warden/internal/config"
	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/dnsverify"
	"github.com/craftlink/domain-warden/internal/health"
	"github.com/craftlink/domain-warden/internal/hostname"
	"github.com/craftlink/domain-warden/internal/mapping"
	"github.com/craftlink/domain-warden/internal/metrics"
	"github.com/craftlink/domain-warden/internal/notify"
	"github.com/craftlink/domain-warden/internal/queue"
	"github.com/craftlink/domain-warden/internal/scheduler"
	"github.com/craftlink/domain-warden/internal/storage/redis"
	"github.com/craftlink/domain-warden/pkg/planservice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	repo := db.NewRepository(database)

	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()

	jobQueue := queue.NewRedisQueue(cache.Client)

	dnsClient := dnsverify.NewClient(cfg.DNS.Nameserver, cfg.DNS.Timeout)
	verifier := dnsverify.NewVerifier(dnsClient, cfg.DNS.CNAMETarget, cfg.DNS.ChallengePrefix, cfg.DNS.RetryAfter, logger)
	validator := hostname.NewValidator(repo, dnsClient, cfg.DNS.CNAMETarget, cfg.DNS.ReservedDomains)

	var authority certs.Authority = certs.DisabledAuthority{}
	if cfg.ACME.Enabled {
		authority, err = certs.NewLegoAuthority(cfg.ACME.DirectoryURL, cfg.ACME.Email, cache, cache, cfg.ACME.Timeout, logger)
		if err != nil {
			logger.Fatal("Failed to initialize ACME authority", zap.Error(err))
		}
	}
	certManager := certs.NewManager(authority, logger)

	notifier := notify.NewLogNotifier(logger)
	plans := planservice.NewClient(cfg.Plans.ServiceURL, cfg.Plans.AuthToken, cfg.Plans.TierLimits)

	mappings := mapping.NewService(repo, validator, verifier, certManager, cache, notifier, plans, logger)
	monitor := health.NewMonitor(repo, verifier, notifier, cfg.Scheduler.CheckTimeout, logger)
	collector := metrics.NewCollector()

	pool := scheduler.NewPool(&cfg.Scheduler, jobQueue, repo, monitor, mappings, collector, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go pool.Start(ctx)

	logger.Info("Worker started", zap.Int("worker_count", cfg.Scheduler.WorkerCount))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()
	logger.Info("Worker exited")
}
