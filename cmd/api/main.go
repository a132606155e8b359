package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/api"
	"github.com/craftlink/domain-warden/internal/api/handlers"
	"github.com/craftlink/domain-warden/internal/certs"
	"github.com/craftlink/domain-warden/internal/config"
	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/dnsverify"
	"github.com/craftlink/domain-warden/internal/health"
	"github.com/craftlink/domain-warden/internal/hostname"
	"github.com/craftlink/domain-warden/internal/mapping"
	"github.com/craftlink/domain-warden/internal/metrics"
	"github.com/craftlink/domain-warden/internal/notify"
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

	if err := db.RunMigrations(database, cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	repo := db.NewRepository(database)

	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()

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

	handler := handlers.NewHandler(mappings, monitor, repo, cache, collector, logger)
	server := api.NewServer(cfg, handler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
