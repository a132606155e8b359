package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/config"
	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/metrics"
	"github.com/craftlink/domain-warden/internal/queue"
	"github.com/craftlink/domain-warden/internal/scheduler"
	"github.com/craftlink/domain-warden/internal/storage/redis"
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
	collector := metrics.NewCollector()

	sched := scheduler.NewScheduler(repo, jobQueue, collector, &cfg.Scheduler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx, time.Minute)

	logger.Info("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down scheduler...")
	cancel()
	logger.Info("Scheduler stopped")
}
