package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"heatsync/internal/adapters/repo"
	"heatsync/internal/infra/cache"
	"heatsync/internal/infra/config"
	"heatsync/internal/infra/db"
	applog "heatsync/internal/infra/log"
	"heatsync/internal/infra/metrics"
	"heatsync/internal/infra/queue"
	"heatsync/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Postgres (PG_DSN)")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("scheduler: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	summaryQueue, err := queue.NewRabbitSummaryQueue(cfg.RabbitURL, cfg.Queues.Digest, queue.RetryPolicy{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		BackoffBase: cfg.Jobs.BackoffBase,
		BackoffCap:  cfg.Jobs.BackoffCap,
	}, 1, logger.With().Str("component", "queue").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}
	defer summaryQueue.Close()

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("scheduler: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	dedupe := cache.NewRedisDedupe(redisClient)

	profiles := repo.NewPostgres(pool)
	scheduler := schedule.NewService(profiles, summaryQueue, dedupe, cfg.Jobs.DedupeTTL, time.Now, logger.With().Str("component", "scheduler").Logger())

	logger.Info().Msg("scheduler: старт")
	scheduler.Run(ctx)
	logger.Info().Msg("scheduler: остановлен")
}
