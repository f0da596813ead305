package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"heatsync/internal/adapters/generator"
	"heatsync/internal/adapters/mailbox"
	"heatsync/internal/adapters/repo"
	"heatsync/internal/domain"
	"heatsync/internal/infra/cache"
	"heatsync/internal/infra/config"
	"heatsync/internal/infra/db"
	applog "heatsync/internal/infra/log"
	"heatsync/internal/infra/metrics"
	"heatsync/internal/infra/openai"
	"heatsync/internal/infra/queue"
	digestusecase "heatsync/internal/usecase/digest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("worker: не указан адрес Postgres (PG_DSN)")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("worker: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	summaryQueue, err := queue.NewRabbitSummaryQueue(cfg.RabbitURL, cfg.Queues.Digest, queue.RetryPolicy{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		BackoffBase: cfg.Jobs.BackoffBase,
		BackoffCap:  cfg.Jobs.BackoffCap,
	}, cfg.Jobs.Workers, logger.With().Str("component", "queue").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь")
	}
	defer summaryQueue.Close()

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("worker: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	dedupe := cache.NewRedisDedupe(redisClient)

	if cfg.Nylas.APIKey == "" {
		logger.Fatal().Msg("worker: не указан ключ Nylas (NYLAS_API_KEY)")
	}
	mailboxGateway := mailbox.NewNylas(cfg.Nylas.APIKey, cfg.Nylas.BaseURL, cfg.Nylas.Timeout, cfg.Nylas.RPS)

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("worker: не указан ключ OpenAI (OPENAI_API_KEY)")
	}
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	summaryGenerator := generator.NewOpenAI(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)

	repoAdapter := repo.NewPostgres(pool)
	service := digestusecase.NewService(repoAdapter, mailboxGateway, summaryGenerator, repoAdapter, cfg.Jobs.PageSize, logger.With().Str("component", "digest").Logger())

	workers := cfg.Jobs.Workers
	if workers <= 0 {
		workers = 1
	}

	logger.Info().Int("workers", workers).Msg("worker: запуск обработки очереди")
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		w := &jobWorker{
			log:         logger.With().Str("component", "worker").Int("worker_id", i).Logger(),
			queue:       summaryQueue,
			dedupe:      dedupe,
			service:     service,
			maxAttempts: cfg.Jobs.MaxAttempts,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
	logger.Info().Msg("worker: остановлен")
}

type digestProcessor interface {
	Process(ctx context.Context, job domain.DigestJob) (domain.JobOutcome, error)
}

type jobWorker struct {
	log         zerolog.Logger
	queue       domain.SummaryQueue
	dedupe      domain.DedupeStore
	service     digestProcessor
	maxAttempts int
}

// Run обрабатывает задачи по одной до отмены контекста.
func (w *jobWorker) Run(ctx context.Context) {
	for {
		delivery, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		job := delivery.Job
		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("user", job.UserID).
			Str("cause", string(job.Cause)).
			Int("attempt", delivery.Attempt).
			Logger()
		jobLog.Info().Msg("worker: задача получена")

		outcome, procErr := w.service.Process(ctx, job)
		if ctx.Err() != nil && outcome == domain.JobRetry {
			// Остановка процесса: доставку без подтверждения вернёт брокер.
			return
		}
		metrics.IncJobOutcome(outcome.String())

		switch outcome {
		case domain.JobDone:
			jobLog.Info().Msg("worker: дайджест готов")
		case domain.JobDrop:
			jobLog.Info().Err(procErr).Msg("worker: задача завершена без дайджеста")
		case domain.JobRetry:
			jobLog.Warn().Err(procErr).Msg("worker: временная ошибка, очередь решит о повторе")
		}

		// Повтор на последней попытке уйдёт в dead-letter — задача терминальна,
		// держать ключ дедупликации дальше незачем.
		terminal := outcome != domain.JobRetry
		if !terminal && w.maxAttempts > 0 && delivery.Attempt >= w.maxAttempts {
			terminal = true
		}
		if terminal {
			if err := w.dedupe.Release(ctx, job.DedupeKey()); err != nil {
				jobLog.Warn().Err(err).Msg("worker: не удалось освободить ключ дедупликации")
			}
		}

		if err := ack(outcome, procErr); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}
