package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"heatsync/internal/adapters/generator"
	"heatsync/internal/adapters/mailbox"
	"heatsync/internal/adapters/repo"
	"heatsync/internal/domain"
	"heatsync/internal/infra/config"
	"heatsync/internal/infra/db"
	applog "heatsync/internal/infra/log"
	"heatsync/internal/infra/metrics"
	"heatsync/internal/infra/openai"
	digestusecase "heatsync/internal/usecase/digest"
)

// defaultRunLimit — размер выборки для ручного запуска.
const defaultRunLimit = 15

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("api: не указан адрес Postgres (PG_DSN)")
	}
	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось применить миграции")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	if cfg.Nylas.APIKey == "" {
		logger.Fatal().Msg("api: не указан ключ Nylas (NYLAS_API_KEY)")
	}
	mailboxGateway := mailbox.NewNylas(cfg.Nylas.APIKey, cfg.Nylas.BaseURL, cfg.Nylas.Timeout, cfg.Nylas.RPS)

	if cfg.OpenAI.APIKey == "" {
		logger.Fatal().Msg("api: не указан ключ OpenAI (OPENAI_API_KEY)")
	}
	openaiClient := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	summaryGenerator := generator.NewOpenAI(openaiClient, cfg.OpenAI.Model, cfg.OpenAI.Timeout)

	repoAdapter := repo.NewPostgres(pool)
	service := digestusecase.NewService(repoAdapter, mailboxGateway, summaryGenerator, repoAdapter, cfg.Jobs.PageSize, logger.With().Str("component", "digest").Logger())

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	r.Post("/api/v1/digest/run", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req runDigestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.AccountID == "" {
			writeError(w, http.StatusBadRequest, "account_id is required")
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = defaultRunLimit
		}
		digest, err := service.RunNow(r.Context(), req.AccountID, limit)
		if err != nil {
			if errors.Is(err, domain.ErrNothingToSummarize) {
				writeError(w, http.StatusNotFound, "no unread messages")
				return
			}
			logger.Error().Err(err).Str("account", req.AccountID).Msg("api: ручной запуск не удался")
			writeError(w, http.StatusBadGateway, "failed to build digest")
			return
		}
		writeJSON(w, digest)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: r}
	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

type runDigestRequest struct {
	AccountID string `json:"account_id"`
	Limit     int    `json:"limit"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
