package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Nylas struct {
		APIKey  string        `envconfig:"NYLAS_API_KEY"`
		BaseURL string        `envconfig:"NYLAS_BASE_URL"`
		Timeout time.Duration `envconfig:"NYLAS_TIMEOUT" default:"15s"`
		RPS     int           `envconfig:"NYLAS_RPS" default:"5"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-5-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Queues struct {
		Digest string `envconfig:"DIGEST_QUEUE" default:"heatsync_digest_jobs"`
	} `envconfig:""`

	Jobs struct {
		Workers     int           `envconfig:"DIGEST_WORKERS" default:"4"`
		MaxAttempts int           `envconfig:"DIGEST_MAX_ATTEMPTS" default:"3"`
		BackoffBase time.Duration `envconfig:"DIGEST_BACKOFF_BASE" default:"1s"`
		BackoffCap  time.Duration `envconfig:"DIGEST_BACKOFF_CAP" default:"60s"`
		DedupeTTL   time.Duration `envconfig:"DIGEST_DEDUPE_TTL" default:"10m"`
		PageSize    int           `envconfig:"DIGEST_PAGE_SIZE" default:"20"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
