package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	DatabaseURL string
	Port        string

	// Evolution API gateway
	EvolutionBaseURL  string
	EvolutionAPIKey   string
	EvolutionInstance string

	// Optional HMAC secret for inbound webhook verification. When empty,
	// signature checks are skipped.
	WebhookSecret string

	// Optional LLM classifier. NLP degrades to keyword matching when the key
	// is unset.
	LLMAPIKey  string
	LLMAPIBase string
	LLMModel   string

	// Optional event mirror.
	RabbitMQURL string

	// Optional S3 media archival.
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	WebhookPath        string
	QueueBatchSize     int
	QueuePollInterval  int // seconds
	QueueRetryDelaySec int
	DedupWindowMinutes int

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables. A .env file is
// honored when present; real environment variables take precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Port:              os.Getenv("PORT"),
		EvolutionBaseURL:  os.Getenv("EVOLUTION_BASE_URL"),
		EvolutionAPIKey:   os.Getenv("EVOLUTION_API_KEY"),
		EvolutionInstance: os.Getenv("EVOLUTION_INSTANCE"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMAPIBase:        os.Getenv("LLM_API_BASE"),
		LLMModel:          os.Getenv("LLM_MODEL"),
		RabbitMQURL:       os.Getenv("RABBITMQ_URL"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3Region:          os.Getenv("S3_REGION"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		WebhookPath:       os.Getenv("WEBHOOK_PATH"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		LogFormat:         os.Getenv("LOG_FORMAT"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EvolutionBaseURL == "" || cfg.EvolutionAPIKey == "" || cfg.EvolutionInstance == "" {
		return nil, fmt.Errorf("EVOLUTION_BASE_URL, EVOLUTION_API_KEY and EVOLUTION_INSTANCE are required")
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhooks/evolution"
		log.Info().Str("path", cfg.WebhookPath).Msg("WEBHOOK_PATH not set, using default")
	}

	cfg.QueueBatchSize = envInt("QUEUE_BATCH_SIZE", 5)
	cfg.QueuePollInterval = envInt("QUEUE_POLL_INTERVAL_SECONDS", 5)
	cfg.QueueRetryDelaySec = envInt("QUEUE_RETRY_DELAY_SECONDS", 60)
	cfg.DedupWindowMinutes = envInt("DEDUP_WINDOW_MINUTES", 10)

	return cfg, nil
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Invalid integer in environment, using default")
		return def
	}
	return v
}
