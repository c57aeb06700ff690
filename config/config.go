package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4242"`

	// Shared Secret für Job-Trigger und Admin-Endpunkte (X-API-KEY).
	APISecretKey string `envconfig:"API_SECRET_KEY"`
	// HMAC-Secret für Bearer-Tokens der User-Endpunkte.
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`

	ArxivBaseURL    string `envconfig:"ARXIV_BASE_URL" default:"https://export.arxiv.org/api/query"`
	ArxivCategories string `envconfig:"ARXIV_CATEGORIES" default:"cs.LG,cs.CL,cs.CV,stat.ML"`
	ArxivPageSize   int    `envconfig:"ARXIV_PAGE_SIZE" default:"100"`
	ArxivMaxPages   int    `envconfig:"ARXIV_MAX_PAGES" default:"10"`

	GitHubBaseURL string `envconfig:"GITHUB_BASE_URL" default:"https://api.github.com"`
	GitHubToken   string `envconfig:"GITHUB_TOKEN"`

	PwCBaseURL string `envconfig:"PWC_BASE_URL" default:"https://paperswithcode.com/api/v1"`

	// LLM-Provider: "anthropic" oder "openai"; Modellnamen bleiben konfigurierbar.
	LLMProvider     string `envconfig:"LLM_PROVIDER" default:"anthropic"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel     string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	IngestCron string `envconfig:"INGEST_CRON" default:"0 5 * * *"`
	EnrichCron string `envconfig:"ENRICH_CRON" default:"30 5 * * *"`
	DigestCron string `envconfig:"DIGEST_CRON" default:"0 7 * * *"`

	// Worker-Anzahl pro Job; wird zur Laufzeit auf 3..8 begrenzt.
	JobWorkers     int           `envconfig:"JOB_WORKERS" default:"4"`
	IngestDeadline time.Duration `envconfig:"INGEST_DEADLINE" default:"20m"`
	EnrichDeadline time.Duration `envconfig:"ENRICH_DEADLINE" default:"30m"`
	DigestDeadline time.Duration `envconfig:"DIGEST_DEADLINE" default:"10m"`
	EnrichBatch    int           `envconfig:"ENRICH_BATCH" default:"25"`

	DigestLookbackDays int    `envconfig:"DIGEST_LOOKBACK_DAYS" default:"7"`
	DigestTopN         int    `envconfig:"DIGEST_TOP_N" default:"10"`
	DigestWebhookURL   string `envconfig:"DIGEST_WEBHOOK_URL"`

	// Entfernt Autoren-Verknüpfungen, die in der neuesten Version nicht mehr
	// gelistet sind. Destruktiv, darum per Default aus.
	PruneAuthorLinks bool `envconfig:"PRUNE_AUTHOR_LINKS" default:"false"`

	FeedCacheTTL time.Duration `envconfig:"FEED_CACHE_TTL" default:"60s"`

	StratoS3Key    string `envconfig:"STRATO_S3_KEY" required:"true"`
	StratoS3Secret string `envconfig:"STRATO_S3_SECRET" required:"true"`
	StratoS3URL    string `envconfig:"STRATO_S3_URL" required:"true"`
	StratoS3Region string `envconfig:"STRATO_S3_REGION" required:"true"`
	StratoS3Bucket string `envconfig:"STRATO_S3_BUCKET" required:"true"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Workers begrenzt die konfigurierte Worker-Anzahl auf den erlaubten Bereich.
func (c *Config) Workers() int {
	w := c.JobWorkers
	if w < 3 {
		w = 3
	}
	if w > 8 {
		w = 8
	}
	return w
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
