package config

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Default per-job audit list length before oldest entries are evicted.
const DefaultAuditListSize = 100

// Default dedup key TTL.
const DefaultDedupTTL = 24 * time.Hour

// Default suspension-point timeouts (§5).
const (
	DefaultCatalogTimeout = 30 * time.Second
	DefaultStoreTimeout   = 30 * time.Second
	DefaultChunkTimeout   = 120 * time.Second
)

// Default dead-letter redelivery threshold before a message routes to *.dlq.
const DefaultMaxRedeliveries = 3

// Default worker shutdown grace period (§5).
const DefaultShutdownGrace = 30 * time.Second

// Config holds every environment-driven setting a service in this system
// may read. Each service only consumes the fields relevant to it; envconfig
// populates the whole struct uniformly so all five binaries share one
// loading path.
type Config struct {
	BrokerURL   string `env:"BROKER_URL,required"`
	StoreURL    string `env:"STORE_URL,required"`
	StorageRoot string `env:"STORAGE_ROOT,default=/data/subtitles"`

	SourceLangDefault string `env:"SOURCE_LANG_DEFAULT,default=en"`
	TargetLangDefault string `env:"TARGET_LANG_DEFAULT,default=en"`
	FallbackLang      string `env:"FALLBACK_LANG,default=en"`

	OpenAIAPIKey                        string  `env:"OPENAI_API_KEY,required"`
	TranslationModel                    string  `env:"TRANSLATION_MODEL,default=gpt-4o-mini"`
	TranslationMaxTokensPerChunk        int     `env:"TRANSLATION_MAX_TOKENS_PER_CHUNK,default=4000" validate:"gt=0"`
	TranslationMaxSegmentsPerChunk      int     `env:"TRANSLATION_MAX_SEGMENTS_PER_CHUNK,default=100" validate:"gt=0"`
	TranslationTokenSafetyMargin        float64 `env:"TRANSLATION_TOKEN_SAFETY_MARGIN,default=0.8" validate:"gt=0,lte=1"`
	TranslationParallelRequests         int     `env:"TRANSLATION_PARALLEL_REQUESTS,default=3" validate:"gt=0"`
	TranslationParallelRequestsHighTier int     `env:"TRANSLATION_PARALLEL_REQUESTS_HIGH_TIER,default=6" validate:"gt=0"`
	TranslationMaxRetries               int     `env:"TRANSLATION_MAX_RETRIES,default=3" validate:"gt=0"`

	CheckpointEnabled          bool `env:"CHECKPOINT_ENABLED,default=true"`
	CheckpointCleanupOnSuccess bool `env:"CHECKPOINT_CLEANUP_ON_SUCCESS,default=true"`

	CatalogUser                 string        `env:"CATALOG_USER"`
	CatalogPassword             string        `env:"CATALOG_PASSWORD"`
	CatalogUserAgent            string        `env:"CATALOG_USER_AGENT,default=subsync/1.0"`
	CatalogMaxRetries           int           `env:"CATALOG_MAX_RETRIES,default=3" validate:"gte=0"`
	CatalogRetryDelay           time.Duration `env:"CATALOG_RETRY_DELAY,default=1s"`
	CatalogRetryMaxDelay        time.Duration `env:"CATALOG_RETRY_MAX_DELAY,default=60s"`
	CatalogRetryExponentialBase float64       `env:"CATALOG_RETRY_EXPONENTIAL_BASE,default=2"`

	ScannerMediaExtensions []string      `env:"SCANNER_MEDIA_EXTENSIONS,default=.mp4,.mkv,.avi,.mov,.wmv,.flv,.webm,.m4v"`
	ScannerWatchDirs       []string      `env:"SCANNER_WATCH_DIRS"`
	ScannerDebounce        time.Duration `env:"SCANNER_DEBOUNCE,default=500ms"`

	MediaServerURL          string        `env:"MEDIA_SERVER_URL"`
	MediaServerAPIKey       string        `env:"MEDIA_SERVER_API_KEY"`
	WSReconnectDelay        time.Duration `env:"WS_RECONNECT_DELAY,default=2s"`
	WSMaxReconnectDelay     time.Duration `env:"WS_MAX_RECONNECT_DELAY,default=300s"`
	FallbackSyncIntervalHrs int           `env:"FALLBACK_SYNC_INTERVAL_HOURS,default=24" validate:"gt=0"`

	HTTPAddr          string `env:"HTTP_ADDR,default=0.0.0.0:8080"`
	OrchestratorToken string `env:"ORCHESTRATOR_API_TOKEN"`
	LogLevel          string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
}

// Load reads Config from the process environment, applying defaults and
// then validating the result. Call once at service startup; a non-nil
// error here is a startup failure (exit code 1 per §6).
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
