package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type DatabaseConfig struct {
	URL      string
	MaxConns int
}

type RabbitMQConfig struct {
	URL string
}

type RESTConfig struct {
	Port               string
	RateLimitPerMinute int
	AllowedOrigins     []string
}

type StdoutLogConfig struct {
	Level string
	JSON  bool
	Color bool
}

type FluentBitConfig struct {
	Enabled bool
	Host    string
	Port    int
	Level   string
}

// EnrichmentConfig параметры внешнего сервиса обогащения
type EnrichmentConfig struct {
	APIKey            string
	BaseURL           string
	PrimaryModel      string
	FallbackModel     string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerSecond float64
	ImageCandidateCap int
}

// MediaConfig загрузка изображений и объектное хранилище
type MediaConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration
	Concurrency     int
	MaxBytes        int64
}

// IngestConfig источник объявлений
type IngestConfig struct {
	Provider      string
	SearchURL     string
	AllowedDomain string
	MaxPages      int
	Limit         int
	Interval      time.Duration // 0 - только ручной запуск через API
}

type WorkersConfig struct {
	EnrichmentPrefetch int
	MediaPrefetch      int
}

// AppConfig вся конфигурация приложения
type AppConfig struct {
	AppName      string
	Database     DatabaseConfig
	RabbitMQ     RabbitMQConfig
	Rest         RESTConfig
	StdoutLogger StdoutLogConfig
	FluentBit    FluentBitConfig
	Enrichment   EnrichmentConfig
	Media        MediaConfig
	Ingest       IngestConfig
	Workers      WorkersConfig
}

// LoadConfig читает .env (если он есть) и переменные окружения
func LoadConfig(envPath ...string) (*AppConfig, error) {
	var err error
	if len(envPath) > 0 {
		err = godotenv.Load(envPath...)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("could not load .env file (path: %v): %w", envPath, err)
		}
		log.Printf("Info: .env file not found (path: %v), using process environment only", envPath)
	}

	cfg := &AppConfig{}
	cfg.AppName = getEnvAsString("APP_NAME", "listing-pipeline")

	cfg.Database.URL = os.Getenv("DATABASE_URL")
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	cfg.Database.MaxConns = getEnvAsInt("DATABASE_MAX_CONNS", 10)

	cfg.RabbitMQ.URL = os.Getenv("RABBITMQ_URL")
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL environment variable is required")
	}

	cfg.Rest.Port = getEnvAsString("PORT", "8080")
	cfg.Rest.RateLimitPerMinute = getEnvAsInt("REST_RATE_LIMIT_PER_MINUTE", 120)
	cfg.Rest.AllowedOrigins = getEnvAsList("REST_ALLOWED_ORIGINS", []string{"*"})

	cfg.StdoutLogger.Level = getEnvAsString("STDOUT_LOG_LEVEL", "debug")
	cfg.StdoutLogger.JSON = getEnvAsBool("STDOUT_LOG_JSON", false)
	cfg.StdoutLogger.Color = getEnvAsBool("STDOUT_LOG_COLOR", true)

	cfg.FluentBit.Enabled = getEnvAsBool("FLUENTBIT_ENABLED", false)
	if cfg.FluentBit.Enabled {
		cfg.FluentBit.Host = os.Getenv("FLUENTBIT_HOST")
		if cfg.FluentBit.Host == "" {
			log.Println("WARNING: FLUENTBIT_ENABLED is true, but FLUENTBIT_HOST is not set. Disabling Fluent Bit.")
			cfg.FluentBit.Enabled = false
		}
		cfg.FluentBit.Port = getEnvAsInt("FLUENTBIT_PORT", 24224)
		cfg.FluentBit.Level = getEnvAsString("FLUENTBIT_LOG_LEVEL", "info")
	}

	// ключ не обязателен на старте: без него задачи обогащения завершаются фатальной ошибкой
	cfg.Enrichment.APIKey = os.Getenv("ENRICHMENT_API_KEY")
	cfg.Enrichment.BaseURL = getEnvAsString("ENRICHMENT_BASE_URL", "")
	cfg.Enrichment.PrimaryModel = getEnvAsString("ENRICHMENT_PRIMARY_MODEL", "claude-sonnet-4-5")
	cfg.Enrichment.FallbackModel = getEnvAsString("ENRICHMENT_FALLBACK_MODEL", "claude-haiku-4-5")
	cfg.Enrichment.MaxTokens = getEnvAsInt("ENRICHMENT_MAX_TOKENS", 4096)
	cfg.Enrichment.Timeout = getEnvAsDuration("ENRICHMENT_TIMEOUT", 90*time.Second)
	cfg.Enrichment.RequestsPerSecond = getEnvAsFloat("ENRICHMENT_REQUESTS_PER_SECOND", 1)
	cfg.Enrichment.ImageCandidateCap = getEnvAsInt("ENRICHMENT_IMAGE_CANDIDATES", 25)

	cfg.Media.Bucket = os.Getenv("MEDIA_BUCKET")
	if cfg.Media.Bucket == "" {
		return nil, fmt.Errorf("MEDIA_BUCKET environment variable is required")
	}
	cfg.Media.Region = getEnvAsString("MEDIA_REGION", "us-east-1")
	cfg.Media.Endpoint = getEnvAsString("MEDIA_ENDPOINT", "")
	cfg.Media.AccessKey = os.Getenv("MEDIA_ACCESS_KEY")
	cfg.Media.SecretKey = os.Getenv("MEDIA_SECRET_KEY")
	cfg.Media.ProbeTimeout = getEnvAsDuration("MEDIA_PROBE_TIMEOUT", 5*time.Second)
	cfg.Media.DownloadTimeout = getEnvAsDuration("MEDIA_DOWNLOAD_TIMEOUT", 30*time.Second)
	cfg.Media.Concurrency = getEnvAsInt("MEDIA_CONCURRENCY", 4)
	cfg.Media.MaxBytes = int64(getEnvAsInt("MEDIA_MAX_BYTES", 15<<20))

	cfg.Ingest.Provider = getEnvAsString("INGEST_PROVIDER", "portal")
	cfg.Ingest.SearchURL = os.Getenv("INGEST_SEARCH_URL")
	cfg.Ingest.AllowedDomain = getEnvAsString("INGEST_ALLOWED_DOMAIN", "")
	cfg.Ingest.MaxPages = getEnvAsInt("INGEST_MAX_PAGES", 5)
	cfg.Ingest.Limit = getEnvAsInt("INGEST_LIMIT", 50)
	cfg.Ingest.Interval = getEnvAsDuration("INGEST_INTERVAL", 0)

	cfg.Workers.EnrichmentPrefetch = getEnvAsInt("ENRICHMENT_WORKERS", 2)
	cfg.Workers.MediaPrefetch = getEnvAsInt("MEDIA_WORKERS", 4)

	return cfg, nil
}

func getEnvAsString(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt при ошибке разбора пишет предупреждение и возвращает значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as int: %v. Using default value: %d\n", key, valueStr, err, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as float: %v. Using default value: %g\n", key, valueStr, err, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as bool: %v. Using default value: %t\n", key, valueStr, err, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		log.Printf("Warning: Environment variable %s (value: %s) could not be parsed as duration: %v. Using default value: %s\n", key, valueStr, err, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую, пустые элементы отбрасываются
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
