package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultQueryTemplate wraps a deferred issue title before the fallback tier embeds it.
const DefaultQueryTemplate = "Which issue title is the closest match to this: %s"

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Storage   StorageConfig
	OCR       OCRConfig
	LLM       LLMConfig
	Workflow  WorkflowConfig
	Reconcile ReconcileConfig
	Redis     RedisConfig
	Review    ReviewConfig
	Grading   GradingConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr      string
	HTTPAddr      string
	PublicBaseURL string // used to build approve/reject links
}

// StorageConfig points at the blob store root. Keys are slash separated below it.
type StorageConfig struct {
	Root        string
	Watch       bool
	InitialScan bool
	Debounce    time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Mode             string // "local" | "remote"
	Endpoint         string // remote analyzer URL
	APIKey           string
	TessdataDir      string
	ArtifactCacheDir string
	TextSource       string // page text for classification: "pdf" | "pdftotext"
	Timeout          time.Duration
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL        string
	Model          string
	ExtractModel   string // larger model for page/issue passes
	EmbeddingModel string
	APIKey         string
	Temperature    float32
	Timeout        time.Duration
}

// WorkflowConfig bounds the orchestrator.
type WorkflowConfig struct {
	MapConcurrency   int
	RunTimeout       time.Duration
	RetryMaxAttempts int
	RetryInterval    time.Duration
	RetryBackoff     float64
	LastSection      string // "exclude" | "document-end"
	SupplierConfig   string // optional path overriding the embedded supplier sections
	TablesConfig     string // optional path overriding the embedded table definitions
	Workers          int
	QueueSize        int
}

type ReconcileConfig struct {
	Threshold     int
	QueryTemplate string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type ReviewConfig struct {
	Enabled    bool
	WebhookURL string
}

type GradingConfig struct {
	KeyColumns []string
}

// LoadConfig loads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config.dotenv.load_failed", "error", err)
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			GRPCAddr:      getEnv("GRPC_ADDR", ":8080"),
			HTTPAddr:      getEnv("HTTP_ADDR", ":8081"),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8081"),
		},
		Storage: StorageConfig{
			Root:        getEnv("STORAGE_ROOT", "./data"),
			Watch:       getEnvAsBool("STORAGE_WATCH", true),
			InitialScan: getEnvAsBool("STORAGE_INITIAL_SCAN", false),
			Debounce:    getEnvAsDuration("STORAGE_DEBOUNCE", 500*time.Millisecond),
		},
		OCR: OCRConfig{
			Mode:             getEnv("OCR_MODE", "local"),
			Endpoint:         getEnv("OCR_ENDPOINT", ""),
			APIKey:           getEnv("OCR_API_KEY", ""),
			TessdataDir:      getEnv("TESSDATA_PREFIX", ""),
			ArtifactCacheDir: getEnv("ARTIFACT_CACHE_DIR", "./tmp"),
			TextSource:       getEnv("PAGE_TEXT_SOURCE", "pdf"),
			Timeout:          getEnvAsDuration("OCR_TIMEOUT", 2*time.Minute),
		},
		LLM: LLMConfig{
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			ExtractModel:   getEnv("OPENAI_EXTRACT_MODEL", "gpt-4o"),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Temperature:    getEnvAsFloat32("OPENAI_TEMPERATURE", 0.5),
			Timeout:        getEnvAsDuration("OPENAI_TIMEOUT", 90*time.Second),
		},
		Workflow: WorkflowConfig{
			MapConcurrency:   getEnvAsInt("MAP_CONCURRENCY", 10),
			RunTimeout:       getEnvAsDuration("RUN_TIMEOUT", 5*time.Minute),
			RetryMaxAttempts: getEnvAsInt("EXTRACT_RETRY_MAX_ATTEMPTS", 6),
			RetryInterval:    getEnvAsDuration("EXTRACT_RETRY_INTERVAL", 60*time.Second),
			RetryBackoff:     getEnvAsFloat64("EXTRACT_RETRY_BACKOFF", 2),
			LastSection:      getEnv("SPLIT_LAST_SECTION", "exclude"),
			SupplierConfig:   getEnv("SUPPLIER_SECTIONS_CONFIG", ""),
			TablesConfig:     getEnv("SUPPLIER_TABLES_CONFIG", ""),
			Workers:          getEnvAsInt("RUN_WORKERS", 2),
			QueueSize:        getEnvAsInt("RUN_QUEUE_SIZE", 64),
		},
		Reconcile: ReconcileConfig{
			Threshold:     getEnvAsInt("FUZZY_THRESHOLD", 80),
			QueryTemplate: getEnv("FALLBACK_QUERY_TEMPLATE", DefaultQueryTemplate),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("EMBEDDING_CACHE_TTL", 7*24*time.Hour),
		},
		Review: ReviewConfig{
			Enabled:    getEnvAsBool("REVIEW_ENABLED", false),
			WebhookURL: getEnv("REVIEW_WEBHOOK_URL", ""),
		},
		Grading: GradingConfig{
			KeyColumns: getEnvAsList("GRADING_KEY_COLUMNS", []string{"No", "Category"}),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR or HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.OCR.Mode == "remote" && c.OCR.Endpoint == "" {
		return NewAppError("CONFIG_ERROR", "OCR_ENDPOINT is required when OCR_MODE=remote", ErrInvalidInput)
	}
	if c.Workflow.LastSection != "exclude" && c.Workflow.LastSection != "document-end" {
		return NewAppError("CONFIG_ERROR", "SPLIT_LAST_SECTION must be exclude or document-end", ErrInvalidInput)
	}
	if c.Workflow.MapConcurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "MAP_CONCURRENCY must be positive", ErrInvalidInput)
	}
	if c.Reconcile.Threshold < 0 || c.Reconcile.Threshold > 100 {
		return NewAppError("CONFIG_ERROR", "FUZZY_THRESHOLD must be within 0..100", ErrInvalidInput)
	}
	if !ValidQueryTemplate(c.Reconcile.QueryTemplate) {
		return NewAppError("CONFIG_ERROR", "FALLBACK_QUERY_TEMPLATE must contain exactly one %s and no other verbs", ErrInvalidInput)
	}
	if c.Review.Enabled && c.Server.PublicBaseURL == "" {
		return NewAppError("CONFIG_ERROR", "PUBLIC_BASE_URL is required when REVIEW_ENABLED", ErrInvalidInput)
	}
	return nil
}

// ValidQueryTemplate reports whether t formats a single string argument.
// Literal percent signs must be written as %%.
func ValidQueryTemplate(t string) bool {
	if strings.Count(t, "%s") != 1 {
		return false
	}
	rest := strings.ReplaceAll(strings.ReplaceAll(t, "%%", ""), "%s", "")
	return !strings.Contains(rest, "%")
}

// ValidateDatabase checks only what tools that never call the model backend need.
func (c *Config) ValidateDatabase() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	return nil
}
