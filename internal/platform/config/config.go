package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定。Host が空ならメモリ上のリポジトリを使う
	Database DatabaseConfig

	// OpenAI設定（回答合成用）
	OpenAI OpenAIConfig

	// チャンク分割と設問解決の設定
	Teardown TeardownConfig

	// ワークスペース設定
	WorkspaceDir string

	Collectors CollectorsConfig
	NATS       NATSConfig
	S3         S3Config
	Redis      RedisConfig
	HTTP       HTTPConfig
	Log        LogConfig
	Cleanup    CleanupConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled はPostgreSQLを使うかどうかを返す
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey               string
	BaseURL              string
	LLMModel             string
	Temperature          float64
	MaxTokens            int
	Timeout              time.Duration
	MaxRetries           int
	MaxRequestsPerMinute int
	MaxConcurrent        int
}

// TeardownConfig はレポート生成の設定
type TeardownConfig struct {
	TemplatePath             string
	SupplementaryContextPath string
	ContextMarker            string
	MaxTokens                int
	ScaffoldingTokens        int
	QuestionConcurrency      int
	OverlapCollection        bool
}

// CollectorsConfig は情報収集の設定
type CollectorsConfig struct {
	Names       []string
	SerpAPIKey  string
	ScrapeDelay time.Duration
	UserAgent   string
	MaxPages    int
	MaxArticles int
}

// NATSConfig はジョブイベント通知の設定。URL が空なら通知しない
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// S3Config はレポートアーカイブの設定。Bucket が空ならアーカイブしない
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// RedisConfig は投入受付制限の設定。Addr が空なら制限しない
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	KeyPrefix       string
	Capacity        int
	RefillPerSecond float64
	TTL             time.Duration
}

// HTTPConfig はHTTPサーバー設定
type HTTPConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// LogConfig はログ設定
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// CleanupConfig はワークスペース掃除の設定
type CleanupConfig struct {
	Retention time.Duration
	// Cron が空ならサーバーでの定期実行はしない
	Cron string
}

// DefaultCollectors は有効にするコレクタのデフォルト
var DefaultCollectors = []string{"website", "spacenews", "globenewswire", "usaspending", "serpapi"}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "teardown"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "teardown"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:               getEnv("OPENAI_API_KEY", ""),
			BaseURL:              getEnv("OPENAI_BASE_URL", ""),
			LLMModel:             getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			Temperature:          getEnvAsFloat("LLM_TEMPERATURE", 0),
			MaxTokens:            getEnvAsInt("LLM_MAX_TOKENS", 0),
			Timeout:              getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			MaxRetries:           getEnvAsInt("LLM_MAX_RETRIES", 3),
			MaxRequestsPerMinute: getEnvAsInt("LLM_MAX_REQUESTS_PER_MINUTE", 60),
			MaxConcurrent:        getEnvAsInt("LLM_MAX_CONCURRENT", 4),
		},
		Teardown: TeardownConfig{
			TemplatePath:             getEnv("QUESTION_TEMPLATE_PATH", ""),
			SupplementaryContextPath: getEnv("SUPPLEMENTARY_CONTEXT_PATH", ""),
			ContextMarker:            getEnv("CONTEXT_QUESTION_MARKER", "klear"),
			MaxTokens:                getEnvAsInt("CHUNK_MAX_TOKENS", 12000),
			ScaffoldingTokens:        getEnvAsInt("CHUNK_SCAFFOLD_TOKENS", 1000),
			QuestionConcurrency:      getEnvAsInt("QUESTION_CONCURRENCY", 1),
			OverlapCollection:        getEnvAsBool("OVERLAP_COLLECTION", false),
		},
		WorkspaceDir: getEnv("WORKSPACE_DIR", "output"),
		Collectors: CollectorsConfig{
			Names:       getEnvAsList("COLLECTORS", DefaultCollectors),
			SerpAPIKey:  getEnv("SERPAPI_API_KEY", ""),
			ScrapeDelay: getEnvAsDuration("SCRAPE_DELAY", 10*time.Second),
			UserAgent:   getEnv("SCRAPE_USER_AGENT", ""),
			MaxPages:    getEnvAsInt("WEBSITE_MAX_PAGES", 15),
			MaxArticles: getEnvAsInt("NEWS_MAX_ARTICLES", 20),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "teardown.jobs"),
		},
		S3: S3Config{
			Bucket:   getEnv("S3_BUCKET", ""),
			Prefix:   getEnv("S3_PREFIX", "teardowns"),
			Region:   getEnv("S3_REGION", "us-east-1"),
			Endpoint: getEnv("S3_ENDPOINT", ""),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", ""),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvAsInt("REDIS_DB", 0),
			KeyPrefix:       getEnv("REDIS_KEY_PREFIX", "teardown:admit"),
			Capacity:        getEnvAsInt("ADMISSION_CAPACITY", 5),
			RefillPerSecond: getEnvAsFloat("ADMISSION_REFILL_PER_SECOND", 0.1),
			TTL:             getEnvAsDuration("ADMISSION_TTL", time.Hour),
		},
		HTTP: HTTPConfig{
			Port:            getEnvAsInt("HTTP_PORT", 8080),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
		Cleanup: CleanupConfig{
			Retention: getEnvAsDuration("CLEANUP_RETENTION", 7*24*time.Hour),
			Cron:      getEnv("CLEANUP_CRON", ""),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を "10s" や "168h" 形式の期間として取得します
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数を取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
