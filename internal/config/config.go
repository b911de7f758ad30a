package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/maltedev/shop-ranking-scraper/internal/models"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Fetch    FetchConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Consumer ConsumerConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type ScraperConfig struct {
	BaseURL      string
	Period       string
	MaxItems     int
	WaitTimeout  time.Duration
	RequestDelay time.Duration
	JPYToKRW     float64
	OutputDir    string
}

type BrowserConfig struct {
	Headless    bool
	Timeout     time.Duration
	Device      string
	Locale      string
	TimezoneID  string
	BlockImages bool
	ProxyServer string
}

type FetchConfig struct {
	Timeout   time.Duration
	CacheSize int
	MaxBytes  int64
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

type QueueConfig struct {
	MaxSize int
}

// ConsumerConfig drives the stream consumer that feeds run requests to
// the server.
type ConsumerConfig struct {
	RequestStream string
	FinishStream  string
	Group         string
	Name          string
	ServerURL     string
	Block         time.Duration
	MaxRetries    int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Scraper: ScraperConfig{
			BaseURL:      getEnvOrDefault("SCRAPER_BASE_URL", "https://m.qoo10.jp/shop/"),
			Period:       getEnvOrDefault("SCRAPER_PERIOD", string(models.PeriodWeekly)),
			MaxItems:     getIntOrDefault("SCRAPER_MAX_ITEMS", 10),
			WaitTimeout:  getDurationOrDefault("SCRAPER_WAIT_TIMEOUT", 10*time.Second),
			RequestDelay: getDurationOrDefault("SCRAPER_REQUEST_DELAY", 500*time.Millisecond),
			JPYToKRW:     getFloatOrDefault("SCRAPER_JPY_TO_KRW", 9.40),
			OutputDir:    getEnvOrDefault("SCRAPER_OUTPUT_DIR", "./results"),
		},
		Browser: BrowserConfig{
			Headless:    getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:     getDurationOrDefault("BROWSER_TIMEOUT", 10*time.Second),
			Device:      getEnvOrDefault("BROWSER_DEVICE", "Galaxy S8"),
			Locale:      getEnvOrDefault("BROWSER_LOCALE", "ja-JP"),
			TimezoneID:  getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Tokyo"),
			BlockImages: getBoolOrDefault("BROWSER_BLOCK_IMAGES", true),
			ProxyServer: getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Fetch: FetchConfig{
			Timeout:   getDurationOrDefault("FETCH_TIMEOUT", 15*time.Second),
			CacheSize: getIntOrDefault("FETCH_CACHE_SIZE", 256),
			MaxBytes:  int64(getIntOrDefault("FETCH_MAX_BYTES", 10<<20)),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "shop_ranking"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 5)),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:ranking_progress"),
			MaxLen:   int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 10000)),
		},
		Queue: QueueConfig{
			MaxSize: getIntOrDefault("QUEUE_MAX_SIZE", 100),
		},
		Consumer: ConsumerConfig{
			RequestStream: getEnvOrDefault("CONSUMER_REQUEST_STREAM", "stream:ranking_requests"),
			FinishStream:  getEnvOrDefault("CONSUMER_FINISH_STREAM", "stream:ranking_runs"),
			Group:         getEnvOrDefault("CONSUMER_GROUP", "ranking-consumer-group"),
			Name:          getEnvOrDefault("CONSUMER_NAME", "consumer-1"),
			ServerURL:     getEnvOrDefault("CONSUMER_SERVER_URL", "http://localhost:8080"),
			Block:         getDurationOrDefault("CONSUMER_BLOCK", 5*time.Second),
			MaxRetries:    getIntOrDefault("CONSUMER_MAX_RETRIES", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if !models.Period(c.Scraper.Period).IsValid() {
		return fmt.Errorf("SCRAPER_PERIOD must be one of D, W, M")
	}

	if c.Scraper.MaxItems < 1 {
		return fmt.Errorf("SCRAPER_MAX_ITEMS must be at least 1")
	}

	if c.Scraper.WaitTimeout <= 0 {
		return fmt.Errorf("SCRAPER_WAIT_TIMEOUT must be positive")
	}

	if c.Scraper.JPYToKRW <= 0 {
		return fmt.Errorf("SCRAPER_JPY_TO_KRW must be positive")
	}

	if c.Scraper.OutputDir == "" {
		return fmt.Errorf("SCRAPER_OUTPUT_DIR is required")
	}

	if c.Fetch.CacheSize < 1 {
		return fmt.Errorf("FETCH_CACHE_SIZE must be at least 1")
	}

	if c.Queue.MaxSize < 1 {
		return fmt.Errorf("QUEUE_MAX_SIZE must be at least 1")
	}

	return nil
}

// DSN is the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// NewLogger builds the process logger from the logging settings.
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(l.Level)}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
