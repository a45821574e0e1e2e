package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Browser  BrowserConfig
	Scraper  ScraperConfig
	Enrich   EnrichConfig
	Notion   NotionConfig
	Queue    QueueConfig
	Pipeline PipelineConfig
	Outbox   OutboxConfig
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

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// URL returns the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode, d.MaxConns)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type ScraperConfig struct {
	BaseURL      string
	RateLimitMin time.Duration
	RateLimitMax time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	UserAgents   []string
	// SessionCookie is a logged-in "name=value" cookie for the analytics site.
	SessionCookie string
}

type EnrichConfig struct {
	Concurrency    int
	Timeout        time.Duration
	MaxRetries     int
	RequestsPerMin int
	ShopeeBaseURL  string
	SerpAPIBaseURL string
	SerpAPIKey     string
	TrendsGeo      string
	CJBaseURL      string
	CJAccessToken  string
	CJShippingUSD  float64
	TrendCacheFile string
	TrendCacheTTL  time.Duration
}

type NotionConfig struct {
	Token      string
	DatabaseID string
	BaseURL    string
}

// Enabled reports whether candidates should be synced to Notion.
func (n NotionConfig) Enabled() bool {
	return n.Token != "" && n.DatabaseID != ""
}

type QueueConfig struct {
	Budget            int
	DetailRefreshDays int
	BatchSize         int
	PollInterval      time.Duration
}

type PipelineConfig struct {
	Region      string
	Category    string
	Sources     []string
	Pages       int
	ScoringFile string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// ConsumerConfig drives the auto-track stream consumer.
type ConsumerConfig struct {
	Group             string
	Name              string
	AutoTrackMinScore float64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "product_scout"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:product_candidates"),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Scraper: ScraperConfig{
			BaseURL:       getEnvOrDefault("SCRAPER_BASE_URL", "https://www.fastmoss.com"),
			RateLimitMin:  getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 3*time.Second),
			RateLimitMax:  getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 8*time.Second),
			MaxRetries:    getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RetryDelay:    getDurationOrDefault("SCRAPER_RETRY_DELAY", 5*time.Second),
			UserAgents:    getStringSliceOrDefault("SCRAPER_USER_AGENTS", defaultUserAgents()),
			SessionCookie: getEnvOrDefault("SCRAPER_SESSION_COOKIE", ""),
		},
		Enrich: EnrichConfig{
			Concurrency:    getIntOrDefault("ENRICH_CONCURRENCY", 4),
			Timeout:        getDurationOrDefault("ENRICH_TIMEOUT", 15*time.Second),
			MaxRetries:     getIntOrDefault("ENRICH_MAX_RETRIES", 3),
			RequestsPerMin: getIntOrDefault("ENRICH_REQUESTS_PER_MIN", 30),
			ShopeeBaseURL:  getEnvOrDefault("SHOPEE_BASE_URL", "https://shopee.sg"),
			SerpAPIBaseURL: getEnvOrDefault("SERPAPI_BASE_URL", "https://serpapi.com"),
			SerpAPIKey:     getEnvOrDefault("SERPAPI_KEY", ""),
			TrendsGeo:      getEnvOrDefault("TRENDS_GEO", "US"),
			CJBaseURL:      getEnvOrDefault("CJ_BASE_URL", "https://developers.cjdropshipping.com"),
			CJAccessToken:  getEnvOrDefault("CJ_ACCESS_TOKEN", ""),
			CJShippingUSD:  getFloatOrDefault("CJ_SHIPPING_USD", 4.5),
			TrendCacheFile: getEnvOrDefault("TREND_CACHE_FILE", "trend_cache.json"),
			TrendCacheTTL:  getDurationOrDefault("TREND_CACHE_TTL", 24*time.Hour),
		},
		Notion: NotionConfig{
			Token:      getEnvOrDefault("NOTION_TOKEN", ""),
			DatabaseID: getEnvOrDefault("NOTION_DATABASE_ID", ""),
			BaseURL:    getEnvOrDefault("NOTION_BASE_URL", "https://api.notion.com"),
		},
		Queue: QueueConfig{
			Budget:            getIntOrDefault("QUEUE_BUDGET", 50),
			DetailRefreshDays: getIntOrDefault("QUEUE_DETAIL_REFRESH_DAYS", 7),
			BatchSize:         getIntOrDefault("QUEUE_BATCH_SIZE", 10),
			PollInterval:      getDurationOrDefault("QUEUE_POLL_INTERVAL", time.Minute),
		},
		Pipeline: PipelineConfig{
			Region:      getEnvOrDefault("PIPELINE_REGION", "US"),
			Category:    getEnvOrDefault("PIPELINE_CATEGORY", ""),
			Sources:     getStringSliceOrDefault("PIPELINE_SOURCES", []string{"saleslist", "newlist"}),
			Pages:       getIntOrDefault("PIPELINE_PAGES", 3),
			ScoringFile: getEnvOrDefault("SCORING_CONFIG", "configs/scoring.yaml"),
		},
		Outbox: OutboxConfig{
			PollInterval: getDurationOrDefault("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("OUTBOX_BATCH_SIZE", 100),
		},
		Consumer: ConsumerConfig{
			Group:             getEnvOrDefault("CONSUMER_GROUP", "scout-auto-track"),
			Name:              getEnvOrDefault("CONSUMER_NAME", "consumer-1"),
			AutoTrackMinScore: getFloatOrDefault("AUTO_TRACK_MIN_SCORE", 75),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if c.Database.DBName == "" {
		return fmt.Errorf("DB_NAME is required")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.SessionCookie != "" && !strings.Contains(c.Scraper.SessionCookie, "=") {
		return fmt.Errorf("SCRAPER_SESSION_COOKIE must be name=value")
	}

	if c.Enrich.Concurrency < 1 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be at least 1")
	}

	if c.Queue.Budget < 0 {
		return fmt.Errorf("QUEUE_BUDGET cannot be negative")
	}

	if c.Queue.DetailRefreshDays < 0 {
		return fmt.Errorf("QUEUE_DETAIL_REFRESH_DAYS cannot be negative")
	}

	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be at least 1")
	}

	if c.Pipeline.Pages < 1 {
		return fmt.Errorf("PIPELINE_PAGES must be at least 1")
	}

	if len(c.Pipeline.Sources) == 0 {
		return fmt.Errorf("PIPELINE_SOURCES must name at least one source")
	}

	return nil
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
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	}
}
