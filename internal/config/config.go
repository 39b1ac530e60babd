package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram settings
	TelegramToken   string
	TelegramBaseURL string
	SendImages      bool

	// Channel subscriber seeded at startup when TelegramChatID is set
	TelegramChatID      string
	ChannelDeliveryTime string
	ChannelProfile      string

	// Model settings
	ModelProvider    string // gemini | openai | none
	GeminiAPIKey     string
	GeminiModel      string
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAIBaseURL    string
	MaxModelRequests int // per day, 0 = unlimited
	ModelTimeout     time.Duration
	ScoreBatchSize   int
	ScoreBatchDelay  time.Duration

	// Source settings
	CatalogPath       string
	DiscoveryEnabled  bool
	SearchTemplates   []string
	DiscoveryCacheTTL time.Duration
	UserAgent         string

	// Fetch settings
	FetchWindow       time.Duration
	FetchTimeout      time.Duration
	ScrapeTimeout     time.Duration
	ScrapeMinChars    int
	ScrapeMaxArticles int // per source
	HostInterval      time.Duration

	// Selection settings
	ArticleTarget int
	DefaultTopic  string

	// Cache settings
	CacheTTL    time.Duration
	InterestTTL time.Duration
	RedisURL    string

	// Store settings
	StoreDriver   string // postgres | sqlite | file
	DatabaseURL   string
	StoreFilePath string

	// Scheduler settings
	TickInterval     time.Duration
	DailyRefreshTime string // HH:MM, empty disables
	Timezone         string
	SendDelay        time.Duration

	// App settings
	Debug bool
}

var hhmm = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func Load() (*Config, error) {
	cfg := &Config{
		// Default values
		TelegramBaseURL:   "https://api.telegram.org",
		ModelProvider:     "gemini",
		GeminiModel:       "gemini-1.5-flash",
		OpenAIModel:       "gpt-4o-mini",
		MaxModelRequests:  500,
		ModelTimeout:      15 * time.Second,
		ScoreBatchSize:    10,
		ScoreBatchDelay:   time.Second,
		DiscoveryEnabled:  true,
		DiscoveryCacheTTL: time.Hour,
		UserAgent:         "newsdigest/1.0 (+https://github.com/deusflow/newsdigest)",
		SearchTemplates:   []string{"https://html.duckduckgo.com/html/?q=%s+rss+feed+noticias"},
		FetchWindow:       24 * time.Hour,
		FetchTimeout:      10 * time.Second,
		ScrapeTimeout:     8 * time.Second,
		ScrapeMinChars:    200,
		ScrapeMaxArticles: 5,
		HostInterval:      500 * time.Millisecond,
		ArticleTarget:     6,
		DefaultTopic:      "politica",
		CacheTTL:          30 * time.Minute,
		InterestTTL:       24 * time.Hour,
		StoreDriver:       "file",
		StoreFilePath:     "subscribers.json",
		TickInterval:      10 * time.Minute,
		DailyRefreshTime:  "05:00",
		Timezone:          "America/Sao_Paulo",
		SendDelay:         2 * time.Second,
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramBaseURL = getEnvOrDefault("TELEGRAM_BASE_URL", cfg.TelegramBaseURL)
	cfg.SendImages = os.Getenv("SEND_IMAGES") == "true"
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.ChannelDeliveryTime = getEnvOrDefault("CHANNEL_DELIVERY_TIME", "07:00")
	cfg.ChannelProfile = os.Getenv("CHANNEL_PROFILE")

	cfg.ModelProvider = strings.ToLower(getEnvOrDefault("MODEL_PROVIDER", cfg.ModelProvider))
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvOrDefault("GEMINI_MODEL", cfg.GeminiModel)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.MaxModelRequests = getEnvIntOrDefault("MAX_MODEL_REQUESTS", cfg.MaxModelRequests)
	cfg.ModelTimeout = getEnvDurationOrDefault("MODEL_TIMEOUT", cfg.ModelTimeout)
	cfg.ScoreBatchSize = getEnvIntOrDefault("SCORE_BATCH_SIZE", cfg.ScoreBatchSize)
	cfg.ScoreBatchDelay = getEnvDurationOrDefault("SCORE_BATCH_DELAY", cfg.ScoreBatchDelay)

	cfg.CatalogPath = os.Getenv("CATALOG_PATH")
	if v := os.Getenv("DISCOVERY_ENABLED"); v != "" {
		cfg.DiscoveryEnabled = v == "true"
	}
	if v := os.Getenv("DISCOVERY_SEARCH_TEMPLATES"); v != "" {
		cfg.SearchTemplates = splitList(v)
	}
	cfg.DiscoveryCacheTTL = getEnvDurationOrDefault("DISCOVERY_CACHE_TTL", cfg.DiscoveryCacheTTL)
	cfg.UserAgent = getEnvOrDefault("USER_AGENT", cfg.UserAgent)

	cfg.FetchWindow = getEnvDurationOrDefault("FETCH_WINDOW", cfg.FetchWindow)
	cfg.FetchTimeout = getEnvDurationOrDefault("FETCH_TIMEOUT", cfg.FetchTimeout)
	cfg.ScrapeTimeout = getEnvDurationOrDefault("SCRAPE_TIMEOUT", cfg.ScrapeTimeout)
	cfg.ScrapeMinChars = getEnvIntOrDefault("SCRAPE_MIN_CHARS", cfg.ScrapeMinChars)
	cfg.ScrapeMaxArticles = getEnvIntOrDefault("SCRAPE_MAX_ARTICLES", cfg.ScrapeMaxArticles)
	cfg.HostInterval = getEnvDurationOrDefault("HOST_INTERVAL", cfg.HostInterval)

	cfg.ArticleTarget = getEnvIntOrDefault("ARTICLE_TARGET", cfg.ArticleTarget)
	cfg.DefaultTopic = getEnvOrDefault("DEFAULT_TOPIC", cfg.DefaultTopic)

	cfg.CacheTTL = getEnvDurationOrDefault("CACHE_TTL", cfg.CacheTTL)
	cfg.InterestTTL = getEnvDurationOrDefault("INTEREST_TTL", cfg.InterestTTL)
	cfg.RedisURL = os.Getenv("REDIS_URL")

	cfg.StoreDriver = strings.ToLower(getEnvOrDefault("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.StoreFilePath = getEnvOrDefault("STORE_FILE_PATH", cfg.StoreFilePath)

	cfg.TickInterval = getEnvDurationOrDefault("TICK_INTERVAL", cfg.TickInterval)
	if v, ok := os.LookupEnv("DAILY_REFRESH_TIME"); ok {
		cfg.DailyRefreshTime = v
	}
	cfg.Timezone = getEnvOrDefault("TZ_NAME", cfg.Timezone)
	cfg.SendDelay = getEnvDurationOrDefault("SEND_DELAY", cfg.SendDelay)

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	switch c.ModelProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when MODEL_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when MODEL_PROVIDER=openai")
		}
	case "none":
	default:
		return fmt.Errorf("MODEL_PROVIDER must be 'gemini', 'openai' or 'none'")
	}
	switch c.StoreDriver {
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", c.StoreDriver)
		}
	case "file":
		if c.StoreFilePath == "" {
			return fmt.Errorf("STORE_FILE_PATH is required when STORE_DRIVER=file")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be 'postgres', 'sqlite' or 'file'")
	}
	if c.ArticleTarget <= 0 {
		return fmt.Errorf("ARTICLE_TARGET must be positive")
	}
	if c.TickInterval < time.Minute {
		return fmt.Errorf("TICK_INTERVAL must be at least 1m")
	}
	if c.DailyRefreshTime != "" && !hhmm.MatchString(c.DailyRefreshTime) {
		return fmt.Errorf("DAILY_REFRESH_TIME must be HH:MM")
	}
	if c.TelegramChatID != "" && !hhmm.MatchString(c.ChannelDeliveryTime) {
		return fmt.Errorf("CHANNEL_DELIVERY_TIME must be HH:MM")
	}
	return nil
}
