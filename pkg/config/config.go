package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL      string
	GoogleMapsAPIKey string
	OpenAIAPIKey     string
	Port             string

	// Database performance settings
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime int // minutes
	DBConnMaxIdleTime int // minutes

	// Farm matching thresholds
	MatchNameThreshold  float64 // primary rule similarity bar
	MatchExactThreshold float64 // name-only exception bar
	AutoMergeConfidence float64 // merge decisions at or above this skip review

	// Dedup run settings
	DedupWorkerCount int

	// Scraper settings
	RoasterProfilePath string // external roaster profiles dir; empty = embedded only
	ScrapeRPS          int
	ScrapeBurst        int
	ScrapeTimeout      time.Duration
	ScrapeUserAgent    string

	// OpenAI note splitting settings
	PromptDir         string // external prompt templates dir; empty = embedded only
	OpenAIModel       string
	OpenAITimeout     time.Duration
	OpenAITemperature float64
	OpenAIMaxTokens   int

	// Geocoding settings
	GeocodeCacheTTL time.Duration

	// Logging settings
	LogLevel          string
	LogFormat         string // "json" or "text"
	LogFile           string
	EnableFileLogging bool

	// Environment & metrics
	Env              string // development, staging, production
	MetricsEnabled   bool
	MetricsPath      string
	ProfilingEnabled bool
	ProfilingPort    string // admin server port (pprof, metrics, health)
}

func Load() *Config {
	dbMaxOpenConns, _ := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	dbMaxIdleConns, _ := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "10"))
	dbConnMaxLifetime, _ := strconv.Atoi(getEnv("DB_CONN_MAX_LIFETIME_MINUTES", "10"))
	dbConnMaxIdleTime, _ := strconv.Atoi(getEnv("DB_CONN_MAX_IDLE_TIME_MINUTES", "5"))

	nameThreshold, _ := strconv.ParseFloat(getEnv("MATCH_NAME_THRESHOLD", "0.90"), 64)
	exactThreshold, _ := strconv.ParseFloat(getEnv("MATCH_EXACT_THRESHOLD", "0.99"), 64)
	autoMerge, _ := strconv.ParseFloat(getEnv("AUTO_MERGE_CONFIDENCE", "0.95"), 64)
	workers, _ := strconv.Atoi(getEnv("DEDUP_WORKER_COUNT", "0")) // 0 = use default

	scrapeRPS, _ := strconv.Atoi(getEnv("SCRAPE_RPS", "2"))
	scrapeBurst, _ := strconv.Atoi(getEnv("SCRAPE_BURST", "4"))
	scrapeTimeoutSec, _ := strconv.Atoi(getEnv("SCRAPE_TIMEOUT_SECONDS", "30"))

	openaiTimeoutSec, _ := strconv.Atoi(getEnv("OPENAI_TIMEOUT_SECONDS", "30"))
	openaiTemp, _ := strconv.ParseFloat(getEnv("OPENAI_TEMPERATURE", "0.1"), 64)
	openaiMaxTokens, _ := strconv.Atoi(getEnv("OPENAI_MAX_TOKENS", "500"))

	geocodeTTLHours, _ := strconv.Atoi(getEnv("GEOCODE_CACHE_TTL_HOURS", "720"))

	enableFileLogging, _ := strconv.ParseBool(getEnv("ENABLE_FILE_LOGGING", "false"))

	env := strings.ToLower(getEnv("ENV", "development"))
	metricsDefault := env == "development" || env == "staging"
	metricsEnabled, _ := strconv.ParseBool(getEnv("METRICS_ENABLED", strconv.FormatBool(metricsDefault)))
	profilingEnabled, _ := strconv.ParseBool(getEnv("PROFILING_ENABLED", strconv.FormatBool(env == "development")))

	return &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		GoogleMapsAPIKey: os.Getenv("GOOGLE_MAPS_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		Port:             getEnv("PORT", "8080"),

		DBMaxOpenConns:    dbMaxOpenConns,
		DBMaxIdleConns:    dbMaxIdleConns,
		DBConnMaxLifetime: dbConnMaxLifetime,
		DBConnMaxIdleTime: dbConnMaxIdleTime,

		MatchNameThreshold:  nameThreshold,
		MatchExactThreshold: exactThreshold,
		AutoMergeConfidence: autoMerge,
		DedupWorkerCount:    workers,

		RoasterProfilePath: os.Getenv("ROASTER_PROFILE_DIR"),
		ScrapeRPS:          scrapeRPS,
		ScrapeBurst:        scrapeBurst,
		ScrapeTimeout:      time.Duration(scrapeTimeoutSec) * time.Second,
		ScrapeUserAgent:    getEnv("SCRAPE_USER_AGENT", "coffee-catalog/1.0"),

		PromptDir:         os.Getenv("PROMPT_DIR"),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITimeout:     time.Duration(openaiTimeoutSec) * time.Second,
		OpenAITemperature: openaiTemp,
		OpenAIMaxTokens:   openaiMaxTokens,

		GeocodeCacheTTL: time.Duration(geocodeTTLHours) * time.Hour,

		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		LogFile:           getEnv("LOG_FILE", "/var/log/coffee-catalog/app.log"),
		EnableFileLogging: enableFileLogging,

		Env:              env,
		MetricsEnabled:   metricsEnabled,
		MetricsPath:      getEnv("METRICS_PATH", "/metrics"),
		ProfilingEnabled: profilingEnabled,
		ProfilingPort:    getEnv("PROFILING_PORT", "6060"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
