package config

import (
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TwitterClientID     string
	TwitterClientSecret string
	TwitterRedirectURL  string
	TwitterBearerToken  string // Service-level fallback, used with TwitterUserID
	TwitterUserID       string
	TwitterAPIBaseURL   string

	DatabaseURL   string
	HTTPPort      string
	LogLevel      string
	SessionSecret string
	FrontendURL   string

	ClassifierBackend string
	HuggingFaceToken  string
	HuggingFaceModel  string
	GeminiAPIKey      string
	GeminiModel       string
	AnthropicAPIKey   string
	AnthropicModel    string

	CacheTTL           time.Duration
	CacheMinRefetch    time.Duration
	CacheRetention     time.Duration
	CachePruneSchedule string

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxWait     time.Duration

	DefaultThreshold float64
}

var AppConfig Config

// LoadConfig populates AppConfig from the environment and exits on invalid configuration.
func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	AppConfig = cfg
}

// Load reads the configuration from the current environment without touching .env files.
func Load() (Config, error) {
	cfg := Config{
		TwitterClientID:     getEnv("TWITTER_CLIENT_ID", ""),
		TwitterClientSecret: getEnv("TWITTER_CLIENT_SECRET", ""),
		TwitterRedirectURL:  getEnv("TWITTER_REDIRECT_URL", "http://localhost:8080/api/auth/callback/twitter"),
		TwitterBearerToken:  getEnv("TWITTER_BEARER_TOKEN", ""),
		TwitterUserID:       getEnv("TWITTER_USER_ID", ""),
		TwitterAPIBaseURL:   getEnv("TWITTER_API_BASE_URL", "https://api.twitter.com"),

		DatabaseURL:   getEnv("DATABASE_URL", "positivex.db"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		FrontendURL:   getEnv("FRONTEND_URL", "/"),

		ClassifierBackend: getEnv("CLASSIFIER_BACKEND", "huggingface"),
		HuggingFaceToken:  getEnv("HUGGINGFACE_TOKEN", ""),
		HuggingFaceModel:  getEnv("HUGGINGFACE_MODEL", "distilbert-base-uncased-finetuned-sst-2-english"),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),

		CacheTTL:           getEnvAsDuration("CACHE_TTL", 24*time.Hour),
		CacheMinRefetch:    getEnvAsDuration("CACHE_MIN_REFETCH", 15*time.Minute),
		CacheRetention:     getEnvAsDuration("CACHE_RETENTION", 7*24*time.Hour),
		CachePruneSchedule: getEnv("CACHE_PRUNE_SCHEDULE", "@daily"),

		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", 2*time.Second),
		RetryMaxWait:     getEnvAsDuration("RETRY_MAX_WAIT", 30*time.Second),

		DefaultThreshold: getEnvAsFloat("DEFAULT_THRESHOLD", 0.7),
	}

	if cfg.SessionSecret == "" {
		return cfg, fmt.Errorf("SESSION_SECRET environment variable is required")
	}

	hasOAuth := cfg.TwitterClientID != "" && cfg.TwitterClientSecret != ""
	if !hasOAuth && !cfg.HasServiceSession() {
		return cfg, fmt.Errorf("TWITTER_CLIENT_ID and TWITTER_CLIENT_SECRET (or TWITTER_BEARER_TOKEN and TWITTER_USER_ID) are required")
	}

	if math.IsNaN(cfg.DefaultThreshold) || cfg.DefaultThreshold < 0 || cfg.DefaultThreshold > 1 {
		return cfg, fmt.Errorf("DEFAULT_THRESHOLD must be between 0 and 1, got %v", cfg.DefaultThreshold)
	}
	if cfg.RetryMaxAttempts < 1 {
		return cfg, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.RetryMaxAttempts)
	}

	switch cfg.ClassifierBackend {
	case "huggingface":
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return cfg, fmt.Errorf("GEMINI_API_KEY environment variable is required for the gemini classifier")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return cfg, fmt.Errorf("ANTHROPIC_API_KEY environment variable is required for the anthropic classifier")
		}
	default:
		return cfg, fmt.Errorf("unknown CLASSIFIER_BACKEND %q", cfg.ClassifierBackend)
	}

	return cfg, nil
}

// HasServiceSession reports whether a service-level identity is configured.
func (c Config) HasServiceSession() bool {
	return c.TwitterBearerToken != "" && c.TwitterUserID != ""
}

func (c Config) Debug() bool {
	return c.LogLevel == "DEBUG"
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
