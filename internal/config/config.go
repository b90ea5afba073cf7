package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string

	// CORS allow-list; empty means wildcard
	AllowedOrigins []string

	// Generation service
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string
	Temperature   float64
	ProviderFile  string // optional JSON override file, hot-reloaded

	// Reference data service
	CountryAPIURL  string
	CountryTimeout time.Duration

	// Cache layer
	RedisURL             string
	CacheTTLAI           time.Duration // long class: successful ai compositions
	CacheTTLFallback     time.Duration // short class: degraded compositions
	StaleWhileRevalidate time.Duration

	// Advisory retry policy
	AdvisoryMaxAttempts      int
	AdvisoryBackoffBase      time.Duration
	AdvisoryBackoffIncrement time.Duration
	AdvisoryBackoffJitter    time.Duration
	AdvisoryTimeout          time.Duration // per-attempt HTTP timeout
	AdvisoryRate             float64       // upstream calls per second
	AdvisoryBurst            int

	// Bounds one request's attempts plus backoff delays end to end
	RequestTimeout time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	var origins []string
	if raw := getEnv("ALLOWED_ORIGINS", ""); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		AllowedOrigins: origins,

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
		Model:         getEnv("MODEL", "gpt-4o-mini"),
		Temperature:   getFloatEnv("TEMPERATURE", 0.2),
		ProviderFile:  getEnv("PROVIDER_FILE", ""),

		CountryAPIURL:  strings.TrimRight(getEnv("COUNTRY_API_URL", "https://restcountries.com/v3.1"), "/"),
		CountryTimeout: getDurationEnv("COUNTRY_TIMEOUT", 10*time.Second),

		RedisURL:             getEnv("REDIS_URL", ""),
		CacheTTLAI:           getDurationEnv("CACHE_TTL_AI", 24*time.Hour),
		CacheTTLFallback:     getDurationEnv("CACHE_TTL_FALLBACK", 10*time.Minute),
		StaleWhileRevalidate: getDurationEnv("CACHE_SWR_WINDOW", 10*time.Minute),

		AdvisoryMaxAttempts:      getIntEnv("ADVISORY_MAX_ATTEMPTS", 4),
		AdvisoryBackoffBase:      getDurationEnv("ADVISORY_BACKOFF_BASE", 400*time.Millisecond),
		AdvisoryBackoffIncrement: getDurationEnv("ADVISORY_BACKOFF_INCREMENT", 500*time.Millisecond),
		AdvisoryBackoffJitter:    getDurationEnv("ADVISORY_BACKOFF_JITTER", 200*time.Millisecond),
		AdvisoryTimeout:          getDurationEnv("ADVISORY_TIMEOUT", 30*time.Second),
		AdvisoryRate:             getFloatEnv("ADVISORY_RATE", 5),
		AdvisoryBurst:            getIntEnv("ADVISORY_BURST", 5),

		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 25*time.Second),
	}
}

// Provider describes a generation-service override loaded from a JSON
// file. Empty fields leave the corresponding env-derived setting alone.
type Provider struct {
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// LoadProvider loads the provider override from a JSON file
func LoadProvider(filePath string) (*Provider, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider file: %w", err)
	}

	var p Provider
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse provider JSON: %w", err)
	}

	return &p, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
