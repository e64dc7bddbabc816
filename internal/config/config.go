// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/ids"
)

// Configuration bounds to keep misconfigured deployments from hurting the
// shared browser service or the search engines.
const (
	minSessionKeepAlive = 60 * time.Second
	maxSessionKeepAlive = 1 * time.Hour
	maxNavTimeout       = 2 * time.Minute
	maxEngineTimeout    = 60 * time.Second
	maxSearchRateLimit  = 600
	maxRateLimitRPM     = 10000
	minAPIKeyLength     = 16
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host string
	Port int

	// Remote browser binding
	BindingURL       string
	BindingToken     string
	SessionKeepAlive time.Duration // keep-alive requested for launched sessions
	NavTimeout       time.Duration // per-navigation deadline inside goto retries
	OperationTimeout time.Duration // wall-clock budget for one web operation

	// Credit ledger (Redis)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StartCredits  int64 // balance granted to a user on first sight

	// Artifact storage (S3-compatible) and CDN
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool
	CDNHost          string
	CDNPreviewHost   string
	Environment      string // "production" or "preview"

	// Per-user file metadata databases
	DataDir      string
	UserHashSalt string

	// AI extraction endpoint
	AIEndpoint string
	AIAPIKey   string
	AIModel    string

	// Search
	SearchRateLimit  int           // per (ip, engine) requests per window
	SearchRateWindow time.Duration // rate bucket window
	EngineTimeout    time.Duration // per engine HTTP fetch
	SelectorsPath    string        // external selectors.yaml override
	SelectorsReload  bool          // watch the override file for changes

	// API key authentication
	APIKeyPrefix string
	APIKeys      map[string]string // key -> user id
	AuthDisabled bool              // dev mode: every request runs as DevUser
	DevUser      string

	// HTTP rate limiting
	RateLimitEnabled bool
	RateLimitRPM     int
	TrustProxy       bool

	// Browser clients
	CORSAllowedOrigins []string

	// Metrics
	MetricsEnabled bool
	MetricsPort    int

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Server - default to localhost, set HOST=0.0.0.0 to expose
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8080),

		// Browser binding
		BindingURL:       getEnvString("BROWSER_BINDING_URL", ""),
		BindingToken:     getEnvString("BROWSER_BINDING_TOKEN", ""),
		SessionKeepAlive: getEnvDuration("SESSION_KEEP_ALIVE", 600*time.Second),
		NavTimeout:       getEnvDuration("NAV_TIMEOUT", 30*time.Second),
		OperationTimeout: getEnvDuration("OPERATION_TIMEOUT", 60*time.Second),

		// Credits
		RedisAddr:     getEnvString("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: getEnvString("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		StartCredits:  int64(getEnvInt("START_CREDITS", 1000)),

		// Storage and CDN
		StorageEndpoint:  getEnvString("STORAGE_ENDPOINT", ""),
		StorageAccessKey: getEnvString("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey: getEnvString("STORAGE_SECRET_KEY", ""),
		StorageBucket:    getEnvString("STORAGE_BUCKET", "weblinq-artifacts"),
		StorageUseSSL:    getEnvBool("STORAGE_USE_SSL", true),
		CDNHost:          getEnvString("CDN_HOST", ""),
		CDNPreviewHost:   getEnvString("CDN_PREVIEW_HOST", ""),
		Environment:      getEnvString("ENVIRONMENT", "production"),

		// Files
		DataDir:      getEnvString("DATA_DIR", "./data"),
		UserHashSalt: getEnvString("USER_HASH_SALT", ids.DefaultUserHashSalt),

		// AI
		AIEndpoint: getEnvString("AI_ENDPOINT", ""),
		AIAPIKey:   getEnvString("AI_API_KEY", ""),
		AIModel:    getEnvString("AI_MODEL", "@cf/meta/llama-3.1-8b-instruct"),

		// Search
		SearchRateLimit:  getEnvInt("SEARCH_RATE_LIMIT", 60),
		SearchRateWindow: getEnvDuration("SEARCH_RATE_WINDOW", 60*time.Second),
		EngineTimeout:    getEnvDuration("SEARCH_ENGINE_TIMEOUT", 20*time.Second),
		SelectorsPath:    getEnvString("SELECTORS_PATH", ""),
		SelectorsReload:  getEnvBool("SELECTORS_HOT_RELOAD", false),

		// Auth
		APIKeyPrefix: getEnvString("API_KEY_PREFIX", "wq_"),
		APIKeys:      getEnvKeyMap("API_KEYS"),
		AuthDisabled: getEnvBool("AUTH_DISABLED", false),
		DevUser:      getEnvString("DEV_USER", "dev"),

		// HTTP rate limiting
		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", 120),
		TrustProxy:       getEnvBool("TRUST_PROXY", false),

		// Browser clients
		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS"),

		// Metrics
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsPort:    getEnvInt("METRICS_PORT", 9090),

		// Logging
		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", false),
	}
}

// ActiveCDNHost returns the CDN host for the configured environment.
func (c *Config) ActiveCDNHost() string {
	if c.Environment == "preview" && c.CDNPreviewHost != "" {
		return c.CDNPreviewHost
	}
	return c.CDNHost
}

// StorageConfigured reports whether artifact persistence can be enabled.
func (c *Config) StorageConfigured() bool {
	return c.StorageEndpoint != "" && c.StorageAccessKey != "" && c.StorageSecretKey != "" && c.CDNHost != ""
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults; settings that make the
// service unusable are logged as errors and caught by the caller.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8080")
		c.Port = 8080
	}

	if c.BindingURL == "" {
		log.Error().Msg("BROWSER_BINDING_URL is not set - web operations will fail")
	}

	if c.SessionKeepAlive < minSessionKeepAlive {
		log.Warn().
			Dur("keep_alive", c.SessionKeepAlive).
			Dur("min", minSessionKeepAlive).
			Msg("Session keep-alive too short, using minimum")
		c.SessionKeepAlive = minSessionKeepAlive
	} else if c.SessionKeepAlive > maxSessionKeepAlive {
		log.Warn().
			Dur("keep_alive", c.SessionKeepAlive).
			Dur("max", maxSessionKeepAlive).
			Msg("Session keep-alive too long, using maximum")
		c.SessionKeepAlive = maxSessionKeepAlive
	}

	if c.NavTimeout < time.Second {
		log.Warn().Dur("timeout", c.NavTimeout).Msg("Navigation timeout too short, using 30s")
		c.NavTimeout = 30 * time.Second
	} else if c.NavTimeout > maxNavTimeout {
		log.Warn().
			Dur("timeout", c.NavTimeout).
			Dur("max", maxNavTimeout).
			Msg("Navigation timeout too long, capping to maximum")
		c.NavTimeout = maxNavTimeout
	}

	if c.OperationTimeout < c.NavTimeout {
		log.Warn().
			Dur("operation", c.OperationTimeout).
			Dur("navigation", c.NavTimeout).
			Msg("Operation timeout below navigation timeout, adjusting")
		c.OperationTimeout = c.NavTimeout * 2
	}

	if c.StartCredits < 0 {
		log.Warn().Int64("credits", c.StartCredits).Msg("Negative start credits, using 0")
		c.StartCredits = 0
	}

	if c.Environment != "production" && c.Environment != "preview" {
		log.Warn().Str("environment", c.Environment).Msg("Unknown environment, using 'production'")
		c.Environment = "production"
	}

	if !c.StorageConfigured() {
		log.Warn().Msg("Artifact storage not fully configured - permanent URLs disabled")
	}

	if strings.Contains(c.DataDir, "..") {
		log.Error().Str("path", c.DataDir).Msg("DATA_DIR contains path traversal sequence (..), using ./data")
		c.DataDir = "./data"
	}

	if c.AIEndpoint == "" {
		log.Warn().Msg("AI_ENDPOINT not set - json-extraction operations will fail")
	}

	if c.SearchRateLimit < 1 {
		log.Warn().Int("limit", c.SearchRateLimit).Msg("Invalid search rate limit, using 60")
		c.SearchRateLimit = 60
	} else if c.SearchRateLimit > maxSearchRateLimit {
		log.Warn().
			Int("limit", c.SearchRateLimit).
			Int("max", maxSearchRateLimit).
			Msg("Search rate limit too high, capping to maximum")
		c.SearchRateLimit = maxSearchRateLimit
	}

	if c.SearchRateWindow < time.Second {
		log.Warn().Dur("window", c.SearchRateWindow).Msg("Search rate window too short, using 60s")
		c.SearchRateWindow = 60 * time.Second
	}

	if c.EngineTimeout < time.Second {
		log.Warn().Dur("timeout", c.EngineTimeout).Msg("Engine timeout too short, using 20s")
		c.EngineTimeout = 20 * time.Second
	} else if c.EngineTimeout > maxEngineTimeout {
		log.Warn().
			Dur("timeout", c.EngineTimeout).
			Dur("max", maxEngineTimeout).
			Msg("Engine timeout too long, capping to maximum")
		c.EngineTimeout = maxEngineTimeout
	}

	if c.SelectorsPath != "" && strings.Contains(c.SelectorsPath, "..") {
		log.Error().Str("path", c.SelectorsPath).Msg("SELECTORS_PATH contains path traversal sequence (..), ignoring")
		c.SelectorsPath = ""
	}
	if c.SelectorsReload && c.SelectorsPath == "" {
		log.Warn().Msg("SELECTORS_HOT_RELOAD enabled but SELECTORS_PATH not set - hot-reload disabled")
		c.SelectorsReload = false
	}

	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 120 RPM")
			c.RateLimitRPM = 120
		} else if c.RateLimitRPM > maxRateLimitRPM {
			log.Warn().
				Int("rpm", c.RateLimitRPM).
				Int("max", maxRateLimitRPM).
				Msg("Rate limit too high, capping to maximum")
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	c.validateAuth()
}

// validateAuth checks the API key table.
func (c *Config) validateAuth() {
	if c.AuthDisabled {
		log.Warn().Str("user", c.DevUser).Msg("AUTH_DISABLED is set - every request runs as the dev user")
		return
	}
	if len(c.APIKeys) == 0 {
		log.Error().Msg("No API keys configured (API_KEYS) - all requests will be rejected")
		return
	}
	for key := range c.APIKeys {
		if !strings.HasPrefix(key, c.APIKeyPrefix) {
			log.Warn().Str("prefix", c.APIKeyPrefix).Msg("API key does not carry the configured prefix")
		}
		if len(key) < minAPIKeyLength {
			log.Error().
				Int("length", len(key)).
				Int("min_required", minAPIKeyLength).
				Msg("API key is too short for secure authentication")
		}
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}

// getEnvStringSlice parses a comma-separated list, dropping empty entries.
func getEnvStringSlice(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// getEnvKeyMap parses "key:user,key:user" pairs. Malformed entries are
// skipped with a warning rather than failing startup.
func getEnvKeyMap(key string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	result := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.IndexByte(pair, ':')
		if idx <= 0 || idx == len(pair)-1 {
			log.Warn().Str("key", key).Msg("Skipping malformed API key entry (want key:user)")
			continue
		}
		result[pair[:idx]] = pair[idx+1:]
	}
	return result
}
