package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// Config represents application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	AI        AIConfig        `json:"ai"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Router    RouterConfig    `json:"router"`
	Executor  ExecutorConfig  `json:"executor"`
	Cache     CacheConfig     `json:"cache"`
	Redis     RedisConfig     `json:"redis"`
	Auth      AuthConfig      `json:"auth"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

// DatabaseConfig represents document store configuration
type DatabaseConfig struct {
	Store          string        `json:"store"` // memory, postgres
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"dbname"`
	SSLMode        string        `json:"sslmode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleTime    time.Duration `json:"max_idle_time"`
	QueryTimeout   time.Duration `json:"query_timeout"`
}

// AIConfig represents generative model configuration
type AIConfig struct {
	Provider    string  `json:"provider"` // mock, openai, gemini
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutMs   int     `json:"timeout_ms"`
}

// RateLimitConfig bounds calls to the generative model
type RateLimitConfig struct {
	MaxRequests   int           `json:"max_requests"`
	Window        time.Duration `json:"window"`
	TickInterval  time.Duration `json:"tick_interval"`
	MaxQueueDepth int           `json:"max_queue_depth"`
	MaxRetries    int           `json:"max_retries"`
	BaseBackoff   time.Duration `json:"base_backoff"`
	MaxBackoff    time.Duration `json:"max_backoff"`
	Timeout       time.Duration `json:"timeout"`
}

// RouterConfig holds the structured path complexity thresholds
type RouterConfig struct {
	Enabled            bool `json:"enabled"`
	MaxAggregations    int  `json:"max_aggregations"`
	MaxConditions      int  `json:"max_conditions"`
	DynamicScoreDirect int  `json:"dynamic_score_direct"`
	DecisionLogSize    int  `json:"decision_log_size"`
}

// ExecutorConfig controls entity resolution
type ExecutorConfig struct {
	AmbiguityPolicy string `json:"ambiguity_policy"` // first, error
	ScanLimit       int    `json:"scan_limit"`
}

// CacheConfig controls the compiled workflow cache
type CacheConfig struct {
	Backend string        `json:"backend"` // none, memory, redis
	TTL     time.Duration `json:"ttl"`
	MaxSize int           `json:"max_size"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	Timeout  time.Duration `json:"timeout"`
}

// AuthConfig represents bearer token verification and per-actor throttling
type AuthConfig struct {
	JWTSecret         string        `json:"jwt_secret"`
	AllowAnonymous    bool          `json:"allow_anonymous"`
	ThrottleEnabled   bool          `json:"throttle_enabled"`
	ThrottleRequests  int           `json:"throttle_requests"`
	ThrottleWindow    time.Duration `json:"throttle_window"`
	ThrottleBlockTime time.Duration `json:"throttle_block_time"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json, text
	Caller bool   `json:"caller"`
}

// Load reads optional .env files and builds the configuration from the environment
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnvOrDefault("SERVER_PORT", "8080"),
			Host:         getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvOrDefaultDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvOrDefaultDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			IdleTimeout:  getEnvOrDefaultDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnvOrDefault("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Store:          getEnvOrDefault("DOCUMENT_STORE", "memory"),
			Host:           getEnvOrDefault("DB_HOST", "localhost"),
			Port:           getEnvOrDefaultInt("DB_PORT", 5432),
			User:           getEnvOrDefault("DB_USER", "postgres"),
			Password:       getEnvOrDefault("DB_PASSWORD", ""),
			DBName:         getEnvOrDefault("DB_NAME", "studio"),
			SSLMode:        getEnvOrDefault("DB_SSLMODE", "disable"),
			MaxConnections: getEnvOrDefaultInt("DB_MAX_CONNECTIONS", 20),
			MaxIdleTime:    getEnvOrDefaultDuration("DB_MAX_IDLE_TIME", 30*time.Minute),
			QueryTimeout:   getEnvOrDefaultDuration("DB_QUERY_TIMEOUT", 30*time.Second),
		},
		AI: AIConfig{
			Provider:    getEnvOrDefault("AI_PROVIDER", "mock"),
			APIKey:      getEnvOrDefault("AI_API_KEY", ""),
			BaseURL:     getEnvOrDefault("AI_BASE_URL", ""),
			Model:       getEnvOrDefault("AI_MODEL", ""),
			Temperature: getEnvOrDefaultFloat("AI_TEMPERATURE", 0.1),
			MaxTokens:   getEnvOrDefaultInt("AI_MAX_TOKENS", 2048),
			TimeoutMs:   getEnvOrDefaultInt("AI_TIMEOUT_MS", 30000),
		},
		RateLimit: RateLimitConfig{
			MaxRequests:   getEnvOrDefaultInt("AI_RATE_LIMIT_REQUESTS", 10),
			Window:        getEnvOrDefaultDuration("AI_RATE_LIMIT_WINDOW", time.Minute),
			TickInterval:  getEnvOrDefaultDuration("AI_RATE_LIMIT_TICK", 100*time.Millisecond),
			MaxQueueDepth: getEnvOrDefaultInt("AI_RATE_LIMIT_QUEUE_DEPTH", 100),
			MaxRetries:    getEnvOrDefaultInt("AI_RATE_LIMIT_MAX_RETRIES", 3),
			BaseBackoff:   getEnvOrDefaultDuration("AI_RATE_LIMIT_BASE_BACKOFF", time.Second),
			MaxBackoff:    getEnvOrDefaultDuration("AI_RATE_LIMIT_MAX_BACKOFF", 30*time.Second),
			Timeout:       getEnvOrDefaultDuration("AI_RATE_LIMIT_TIMEOUT", 60*time.Second),
		},
		Router: RouterConfig{
			Enabled:            getEnvOrDefaultBool("ROUTER_ENABLED", true),
			MaxAggregations:    getEnvOrDefaultInt("ROUTER_MAX_AGGREGATIONS", 2),
			MaxConditions:      getEnvOrDefaultInt("ROUTER_MAX_CONDITIONS", 3),
			DynamicScoreDirect: getEnvOrDefaultInt("ROUTER_DYNAMIC_SCORE_DIRECT", 3),
			DecisionLogSize:    getEnvOrDefaultInt("ROUTER_DECISION_LOG_SIZE", 200),
		},
		Executor: ExecutorConfig{
			AmbiguityPolicy: getEnvOrDefault("EXECUTOR_AMBIGUITY_POLICY", "first"),
			ScanLimit:       getEnvOrDefaultInt("EXECUTOR_SCAN_LIMIT", 500),
		},
		Cache: CacheConfig{
			Backend: getEnvOrDefault("COMPILE_CACHE", "memory"),
			TTL:     getEnvOrDefaultDuration("COMPILE_CACHE_TTL", 10*time.Minute),
			MaxSize: getEnvOrDefaultInt("COMPILE_CACHE_MAX_SIZE", 1000),
		},
		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefaultInt("REDIS_PORT", 6379),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvOrDefaultInt("REDIS_DB", 0),
			PoolSize: getEnvOrDefaultInt("REDIS_POOL_SIZE", 10),
			Timeout:  getEnvOrDefaultDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:         getEnvOrDefault("JWT_SECRET", ""),
			AllowAnonymous:    getEnvOrDefaultBool("AUTH_ALLOW_ANONYMOUS", false),
			ThrottleEnabled:   getEnvOrDefaultBool("THROTTLE_ENABLED", false),
			ThrottleRequests:  getEnvOrDefaultInt("THROTTLE_REQUESTS", 30),
			ThrottleWindow:    getEnvOrDefaultDuration("THROTTLE_WINDOW", time.Minute),
			ThrottleBlockTime: getEnvOrDefaultDuration("THROTTLE_BLOCK_TIME", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
			Caller: getEnvOrDefaultBool("LOG_CALLER", false),
		},
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Store {
	case "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user and name are required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown document store: %s", c.Database.Store)
	}

	switch c.AI.Provider {
	case "mock":
	case "openai", "gemini":
		if c.AI.APIKey == "" {
			return fmt.Errorf("AI API key is required for provider: %s", c.AI.Provider)
		}
	default:
		return fmt.Errorf("unknown AI provider: %s", c.AI.Provider)
	}

	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.TickInterval <= 0 || c.RateLimit.TickInterval >= c.RateLimit.Window {
		return fmt.Errorf("rate limit tick must be positive and shorter than the window")
	}
	if c.RateLimit.MaxQueueDepth <= 0 {
		return fmt.Errorf("rate limit queue depth must be positive")
	}
	if c.RateLimit.MaxRetries < 0 {
		return fmt.Errorf("rate limit max retries must not be negative")
	}
	if c.RateLimit.MaxBackoff < c.RateLimit.BaseBackoff {
		return fmt.Errorf("rate limit max backoff must not be shorter than the base backoff")
	}

	switch c.Executor.AmbiguityPolicy {
	case "first", "error":
	default:
		return fmt.Errorf("unknown ambiguity policy: %s", c.Executor.AmbiguityPolicy)
	}

	switch c.Cache.Backend {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("unknown compile cache backend: %s", c.Cache.Backend)
	}

	if c.Auth.JWTSecret == "" && !c.Auth.AllowAnonymous && c.IsProduction() {
		return fmt.Errorf("JWT secret must be set in production")
	}

	return nil
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// GetDatabaseURL returns the database connection URL
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis host:port address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ToAIConfig converts to ports.AIConfig
func (c *Config) ToAIConfig() ports.AIConfig {
	return ports.AIConfig{
		Provider:    c.AI.Provider,
		APIKey:      c.AI.APIKey,
		BaseURL:     c.AI.BaseURL,
		Model:       c.AI.Model,
		Temperature: c.AI.Temperature,
		MaxTokens:   c.AI.MaxTokens,
		TimeoutMs:   c.AI.TimeoutMs,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
