package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerPort string
	JWTSecret  string
	Postgres   PostgresConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	Logging    LoggingConfig
	Ollama     OllamaConfig
	Speech     SpeechConfig
	RateLimit  RateLimitConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// MongoConfig describes the optional message archive. The archive is
// disabled entirely when URI is empty.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// RedisConfig describes the optional rate-limit backend. Limiting is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// OllamaConfig points at an OpenAI-compatible chat completions endpoint.
// The defaults target a locally hosted Ollama instance.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	APIKey         string
	RequestTimeout time.Duration
	MaxToolRounds  int
}

type SpeechConfig struct {
	UpstreamEndpoint string
	SampleRate       int
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

func LoadConfig() (*Config, error) {
	port := envOrDefault("PORT", "8080")
	jwtSecret := envOrDefault("JWT_SECRET", "dev-secret")

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "llamatalk-server"),
	}

	cfg := &Config{
		ServerPort: port,
		JWTSecret:  jwtSecret,
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "llamatalk"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            strings.TrimSpace(os.Getenv("MONGO_URI")),
			Database:       envOrDefault("MONGO_DATABASE", "llamatalk"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:        strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password:    os.Getenv("REDIS_PASSWORD"),
			DB:          parseInt(envOrDefault("REDIS_DB", "0"), 0),
			DialTimeout: parseDuration(envOrDefault("REDIS_DIAL_TIMEOUT", "2s"), 2*time.Second),
		},
		Logging: logging,
		Ollama: OllamaConfig{
			BaseURL:        strings.TrimRight(envOrDefault("OLLAMA_BASE_URL", "http://localhost:11434/v1"), "/"),
			Model:          envOrDefault("OLLAMA_MODEL", "llama3.1"),
			APIKey:         strings.TrimSpace(os.Getenv("OLLAMA_API_KEY")),
			RequestTimeout: parseDuration(envOrDefault("OLLAMA_REQUEST_TIMEOUT", "120s"), 120*time.Second),
			MaxToolRounds:  parsePositiveInt(envOrDefault("OLLAMA_MAX_TOOL_ROUNDS", "4"), 4),
		},
		Speech: SpeechConfig{
			UpstreamEndpoint: strings.TrimSpace(os.Getenv("SPEECH_WS_ENDPOINT")),
			SampleRate:       parsePositiveInt(envOrDefault("SPEECH_SAMPLE_RATE", "16000"), 16000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: parsePositiveInt(envOrDefault("RATE_LIMIT_PER_MINUTE", "30"), 30),
		},
	}

	return cfg, nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return i
}

func parsePositiveInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || i <= 0 {
		return fallback
	}
	return i
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
