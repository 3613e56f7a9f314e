package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"

	FanoutLocal = "local"
	FanoutRedis = "redis"
	FanoutKafka = "kafka"
)

type Config struct {
	ServiceName string
	HTTPAddr    string
	InstanceID  string
	LogLevel    string

	StoreBackend  string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string

	FanoutMode   string
	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	AuthDisabled bool

	RateLimitRequests  int
	RateLimitWindow    time.Duration
	CORSAllowedOrigins []string

	SubscriberBuffer  int
	HistoryPageSize   int
	SummaryCacheTTL   time.Duration
	DirectoryCacheTTL time.Duration

	MetricsEnabled bool
	TracingEnabled bool
	JaegerURL      string

	OutboxPollDelay time.Duration
	OutboxBatchSize int

	StoreBreakerFailures int
	StoreBreakerTimeout  time.Duration
}

// Load reads the configuration from the environment, after loading a .env
// file when one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "advisory-chat"),
		HTTPAddr:    fixPort(getEnv("HTTP_ADDR", ":8080")),
		InstanceID:  getEnv("INSTANCE_ID", defaultInstanceID()),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "advisory"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),

		FanoutMode:   strings.ToLower(getEnv("FANOUT_MODE", FanoutLocal)),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "advisory.messages"),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTIssuer:    getEnv("JWT_ISSUER", ""),
		JWTAudience:  getEnv("JWT_AUDIENCE", ""),
		AuthDisabled: getEnvBool("AUTH_DISABLED", false),

		RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),

		SubscriberBuffer:  getEnvInt("SUBSCRIBER_BUFFER", 128),
		HistoryPageSize:   getEnvInt("HISTORY_PAGE_SIZE", 100),
		SummaryCacheTTL:   getEnvDuration("SUMMARY_CACHE_TTL", 30*time.Second),
		DirectoryCacheTTL: getEnvDuration("DIRECTORY_CACHE_TTL", time.Hour),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		JaegerURL:      getEnv("JAEGER_URL", "http://localhost:14268/api/traces"),

		OutboxPollDelay: getEnvDuration("OUTBOX_POLL_DELAY", 2*time.Second),
		OutboxBatchSize: getEnvInt("OUTBOX_BATCH_SIZE", 100),

		StoreBreakerFailures: getEnvInt("STORE_BREAKER_FAILURES", 5),
		StoreBreakerTimeout:  getEnvDuration("STORE_BREAKER_TIMEOUT", 10*time.Second),
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.FanoutMode {
	case FanoutLocal:
	case FanoutRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("FANOUT_MODE=redis requires REDIS_ADDR"))
		}
	case FanoutKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("FANOUT_MODE=kafka requires KAFKA_BROKERS"))
		}
		if c.StoreBackend != BackendPostgres {
			errs = append(errs, errors.New("FANOUT_MODE=kafka requires the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown FANOUT_MODE %q", c.FanoutMode))
	}

	if !c.AuthDisabled && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required unless AUTH_DISABLED=true"))
	}
	if c.HistoryPageSize <= 0 || c.HistoryPageSize > 500 {
		errs = append(errs, fmt.Errorf("HISTORY_PAGE_SIZE must be within 1..500, got %d", c.HistoryPageSize))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("SUBSCRIBER_BUFFER must be positive, got %d", c.SubscriberBuffer))
	}

	return errors.Join(errs...)
}

func defaultInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()
}

func fixPort(port string) string {
	if port != "" && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true"
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
