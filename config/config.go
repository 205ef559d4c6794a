package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	DB        DBConfig
	JWT       JWTConfig
	Lifecycle LifecycleConfig
	Evidence  EvidenceConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Tracing   TracingConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	AllowedOrigins []string // CORS; "*" allows any
}

type DBConfig struct {
	Path string
}

type JWTConfig struct {
	SigningKey string        // Secret key for JWT signing
	Issuer     string        // JWT issuer claim
	MaxAge     time.Duration // token lifetime for issued tokens
}

type LifecycleConfig struct {
	OperationTimeout        time.Duration // bound on a single lifecycle operation
	RequireDeliveryEvidence bool          // confirmDelivery needs >=1 photo or a signature
	MaxDonationPhotos       int
	LockTTL                 time.Duration
	LockWait                time.Duration
}

type EvidenceConfig struct {
	Backend         string // "local" or "gcs"
	UploadDir       string
	PublicBaseURL   string // prefix for local refs, e.g. "/uploads"
	GCSBucket       string
	CredentialsPath string
}

type RedisConfig struct {
	Addr     string // empty disables the distributed lock
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	PollInterval time.Duration
	BatchSize    int
	MetricsAddr  string // relay's /metrics listener; empty disables it
}

type TracingConfig struct {
	Endpoint string // OTLP/HTTP collector host:port; empty disables tracing
	Insecure bool
}

// Load returns application configuration from environment variables.
// A .env file in the working directory is read first when present; real
// environment variables win over it.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            getEnv("ENV", "development"),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		},
		DB: DBConfig{
			Path: getEnv("DB_PATH", "goodwill.db"),
		},
		JWT: JWTConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			Issuer:     getEnv("JWT_ISSUER", "goodwill"),
			MaxAge:     getEnvDuration("SESSION_MAX_AGE", 7*24*time.Hour),
		},
		Lifecycle: LifecycleConfig{
			OperationTimeout:        getEnvDuration("OPERATION_TIMEOUT", 10*time.Second),
			RequireDeliveryEvidence: getEnvBool("REQUIRE_DELIVERY_EVIDENCE", false),
			MaxDonationPhotos:       getEnvInt("MAX_DONATION_PHOTOS", 5),
			LockTTL:                 getEnvDuration("LOCK_TTL", 15*time.Second),
			LockWait:                getEnvDuration("LOCK_WAIT", 3*time.Second),
		},
		Evidence: EvidenceConfig{
			Backend:         getEnv("EVIDENCE_BACKEND", "local"),
			UploadDir:       getEnv("UPLOAD_DIR", "uploads"),
			PublicBaseURL:   getEnv("UPLOAD_BASE_URL", "/uploads"),
			GCSBucket:       getEnv("GCS_BUCKET", ""),
			CredentialsPath: getEnv("GCS_CREDENTIALS_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:      getEnvList("KAFKA_BROKERS"),
			Topic:        getEnv("KAFKA_TOPIC", "donation-notifications"),
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
			MetricsAddr:  getEnv("OUTBOX_METRICS_ADDR", ":9091"),
		},
		Tracing: TracingConfig{
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	return cfg
}

// IsProduction reports whether ENV=production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
