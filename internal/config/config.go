package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"whatsapp-crm/pkg/logging"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	LogLevel string

	// WhatsApp Cloud API
	VerifyToken               string
	WhatsAppToken             string
	PhoneNumberID             string
	WhatsAppBusinessAccountID string
	APIVersion                string
	GraphBaseURL              string

	// Per-call timeouts against the provider
	MetadataTimeout time.Duration
	MediaTimeout    time.Duration
	SendTimeout     time.Duration
	MaxUploadBytes  int64

	// Database
	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Replay guard
	RedisURL        string
	WebhookDedupTTL time.Duration

	// Attachment blob store (optional)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	PublicBaseURL    string
	PublicAuthorName string

	// Warnings collected while loading, logged by the caller once a logger exists.
	Warnings []string
}

var (
	ErrSendCredentials = errors.New("config: WhatsApp access token / phone number ID are not configured")
	ErrSyncCredentials = errors.New("config: configure the access token and WABA ID before syncing templates")
)

func LoadConfig() *Config {
	env := &envReader{}
	if err := godotenv.Load(); err != nil {
		env.warn("no .env file loaded: %v", err)
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		VerifyToken:               getEnv("VERIFY_TOKEN", ""),
		WhatsAppToken:             getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:             getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppBusinessAccountID: getEnv("WABA_ID", ""),
		APIVersion:                getEnv("WHATSAPP_API_VERSION", "v21.0"),
		GraphBaseURL:              getEnv("GRAPH_BASE_URL", "https://graph.facebook.com"),

		MetadataTimeout: env.duration("META_TIMEOUT", 10*time.Second),
		MediaTimeout:    env.duration("MEDIA_TIMEOUT", 120*time.Second),
		SendTimeout:     env.duration("SEND_TIMEOUT", 30*time.Second),
		MaxUploadBytes:  int64(env.integer("MAX_UPLOAD_BYTES", 100*1024*1024)),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", "./whatsapp-crm.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "whatsapp_crm"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisURL:        getEnv("REDIS_URL", ""),
		WebhookDedupTTL: env.duration("WEBHOOK_DEDUP_TTL", 24*time.Hour),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "whatsapp-attachments"),
		MinioUseSSL:    env.boolean("MINIO_USE_SSL", false),

		PublicBaseURL:    getEnv("PUBLIC_BASE_URL", ""),
		PublicAuthorName: getEnv("PUBLIC_AUTHOR_NAME", "WhatsApp"),
	}
	cfg.Warnings = env.warnings
	return cfg
}

// LogWarnings reports the problems found by LoadConfig.
func (c *Config) LogWarnings(logger *logging.Logger) {
	if logger == nil {
		logger = logging.Default()
	}
	for _, w := range c.Warnings {
		logger.Warn("config: " + w)
	}
}

// RequireSendCredentials reports whether outbound sends can be attempted.
func (c *Config) RequireSendCredentials() error {
	if c.WhatsAppToken == "" || c.PhoneNumberID == "" {
		return ErrSendCredentials
	}
	return nil
}

// RequireTemplateSync reports whether the template list can be fetched.
func (c *Config) RequireTemplateSync() error {
	if c.WhatsAppToken == "" || c.WhatsAppBusinessAccountID == "" {
		return ErrSyncCredentials
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// envReader parses typed variables, falling back and noting a warning on
// malformed values.
type envReader struct {
	warnings []string
}

func (e *envReader) warn(format string, args ...any) {
	e.warnings = append(e.warnings, fmt.Sprintf(format, args...))
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.warn("invalid duration for %s: %q", key, raw)
		return fallback
	}
	return d
}

func (e *envReader) integer(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.warn("invalid integer for %s: %q", key, raw)
		return fallback
	}
	return n
}

func (e *envReader) boolean(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.warn("invalid boolean for %s: %q", key, raw)
		return fallback
	}
	return b
}
