package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/markdave123-py/regkb/internal/platform/logger"
)

type Config struct {
	DatabaseURL  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	SslCertPath  string
	AIAPIKey     string
	EmbedModel   string
	GenModel     string
	Port         string

	// ExtractionBackend is "gemini" or "local" (docconv only)
	ExtractionBackend  string
	ExtractionEndpoint string

	PageCap               int
	MaxPagesPerInvocation int
	MaxPayloadBytes       int64
	InvocationTimeout     time.Duration
	ExtractionTimeout     time.Duration
	InferMetadata         bool
	ArchivePrefix         string

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitBlock    time.Duration

	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration

	JWTSecret   string
	CORSOrigins []string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "eu-west-3"),
		BucketName:   getEnv("BUCKET_NAME", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		GenModel:     getEnv("GEN_MODEL", "gemini-2.0-flash"),
		Port:         getEnv("PORT", "8080"),

		ExtractionBackend:  getEnv("EXTRACTION_BACKEND", "gemini"),
		ExtractionEndpoint: getEnv("EXTRACTION_ENDPOINT", ""),

		PageCap:               getEnvInt("PAGE_CAP", 5),
		MaxPagesPerInvocation: getEnvInt("MAX_PAGES_PER_INVOCATION", 50),
		MaxPayloadBytes:       int64(getEnvInt("MAX_PAYLOAD_BYTES", 50<<20)),
		InvocationTimeout:     getEnvDuration("INVOCATION_TIMEOUT", 5*time.Minute),
		ExtractionTimeout:     getEnvDuration("EXTRACTION_TIMEOUT", 90*time.Second),
		InferMetadata:         getEnvBool("INFER_METADATA", true),
		ArchivePrefix:         getEnv("ARCHIVE_PREFIX", "sources/"),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitBlock:    getEnvDuration("RATE_LIMIT_BLOCK", 5*time.Minute),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),

		JWTSecret:   getEnv("INGEST_JWT_SECRET", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),
	}

	if cfg.DatabaseURL == "" {
		logger.Named("config").Fatal().Msg("DATABASE_URL not set")
	}
	if err := cfg.Validate(); err != nil {
		logger.Named("config").Fatal().Err(err).Msg("invalid config")
	}

	return cfg
}

// Validate checks values that only make sense together
func (c *Config) Validate() error {
	switch c.ExtractionBackend {
	case "gemini":
		if c.AIAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required with EXTRACTION_BACKEND=gemini")
		}
	case "local":
	default:
		return fmt.Errorf("EXTRACTION_BACKEND must be gemini or local, got %q", c.ExtractionBackend)
	}
	if c.PageCap < 1 {
		return fmt.Errorf("PAGE_CAP must be at least 1")
	}
	if c.MaxPagesPerInvocation < c.PageCap {
		return fmt.Errorf("MAX_PAGES_PER_INVOCATION (%d) is below PAGE_CAP (%d)", c.MaxPagesPerInvocation, c.PageCap)
	}
	if c.ExtractionTimeout >= c.InvocationTimeout {
		return fmt.Errorf("EXTRACTION_TIMEOUT (%s) must be shorter than INVOCATION_TIMEOUT (%s)", c.ExtractionTimeout, c.InvocationTimeout)
	}
	if c.RateLimitRequests < 1 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit needs RATE_LIMIT_REQUESTS >= 1 and a positive RATE_LIMIT_WINDOW")
	}
	return nil
}

// ObjectStorageEnabled reports whether archiving and s3:// fetches can be used
func (c *Config) ObjectStorageEnabled() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != "" && c.BucketName != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Named("config").Warn().Str("key", key).Str("value", v).Int("default", def).Msg("not an int, using default")
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Named("config").Warn().Str("key", key).Str("value", v).Dur("default", def).Msg("not a duration, using default")
		return def
	}
	return d
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Named("config").Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("not a bool, using default")
		return def
	}
	return b
}

func getEnvList(key string, def []string) []string {
	v := strings.TrimSpace(getEnv(key, ""))
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
