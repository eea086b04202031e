// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel string
	HTTPAddr string

	PostgresDSN    string
	RedisAddr      string
	RedisKeyPrefix string

	Workers         int
	StepDelay       time.Duration
	StepTimeout     time.Duration
	StaleAfter      time.Duration
	PromoteInterval time.Duration

	RetryBaseDelay       time.Duration
	MaxValidationRetries int
	MaxTransientRetries  int
	QAFixMaxAttempts     int

	GenerationCost  int
	EditCost        int
	MaxEditsPerPage int

	GeminiAPIKey     string
	GeminiImageModel string
	GeminiTextModel  string
	GeminiQAModel    string

	StorageMode string
	StoragePath string
	S3Bucket    string
	AWSRegion   string

	AssemblyBaseURL string
	AssemblyTimeout time.Duration

	NotifyProvider    string
	NotifyFromAddress string
}

// Load reads .env (if present) and the process environment. Only the Postgres
// DSN and the Redis address are mandatory.
func Load() (Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	c := Config{
		AppEnv:   envOr("APP_ENV", "production"),
		LogLevel: envOr("LOG_LEVEL", "info"),
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisKeyPrefix: envOr("REDIS_KEY_PREFIX", "comic"),

		Workers:         envIntOr("WORKERS", 4),
		StepDelay:       envDurationOr("STEP_DELAY", 500*time.Millisecond),
		StepTimeout:     envDurationOr("STEP_TIMEOUT", 90*time.Second),
		StaleAfter:      envDurationOr("STALE_AFTER", 5*time.Minute),
		PromoteInterval: envDurationOr("PROMOTE_INTERVAL", 250*time.Millisecond),

		RetryBaseDelay:       envDurationOr("RETRY_BASE_DELAY", 2*time.Second),
		MaxValidationRetries: envIntOr("MAX_VALIDATION_RETRIES", 5),
		MaxTransientRetries:  envIntOr("MAX_TRANSIENT_RETRIES", 5),
		QAFixMaxAttempts:     envIntOr("QA_FIX_MAX_ATTEMPTS", 0),

		GenerationCost:  envIntOr("GENERATION_COST", 10),
		EditCost:        envIntOr("EDIT_COST", 1),
		MaxEditsPerPage: envIntOr("MAX_EDITS_PER_PAGE", 0),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiImageModel: os.Getenv("GEMINI_IMAGE_MODEL"),
		GeminiTextModel:  os.Getenv("GEMINI_TEXT_MODEL"),
		GeminiQAModel:    os.Getenv("GEMINI_QA_MODEL"),

		StorageMode: strings.ToLower(envOr("STORAGE_MODE", "local")),
		StoragePath: envOr("STORAGE_PATH", "./data/assets"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		AWSRegion:   envOr("AWS_REGION", "us-east-1"),

		AssemblyBaseURL: os.Getenv("ASSEMBLY_BASE_URL"),
		AssemblyTimeout: envDurationOr("ASSEMBLY_TIMEOUT", 60*time.Second),

		NotifyProvider:    strings.ToLower(envOr("NOTIFY_PROVIDER", "log")),
		NotifyFromAddress: os.Getenv("NOTIFY_FROM_ADDRESS"),
	}

	var missing []string
	if c.PostgresDSN == "" {
		missing = append(missing, "POSTGRES_DSN")
	}
	if c.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("missing env: %s", strings.Join(missing, ", "))
	}
	if c.StorageMode != "local" && c.StorageMode != "s3" {
		return c, fmt.Errorf("STORAGE_MODE must be local or s3, got %q", c.StorageMode)
	}
	if c.StorageMode == "s3" && c.S3Bucket == "" {
		return c, fmt.Errorf("missing env: S3_BUCKET (required when STORAGE_MODE=s3)")
	}
	// a step still running when the reaper fires would be delivered twice
	if c.StepTimeout >= c.StaleAfter {
		return c, fmt.Errorf("STEP_TIMEOUT (%s) must be below STALE_AFTER (%s)", c.StepTimeout, c.StaleAfter)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return c, nil
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// envDurationOr accepts Go durations ("2s") or a bare number of milliseconds.
func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL-style DSN: user:pass@ -> user:****@.
// DSNs without a password are returned unchanged.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
