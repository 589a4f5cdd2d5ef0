package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Mail drivers
const (
	MailDriverSES = "ses"
	MailDriverLog = "log"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisNS       string // key prefix, REDIS_NAMESPACE

	// AWS Services
	AWSRegion   string
	AWSEndpoint string // localstack or elasticmq in development

	// Mail relay
	MailDriver   string
	SESFromEmail string

	// Event transport. With neither set the ingest endpoint handles events inline.
	SQSQueueURL   string
	SNSTopicARN   string
	WorkerPollers int

	// Webhook config
	WebhookURL     string
	WebhookTimeout time.Duration
	WebhookSecret  string // sent as X-Solarops-Webhook-Secret when set

	EmailTimeout     time.Duration
	EmailConcurrency int

	// LookupTimeout bounds the site, company and customer queries of one event
	LookupTimeout time.Duration

	// Auth
	JWTSecret     string
	InternalToken string

	// EventDedupWindow enables the Redis event guard when positive
	EventDedupWindow time.Duration
	// IngestRateLimit is events per minute per tenant, 0 disables the limiter
	IngestRateLimit int

	PlatformName string
}

// RedisEnabled reports whether any Redis-backed feature is switched on
func (c *Config) RedisEnabled() bool {
	return c.EventDedupWindow > 0 || c.IngestRateLimit > 0
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "solarops",
		DBName:     "solarops",
		DBSSLMode:  "disable",
		DBMaxConns: 10,

		// Redis defaults
		RedisHost: "localhost",
		RedisPort: 6379,
		RedisNS:   "solarops",

		AWSRegion:     "eu-central-1",
		MailDriver:    MailDriverSES,
		WorkerPollers: 1,

		WebhookTimeout:   10 * time.Second,
		EmailTimeout:     15 * time.Second,
		EmailConcurrency: 8,
		LookupTimeout:    5 * time.Second,

		PlatformName: "SolarOps",
	}

	var err error

	if cfg.Port, err = intEnv("PORT", cfg.Port); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if cfg.DBPort, err = intEnv("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if cfg.DBMaxConns, err = intEnv("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return nil, err
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if cfg.RedisPort, err = intEnv("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if cfg.RedisDB, err = intEnv("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}

	if ns := os.Getenv("REDIS_NAMESPACE"); ns != "" {
		cfg.RedisNS = ns
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	cfg.AWSEndpoint = os.Getenv("AWS_ENDPOINT")

	if driver := os.Getenv("MAIL_DRIVER"); driver != "" {
		cfg.MailDriver = driver
	}

	cfg.SESFromEmail = os.Getenv("SES_FROM_EMAIL")
	cfg.SQSQueueURL = os.Getenv("SQS_QUEUE_URL")
	cfg.SNSTopicARN = os.Getenv("SNS_TOPIC_ARN")

	if cfg.WorkerPollers, err = intEnv("WORKER_POLLERS", cfg.WorkerPollers); err != nil {
		return nil, err
	}

	// Webhook config
	cfg.WebhookURL = os.Getenv("WEBHOOK_URL")
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")

	if cfg.WebhookTimeout, err = durationEnv("WEBHOOK_TIMEOUT", cfg.WebhookTimeout); err != nil {
		return nil, err
	}

	if cfg.EmailTimeout, err = durationEnv("EMAIL_TIMEOUT", cfg.EmailTimeout); err != nil {
		return nil, err
	}

	if cfg.LookupTimeout, err = durationEnv("LOOKUP_TIMEOUT", cfg.LookupTimeout); err != nil {
		return nil, err
	}

	if cfg.EmailConcurrency, err = intEnv("EMAIL_CONCURRENCY", cfg.EmailConcurrency); err != nil {
		return nil, err
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.InternalToken = os.Getenv("INTERNAL_TOKEN")

	if cfg.EventDedupWindow, err = durationEnv("EVENT_DEDUP_WINDOW", 0); err != nil {
		return nil, err
	}

	if cfg.IngestRateLimit, err = intEnv("INGEST_RATE_LIMIT", 0); err != nil {
		return nil, err
	}

	if name := os.Getenv("PLATFORM_NAME"); name != "" {
		cfg.PlatformName = name
	}

	return cfg, nil
}

// Validate rejects configurations the notifier cannot start with
func (c *Config) Validate() error {
	var errs []error

	if c.WebhookURL == "" {
		errs = append(errs, errors.New("WEBHOOK_URL is required"))
	} else if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("WEBHOOK_URL must be an absolute http(s) url, got %q", c.WebhookURL))
	}

	switch c.MailDriver {
	case MailDriverSES:
		if c.SESFromEmail == "" {
			errs = append(errs, errors.New("SES_FROM_EMAIL is required for the ses mail driver"))
		}
	case MailDriverLog:
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver))
	}

	if c.Env == "production" {
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required in production"))
		}
		if c.InternalToken == "" {
			errs = append(errs, errors.New("INTERNAL_TOKEN is required in production"))
		}
	}

	if c.WebhookTimeout <= 0 || c.EmailTimeout <= 0 || c.LookupTimeout <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TIMEOUT, EMAIL_TIMEOUT and LOOKUP_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationEnv accepts Go durations ("15s") or a bare number of seconds
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
