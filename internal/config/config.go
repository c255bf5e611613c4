package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	DatabaseURL string

	StripeWebhookSecret string
	// TestMode skips webhook signature verification
	TestMode bool

	EmailProvider  string // "sendgrid" or "smtp"; the other becomes fallback
	SendgridAPIKey string
	SMTPHost       string
	SMTPPort       string
	SMTPUsername   string
	SMTPPassword   string
	EmailFrom      string

	SentryDSN string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

func New() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "storelens.db"
	}

	testMode := os.Getenv("TEST_MODE") == "true"

	stripeWebhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if stripeWebhookSecret == "" && !testMode {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET environment variable is required")
	}

	emailProvider := os.Getenv("EMAIL_PROVIDER")
	if emailProvider == "" {
		emailProvider = "sendgrid"
	}

	emailFrom := os.Getenv("EMAIL_FROM")
	if emailFrom == "" {
		emailFrom = "licenses@storelens.app"
	}

	rateLimitRequests := 10
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.New("RATE_LIMIT_REQUESTS must be a non-negative integer")
		}
		rateLimitRequests = n
	}

	rateLimitWindow := time.Minute
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, errors.New("RATE_LIMIT_WINDOW must be a duration like 60s")
		}
		rateLimitWindow = d
	}

	return &Config{
		Port:                port,
		DatabaseURL:         dbURL,
		StripeWebhookSecret: stripeWebhookSecret,
		TestMode:            testMode,
		EmailProvider:       emailProvider,
		SendgridAPIKey:      os.Getenv("SENDGRID_API_KEY"),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            os.Getenv("SMTP_PORT"),
		SMTPUsername:        os.Getenv("SMTP_USERNAME"),
		SMTPPassword:        os.Getenv("SMTP_PASSWORD"),
		EmailFrom:           emailFrom,
		SentryDSN:           os.Getenv("SENTRY_DSN"),
		RateLimitRequests:   rateLimitRequests,
		RateLimitWindow:     rateLimitWindow,
	}, nil
}
