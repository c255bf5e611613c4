package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"storelens.app/cloud/handlers"
	"storelens.app/cloud/internal/config"
	"storelens.app/cloud/internal/email"
	"storelens.app/cloud/internal/logger"
	"storelens.app/cloud/internal/ratelimit"
	"storelens.app/cloud/license"
	"storelens.app/cloud/storage"
)

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		handlers.Version = strings.TrimSpace(string(versionBytes))
	}

	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
		}); err != nil {
			log.Fatalf("sentry.Init: %v", err)
		}
	}

	store, err := openStorage(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	mailer := buildMailer(cfg)
	manager := license.NewManager(store, mailer)
	limiter := ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
	server := handlers.NewServer(manager, limiter, cfg)

	logger.Info("StoreLens Cloud API starting", map[string]interface{}{
		"version": handlers.Version,
		"port":    cfg.Port,
	})
	log.Fatal(http.ListenAndServe(":"+cfg.Port, server.Router))
}

func openStorage(databaseURL string) (storage.Storage, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return storage.NewPostgresStorage(databaseURL)
	}
	return storage.NewSQLiteStorage(databaseURL)
}

// buildMailer assembles the provider chain: the configured primary first,
// the other provider as fallback when its settings are present.
func buildMailer(cfg *config.Config) *email.Dispatcher {
	var providers []email.Provider

	smtpProvider := &email.SMTPProvider{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
	}
	sendgridProvider := email.NewSendGridProvider(cfg.SendgridAPIKey, cfg.EmailFrom)

	if cfg.EmailProvider == "smtp" {
		providers = append(providers, smtpProvider)
		if cfg.SendgridAPIKey != "" {
			providers = append(providers, sendgridProvider)
		}
	} else {
		providers = append(providers, sendgridProvider)
		if cfg.SMTPHost != "" {
			providers = append(providers, smtpProvider)
		}
	}

	return email.NewDispatcher(cfg.EmailFrom, providers...)
}
