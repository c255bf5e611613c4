// Package email delivers license-key mail through an ordered chain of
// providers: each provider is tried in turn and the first success wins.
package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"storelens.app/cloud/internal/logger"
)

// Provider sends a single email. Implementations must respect ctx where
// their transport allows it.
type Provider interface {
	Name() string
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPProvider sends through a plain SMTP relay.
type SMTPProvider struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (p *SMTPProvider) Name() string { return "smtp" }

func (p *SMTPProvider) Send(ctx context.Context, to, subject, body string) error {
	if p.Host == "" || p.Port == "" || p.Username == "" || p.Password == "" {
		return fmt.Errorf("SMTP configuration missing")
	}

	auth := smtp.PlainAuth("", p.Username, p.Password, p.Host)

	from := p.From
	if from == "" {
		from = p.Username
	}

	msg := []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", from, to, subject, body))

	addr := fmt.Sprintf("%s:%s", p.Host, p.Port)
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

// Dispatcher tries each provider in order, falling through on error.
type Dispatcher struct {
	From      string
	Providers []Provider
}

func NewDispatcher(from string, providers ...Provider) *Dispatcher {
	return &Dispatcher{From: from, Providers: providers}
}

func (d *Dispatcher) Send(ctx context.Context, to, subject, body string) error {
	if len(d.Providers) == 0 {
		return fmt.Errorf("no email providers configured")
	}

	var lastErr error
	for _, p := range d.Providers {
		err := p.Send(ctx, to, subject, body)
		if err == nil {
			logger.Info("Email sent", map[string]interface{}{
				"provider": p.Name(),
				"to":       to,
			})
			return nil
		}
		logger.Warn("Email provider failed, trying next", map[string]interface{}{
			"provider": p.Name(),
			"error":    err.Error(),
		})
		lastErr = err
	}
	return fmt.Errorf("all email providers failed: %w", lastErr)
}

// SendLicenseKey formats and dispatches the license-key email.
func (d *Dispatcher) SendLicenseKey(ctx context.Context, to, key, plan string) error {
	subject := "Your StoreLens Pro License Key"
	body := licenseEmailBody(key, plan)
	return d.Send(ctx, to, subject, body)
}

func licenseEmailBody(key, plan string) string {
	planLabel := plan
	if len(planLabel) > 0 {
		planLabel = strings.ToUpper(planLabel[:1]) + planLabel[1:]
	}
	return fmt.Sprintf(`Hello,

Thank you for subscribing to StoreLens Pro! Your %s subscription is active.

LICENSE DETAILS
License Key: %s
Plan: StoreLens Pro (%s)

GETTING STARTED
1. Open StoreLens on your computer
2. Go to Settings -> License
3. Enter your license key: %s

NEED HELP?
If you have any questions, reply to this email or contact us at support@storelens.app

Best regards,
The StoreLens Team`, planLabel, key, planLabel, key)
}
