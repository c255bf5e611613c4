package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const sendgridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// SendGridProvider sends through the SendGrid v3 mail API.
type SendGridProvider struct {
	APIKey string
	From   string

	client *http.Client
}

func NewSendGridProvider(apiKey, from string) *SendGridProvider {
	return &SendGridProvider{
		APIKey: apiKey,
		From:   from,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *SendGridProvider) Name() string { return "sendgrid" }

type sendgridMail struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
}

type sendgridPersonalization struct {
	To []sendgridAddress `json:"to"`
}

type sendgridAddress struct {
	Email string `json:"email"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (p *SendGridProvider) Send(ctx context.Context, to, subject, body string) error {
	if p.APIKey == "" {
		return fmt.Errorf("sendgrid API key missing")
	}

	mail := sendgridMail{
		Personalizations: []sendgridPersonalization{{To: []sendgridAddress{{Email: to}}}},
		From:             sendgridAddress{Email: p.From},
		Subject:          subject,
		Content:          []sendgridContent{{Type: "text/plain", Value: body}},
	}

	payload, err := json.Marshal(mail)
	if err != nil {
		return fmt.Errorf("failed to encode mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendgridEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := p.client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
