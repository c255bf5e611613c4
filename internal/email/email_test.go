package email

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubProvider struct {
	name  string
	err   error
	calls int
	last  struct {
		to      string
		subject string
		body    string
	}
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Send(ctx context.Context, to, subject, body string) error {
	s.calls++
	s.last.to = to
	s.last.subject = subject
	s.last.body = body
	return s.err
}

func TestDispatcherFirstProviderWins(t *testing.T) {
	primary := &stubProvider{name: "primary"}
	fallback := &stubProvider{name: "fallback"}
	d := NewDispatcher("licenses@storelens.app", primary, fallback)

	if err := d.Send(context.Background(), "buyer@example.com", "subject", "body"); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("expected 1 primary call, got %d", primary.calls)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback must not be called on primary success, got %d", fallback.calls)
	}
}

func TestDispatcherFallsThroughOnError(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("rate limited")}
	fallback := &stubProvider{name: "fallback"}
	d := NewDispatcher("licenses@storelens.app", primary, fallback)

	if err := d.Send(context.Background(), "buyer@example.com", "subject", "body"); err != nil {
		t.Fatalf("send should succeed via fallback: %v", err)
	}
	if fallback.calls != 1 {
		t.Errorf("expected fallback to be tried, got %d calls", fallback.calls)
	}
}

func TestDispatcherAllProvidersFail(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("down")}
	fallback := &stubProvider{name: "fallback", err: errors.New("also down")}
	d := NewDispatcher("licenses@storelens.app", primary, fallback)

	err := d.Send(context.Background(), "buyer@example.com", "subject", "body")
	if err == nil {
		t.Fatal("expected error when every provider fails")
	}
	if !strings.Contains(err.Error(), "also down") {
		t.Errorf("expected last provider error to surface, got %v", err)
	}
}

func TestDispatcherNoProviders(t *testing.T) {
	d := NewDispatcher("licenses@storelens.app")

	if err := d.Send(context.Background(), "buyer@example.com", "subject", "body"); err == nil {
		t.Fatal("expected error with no providers configured")
	}
}

func TestSendLicenseKeyContent(t *testing.T) {
	provider := &stubProvider{name: "stub"}
	d := NewDispatcher("licenses@storelens.app", provider)

	if err := d.SendLicenseKey(context.Background(), "buyer@example.com", "AB12-CD34-EF56-GH78", "yearly"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if provider.last.to != "buyer@example.com" {
		t.Errorf("unexpected recipient %q", provider.last.to)
	}
	if !strings.Contains(provider.last.body, "AB12-CD34-EF56-GH78") {
		t.Error("body must contain the license key")
	}
	if !strings.Contains(provider.last.body, "Yearly") {
		t.Error("body must name the plan")
	}
	if !strings.Contains(provider.last.subject, "License") {
		t.Errorf("unexpected subject %q", provider.last.subject)
	}
}

func TestSMTPProviderRequiresConfig(t *testing.T) {
	p := &SMTPProvider{}

	if err := p.Send(context.Background(), "buyer@example.com", "subject", "body"); err == nil {
		t.Fatal("expected error with missing SMTP configuration")
	}
}

func TestSendGridProviderRequiresKey(t *testing.T) {
	p := NewSendGridProvider("", "licenses@storelens.app")

	if err := p.Send(context.Background(), "buyer@example.com", "subject", "body"); err == nil {
		t.Fatal("expected error with missing API key")
	}
}
