package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"storelens.app/cloud/internal/logger"
	"storelens.app/cloud/license"
)

const maxWebhookBodyBytes = int64(65536)

// subscriptionPayload is the slice of the Stripe subscription object this
// service needs. Parsed by hand because current_period_* moved between the
// subscription and its items across Stripe API versions.
type subscriptionPayload struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	CustomerEmail      string            `json:"customer_email"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				Recurring struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p *subscriptionPayload) periodStart() time.Time {
	ts := p.CurrentPeriodStart
	if ts == 0 && len(p.Items.Data) > 0 {
		ts = p.Items.Data[0].CurrentPeriodStart
	}
	return time.Unix(ts, 0).UTC()
}

func (p *subscriptionPayload) periodEnd() time.Time {
	ts := p.CurrentPeriodEnd
	if ts == 0 && len(p.Items.Data) > 0 {
		ts = p.Items.Data[0].CurrentPeriodEnd
	}
	return time.Unix(ts, 0).UTC()
}

func (p *subscriptionPayload) interval() string {
	if len(p.Items.Data) > 0 {
		return p.Items.Data[0].Price.Recurring.Interval
	}
	return ""
}

func (s *Server) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusServiceUnavailable, "Failed to read request body")
		return
	}

	var event stripe.Event
	if s.Config.TestMode {
		logger.Debug("Skipping webhook signature verification (test mode)")
		if err := json.Unmarshal(payload, &event); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid webhook payload")
			return
		}
	} else {
		event, err = webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.Config.StripeWebhookSecret)
		if err != nil {
			logger.Error("Webhook signature verification failed", map[string]interface{}{
				"error": err.Error(),
			})
			writeErrorResponse(w, http.StatusBadRequest, "Invalid webhook signature")
			return
		}
	}

	logger.Info("Stripe event received", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	})

	switch event.Type {
	case "customer.subscription.created":
		err = s.handleSubscriptionCreated(ctx, event.Data.Raw)
	case "customer.subscription.updated":
		err = s.handleSubscriptionUpdated(ctx, event.Data.Raw)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event.Data.Raw)
	default:
		// Unknown event types are acknowledged, not errors
		logger.Info("Unhandled webhook event type", map[string]interface{}{
			"event_type": event.Type,
		})
	}

	if err != nil {
		logger.Error("Webhook handler failed", map[string]interface{}{
			"error":      err.Error(),
			"event_type": event.Type,
			"event_id":   event.ID,
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to process event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) handleSubscriptionCreated(ctx context.Context, raw json.RawMessage) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	_, _, err := s.Manager.HandleSubscriptionCreated(ctx, license.CreatedEvent{
		StripeCustomerID:     sub.Customer,
		StripeSubscriptionID: sub.ID,
		Interval:             sub.interval(),
		Status:               sub.Status,
		PeriodStart:          sub.periodStart(),
		PeriodEnd:            sub.periodEnd(),
		CustomerEmail:        sub.CustomerEmail,
		Metadata:             sub.Metadata,
	})
	return err
}

func (s *Server) handleSubscriptionUpdated(ctx context.Context, raw json.RawMessage) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	return s.Manager.HandleSubscriptionUpdated(ctx, license.UpdatedEvent{
		StripeSubscriptionID: sub.ID,
		Status:               sub.Status,
		PeriodStart:          sub.periodStart(),
		PeriodEnd:            sub.periodEnd(),
	})
}

func (s *Server) handleSubscriptionDeleted(ctx context.Context, raw json.RawMessage) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	return s.Manager.HandleSubscriptionDeleted(ctx, sub.ID)
}
