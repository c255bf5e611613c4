package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storelens.app/cloud/internal/config"
	"storelens.app/cloud/models"
	"storelens.app/cloud/storage"
)

func webhookEvent(t *testing.T, eventType string, object interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("failed to marshal object: %v", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":   "evt_test_1",
		"type": eventType,
		"data": map[string]interface{}{"object": json.RawMessage(raw)},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return payload
}

func postWebhook(server *Server, payload []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Router.ServeHTTP(w, req)
	return w
}

func subscriptionObject(id, interval string, periodEnd int64) map[string]interface{} {
	return map[string]interface{}{
		"id":             id,
		"customer":       "cus_123",
		"customer_email": "buyer@example.com",
		"status":         "active",
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"current_period_start": periodEnd - 86400*30,
					"current_period_end":   periodEnd,
					"price": map[string]interface{}{
						"recurring": map[string]interface{}{"interval": interval},
					},
				},
			},
		},
	}
}

func TestStripeWebhook_SubscriptionCreatedYearly(t *testing.T) {
	store := storage.NewMemoryStorage()
	mailer := &recordingMailer{}
	server := newTestServer(store, mailer)

	periodEnd := time.Now().Add(365 * 24 * time.Hour).Unix()
	payload := webhookEvent(t, "customer.subscription.created", subscriptionObject("sub_stripe_new", "year", periodEnd))

	w := postWebhook(server, payload)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"received":true`) {
		t.Errorf("expected received:true, got %s", w.Body.String())
	}

	if len(store.Subscriptions) != 1 {
		t.Fatalf("expected exactly 1 subscription, got %d", len(store.Subscriptions))
	}
	if len(store.Licenses) != 1 {
		t.Fatalf("expected exactly 1 license, got %d", len(store.Licenses))
	}

	for _, sub := range store.Subscriptions {
		if sub.Plan != models.PlanYearly {
			t.Errorf("expected yearly plan, got %q", sub.Plan)
		}
		if sub.StripeSubscriptionID != "sub_stripe_new" {
			t.Errorf("unexpected stripe id %q", sub.StripeSubscriptionID)
		}
	}
	for _, lic := range store.Licenses {
		if !lic.IsActive {
			t.Error("new license should be active")
		}
		if lic.ExpiresAt.Unix() != periodEnd {
			t.Errorf("expected expiry %d, got %d", periodEnd, lic.ExpiresAt.Unix())
		}
	}
	if mailer.calls != 1 {
		t.Errorf("expected exactly 1 email dispatch, got %d", mailer.calls)
	}
}

func TestStripeWebhook_SubscriptionUpdated(t *testing.T) {
	store, lic, sub := seedStore(t)
	server := newTestServer(store, &recordingMailer{})

	newEnd := time.Now().Add(60 * 24 * time.Hour).Truncate(time.Second)
	object := subscriptionObject(sub.StripeSubscriptionID, "month", newEnd.Unix())
	object["status"] = "active"
	payload := webhookEvent(t, "customer.subscription.updated", object)

	w := postWebhook(server, payload)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	updated, _ := store.FindLicenseByKey(context.Background(), lic.Key)
	if updated.ExpiresAt.Unix() != newEnd.Unix() {
		t.Errorf("expected license expiry %v, got %v", newEnd, updated.ExpiresAt)
	}
}

func TestStripeWebhook_SubscriptionUpdated_UnknownID(t *testing.T) {
	store, _, _ := seedStore(t)
	server := newTestServer(store, &recordingMailer{})

	payload := webhookEvent(t, "customer.subscription.updated", subscriptionObject("sub_missing", "month", time.Now().Unix()))

	w := postWebhook(server, payload)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unknown subscription, got %d", w.Code)
	}
}

func TestStripeWebhook_SubscriptionDeleted(t *testing.T) {
	store, lic, sub := seedStore(t)
	server := newTestServer(store, &recordingMailer{})

	payload := webhookEvent(t, "customer.subscription.deleted", subscriptionObject(sub.StripeSubscriptionID, "month", time.Now().Unix()))

	w := postWebhook(server, payload)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	deactivated, _ := store.FindLicenseByKey(context.Background(), lic.Key)
	if deactivated.IsActive {
		t.Error("license should be deactivated after subscription deletion")
	}
	canceled, _ := store.FindSubscriptionByStripeID(context.Background(), sub.StripeSubscriptionID)
	if canceled.Status != models.SubscriptionCanceled {
		t.Errorf("expected canceled status, got %q", canceled.Status)
	}
}

func TestStripeWebhook_UnknownEventTypeIsNoOp(t *testing.T) {
	store := storage.NewMemoryStorage()
	server := newTestServer(store, &recordingMailer{})

	payload := webhookEvent(t, "invoice.paid", map[string]interface{}{"id": "in_123"})

	w := postWebhook(server, payload)

	if w.Code != http.StatusOK {
		t.Fatalf("unknown event types must be acknowledged, got %d", w.Code)
	}
	if len(store.Subscriptions) != 0 || len(store.Licenses) != 0 {
		t.Error("unknown event must not touch the store")
	}
}

func TestStripeWebhook_MalformedPayload(t *testing.T) {
	store := storage.NewMemoryStorage()
	server := newTestServer(store, &recordingMailer{})

	w := postWebhook(server, []byte("{not json"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStripeWebhook_BadSignatureRejected(t *testing.T) {
	store := storage.NewMemoryStorage()
	mgr := newTestServer(store, &recordingMailer{}).Manager
	server := NewServer(mgr, nil, &config.Config{StripeWebhookSecret: "whsec_test"})

	payload := webhookEvent(t, "customer.subscription.created", subscriptionObject("sub_1", "month", time.Now().Unix()))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))
	w := httptest.NewRecorder()
	server.Router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", w.Code)
	}
	if len(store.Subscriptions) != 0 {
		t.Error("unverified event must not touch the store")
	}
}
