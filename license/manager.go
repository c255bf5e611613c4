// Package license owns the license lifecycle: provisioning from payment
// webhook events, validation with first-writer-wins device binding, explicit
// rebinding, info lookup and key resend.
package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storelens.app/cloud/internal/logger"
	"storelens.app/cloud/models"
	"storelens.app/cloud/storage"
)

// ErrNoLicense is returned by Resend when the email has no license on file.
var ErrNoLicense = errors.New("no license found")

const maxKeyAttempts = 5

// Mailer dispatches license-key emails. Failures are logged by the manager
// and never fail the surrounding operation.
type Mailer interface {
	SendLicenseKey(ctx context.Context, to, key, plan string) error
}

// Manager is the license lifecycle core. All dependencies are injected;
// now is swappable for expiry tests.
type Manager struct {
	store  storage.Storage
	mailer Mailer
	now    func() time.Time
}

func NewManager(store storage.Storage, mailer Mailer) *Manager {
	return &Manager{
		store:  store,
		mailer: mailer,
		now:    time.Now,
	}
}

// CreatedEvent carries the fields of a "subscription created" webhook event.
type CreatedEvent struct {
	StripeCustomerID     string
	StripeSubscriptionID string
	Interval             string
	Status               string
	PeriodStart          time.Time
	PeriodEnd            time.Time
	CustomerEmail        string
	SubscriptionEmail    string
	Metadata             map[string]string
}

// UpdatedEvent carries the fields of a "subscription updated" webhook event.
type UpdatedEvent struct {
	StripeSubscriptionID string
	Status               string
	PeriodStart          time.Time
	PeriodEnd            time.Time
}

// ValidationResult is the structured outcome of Validate. Validate never
// returns a Go error; store failures degrade to an invalid result.
type ValidationResult struct {
	Valid          bool
	Plan           string
	ExpiresAt      time.Time
	SubscriptionID string
	Message        string
}

// LicenseInfo is the read-only joined projection returned by Info.
type LicenseInfo struct {
	Key              string
	Plan             string
	Status           string
	StripeCustomerID string
	ExpiresAt        time.Time
	IsActive         bool
	DeviceID         string
	ActivatedAt      *time.Time
	CreatedAt        time.Time
}

// HandleSubscriptionCreated provisions a subscription and its license in one
// transaction, then emails the key. Email failure is logged and does not
// fail the event.
func (m *Manager) HandleSubscriptionCreated(ctx context.Context, ev CreatedEvent) (*models.License, *models.Subscription, error) {
	now := m.now().UTC()

	sub := &models.Subscription{
		ID:                   uuid.Must(uuid.NewRandom()).String(),
		StripeCustomerID:     ev.StripeCustomerID,
		StripeSubscriptionID: ev.StripeSubscriptionID,
		Plan:                 models.PlanFromInterval(ev.Interval),
		Status:               ev.Status,
		CurrentPeriodStart:   ev.PeriodStart,
		CurrentPeriodEnd:     ev.PeriodEnd,
		Email:                resolveEmail(ev),
		CreatedAt:            now,
	}

	lic, err := m.createLicense(ctx, sub, now)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("License provisioned", map[string]interface{}{
		"license_key":     lic.Key,
		"subscription_id": sub.ID,
		"plan":            sub.Plan,
	})

	if sub.Email != "" {
		if err := m.mailer.SendLicenseKey(ctx, sub.Email, lic.Key, sub.Plan); err != nil {
			logger.Error("Failed to send license email", map[string]interface{}{
				"error":       err.Error(),
				"email":       sub.Email,
				"license_key": lic.Key,
			})
			// license was created; the caller still gets the key
		}
	} else {
		logger.Warn("No email address on subscription, skipping license email", map[string]interface{}{
			"stripe_subscription_id": ev.StripeSubscriptionID,
		})
	}

	return lic, sub, nil
}

func (m *Manager) createLicense(ctx context.Context, sub *models.Subscription, now time.Time) (*models.License, error) {
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := GenerateKey()
		if err != nil {
			return nil, err
		}

		lic := &models.License{
			ID:             uuid.Must(uuid.NewRandom()).String(),
			Key:            key,
			SubscriptionID: sub.ID,
			ExpiresAt:      sub.CurrentPeriodEnd,
			IsActive:       true,
			UserEmail:      sub.Email,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		err = m.store.CreateSubscriptionWithLicense(ctx, sub, lic)
		if errors.Is(err, storage.ErrDuplicateLicenseKey) {
			logger.Warn("License key collision, regenerating", map[string]interface{}{
				"attempt": attempt + 1,
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create subscription and license: %w", err)
		}
		return lic, nil
	}
	return nil, fmt.Errorf("failed to generate a unique license key after %d attempts", maxKeyAttempts)
}

// resolveEmail picks the recipient address: event customer email first, then
// the subscription-level email, then event metadata.
func resolveEmail(ev CreatedEvent) string {
	if ev.CustomerEmail != "" {
		return ev.CustomerEmail
	}
	if ev.SubscriptionEmail != "" {
		return ev.SubscriptionEmail
	}
	if email := ev.Metadata["email"]; email != "" {
		return email
	}
	return ""
}

// HandleSubscriptionUpdated refreshes status and period bounds and extends
// the licenses' expiry to the new period end. An unknown subscription id is
// fatal for the event.
func (m *Manager) HandleSubscriptionUpdated(ctx context.Context, ev UpdatedEvent) error {
	sub, err := m.store.FindSubscriptionByStripeID(ctx, ev.StripeSubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", storage.ErrSubscriptionNotFound, ev.StripeSubscriptionID)
	}

	if err := m.store.UpdateSubscriptionPeriod(ctx, ev.StripeSubscriptionID, ev.Status, ev.PeriodStart, ev.PeriodEnd); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if err := m.store.UpdateLicenseExpiry(ctx, sub.ID, ev.PeriodEnd); err != nil {
		return fmt.Errorf("failed to update license expiry: %w", err)
	}

	logger.Info("Subscription renewed", map[string]interface{}{
		"stripe_subscription_id": ev.StripeSubscriptionID,
		"status":                 ev.Status,
		"period_end":             ev.PeriodEnd,
	})
	return nil
}

// HandleSubscriptionDeleted deactivates the subscription's licenses and
// marks the subscription canceled.
func (m *Manager) HandleSubscriptionDeleted(ctx context.Context, stripeSubID string) error {
	sub, err := m.store.FindSubscriptionByStripeID(ctx, stripeSubID)
	if err != nil {
		return fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("%w: %s", storage.ErrSubscriptionNotFound, stripeSubID)
	}

	if err := m.store.DeactivateLicenses(ctx, sub.ID); err != nil {
		return fmt.Errorf("failed to deactivate licenses: %w", err)
	}
	if err := m.store.CancelSubscription(ctx, stripeSubID); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	logger.Info("Subscription canceled", map[string]interface{}{
		"stripe_subscription_id": stripeSubID,
	})
	return nil
}

// Validate checks a key and, when the license is unbound and a device id was
// supplied, binds that device. The bind is a conditional store update, so
// two concurrent first validations cannot both win.
func (m *Manager) Validate(ctx context.Context, key, deviceID string) ValidationResult {
	invalid := func(msg string) ValidationResult {
		return ValidationResult{Valid: false, Message: msg}
	}

	lic, sub, err := m.store.FindLicenseWithSubscription(ctx, key)
	if err != nil {
		logger.Error("License lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return invalid("Unable to validate license")
	}
	if lic == nil {
		return invalid("Invalid license key")
	}
	if !lic.IsActive {
		return invalid("License has been deactivated")
	}
	if !lic.ExpiresAt.After(m.now()) {
		return invalid("License has expired")
	}

	// A bound license matches only its own device. No supplied device id
	// counts as a mismatch; absence is not a match.
	if lic.DeviceID != "" && lic.DeviceID != deviceID {
		return invalid("License is already activated on another device")
	}

	if lic.DeviceID == "" && deviceID != "" {
		bound, err := m.store.BindDevice(ctx, key, deviceID, m.now().UTC())
		if err != nil {
			logger.Error("Device bind failed", map[string]interface{}{
				"error":       err.Error(),
				"license_key": key,
			})
			return invalid("Unable to validate license")
		}
		if !bound {
			// lost the race to another device
			return invalid("License is already activated on another device")
		}
		logger.Info("Device bound to license", map[string]interface{}{
			"license_key": key,
			"device_id":   deviceID,
		})
	}

	return ValidationResult{
		Valid:          true,
		Plan:           sub.Plan,
		ExpiresAt:      lic.ExpiresAt,
		SubscriptionID: sub.ID,
		Message:        "License is valid",
	}
}

// ForceRebind overwrites the device binding unconditionally and stamps
// activated_at. It deliberately skips the expiry, active and prior-binding
// checks that Validate enforces; it exists for the explicit activate action
// and support overrides.
func (m *Manager) ForceRebind(ctx context.Context, key, deviceID string) (*models.License, error) {
	lic, err := m.store.RebindDevice(ctx, key, deviceID, m.now().UTC())
	if err != nil {
		return nil, err
	}
	logger.Info("Device rebound to license", map[string]interface{}{
		"license_key": key,
		"device_id":   deviceID,
	})
	return lic, nil
}

// Info returns the read-only license projection, or nil when the key is
// unknown.
func (m *Manager) Info(ctx context.Context, key string) (*LicenseInfo, error) {
	lic, sub, err := m.store.FindLicenseWithSubscription(ctx, key)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, nil
	}
	return &LicenseInfo{
		Key:              lic.Key,
		Plan:             sub.Plan,
		Status:           sub.Status,
		StripeCustomerID: sub.StripeCustomerID,
		ExpiresAt:        lic.ExpiresAt,
		IsActive:         lic.IsActive,
		DeviceID:         lic.DeviceID,
		ActivatedAt:      lic.ActivatedAt,
		CreatedAt:        lic.CreatedAt,
	}, nil
}

// Resend emails the license key for the most recent subscription matching
// the address. ErrNoLicense when nothing is on file.
func (m *Manager) Resend(ctx context.Context, email string) error {
	sub, err := m.store.FindLatestSubscriptionByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub == nil {
		return ErrNoLicense
	}

	licenses, err := m.store.FindLicensesBySubscription(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to look up licenses: %w", err)
	}
	if len(licenses) == 0 {
		return ErrNoLicense
	}

	return m.mailer.SendLicenseKey(ctx, email, licenses[0].Key, sub.Plan)
}
