package storage

import (
	"context"
	"errors"
	"time"

	"storelens.app/cloud/models"
)

var (
	ErrDuplicateLicenseKey  = errors.New("license key already exists")
	ErrLicenseNotFound      = errors.New("license not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Storage is the persistence boundary for subscriptions and licenses.
// Lookup methods return (nil, nil) when no row matches.
type Storage interface {
	// CreateSubscriptionWithLicense inserts both rows in a single
	// transaction. A license-key collision surfaces as
	// ErrDuplicateLicenseKey and leaves no subscription row behind.
	CreateSubscriptionWithLicense(ctx context.Context, sub *models.Subscription, lic *models.License) error
	FindSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*models.Subscription, error)
	FindLatestSubscriptionByEmail(ctx context.Context, email string) (*models.Subscription, error)
	UpdateSubscriptionPeriod(ctx context.Context, stripeSubID, status string, periodStart, periodEnd time.Time) error
	CancelSubscription(ctx context.Context, stripeSubID string) error

	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	FindLicenseWithSubscription(ctx context.Context, key string) (*models.License, *models.Subscription, error)
	FindLicensesBySubscription(ctx context.Context, subscriptionID string) ([]*models.License, error)
	UpdateLicenseExpiry(ctx context.Context, subscriptionID string, expiresAt time.Time) error
	DeactivateLicenses(ctx context.Context, subscriptionID string) error

	// BindDevice is a conditional update: it writes deviceID only when the
	// license is unbound or already bound to the same device. The returned
	// bool reports whether a row was written; false means the key is bound
	// to a different device (or does not exist). This is the single
	// authoritative answer for first-writer-wins binding.
	BindDevice(ctx context.Context, key, deviceID string, at time.Time) (bool, error)

	// RebindDevice overwrites the binding unconditionally and returns the
	// updated row. ErrLicenseNotFound when no such key exists.
	RebindDevice(ctx context.Context, key, deviceID string, at time.Time) (*models.License, error)

	Close() error
}
