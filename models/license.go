package models

import "time"

// License is a redeemable credential bound to one subscription and at most
// one device. Key is immutable once issued. An empty DeviceID means the
// license has not been activated on any device yet.
type License struct {
	ID             string
	Key            string
	SubscriptionID string
	ExpiresAt      time.Time
	IsActive       bool
	DeviceID       string
	ActivatedAt    *time.Time
	UserEmail      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
