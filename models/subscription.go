package models

import "time"

const (
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
)

// Subscription mirrors a Stripe subscription. StripeSubscriptionID is the
// join key for all webhook updates after creation.
type Subscription struct {
	ID                   string
	StripeCustomerID     string
	StripeSubscriptionID string
	Plan                 string
	Status               string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	Email                string
	CreatedAt            time.Time
}

// PlanFromInterval maps a Stripe billing interval to a plan name.
func PlanFromInterval(interval string) string {
	if interval == "year" {
		return PlanYearly
	}
	return PlanMonthly
}
