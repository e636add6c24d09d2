// Package types defines the shared domain model for the Resonate billing
// reconciliation service: subscription and promotion records, enumerated
// state domains, the application error taxonomy, and context helpers.
//
// The types here are deliberately free of persistence and transport
// concerns; repositories and handlers depend on this package, never the
// other way around.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription is the authoritative local mirror of a user's billing state.
//
// Invariant: for a given UserID, at most one row has Status == active at
// any time. All historical rows are retained; nothing in this subsystem
// hard-deletes a subscription.
type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"user_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	StripeCustomerID     string             `json:"stripe_customer_id"`
	Tier                 Tier               `json:"tier"`
	BillingPeriod        BillingPeriod      `json:"billing_period"`
	Status               SubscriptionStatus `json:"status"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	IsEarlyAdopter       bool               `json:"is_early_adopter"`
	IsLifetime           bool               `json:"is_lifetime"`
	PaymentStatus        string             `json:"payment_status"`
	LastPaymentDate      *time.Time         `json:"last_payment_date,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Promotion is a one-time track-promotion purchase. A row may be reserved
// (status payment_pending) before checkout and activated by the webhook,
// so idempotency is keyed on ID, not on insert.
type Promotion struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	TrackName   string          `json:"track_name"`
	TrackURL    string          `json:"track_url"`
	ArtistName  string          `json:"artist_name"`
	PackageTier string          `json:"package_tier"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Status      PromotionStatus `json:"status"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SubscriptionSnapshot is the reconciler's input: the fields of a Stripe
// subscription that the local store mirrors, already lifted out of the
// provider's wire format. Status carries Stripe's native vocabulary
// (active, trialing, past_due, ...); the reconciler maps it to the local
// two-state domain.
type SubscriptionSnapshot struct {
	SubscriptionID     string
	CustomerID         string
	UserID             string
	Status             string
	Interval           string
	PriceID            string
	TierHint           string // metadata override; wins over the price map
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	PaymentStatus      string
	EventTime          time.Time
}
