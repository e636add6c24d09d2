// Package billing implements the webhook reconciliation core: event
// classification, the billing-period mapper, the subscription reconciler
// state machine, and the checkout completion processor.
//
// Everything here is driven by inbound Stripe event snapshots and must be
// safe under at-least-once delivery: replaying any input against the same
// local state converges to the same final rows.
package billing

import (
	"strings"

	"resonate/internal/types"
)

// MapBillingPeriod translates Stripe's native billing-interval vocabulary
// into the local two-valued domain. Total over all string inputs: "year"
// maps to annual, everything else (including "month", "", and garbage)
// maps to monthly.
func MapBillingPeriod(interval string) types.BillingPeriod {
	if strings.ToLower(strings.TrimSpace(interval)) == "year" {
		return types.BillingAnnual
	}
	return types.BillingMonthly
}

// MapSubscriptionStatus translates Stripe's subscription status vocabulary
// into the local two-state domain. "active" and "trialing" both grant
// entitlement; every other status (past_due, canceled, unpaid, incomplete,
// ...) maps to inactive.
func MapSubscriptionStatus(stripeStatus string) types.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(stripeStatus)) {
	case "active", "trialing":
		return types.SubStatusActive
	default:
		return types.SubStatusInactive
	}
}
