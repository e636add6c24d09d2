package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"resonate/internal/types"
)

// SubscriptionStore is the subset of the subscription repository the
// reconciler needs. Find methods return (nil, nil) when no row matches;
// errors are reserved for persistence failures, which must propagate so
// the processor redelivers the event.
type SubscriptionStore interface {
	FindActiveByUser(ctx context.Context, userID string) (*types.Subscription, error)
	FindLatestInactiveByUser(ctx context.Context, userID string) (*types.Subscription, error)
	FindByUserAndStripeID(ctx context.Context, userID, stripeSubscriptionID string) (*types.Subscription, error)
	Insert(ctx context.Context, sub *types.Subscription) error
	Update(ctx context.Context, sub *types.Subscription) error
}

// Reconciler converges the local subscription store to match inbound Stripe
// subscription snapshots. It is stateless between calls; all decisions are a
// function of the snapshot and the current rows, so replaying a snapshot is
// a no-op beyond refreshing updated_at.
type Reconciler struct {
	subs       SubscriptionStore
	priceTiers map[string]types.Tier
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler creates a Reconciler. priceTiers maps Stripe price IDs to
// local tiers and may be nil; subscription metadata overrides it either way.
func NewReconciler(subs SubscriptionStore, priceTiers map[string]types.Tier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		subs:       subs,
		priceTiers: priceTiers,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile runs the subscription state machine for one snapshot.
//
// The decision tree, in strict order:
//  1. An active row for the user exists: update it in place (renewal or
//     plan change, the common path).
//  2. Otherwise, the most recent inactive row exists: reactivate that row,
//     preserving its id and created_at lineage for the returning subscriber.
//  3. Otherwise: insert a new row.
//
// Never insert before both lookups have come back empty; that ordering is
// what protects the single-active-subscription-per-user invariant.
//
// A snapshot without a user id is not actionable: it is logged and skipped
// without error (the processor must not retry it).
func (r *Reconciler) Reconcile(ctx context.Context, snap types.SubscriptionSnapshot) error {
	if snap.UserID == "" {
		r.logger.WarnContext(ctx, "subscription event has no user_id in metadata; skipping",
			"stripe_subscription_id", snap.SubscriptionID,
			"stripe_customer_id", snap.CustomerID,
		)
		return nil
	}

	active, err := r.subs.FindActiveByUser(ctx, snap.UserID)
	if err != nil {
		return fmt.Errorf("looking up active subscription for user %s: %w", snap.UserID, err)
	}
	if active != nil {
		r.apply(active, snap)
		if err := r.subs.Update(ctx, active); err != nil {
			return fmt.Errorf("updating active subscription %s: %w", active.ID, err)
		}
		r.logger.InfoContext(ctx, "subscription updated in place",
			"subscription_id", active.ID,
			"user_id", snap.UserID,
			"status", active.Status,
		)
		return nil
	}

	inactive, err := r.subs.FindLatestInactiveByUser(ctx, snap.UserID)
	if err != nil {
		return fmt.Errorf("looking up inactive subscription for user %s: %w", snap.UserID, err)
	}
	if inactive != nil {
		r.apply(inactive, snap)
		if err := r.subs.Update(ctx, inactive); err != nil {
			return fmt.Errorf("reactivating subscription %s: %w", inactive.ID, err)
		}
		r.logger.InfoContext(ctx, "subscription reactivated",
			"subscription_id", inactive.ID,
			"user_id", snap.UserID,
			"status", inactive.Status,
		)
		return nil
	}

	sub := r.newRecord(snap)
	if err := r.subs.Insert(ctx, sub); err != nil {
		return fmt.Errorf("inserting subscription for user %s: %w", snap.UserID, err)
	}
	r.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID,
		"user_id", snap.UserID,
		"status", sub.Status,
	)
	return nil
}

// ReconcileCheckout absorbs a subscription snapshot originating from a
// checkout.session.completed event. Unlike Reconcile, the existing-row
// lookup is keyed by (user_id, stripe_subscription_id): a checkout event
// for an already-known subscription id is a resumed or duplicate delivery,
// not a new billing relationship.
func (r *Reconciler) ReconcileCheckout(ctx context.Context, snap types.SubscriptionSnapshot) error {
	if snap.UserID == "" {
		r.logger.WarnContext(ctx, "checkout subscription has no user_id in metadata; skipping",
			"stripe_subscription_id", snap.SubscriptionID,
		)
		return nil
	}

	existing, err := r.subs.FindByUserAndStripeID(ctx, snap.UserID, snap.SubscriptionID)
	if err != nil {
		return fmt.Errorf("looking up subscription %s for user %s: %w", snap.SubscriptionID, snap.UserID, err)
	}
	if existing != nil {
		r.apply(existing, snap)
		if err := r.subs.Update(ctx, existing); err != nil {
			return fmt.Errorf("updating subscription %s: %w", existing.ID, err)
		}
		r.logger.InfoContext(ctx, "checkout for known subscription absorbed",
			"subscription_id", existing.ID,
			"user_id", snap.UserID,
		)
		return nil
	}

	sub := r.newRecord(snap)
	if err := r.subs.Insert(ctx, sub); err != nil {
		return fmt.Errorf("inserting subscription for user %s: %w", snap.UserID, err)
	}
	r.logger.InfoContext(ctx, "subscription created from checkout",
		"subscription_id", sub.ID,
		"user_id", snap.UserID,
	)
	return nil
}

// apply overwrites the mutable fields of an existing row with the snapshot.
// ID, UserID, CreatedAt, IsEarlyAdopter, and IsLifetime are preserved.
func (r *Reconciler) apply(sub *types.Subscription, snap types.SubscriptionSnapshot) {
	sub.StripeSubscriptionID = snap.SubscriptionID
	sub.StripeCustomerID = snap.CustomerID
	sub.Tier = r.resolveTier(snap)
	sub.BillingPeriod = MapBillingPeriod(snap.Interval)
	sub.Status = MapSubscriptionStatus(snap.Status)
	sub.CurrentPeriodStart = snap.CurrentPeriodStart
	sub.CurrentPeriodEnd = snap.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	sub.PaymentStatus = snap.PaymentStatus
	if snap.PaymentStatus == paymentStatusPaid {
		t := snap.EventTime
		sub.LastPaymentDate = &t
	}
	sub.UpdatedAt = r.now()
}

// newRecord builds a fresh row from a snapshot.
func (r *Reconciler) newRecord(snap types.SubscriptionSnapshot) *types.Subscription {
	now := r.now()
	sub := &types.Subscription{
		ID:             uuid.NewString(),
		UserID:         snap.UserID,
		IsEarlyAdopter: false,
		IsLifetime:     false,
		CreatedAt:      now,
	}
	r.apply(sub, snap)
	return sub
}

// resolveTier derives the local tier: metadata hint first, then the price-ID
// map, then pro. A paid Stripe subscription is never the free tier, so pro
// is the safe default for an unmapped price.
func (r *Reconciler) resolveTier(snap types.SubscriptionSnapshot) types.Tier {
	switch types.Tier(snap.TierHint) {
	case types.TierFree, types.TierPro:
		return types.Tier(snap.TierHint)
	}
	if tier, ok := r.priceTiers[snap.PriceID]; ok {
		return tier
	}
	return types.TierPro
}
