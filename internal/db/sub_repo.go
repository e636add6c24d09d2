package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"resonate/internal/types"
)

// subscriptionColumns is the canonical column list scanned by every
// subscription query. Keep in sync with scanSubscription.
const subscriptionColumns = `id, user_id, stripe_subscription_id, stripe_customer_id,
	tier, billing_period, status, current_period_start, current_period_end,
	cancel_at_period_end, is_early_adopter, is_lifetime, payment_status,
	last_payment_date, created_at, updated_at`

// SubscriptionRepo implements billing.SubscriptionStore over Postgres.
//
// Find methods return (nil, nil) when no row matches; errors are reserved
// for persistence failures, which callers propagate so the payment
// processor redelivers the event.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// FindActiveByUser returns the user's active subscription row, if any.
// The single-active invariant guarantees at most one.
func (r *SubscriptionRepo) FindActiveByUser(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1 AND status = $2`,
		userID, types.SubStatusActive,
	)
	return r.scanOne(row)
}

// FindLatestInactiveByUser returns the most recently updated inactive row
// for the user, used by the reactivation path to preserve record lineage.
func (r *SubscriptionRepo) FindLatestInactiveByUser(ctx context.Context, userID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1 AND status = $2
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		userID, types.SubStatusInactive,
	)
	return r.scanOne(row)
}

// FindByUserAndStripeID returns the row matching the (user, processor
// subscription id) pair, regardless of status.
func (r *SubscriptionRepo) FindByUserAndStripeID(ctx context.Context, userID, stripeSubscriptionID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1 AND stripe_subscription_id = $2
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		userID, stripeSubscriptionID,
	)
	return r.scanOne(row)
}

// Insert persists a new subscription row.
func (r *SubscriptionRepo) Insert(ctx context.Context, sub *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (
			id, user_id, stripe_subscription_id, stripe_customer_id,
			tier, billing_period, status, current_period_start, current_period_end,
			cancel_at_period_end, is_early_adopter, is_lifetime, payment_status,
			last_payment_date, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		sub.ID, sub.UserID, sub.StripeSubscriptionID, sub.StripeCustomerID,
		sub.Tier, sub.BillingPeriod, sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.IsEarlyAdopter, sub.IsLifetime, sub.PaymentStatus,
		sub.LastPaymentDate, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert subscription", err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing row by primary key.
// CreatedAt is never touched; the reactivation path relies on that.
func (r *SubscriptionRepo) Update(ctx context.Context, sub *types.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET stripe_subscription_id = $1,
		     stripe_customer_id = $2,
		     tier = $3,
		     billing_period = $4,
		     status = $5,
		     current_period_start = $6,
		     current_period_end = $7,
		     cancel_at_period_end = $8,
		     payment_status = $9,
		     last_payment_date = $10,
		     updated_at = $11
		 WHERE id = $12`,
		sub.StripeSubscriptionID, sub.StripeCustomerID, sub.Tier, sub.BillingPeriod,
		sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.PaymentStatus, sub.LastPaymentDate, sub.UpdatedAt, sub.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription row vanished during update", nil)
	}
	return nil
}

// scanOne scans a single subscription row, translating pgx.ErrNoRows into
// the (nil, nil) not-found convention.
func (r *SubscriptionRepo) scanOne(row pgx.Row) (*types.Subscription, error) {
	var sub types.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.StripeSubscriptionID, &sub.StripeCustomerID,
		&sub.Tier, &sub.BillingPeriod, &sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CancelAtPeriodEnd, &sub.IsEarlyAdopter, &sub.IsLifetime, &sub.PaymentStatus,
		&sub.LastPaymentDate, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription", err)
	}
	return &sub, nil
}
