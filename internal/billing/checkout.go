package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"resonate/internal/types"
)

// SubscriptionFetcher retrieves the full subscription object from Stripe.
// The checkout.session.completed payload does not carry period bounds, so
// the subscription-mode branch must look the object up by id before the
// shared reconciliation logic can run.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*SubscriptionObject, error)
}

// PromotionStore is the subset of the promotion repository the checkout
// processor needs. GetByID returns (nil, nil) when no row matches.
type PromotionStore interface {
	GetByID(ctx context.Context, id string) (*types.Promotion, error)
	Insert(ctx context.Context, promo *types.Promotion) error
	Update(ctx context.Context, promo *types.Promotion) error
}

// checkout session payment modes.
const (
	modeSubscription = "subscription"
	modePayment      = "payment"
)

// paymentStatusPaid is the only payment_status that activates a one-time
// promotion purchase.
const paymentStatusPaid = "paid"

// CheckoutProcessor handles checkout.session.completed events. Recurring
// checkouts delegate to the Reconciler; one-time promotion purchases create
// or activate a promotion row.
type CheckoutProcessor struct {
	fetcher    SubscriptionFetcher
	reconciler *Reconciler
	promos     PromotionStore
	logger     *slog.Logger
	now        func() time.Time
}

// NewCheckoutProcessor creates a CheckoutProcessor.
func NewCheckoutProcessor(
	fetcher SubscriptionFetcher,
	reconciler *Reconciler,
	promos PromotionStore,
	logger *slog.Logger,
) *CheckoutProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutProcessor{
		fetcher:    fetcher,
		reconciler: reconciler,
		promos:     promos,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Process absorbs one checkout.session.completed envelope.
func (p *CheckoutProcessor) Process(ctx context.Context, env *Envelope) error {
	var session CheckoutSessionObject
	if err := env.Object(&session); err != nil {
		return err
	}

	switch {
	case session.Mode == modeSubscription:
		return p.processSubscription(ctx, env, &session)
	case session.Mode == modePayment && session.Metadata["type"] == "promotion":
		return p.processPromotion(ctx, env, &session)
	default:
		p.logger.InfoContext(ctx, "ignoring checkout session outside billing scope",
			"event_id", env.ID,
			"mode", session.Mode,
		)
		return nil
	}
}

// processSubscription handles the recurring-subscription checkout: fetch the
// full subscription from Stripe (the session alone has no period end-date),
// then run the checkout variant of the reconciliation decision tree.
func (p *CheckoutProcessor) processSubscription(ctx context.Context, env *Envelope, session *CheckoutSessionObject) error {
	if session.Subscription == "" {
		p.logger.WarnContext(ctx, "subscription-mode checkout carries no subscription id; skipping",
			"event_id", env.ID,
			"session_id", session.ID,
		)
		return nil
	}

	sub, err := p.fetcher.FetchSubscription(ctx, session.Subscription)
	if err != nil {
		return fmt.Errorf("fetching subscription %s: %w", session.Subscription, err)
	}

	snap := sub.Snapshot(env.Timestamp())
	if snap.UserID == "" {
		// Checkout sessions created by the platform carry the user id in
		// their own metadata even when the subscription object does not.
		snap.UserID = session.Metadata["user_id"]
	}
	snap.PaymentStatus = session.PaymentStatus

	return p.reconciler.ReconcileCheckout(ctx, snap)
}

// processPromotion handles the one-time promotion purchase. Only paid
// sessions act; everything else is acknowledged and dropped.
//
// Idempotency is keyed on the promotion id, not on insert: when the
// checkout was created against a pre-reserved row (the resume-payment
// flow), that row is activated in place. A supplied id whose row is
// missing falls through to an insert using that id, recovering from a race
// between record creation and webhook delivery.
func (p *CheckoutProcessor) processPromotion(ctx context.Context, env *Envelope, session *CheckoutSessionObject) error {
	if session.PaymentStatus != paymentStatusPaid {
		p.logger.InfoContext(ctx, "promotion checkout not paid; ignoring",
			"event_id", env.ID,
			"payment_status", session.PaymentStatus,
		)
		return nil
	}

	userID := session.Metadata["user_id"]
	if userID == "" {
		p.logger.WarnContext(ctx, "promotion checkout has no user_id in metadata; skipping",
			"event_id", env.ID,
			"session_id", session.ID,
		)
		return nil
	}

	promoID := session.Metadata["promotion_id"]
	if promoID != "" {
		existing, err := p.promos.GetByID(ctx, promoID)
		if err != nil {
			return fmt.Errorf("looking up promotion %s: %w", promoID, err)
		}
		if existing != nil {
			// The id arrives in client-controlled metadata; only trust it if
			// the reserved row belongs to the paying user.
			if existing.UserID != userID {
				p.logger.WarnContext(ctx, "promotion id in metadata belongs to another user; inserting fresh record",
					"event_id", env.ID,
					"promotion_id", promoID,
					"user_id", userID,
				)
				return p.insertPromotion(ctx, env, session, uuid.NewString(), userID)
			}
			return p.activatePromotion(ctx, env, session, existing)
		}
		// Row not there yet despite a supplied id.
		return p.insertPromotion(ctx, env, session, promoID, userID)
	}

	// Legacy path: checkout without a pre-reserved record.
	return p.insertPromotion(ctx, env, session, uuid.NewString(), userID)
}

// activatePromotion flips a pre-reserved row to active. An already-chosen
// package tier is never clobbered.
func (p *CheckoutProcessor) activatePromotion(ctx context.Context, env *Envelope, session *CheckoutSessionObject, promo *types.Promotion) error {
	now := p.now()
	promo.Status = types.PromotionStatusActive
	promo.StartDate = &now
	if promo.PackageTier == "" {
		promo.PackageTier = session.Metadata["package_tier"]
	}
	promo.UpdatedAt = now

	if err := p.promos.Update(ctx, promo); err != nil {
		return fmt.Errorf("activating promotion %s: %w", promo.ID, err)
	}
	p.logger.InfoContext(ctx, "promotion activated",
		"event_id", env.ID,
		"promotion_id", promo.ID,
		"user_id", promo.UserID,
	)
	return nil
}

// insertPromotion creates a new active promotion row from session metadata.
// Monetary amounts arrive as minor-unit integers and are stored as decimal
// major units.
func (p *CheckoutProcessor) insertPromotion(ctx context.Context, env *Envelope, session *CheckoutSessionObject, id, userID string) error {
	now := p.now()
	promo := &types.Promotion{
		ID:          id,
		UserID:      userID,
		TrackName:   session.Metadata["track_name"],
		TrackURL:    session.Metadata["track_url"],
		ArtistName:  session.Metadata["artist_name"],
		PackageTier: session.Metadata["package_tier"],
		TotalCost:   decimal.New(session.AmountTotal, -2),
		Status:      types.PromotionStatusActive,
		StartDate:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := p.promos.Insert(ctx, promo); err != nil {
		return fmt.Errorf("inserting promotion %s: %w", promo.ID, err)
	}
	p.logger.InfoContext(ctx, "promotion created",
		"event_id", env.ID,
		"promotion_id", promo.ID,
		"user_id", userID,
	)
	return nil
}
