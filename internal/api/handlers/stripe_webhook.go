// Package handlers contains the HTTP handler implementations for the
// Resonate billing service.
//
// The webhook handler is NOT behind auth middleware -- it is called directly
// by Stripe. Security is provided by verifying the Stripe-Signature header
// over the raw request bytes.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"resonate/internal/billing"
	"resonate/internal/core"
	"resonate/internal/external"
	"resonate/internal/observe"
	"resonate/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload
// (64 KB). Stripe payloads are typically small; this limit protects against
// abuse.
const maxWebhookBodySize = 64 * 1024

// ---------------------------------------------------------------------------
// Interfaces for webhook handler dependencies
// ---------------------------------------------------------------------------

// SubscriptionReconciler converges local subscription rows toward the state
// carried by customer.subscription.* events.
type SubscriptionReconciler interface {
	Reconcile(ctx context.Context, snap types.SubscriptionSnapshot) error
}

// CheckoutCompleter processes checkout.session.completed events for both
// subscription and one-time promotion purchases.
type CheckoutCompleter interface {
	Process(ctx context.Context, env *billing.Envelope) error
}

// MirrorStore maintains local copies of Stripe catalog and transaction
// objects. This is the subset of MirrorRepo the webhook handler needs.
type MirrorStore interface {
	Upsert(ctx context.Context, category types.EventCategory, id string, payload []byte) error
	Delete(ctx context.Context, category types.EventCategory, id string) error
}

// ---------------------------------------------------------------------------
// Stripe Webhook Handler
// ---------------------------------------------------------------------------

// StripeWebhookHandler absorbs asynchronous events from Stripe. It is
// unauthenticated (no session check) but verifies the provider signature
// before any byte of the payload is trusted.
//
// Response contract:
//   - 200 {"received": true, "event_id": ...} once the event is durably
//     applied (or deliberately ignored).
//   - 400 {"error": "Webhook Error: ..."} for signature or parse failures;
//     redelivery can never make these valid.
//   - 500 {"error": "Error processing event: ..."} for transient processing
//     failures, prompting Stripe to redeliver.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler SubscriptionReconciler
	checkout   CheckoutCompleter
	mirrors    MirrorStore
	metrics    observe.WebhookMetrics
	secret     types.SecretString
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler with the
// provided dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler SubscriptionReconciler,
	checkout CheckoutCompleter,
	mirrors MirrorStore,
	metrics observe.WebhookMetrics,
	secret types.SecretString,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if metrics == nil {
		metrics = observe.NoopWebhookMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		checkout:   checkout,
		mirrors:    mirrors,
		metrics:    metrics,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Webhook routes are
// public (no auth middleware); OPTIONS preflights are answered by the CORS
// middleware and unmatched methods fall through to chi's 405.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
	// Stripe dashboards configured before the path move still deliver here.
	r.Post("/", h.Handle)
}

// webhookAck is the success acknowledgment body.
type webhookAck struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id"`
}

// webhookError is the failure body. The shape is fixed by the provider
// integration; it intentionally differs from the standard API error envelope.
type webhookError struct {
	Error string `json:"error"`
}

// Handle processes one incoming Stripe webhook delivery.
//
//  1. Reads the raw body (size-limited) and the Stripe-Signature header.
//  2. Verifies the signature over the exact raw bytes.
//  3. Parses the event envelope.
//  4. Classifies the event type and routes it to the matching processor.
//  5. Acknowledges with 200 only after processing succeeded, so Stripe
//     redelivers anything that failed transiently.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.reject(w, r, types.CategoryUnknown, "could not read request body")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(ctx, "missing Stripe-Signature header")
		h.reject(w, r, types.CategoryUnknown, "missing Stripe-Signature header")
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		h.reject(w, r, types.CategoryUnknown, "signature verification failed")
		return
	}

	env, err := billing.ParseEnvelope(payload)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to parse webhook event", "error", err)
		h.reject(w, r, types.CategoryUnknown, reason(err))
		return
	}

	category := billing.Classify(env.Type)
	h.logger.InfoContext(ctx, "processing stripe webhook event",
		"event_id", env.ID,
		"event_type", env.Type,
		"category", category,
	)

	start := time.Now()
	err = h.routeEvent(ctx, category, env)
	h.metrics.RecordLatency(ctx, category, time.Since(start))

	if err != nil {
		// Malformed payloads discovered during routing are terminal; anything
		// else is assumed transient so the provider redelivers.
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeWebhookMalformedEvent {
			h.logger.WarnContext(ctx, "malformed webhook event payload",
				"event_id", env.ID,
				"event_type", env.Type,
				"error", err,
			)
			h.reject(w, r, category, reason(err))
			return
		}

		h.logger.ErrorContext(ctx, "webhook event processing failed",
			"event_id", env.ID,
			"event_type", env.Type,
			"error", err,
		)
		h.metrics.RecordEvent(ctx, category, observe.ResultFailed)
		core.JSON(w, r, http.StatusInternalServerError, webhookError{
			Error: "Error processing event: " + reason(err),
		})
		return
	}

	h.metrics.RecordEvent(ctx, category, observe.ResultOK)
	core.JSON(w, r, http.StatusOK, webhookAck{Received: true, EventID: env.ID})
}

// routeEvent dispatches the event to the processor for its category.
// Unknown categories are acknowledged without processing so new provider
// event types never bounce.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, category types.EventCategory, env *billing.Envelope) error {
	switch category {
	case types.CategoryCheckoutCompleted:
		return h.checkout.Process(ctx, env)

	case types.CategorySubscription:
		return h.handleSubscriptionEvent(ctx, env)

	case types.CategoryCustomer, types.CategoryProduct, types.CategoryPrice,
		types.CategoryInvoice, types.CategoryCharge:
		return h.handleMirrorEvent(ctx, category, env)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_id", env.ID,
			"event_type", env.Type,
		)
		return nil
	}
}

// handleSubscriptionEvent converges local state for created, updated, and
// deleted subscription events. Deletions arrive with a non-active status, so
// all three go through the same reconciliation path.
func (h *StripeWebhookHandler) handleSubscriptionEvent(ctx context.Context, env *billing.Envelope) error {
	var sub billing.SubscriptionObject
	if err := env.Object(&sub); err != nil {
		return err
	}
	return h.reconciler.Reconcile(ctx, sub.Snapshot(env.Timestamp()))
}

// handleMirrorEvent upserts (or deletes) the local copy of a Stripe catalog
// or transaction object.
func (h *StripeWebhookHandler) handleMirrorEvent(ctx context.Context, category types.EventCategory, env *billing.Envelope) error {
	raw, err := env.RawObject()
	if err != nil {
		return err
	}

	var obj billing.MirrorObject
	if err := env.Object(&obj); err != nil {
		return err
	}
	if obj.ID == "" {
		return types.NewAppError(types.ErrCodeWebhookMalformedEvent, "event object missing id", nil)
	}

	if billing.IsDeletion(env.Type) {
		return h.mirrors.Delete(ctx, category, obj.ID)
	}
	return h.mirrors.Upsert(ctx, category, obj.ID, raw)
}

// reject writes the fixed 400 body and records a rejected-event metric.
func (h *StripeWebhookHandler) reject(w http.ResponseWriter, r *http.Request, category types.EventCategory, why string) {
	h.metrics.RecordEvent(r.Context(), category, observe.ResultRejected)
	core.JSON(w, r, http.StatusBadRequest, webhookError{Error: "Webhook Error: " + why})
}

// reason extracts a client-safe description from an error. AppError messages
// are written for exposure; anything else gets its plain Error string.
func reason(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
