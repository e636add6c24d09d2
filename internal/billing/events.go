package billing

import (
	"encoding/json"
	"strings"
	"time"

	"resonate/internal/types"
)

// Envelope is the verified, parsed representation of one inbound webhook
// notification. It is created by ParseEnvelope, consumed once, and never
// persisted; the Data field stays opaque until a category handler decodes
// it into its statically-shaped object.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// eventData wraps the event data object. Stripe nests the payload under
// data.object.
type eventData struct {
	Object json.RawMessage `json:"object"`
}

// ParseEnvelope decodes verified webhook bytes into an Envelope. A decode
// failure after successful signature verification indicates a malformed
// processor payload; callers respond 400 and never retry.
func ParseEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, types.NewAppError(types.ErrCodeWebhookMalformedEvent, "invalid webhook event JSON", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, types.NewAppError(types.ErrCodeWebhookMalformedEvent, "webhook event missing id or type", nil)
	}
	return &env, nil
}

// Timestamp returns the event's created timestamp as a time.Time in UTC.
func (e *Envelope) Timestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// Object unwraps data.object into dst.
func (e *Envelope) Object(dst any) error {
	var data eventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return types.NewAppError(types.ErrCodeWebhookMalformedEvent, "invalid event data wrapper", err)
	}
	if err := json.Unmarshal(data.Object, dst); err != nil {
		return types.NewAppError(types.ErrCodeWebhookMalformedEvent, "invalid event data object", err)
	}
	return nil
}

// RawObject returns the undecoded data.object bytes. Mirror handlers store
// these verbatim rather than round-tripping through a struct.
func (e *Envelope) RawObject() (json.RawMessage, error) {
	var data eventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, types.NewAppError(types.ErrCodeWebhookMalformedEvent, "invalid event data wrapper", err)
	}
	if len(data.Object) == 0 {
		return nil, types.NewAppError(types.ErrCodeWebhookMalformedEvent, "event data missing object", nil)
	}
	return data.Object, nil
}

// Classify derives the routing category from a dot-namespaced event type.
// The match is case-insensitive and prefix-based; the subscription prefix
// is checked before the broader customer prefix so customer.subscription.*
// never falls into the customer mirror branch. Unrecognized types classify
// as CategoryUnknown, which handlers accept and ignore for forward
// compatibility with new processor event types.
func Classify(eventType string) types.EventCategory {
	t := strings.ToLower(strings.TrimSpace(eventType))
	switch {
	case t == "checkout.session.completed":
		return types.CategoryCheckoutCompleted
	case strings.HasPrefix(t, "customer.subscription."):
		return types.CategorySubscription
	case strings.HasPrefix(t, "customer."):
		return types.CategoryCustomer
	case strings.HasPrefix(t, "product."):
		return types.CategoryProduct
	case strings.HasPrefix(t, "price."):
		return types.CategoryPrice
	case strings.HasPrefix(t, "invoice."):
		return types.CategoryInvoice
	case strings.HasPrefix(t, "charge."):
		return types.CategoryCharge
	default:
		return types.CategoryUnknown
	}
}

// IsDeletion reports whether the event signals removal of the underlying
// object (e.g. customer.deleted, price.deleted). Mirror handlers delete the
// local row instead of upserting.
func IsDeletion(eventType string) bool {
	return strings.HasSuffix(strings.ToLower(eventType), ".deleted")
}

// ---------------------------------------------------------------------------
// Typed event objects
//
// Minimal representations of the Stripe objects this service consumes. The
// full stripe.Event types are deliberately not used here: decoding only the
// fields we mirror keeps the handlers decoupled from the vendor library and
// makes test payload construction straightforward.
// ---------------------------------------------------------------------------

// CheckoutSessionObject is the data object of checkout.session.completed.
type CheckoutSessionObject struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"` // "subscription" or "payment"
	PaymentStatus string            `json:"payment_status"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	AmountTotal   int64             `json:"amount_total"` // minor units (cents)
	Metadata      map[string]string `json:"metadata"`
}

// SubscriptionObject is the data object of customer.subscription.* events.
type SubscriptionObject struct {
	ID                 string             `json:"id"`
	Customer           string             `json:"customer"`
	Status             string             `json:"status"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CurrentPeriodStart int64              `json:"current_period_start"`
	CurrentPeriodEnd   int64              `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              subscriptionItems `json:"items"`
}

type subscriptionItems struct {
	Data []subscriptionItem `json:"data"`
}

type subscriptionItem struct {
	Price priceObject `json:"price"`
}

type priceObject struct {
	ID        string          `json:"id"`
	Recurring *priceRecurring `json:"recurring"`
}

type priceRecurring struct {
	Interval string `json:"interval"`
}

// PriceID returns the first item's price ID, or "".
func (s *SubscriptionObject) PriceID() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.ID
}

// Interval returns the first item's recurring interval, or "".
func (s *SubscriptionObject) Interval() string {
	if len(s.Items.Data) == 0 || s.Items.Data[0].Price.Recurring == nil {
		return ""
	}
	return s.Items.Data[0].Price.Recurring.Interval
}

// MirrorObject is the minimal shape shared by customer, product, price,
// invoice, and charge events: an ID plus the raw payload, which the mirror
// repository stores verbatim.
type MirrorObject struct {
	ID string `json:"id"`
}

// Snapshot lifts a SubscriptionObject into the reconciler's input form.
// The returned snapshot carries Stripe's native status vocabulary; the
// reconciler maps it to the local domain.
func (s *SubscriptionObject) Snapshot(eventTime time.Time) types.SubscriptionSnapshot {
	return types.SubscriptionSnapshot{
		SubscriptionID:     s.ID,
		CustomerID:         s.Customer,
		UserID:             s.Metadata["user_id"],
		Status:             s.Status,
		Interval:           s.Interval(),
		PriceID:            s.PriceID(),
		TierHint:           s.Metadata["tier"],
		CurrentPeriodStart: time.Unix(s.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(s.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		EventTime:          eventTime,
	}
}
