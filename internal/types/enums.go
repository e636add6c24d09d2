package types

// Tier identifies the entitlement level of a subscription.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// BillingPeriod is the two-valued billing-interval domain. Stripe's native
// interval vocabulary is wider; see billing.MapBillingPeriod for the mapping.
type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingAnnual  BillingPeriod = "annual"
)

// SubscriptionStatus is the local two-state entitlement status. This is not
// a soft-delete flag: inactive rows are retained as history and may be
// reactivated for a returning subscriber.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusInactive SubscriptionStatus = "inactive"
)

// PromotionStatus is the lifecycle state of a one-time promotion purchase.
type PromotionStatus string

const (
	PromotionStatusPaymentPending PromotionStatus = "payment_pending"
	PromotionStatusActive         PromotionStatus = "active"
	PromotionStatusCompleted      PromotionStatus = "completed"
)

// EventCategory is the enumerated routing category derived from a Stripe
// event type string. Derived once per event by billing.Classify and then
// switched on exhaustively; handlers never inspect the raw type prefix.
type EventCategory string

const (
	CategoryCheckoutCompleted EventCategory = "checkout_completed"
	CategorySubscription      EventCategory = "subscription"
	CategoryCustomer          EventCategory = "customer"
	CategoryProduct           EventCategory = "product"
	CategoryPrice             EventCategory = "price"
	CategoryInvoice           EventCategory = "invoice"
	CategoryCharge            EventCategory = "charge"
	CategoryUnknown           EventCategory = "unknown"
)
