package external

import (
	"context"
	"log/slog"
	"time"

	"resonate/internal/billing"
)

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
// For local development against the Stripe CLI without a signing secret.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubWebhookVerifier{logger: logger}
}

// Verify always succeeds, logging that verification was skipped.
func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Warn("stub webhook verifier: signature verification skipped",
		"payload_bytes", len(payload),
	)
	return nil
}

// StubSubscriptionFetcher implements billing.SubscriptionFetcher with a
// canned active monthly subscription, for local development without Stripe
// credentials.
type StubSubscriptionFetcher struct {
	logger *slog.Logger
}

// NewStubSubscriptionFetcher creates a new StubSubscriptionFetcher.
func NewStubSubscriptionFetcher(logger *slog.Logger) *StubSubscriptionFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubSubscriptionFetcher{logger: logger}
}

// FetchSubscription returns a canned active subscription for the given id.
func (s *StubSubscriptionFetcher) FetchSubscription(_ context.Context, subscriptionID string) (*billing.SubscriptionObject, error) {
	s.logger.Warn("stub subscription fetcher: returning canned subscription",
		"subscription_id", subscriptionID,
	)
	now := time.Now().UTC()
	return &billing.SubscriptionObject{
		ID:                 subscriptionID,
		Status:             "active",
		CurrentPeriodStart: now.Unix(),
		CurrentPeriodEnd:   now.AddDate(0, 1, 0).Unix(),
	}, nil
}

var _ WebhookVerifier = (*StubWebhookVerifier)(nil)
var _ billing.SubscriptionFetcher = (*StubSubscriptionFetcher)(nil)
