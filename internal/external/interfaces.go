// Package external provides the anti-corruption layer between the Resonate
// billing core and the Stripe API. All outbound HTTP calls are routed
// through the BaseClient, which enforces consistent resilience patterns:
// circuit breaking, retries with exponential backoff, trace propagation,
// and error mapping.
package external

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. The payload must be the raw request bytes;
	// re-serialized JSON will legitimately fail verification. Returns nil on
	// success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}
