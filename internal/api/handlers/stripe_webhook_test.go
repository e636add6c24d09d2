package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"resonate/internal/billing"
	"resonate/internal/observe"
	"resonate/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// mockWebhookVerifier implements external.WebhookVerifier for testing.
type mockWebhookVerifier struct {
	shouldFail bool
}

func (m *mockWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	if m.shouldFail {
		return errors.New("signature mismatch")
	}
	return nil
}

// mockReconciler implements SubscriptionReconciler for testing.
type mockReconciler struct {
	calls []types.SubscriptionSnapshot
	err   error
}

func (m *mockReconciler) Reconcile(_ context.Context, snap types.SubscriptionSnapshot) error {
	m.calls = append(m.calls, snap)
	return m.err
}

// mockCheckout implements CheckoutCompleter for testing.
type mockCheckout struct {
	calls []*billing.Envelope
	err   error
}

func (m *mockCheckout) Process(_ context.Context, env *billing.Envelope) error {
	m.calls = append(m.calls, env)
	return m.err
}

// mockMirrorStore implements MirrorStore for testing.
type mockMirrorStore struct {
	upserts []mirrorCall
	deletes []mirrorCall
	err     error
}

type mirrorCall struct {
	Category types.EventCategory
	ID       string
	Payload  []byte
}

func (m *mockMirrorStore) Upsert(_ context.Context, category types.EventCategory, id string, payload []byte) error {
	m.upserts = append(m.upserts, mirrorCall{Category: category, ID: id, Payload: payload})
	return m.err
}

func (m *mockMirrorStore) Delete(_ context.Context, category types.EventCategory, id string) error {
	m.deletes = append(m.deletes, mirrorCall{Category: category, ID: id})
	return m.err
}

// mockMetrics records emitted webhook telemetry.
type mockMetrics struct {
	events    []metricEvent
	latencies []types.EventCategory
}

type metricEvent struct {
	Category types.EventCategory
	Result   string
}

func (m *mockMetrics) RecordEvent(_ context.Context, category types.EventCategory, result string) {
	m.events = append(m.events, metricEvent{Category: category, Result: result})
}

func (m *mockMetrics) RecordLatency(_ context.Context, category types.EventCategory, _ time.Duration) {
	m.latencies = append(m.latencies, category)
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type webhookFixture struct {
	handler    *StripeWebhookHandler
	verifier   *mockWebhookVerifier
	reconciler *mockReconciler
	checkout   *mockCheckout
	mirrors    *mockMirrorStore
	metrics    *mockMetrics
}

func newWebhookFixture() *webhookFixture {
	f := &webhookFixture{
		verifier:   &mockWebhookVerifier{},
		reconciler: &mockReconciler{},
		checkout:   &mockCheckout{},
		mirrors:    &mockMirrorStore{},
		metrics:    &mockMetrics{},
	}
	f.handler = NewStripeWebhookHandler(
		f.verifier,
		f.reconciler,
		f.checkout,
		f.mirrors,
		f.metrics,
		types.SecretString("whsec_test_secret"),
		nil, // default logger
	)
	return f
}

// buildStripeEvent creates a JSON-encoded Stripe event for testing.
func buildStripeEvent(eventType, eventID string, created int64, dataObject any) []byte {
	objBytes, _ := json.Marshal(dataObject)
	event := map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": created,
		"data": map[string]any{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

func buildSubscriptionEvent(eventType, userID, status string, created int64) []byte {
	obj := map[string]any{
		"id":       "sub_test_123",
		"customer": "cus_test_1",
		"status":   status,
		"metadata": map[string]string{"user_id": userID},
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": "price_pro_month", "recurring": map[string]any{"interval": "month"}}},
			},
		},
	}
	return buildStripeEvent(eventType, "evt_sub_1", created, obj)
}

// doWebhookRequest performs an HTTP request against the webhook handler.
func doWebhookRequest(handler *StripeWebhookHandler, body []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rr := httptest.NewRecorder()
	handler.Handle(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
	return body
}

// ---------------------------------------------------------------------------
// Tests: Intake
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_MissingSignature(t *testing.T) {
	f := newWebhookFixture()

	body := buildSubscriptionEvent("customer.subscription.updated", "user_1", "active", time.Now().Unix())
	rr := doWebhookRequest(f.handler, body, "")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["error"] != "Webhook Error: missing Stripe-Signature header" {
		t.Errorf("unexpected body: %v", resp)
	}
	if len(f.metrics.events) != 1 || f.metrics.events[0].Result != observe.ResultRejected {
		t.Errorf("expected one rejected metric, got %v", f.metrics.events)
	}
}

func TestStripeWebhookHandler_InvalidSignature(t *testing.T) {
	f := newWebhookFixture()
	f.verifier.shouldFail = true

	body := buildSubscriptionEvent("customer.subscription.updated", "user_1", "active", time.Now().Unix())
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=bad")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["error"] != "Webhook Error: signature verification failed" {
		t.Errorf("unexpected body: %v", resp)
	}
	if len(f.reconciler.calls) != 0 {
		t.Error("reconciler must not run for an unverified payload")
	}
}

func TestStripeWebhookHandler_MalformedEvent(t *testing.T) {
	f := newWebhookFixture()

	rr := doWebhookRequest(f.handler, []byte(`{"not": "an event"`), "t=12345,v1=ok")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	resp := decodeBody(t, rr)
	errMsg, _ := resp["error"].(string)
	if len(errMsg) == 0 || errMsg[:15] != "Webhook Error: " {
		t.Errorf("unexpected error message: %q", errMsg)
	}
}

// ---------------------------------------------------------------------------
// Tests: Routing
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_SubscriptionEvent(t *testing.T) {
	f := newWebhookFixture()

	now := time.Now().Unix()
	body := buildSubscriptionEvent("customer.subscription.updated", "user_1", "active", now)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["received"] != true || resp["event_id"] != "evt_sub_1" {
		t.Errorf("unexpected ack body: %v", resp)
	}

	if len(f.reconciler.calls) != 1 {
		t.Fatalf("expected 1 reconcile call, got %d", len(f.reconciler.calls))
	}
	snap := f.reconciler.calls[0]
	if snap.SubscriptionID != "sub_test_123" || snap.UserID != "user_1" || snap.Status != "active" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if want := time.Unix(now, 0).UTC(); !snap.EventTime.Equal(want) {
		t.Errorf("EventTime = %v, want %v", snap.EventTime, want)
	}

	if len(f.metrics.events) != 1 || f.metrics.events[0].Result != observe.ResultOK {
		t.Errorf("expected one ok metric, got %v", f.metrics.events)
	}
	if len(f.metrics.latencies) != 1 || f.metrics.latencies[0] != types.CategorySubscription {
		t.Errorf("expected subscription latency metric, got %v", f.metrics.latencies)
	}
}

func TestStripeWebhookHandler_SubscriptionDeleted(t *testing.T) {
	f := newWebhookFixture()

	body := buildSubscriptionEvent("customer.subscription.deleted", "user_1", "canceled", time.Now().Unix())
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	// Deletions route through the reconciler, never the mirror store.
	if len(f.reconciler.calls) != 1 {
		t.Fatalf("expected 1 reconcile call, got %d", len(f.reconciler.calls))
	}
	if f.reconciler.calls[0].Status != "canceled" {
		t.Errorf("Status = %q", f.reconciler.calls[0].Status)
	}
	if len(f.mirrors.deletes) != 0 {
		t.Error("subscription deletion must not touch the mirror store")
	}
}

func TestStripeWebhookHandler_CheckoutCompleted(t *testing.T) {
	f := newWebhookFixture()

	body := buildStripeEvent("checkout.session.completed", "evt_co_1", time.Now().Unix(), map[string]any{
		"id":   "cs_1",
		"mode": "subscription",
	})
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(f.checkout.calls) != 1 {
		t.Fatalf("expected 1 checkout call, got %d", len(f.checkout.calls))
	}
	if f.checkout.calls[0].ID != "evt_co_1" {
		t.Errorf("envelope id = %q", f.checkout.calls[0].ID)
	}
}

func TestStripeWebhookHandler_MirrorUpsert(t *testing.T) {
	tests := []struct {
		eventType string
		want      types.EventCategory
	}{
		{"customer.updated", types.CategoryCustomer},
		{"product.created", types.CategoryProduct},
		{"price.updated", types.CategoryPrice},
		{"invoice.paid", types.CategoryInvoice},
		{"charge.succeeded", types.CategoryCharge},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			f := newWebhookFixture()

			body := buildStripeEvent(tt.eventType, "evt_m_1", time.Now().Unix(), map[string]any{
				"id":   "obj_1",
				"name": "whatever stripe sent",
			})
			rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
			}
			if len(f.mirrors.upserts) != 1 {
				t.Fatalf("expected 1 upsert, got %d", len(f.mirrors.upserts))
			}
			call := f.mirrors.upserts[0]
			if call.Category != tt.want || call.ID != "obj_1" {
				t.Errorf("upsert = %+v", call)
			}
			// The stored payload is the raw object, not a re-serialization.
			var obj map[string]any
			if err := json.Unmarshal(call.Payload, &obj); err != nil || obj["name"] != "whatever stripe sent" {
				t.Errorf("payload = %s", call.Payload)
			}
		})
	}
}

func TestStripeWebhookHandler_MirrorDelete(t *testing.T) {
	f := newWebhookFixture()

	body := buildStripeEvent("customer.deleted", "evt_d_1", time.Now().Unix(), map[string]any{
		"id": "cus_gone",
	})
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(f.mirrors.upserts) != 0 {
		t.Error("deletion event must not upsert")
	}
	if len(f.mirrors.deletes) != 1 || f.mirrors.deletes[0].ID != "cus_gone" {
		t.Fatalf("deletes = %+v", f.mirrors.deletes)
	}
}

func TestStripeWebhookHandler_MirrorObjectWithoutID(t *testing.T) {
	f := newWebhookFixture()

	body := buildStripeEvent("product.updated", "evt_m_2", time.Now().Unix(), map[string]any{
		"name": "no id here",
	})
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(f.mirrors.upserts) != 0 {
		t.Error("malformed object must not be stored")
	}
}

func TestStripeWebhookHandler_UnknownEventType(t *testing.T) {
	f := newWebhookFixture()

	body := buildStripeEvent("payment_intent.succeeded", "evt_u_1", time.Now().Unix(), map[string]any{
		"id": "pi_1",
	})
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

	if rr.Code != http.StatusOK {
		t.Fatalf("unknown types must be acknowledged; got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["received"] != true || resp["event_id"] != "evt_u_1" {
		t.Errorf("unexpected ack body: %v", resp)
	}
	if len(f.reconciler.calls)+len(f.checkout.calls)+len(f.mirrors.upserts) != 0 {
		t.Error("unknown event must not be processed")
	}
}

// ---------------------------------------------------------------------------
// Tests: Failure semantics
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_ProcessingFailure(t *testing.T) {
	f := newWebhookFixture()
	f.reconciler.err = errors.New("connection reset by peer")

	body := buildSubscriptionEvent("customer.subscription.updated", "user_1", "active", time.Now().Unix())
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
	resp := decodeBody(t, rr)
	errMsg, _ := resp["error"].(string)
	if len(errMsg) < 24 || errMsg[:24] != "Error processing event: " {
		t.Errorf("unexpected error message: %q", errMsg)
	}
	if len(f.metrics.events) != 1 || f.metrics.events[0].Result != observe.ResultFailed {
		t.Errorf("expected one failed metric, got %v", f.metrics.events)
	}
}

func TestStripeWebhookHandler_MalformedObjectDuringRouting(t *testing.T) {
	f := newWebhookFixture()

	// Valid envelope, but data.object is a JSON string where an object is
	// expected.
	body := []byte(`{
		"id": "evt_bad_obj",
		"type": "customer.subscription.updated",
		"created": 1700000000,
		"data": {"object": "not an object"}
	}`)
	rr := doWebhookRequest(f.handler, body, "t=12345,v1=ok")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Tests: Routing table
// ---------------------------------------------------------------------------

func TestStripeWebhookHandler_MethodNotAllowed(t *testing.T) {
	f := newWebhookFixture()
	r := chi.NewRouter()
	f.handler.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}
