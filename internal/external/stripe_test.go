package external

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"resonate/internal/types"
)

// ---------------------------------------------------------------------------
// Webhook Verification Tests
// ---------------------------------------------------------------------------

func signedHeader(t time.Time, payload []byte, secret string) string {
	sig := webhook.ComputeSignature(t, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(sig))
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","type":"customer.created"}`)

	header := signedHeader(time.Now(), payload, secret)
	if err := verifier.Verify(payload, header, secret); err != nil {
		t.Errorf("expected valid signature, got error: %v", err)
	}
}

func TestStripeVerifier_InvalidSignature(t *testing.T) {
	verifier := &StripeVerifier{}
	payload := []byte(`{"id":"evt_test"}`)
	header := "t=1234567890,v1=badbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadb"

	if err := verifier.Verify(payload, header, "whsec_test_secret"); err == nil {
		t.Error("expected error for invalid signature, got nil")
	}
}

func TestStripeVerifier_TamperedPayload(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","amount":100}`)

	header := signedHeader(time.Now(), payload, secret)
	tampered := []byte(`{"id":"evt_test","amount":999}`)
	if err := verifier.Verify(tampered, header, secret); err == nil {
		t.Error("expected error for tampered payload, got nil")
	}
}

func TestStripeVerifier_MissingHeader(t *testing.T) {
	verifier := &StripeVerifier{}
	if err := verifier.Verify([]byte(`{"id":"evt_test"}`), "", "whsec_test_secret"); err == nil {
		t.Error("expected error for missing signature header, got nil")
	}
}

func TestStripeVerifier_ExpiredTimestamp(t *testing.T) {
	verifier := &StripeVerifier{}
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test"}`)

	oldTime := time.Now().Add(-10 * time.Minute)
	header := signedHeader(oldTime, payload, secret)
	if err := verifier.Verify(payload, header, secret); err == nil {
		t.Error("expected error for expired timestamp, got nil")
	}
}

// ---------------------------------------------------------------------------
// StripeClient Tests
// ---------------------------------------------------------------------------

func newTestStripeClient(baseURL string) *StripeClient {
	base := NewBaseClient(
		&http.Client{},
		"stripe-test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"Resonate-Test/1.0",
		WithSleepFunc(func(time.Duration) {}),
	)
	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: "sk_test_123",
		BaseURL:   baseURL,
	})
}

func TestStripeClient_FetchSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscriptions/sub_42" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Stripe-Version"); got != stripe.APIVersion {
			t.Errorf("Stripe-Version = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "sub_42",
			"customer": "cus_7",
			"status": "active",
			"current_period_start": 1700000000,
			"current_period_end": 1702592000,
			"metadata": {"user_id": "user_1"},
			"items": {"data": [{"price": {"id": "price_pro_month", "recurring": {"interval": "month"}}}]}
		}`)
	}))
	defer srv.Close()

	client := newTestStripeClient(srv.URL)
	sub, err := client.FetchSubscription(context.Background(), "sub_42")
	if err != nil {
		t.Fatalf("FetchSubscription returned error: %v", err)
	}

	if sub.ID != "sub_42" || sub.Customer != "cus_7" || sub.Status != "active" {
		t.Errorf("decoded %+v", sub)
	}
	if sub.PriceID() != "price_pro_month" {
		t.Errorf("PriceID = %q", sub.PriceID())
	}
	if sub.Interval() != "month" {
		t.Errorf("Interval = %q", sub.Interval())
	}
	if sub.Metadata["user_id"] != "user_1" {
		t.Errorf("metadata = %v", sub.Metadata)
	}
}

func TestStripeClient_FetchSubscription_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"type": "invalid_request_error", "message": "No such subscription"}}`)
	}))
	defer srv.Close()

	client := newTestStripeClient(srv.URL)
	_, err := client.FetchSubscription(context.Background(), "sub_missing")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamStripe {
		t.Errorf("code = %q", appErr.Code)
	}
}

func TestStripeClient_FetchSubscription_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json at all`)
	}))
	defer srv.Close()

	client := newTestStripeClient(srv.URL)
	_, err := client.FetchSubscription(context.Background(), "sub_42")
	if err == nil {
		t.Fatal("expected decode error")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamStripe {
		t.Errorf("code = %q", appErr.Code)
	}
}
