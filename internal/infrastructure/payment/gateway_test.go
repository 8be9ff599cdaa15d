package payment

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"academy-checkout/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func TestVerifyWebhook(t *testing.T) {
	ctx := context.Background()
	sandbox := NewMockGateway(testSecret)
	gw := NewPaymentGateway(sandbox, testSecret)

	pref, err := gw.CreatePreference(ctx, PreferenceRequest{
		IdempotencyKey:    "ORD-1",
		ExternalReference: "ORD-1",
		Amount:            decimal.NewFromInt(50),
		Currency:          "USD",
	})
	require.NoError(t, err)
	require.NoError(t, sandbox.PayWithID("pay_123", pref.ID, domain.ProviderRejected))

	t.Run("verified fetches the authoritative payment", func(t *testing.T) {
		body, sig := sandbox.Webhook("pay_123")
		res, err := gw.VerifyWebhook(ctx, body, sig)
		require.NoError(t, err)
		assert.Equal(t, WebhookVerified, res.Kind)
		assert.Equal(t, "pay_123", res.PaymentID)
		require.NotNil(t, res.Payment)
		assert.Equal(t, domain.ProviderRejected, res.Payment.Status)
		assert.Equal(t, pref.ID, res.Payment.PreferenceID)
	})

	t.Run("bare hex signature is accepted", func(t *testing.T) {
		body, _ := sandbox.Webhook("pay_123")
		sig := hex.EncodeToString(Sign([]byte(testSecret), body))
		res, err := gw.VerifyWebhook(ctx, body, sig)
		require.NoError(t, err)
		assert.Equal(t, WebhookVerified, res.Kind)
	})

	t.Run("tampered body is rejected", func(t *testing.T) {
		body, sig := sandbox.Webhook("pay_123")
		body[len(body)-2] = 'X'
		res, err := gw.VerifyWebhook(ctx, body, sig)
		require.NoError(t, err)
		assert.Equal(t, WebhookInvalidSignature, res.Kind)
	})

	t.Run("garbage signature is rejected", func(t *testing.T) {
		body, _ := sandbox.Webhook("pay_123")
		res, err := gw.VerifyWebhook(ctx, body, "sha256=not-hex")
		require.NoError(t, err)
		assert.Equal(t, WebhookInvalidSignature, res.Kind)
	})

	t.Run("signed but unparsable body is malformed", func(t *testing.T) {
		body := []byte(`{"type":`)
		res, err := gw.VerifyWebhook(ctx, body, SignatureFor(testSecret, body))
		require.NoError(t, err)
		assert.Equal(t, WebhookMalformed, res.Kind)
	})

	t.Run("missing payment id is malformed", func(t *testing.T) {
		body := []byte(`{"type":"payment","data":{}}`)
		res, err := gw.VerifyWebhook(ctx, body, SignatureFor(testSecret, body))
		require.NoError(t, err)
		assert.Equal(t, WebhookMalformed, res.Kind)
	})

	t.Run("non payment notifications are ignored", func(t *testing.T) {
		body := []byte(`{"type":"merchant_order","data":{"id":42}}`)
		res, err := gw.VerifyWebhook(ctx, body, SignatureFor(testSecret, body))
		require.NoError(t, err)
		assert.Equal(t, WebhookIgnored, res.Kind)
	})

	t.Run("unknown payment surfaces a provider error", func(t *testing.T) {
		body, sig := sandbox.Webhook("pay_missing")
		_, err := gw.VerifyWebhook(ctx, body, sig)
		var perr *domain.ProviderError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})
}

func TestVerifyWebhook_EmptySecretRejectsEverything(t *testing.T) {
	gw := NewPaymentGateway(NewMockGateway(""), "")
	body := []byte(`{"type":"payment","data":{"id":"1"}}`)
	res, err := gw.VerifyWebhook(context.Background(), body, SignatureFor("", body))
	require.NoError(t, err)
	assert.Equal(t, WebhookInvalidSignature, res.Kind)
}

func TestMockGateway_PreferenceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sandbox := NewMockGateway(testSecret).WithTimeoutRate(100)
	req := PreferenceRequest{IdempotencyKey: "ORD-7", ExternalReference: "ORD-7", Amount: decimal.NewFromInt(10), Currency: "USD"}

	_, err := sandbox.CreatePreference(ctx, req)
	require.ErrorIs(t, err, ErrConnectionTimeout)

	pref, err := sandbox.CreatePreference(ctx, req)
	require.NoError(t, err, "retry with the same key returns the registered preference")
	assert.Equal(t, "pref_1", pref.ID)
}

func TestCreatePreference_WrapsProviderFailure(t *testing.T) {
	sandbox := NewMockGateway(testSecret)
	sandbox.FailNext(errors.New("503"))
	gw := NewPaymentGateway(sandbox, testSecret)

	_, err := gw.CreatePreference(context.Background(), PreferenceRequest{IdempotencyKey: "k"})
	var perr *domain.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "create preference", perr.Op)
}

func TestClient_CreatePreferenceAndGetPayment(t *testing.T) {
	var gotKey, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/checkout/preferences":
			gotKey = r.Header.Get("X-Idempotency-Key")
			gotAuth = r.Header.Get("Authorization")
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "ORD-9", body["external_reference"])
			_, _ = w.Write([]byte(`{"id":"pref_9","init_point":"https://pay.example/pref_9"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payments/123":
			_, _ = w.Write([]byte(`{"id":123,"status":"approved","external_reference":"ORD-9","transaction_amount":50.5,"currency_id":"USD"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found","error":"not_found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "token", 2*time.Second)
	ctx := context.Background()

	pref, err := c.CreatePreference(ctx, PreferenceRequest{
		IdempotencyKey:    "ORD-9",
		ExternalReference: "ORD-9",
		Title:             "Wine 101",
		Amount:            decimal.RequireFromString("50.50"),
		Currency:          "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "pref_9", pref.ID)
	assert.Equal(t, "ORD-9", gotKey)
	assert.Equal(t, "Bearer token", gotAuth)

	p, err := c.GetPayment(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, "123", p.ID)
	assert.Equal(t, domain.ProviderApproved, p.Status)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("50.5")))

	_, err = c.GetPayment(ctx, "404")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not found", apiErr.Message)
}
