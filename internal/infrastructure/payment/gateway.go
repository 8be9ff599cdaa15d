package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"academy-checkout/internal/domain"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const SignatureHeader = "X-Signature"

// PreferenceRequest registers a payment intent with the provider. The order
// number doubles as external reference and idempotency key.
type PreferenceRequest struct {
	IdempotencyKey    string
	ExternalReference string
	Title             string
	Amount            decimal.Decimal
	Currency          string
	PayerEmail        string
	NotificationURL   string
	BackURL           string
}

// Provider is the raw hosted-checkout API.
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (domain.Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
}

type WebhookKind int

const (
	WebhookVerified WebhookKind = iota + 1
	WebhookInvalidSignature
	WebhookMalformed
	// WebhookIgnored is a well-formed, signed notification about something
	// other than a payment.
	WebhookIgnored
)

type WebhookResult struct {
	Kind      WebhookKind
	Type      string
	PaymentID string
	// Payment is the authoritative object fetched from the provider; set only
	// when Kind is WebhookVerified.
	Payment *domain.Payment
}

type PaymentGateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (domain.Preference, error)
	VerifyWebhook(ctx context.Context, raw []byte, signature string) (WebhookResult, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
}

type paymentGateway struct {
	provider Provider
	secret   []byte
}

func NewPaymentGateway(provider Provider, webhookSecret string) PaymentGateway {
	return &paymentGateway{provider: provider, secret: []byte(webhookSecret)}
}

func (g *paymentGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (domain.Preference, error) {
	pref, err := g.provider.CreatePreference(ctx, req)
	if err != nil {
		return domain.Preference{}, &domain.ProviderError{Op: "create preference", Err: err}
	}
	if pref.ID == "" || pref.RedirectURL == "" {
		return domain.Preference{}, &domain.ProviderError{Op: "create preference", Err: errIncompletePreference}
	}
	return pref, nil
}

func (g *paymentGateway) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	p, err := g.provider.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, &domain.ProviderError{Op: "get payment", Err: err}
	}
	return p, nil
}

type webhookPayload struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
}

// VerifyWebhook authenticates raw against signature and, for payment
// notifications, fetches the payment from the provider. Body fields other
// than the payment id are never trusted.
func (g *paymentGateway) VerifyWebhook(ctx context.Context, raw []byte, signature string) (WebhookResult, error) {
	if !g.validSignature(raw, signature) {
		return WebhookResult{Kind: WebhookInvalidSignature}, nil
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return WebhookResult{Kind: WebhookMalformed}, nil
	}
	kind := payload.Type
	if kind == "" {
		kind, _, _ = strings.Cut(payload.Action, ".")
	}
	if kind == "" {
		return WebhookResult{Kind: WebhookMalformed}, nil
	}
	if kind != "payment" {
		return WebhookResult{Kind: WebhookIgnored, Type: kind}, nil
	}
	paymentID := strings.TrimSpace(string(payload.Data.ID))
	if paymentID == "" {
		return WebhookResult{Kind: WebhookMalformed, Type: kind}, nil
	}

	p, err := g.GetPayment(ctx, paymentID)
	if err != nil {
		return WebhookResult{}, err
	}
	if p.ID == "" {
		p.ID = paymentID
	}
	return WebhookResult{Kind: WebhookVerified, Type: kind, PaymentID: paymentID, Payment: p}, nil
}

func (g *paymentGateway) validSignature(raw []byte, header string) bool {
	if len(g.secret) == 0 {
		log.Error().Msg("webhook secret not configured, rejecting delivery")
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(provided) == 0 {
		return false
	}
	return hmac.Equal(provided, Sign(g.secret, raw))
}

// Sign computes the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignatureFor renders the header value the provider sends for body.
func SignatureFor(secret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(Sign([]byte(secret), body))
}

// flexibleID accepts both numeric and string identifiers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}
