package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"academy-checkout/internal/domain"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPreferenceNotFound = errors.New("preference not found")
	ErrConnectionTimeout  = errors.New("connection timeout")
)

type sandboxPreference struct {
	pref domain.Preference
	req  PreferenceRequest
}

// MockGateway is an in-process hosted-checkout provider. Preferences are
// idempotent per key and payments settle only when the test or simulator
// asks for it.
type MockGateway struct {
	mu          sync.RWMutex
	secret      string
	seq         int
	preferences map[string]*sandboxPreference // by idempotency key
	byID        map[string]*sandboxPreference
	payments    map[string]domain.Payment
	timeoutRate int
	failNext    error
}

func NewMockGateway(webhookSecret string) *MockGateway {
	return &MockGateway{
		secret:      webhookSecret,
		preferences: make(map[string]*sandboxPreference),
		byID:        make(map[string]*sandboxPreference),
		payments:    make(map[string]domain.Payment),
	}
}

var _ Provider = (*MockGateway)(nil)

// WithTimeoutRate makes percent of preference calls register the preference
// but report a timeout to the caller.
func (g *MockGateway) WithTimeoutRate(percent int) *MockGateway {
	g.mu.Lock()
	g.timeoutRate = percent
	g.mu.Unlock()
	return g
}

// FailNext makes the next CreatePreference call fail with err without
// registering anything.
func (g *MockGateway) FailNext(err error) {
	g.mu.Lock()
	g.failNext = err
	g.mu.Unlock()
}

func (g *MockGateway) CreatePreference(ctx context.Context, req PreferenceRequest) (domain.Preference, error) {
	if err := ctx.Err(); err != nil {
		return domain.Preference{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.failNext; err != nil {
		g.failNext = nil
		return domain.Preference{}, err
	}

	// check idempotency key (if registered, return the same preference)
	if existing, ok := g.preferences[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return existing.pref, nil
	}

	g.seq++
	id := fmt.Sprintf("pref_%d", g.seq)
	entry := &sandboxPreference{
		pref: domain.Preference{ID: id, RedirectURL: "https://sandbox.payments.local/checkout/" + id},
		req:  req,
	}
	if req.IdempotencyKey != "" {
		g.preferences[req.IdempotencyKey] = entry
	}
	g.byID[id] = entry

	// registered on our side, but the caller sees a timeout
	if g.timeoutRate > 0 && rand.IntN(100) < g.timeoutRate {
		return domain.Preference{}, ErrConnectionTimeout
	}
	return entry.pref, nil
}

func (g *MockGateway) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

// Pay records a payment against preferenceID with the given status and
// returns the new payment id.
func (g *MockGateway) Pay(preferenceID string, status domain.ProviderPaymentStatus) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.byID[preferenceID]
	if !ok {
		return "", ErrPreferenceNotFound
	}
	g.seq++
	id := fmt.Sprintf("pay_%d", g.seq)
	g.payments[id] = g.newPayment(id, entry, status)
	return id, nil
}

// PayWithID is Pay with a caller-chosen payment id.
func (g *MockGateway) PayWithID(paymentID, preferenceID string, status domain.ProviderPaymentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.byID[preferenceID]
	if !ok {
		return ErrPreferenceNotFound
	}
	g.payments[paymentID] = g.newPayment(paymentID, entry, status)
	return nil
}

// SettleRandom pays preferenceID with a random outcome: 70% approved,
// 20% rejected, 10% left pending.
func (g *MockGateway) SettleRandom(preferenceID string) (string, domain.ProviderPaymentStatus, error) {
	chance := rand.IntN(100)
	var status domain.ProviderPaymentStatus
	switch {
	case chance < 70:
		status = domain.ProviderApproved
	case chance < 90:
		status = domain.ProviderRejected
	default:
		status = domain.ProviderPending
	}
	id, err := g.Pay(preferenceID, status)
	return id, status, err
}

// UpdatePayment changes the status of an existing payment, e.g. pending to approved.
func (g *MockGateway) UpdatePayment(paymentID string, status domain.ProviderPaymentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[paymentID]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = status
	if status == domain.ProviderApproved && p.ApprovedAt == nil {
		now := time.Now()
		p.ApprovedAt = &now
	}
	g.payments[paymentID] = p
	return nil
}

func (g *MockGateway) newPayment(id string, entry *sandboxPreference, status domain.ProviderPaymentStatus) domain.Payment {
	p := domain.Payment{
		ID:                id,
		Status:            status,
		PreferenceID:      entry.pref.ID,
		ExternalReference: entry.req.ExternalReference,
		Amount:            entry.req.Amount,
		Currency:          entry.req.Currency,
	}
	if status == domain.ProviderApproved {
		now := time.Now()
		p.ApprovedAt = &now
	}
	return p
}

// Webhook builds a signed payment notification for paymentID.
func (g *MockGateway) Webhook(paymentID string) ([]byte, string) {
	body, _ := json.Marshal(map[string]any{
		"type":   "payment",
		"action": "payment.updated",
		"data":   map[string]string{"id": paymentID},
	})
	return body, SignatureFor(g.secret, body)
}
