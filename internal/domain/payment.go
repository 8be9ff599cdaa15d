package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProviderPaymentStatus is the status reported by the payment provider.
type ProviderPaymentStatus string

const (
	ProviderApproved   ProviderPaymentStatus = "approved"
	ProviderPending    ProviderPaymentStatus = "pending"
	ProviderInProcess  ProviderPaymentStatus = "in_process"
	ProviderRejected   ProviderPaymentStatus = "rejected"
	ProviderCancelled  ProviderPaymentStatus = "cancelled"
	ProviderRefunded   ProviderPaymentStatus = "refunded"
	ProviderChargeback ProviderPaymentStatus = "charged_back"
)

// Preference is a payment intent registered with the provider.
type Preference struct {
	ID          string
	RedirectURL string
}

// Payment is the authoritative payment object fetched from the provider.
type Payment struct {
	ID                string
	Status            ProviderPaymentStatus
	StatusDetail      string
	PreferenceID      string
	ExternalReference string
	Amount            decimal.Decimal
	Currency          string
	ApprovedAt        *time.Time
}

// TargetStatus maps a provider status onto the order state machine. The second
// return value is false when the status carries no transition.
func (s ProviderPaymentStatus) TargetStatus() (OrderStatus, bool) {
	switch s {
	case ProviderApproved:
		return OrderPaid, true
	case ProviderRejected, ProviderCancelled:
		return OrderPaymentRejected, true
	}
	return "", false
}

type BankAccount struct {
	ID            uuid.UUID `json:"id"`
	BankName      string    `json:"bankName"`
	AccountHolder string    `json:"accountHolder"`
	AccountNumber string    `json:"accountNumber"`
	AccountType   string    `json:"accountType"`
	TaxID         string    `json:"taxId,omitempty"`
	Email         string    `json:"email,omitempty"`
	Active        bool      `json:"-"`
}
