package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderInitiated       OrderStatus = "initiated"
	OrderPendingPayment  OrderStatus = "pending_payment"
	OrderPaid            OrderStatus = "paid"
	OrderCancelled       OrderStatus = "cancelled"
	OrderPaymentRejected OrderStatus = "payment_rejected"
)

func (s OrderStatus) String() string {
	return string(s)
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled || s == OrderPaymentRejected
}

// Open reports whether s still counts as an unfinished purchase intent.
func (s OrderStatus) Open() bool {
	return s == OrderInitiated || s == OrderPendingPayment
}

type PaymentMethod string

const (
	PaymentGateway      PaymentMethod = "gateway"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentFree         PaymentMethod = "free"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentGateway, PaymentBankTransfer, PaymentFree:
		return true
	}
	return false
}

var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderInitiated: {
		OrderPendingPayment: true,
		OrderPaid:           true,
		OrderCancelled:      true,
	},
	OrderPendingPayment: {
		OrderPaid:            true,
		OrderPaymentRejected: true,
		OrderCancelled:       true,
	},
	OrderPaid:            {},
	OrderCancelled:       {},
	OrderPaymentRejected: {},
}

// CanTransition checks a status change against the allowed-transition table.
// Branch-specific edges are restricted to the payment method that owns them:
// initiated -> paid only for free orders, initiated -> pending_payment never for
// free orders, and payment_rejected only for gateway orders.
func CanTransition(method PaymentMethod, from, to OrderStatus) bool {
	if !orderTransitions[from][to] {
		return false
	}
	switch {
	case from == OrderInitiated && to == OrderPaid:
		return method == PaymentFree
	case from == OrderInitiated && to == OrderPendingPayment:
		return method != PaymentFree
	case to == OrderPaymentRejected:
		return method == PaymentGateway
	}
	return true
}

type Order struct {
	ID                uuid.UUID
	OrderNumber       string
	UserID            uuid.UUID
	CustomerEmail     string
	CourseID          uuid.UUID
	CouponID          *uuid.UUID
	BaseAmount        decimal.Decimal
	DiscountAmount    decimal.Decimal
	FinalAmount       decimal.Decimal
	Currency          string
	PaymentMethod     PaymentMethod
	Status            OrderStatus
	StatusReason      *string
	PreferenceID      *string
	CheckoutURL       *string
	PaymentID         *string
	TransferReference *string
	TransferProofURL  *string
	TransferSentAt    *time.Time
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentInFlight reports whether money may already be on its way for o: a
// hosted payment page was issued, a provider payment is linked, or the
// student reported a bank transfer.
func (o *Order) PaymentInFlight() bool {
	return o.PreferenceID != nil || o.PaymentID != nil ||
		o.TransferReference != nil || o.TransferSentAt != nil
}

// StatusPatch carries the fields written together with a status transition.
type StatusPatch struct {
	PaymentID *string
	PaidAt    *time.Time
	Reason    *string
}

// OrderSnapshot is the immutable view of an order handed to notification templates.
type OrderSnapshot struct {
	OrderID        uuid.UUID       `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	CourseID       uuid.UUID       `json:"courseId"`
	CourseTitle    string          `json:"courseTitle,omitempty"`
	BaseAmount     decimal.Decimal `json:"baseAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
	Currency       string          `json:"currency"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	Status         OrderStatus     `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	CheckoutURL    string          `json:"checkoutUrl,omitempty"`
	TransferRef    string          `json:"transferReference,omitempty"`
	PaidAt         *time.Time      `json:"paidAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	BankAccounts   []BankAccount   `json:"bankAccounts,omitempty"`
}

func (o *Order) Snapshot() OrderSnapshot {
	snap := OrderSnapshot{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		CourseID:       o.CourseID,
		BaseAmount:     o.BaseAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		Currency:       o.Currency,
		PaymentMethod:  o.PaymentMethod,
		Status:         o.Status,
		PaidAt:         o.PaidAt,
		CreatedAt:      o.CreatedAt,
	}
	if o.StatusReason != nil {
		snap.Reason = *o.StatusReason
	}
	if o.CheckoutURL != nil {
		snap.CheckoutURL = *o.CheckoutURL
	}
	if o.TransferReference != nil {
		snap.TransferRef = *o.TransferReference
	}
	return snap
}
