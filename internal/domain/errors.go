package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrCourseNotFound   = errors.New("course not found")
	ErrForbidden        = errors.New("operation not allowed for this principal")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrPersistence      = errors.New("persistence failure")
)

// ErrCheckoutInProgress is returned when a concurrent submission for the same
// user and course keeps winning the open-intent slot.
var ErrCheckoutInProgress = errors.New("another checkout for this course is in progress")

type BlockReason string

const (
	BlockAlreadyEnrolled BlockReason = "already_enrolled"
	BlockCourseFull      BlockReason = "course_full"
	BlockCourseNotOpen   BlockReason = "course_not_open"
	BlockCourseFinished  BlockReason = "course_finished"
)

// BlockedError is a user-facing eligibility failure, not a bug.
type BlockedError struct {
	Reason BlockReason
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("checkout blocked: %s", e.Reason)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type CouponRejectedError struct {
	Code   string
	Reason CouponReason
}

func (e *CouponRejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// ProviderError wraps a failed call to the payment provider. The user may retry.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// OpenOrderError means the student already has an open order for the course
// with a payment in flight. It must be paid or cancelled before a new checkout.
type OpenOrderError struct {
	Order OrderSnapshot
}

func (e *OpenOrderError) Error() string {
	return fmt.Sprintf("order %s is awaiting payment, cancel it before starting a new checkout", e.Order.OrderNumber)
}

type StateConflictError struct {
	OrderID uuid.UUID
	From    OrderStatus
	To      OrderStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("order %s: transition %s -> %s not allowed", e.OrderID, e.From, e.To)
}

// Persistence wraps a storage failure so callers can match ErrPersistence
// while keeping the driver error in the chain.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
