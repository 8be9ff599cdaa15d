package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Coupon struct {
	ID                 uuid.UUID
	Code               string
	DiscountPercent    int
	MaxUses            int
	UsedCount          int
	RestrictedEmail    *string
	RestrictedCourseID *uuid.UUID
	MinPurchaseAmount  *decimal.Decimal
	ValidFrom          *time.Time
	ExpiresAt          *time.Time
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type CouponReason string

const (
	CouponNotFound       CouponReason = "not_found"
	CouponInactive       CouponReason = "inactive"
	CouponExpired        CouponReason = "expired"
	CouponNotYetValid    CouponReason = "not_yet_valid"
	CouponMaxUsesReached CouponReason = "max_uses_reached"
	CouponWrongCourse    CouponReason = "wrong_course"
	CouponWrongEmail     CouponReason = "wrong_email"
	CouponBelowMinimum   CouponReason = "below_minimum"
)

// CouponResult is either valid (Reason empty) or invalid (Reason set).
type CouponResult struct {
	Valid           bool            `json:"valid"`
	Code            string          `json:"code"`
	CouponID        uuid.UUID       `json:"-"`
	DiscountPercent int             `json:"discountPercent,omitempty"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	Reason          CouponReason    `json:"reason,omitempty"`
}

func InvalidCoupon(code string, reason CouponReason) CouponResult {
	return CouponResult{Code: code, Reason: reason, DiscountAmount: decimal.Zero}
}

var couponCodePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{1,31}$`)

// NormalizeCouponCode trims and upper-cases a user supplied code and rejects
// anything that cannot be a stored code.
func NormalizeCouponCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !couponCodePattern.MatchString(code) {
		return "", &ValidationError{Field: "couponCode", Message: "malformed coupon code"}
	}
	return code, nil
}
