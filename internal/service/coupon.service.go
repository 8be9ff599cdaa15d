package service

import (
	"context"
	"strings"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CouponInput struct {
	Code     string
	CourseID uuid.UUID
	Email    string
	Amount   decimal.Decimal
	Currency string
}

type CouponService interface {
	// Validate evaluates a coupon without consuming it. A malformed code is a
	// *domain.ValidationError; every business rejection is an invalid result.
	Validate(ctx context.Context, in CouponInput) (domain.CouponResult, error)
}

type couponService struct {
	couponRepo repo.CouponRepo
	now        func() time.Time
}

func NewCouponService(couponRepo repo.CouponRepo, now func() time.Time) CouponService {
	if now == nil {
		now = time.Now
	}
	return &couponService{couponRepo: couponRepo, now: now}
}

func (s *couponService) Validate(ctx context.Context, in CouponInput) (domain.CouponResult, error) {
	code, err := domain.NormalizeCouponCode(in.Code)
	if err != nil {
		return domain.CouponResult{}, err
	}
	coupon, err := s.couponRepo.FindByCode(ctx, code)
	if err != nil {
		return domain.CouponResult{}, domain.Persistence("find coupon", err)
	}
	in.Code = code
	return EvaluateCoupon(coupon, in, s.now()), nil
}

// EvaluateCoupon applies the coupon rules in a fixed order; the first failing
// check decides the reason.
func EvaluateCoupon(c *domain.Coupon, in CouponInput, now time.Time) domain.CouponResult {
	switch {
	case c == nil:
		return domain.InvalidCoupon(in.Code, domain.CouponNotFound)
	case !c.Active:
		return domain.InvalidCoupon(in.Code, domain.CouponInactive)
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return domain.InvalidCoupon(in.Code, domain.CouponNotYetValid)
	case c.ExpiresAt != nil && now.After(*c.ExpiresAt):
		return domain.InvalidCoupon(in.Code, domain.CouponExpired)
	case c.UsedCount >= c.MaxUses:
		return domain.InvalidCoupon(in.Code, domain.CouponMaxUsesReached)
	case c.RestrictedCourseID != nil && *c.RestrictedCourseID != in.CourseID:
		return domain.InvalidCoupon(in.Code, domain.CouponWrongCourse)
	case c.RestrictedEmail != nil && !strings.EqualFold(strings.TrimSpace(*c.RestrictedEmail), strings.TrimSpace(in.Email)):
		return domain.InvalidCoupon(in.Code, domain.CouponWrongEmail)
	case c.MinPurchaseAmount != nil && in.Amount.LessThan(*c.MinPurchaseAmount):
		return domain.InvalidCoupon(in.Code, domain.CouponBelowMinimum)
	}

	return domain.CouponResult{
		Valid:           true,
		Code:            c.Code,
		CouponID:        c.ID,
		DiscountPercent: c.DiscountPercent,
		DiscountAmount:  discountFor(in.Amount, c.DiscountPercent, in.Currency),
	}
}
