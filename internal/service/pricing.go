package service

import (
	"academy-checkout/internal/domain"

	"github.com/shopspring/decimal"
)

type PriceQuote struct {
	BaseAmount     decimal.Decimal `json:"baseAmount"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
	Currency       string          `json:"currency"`
	IsFree         bool            `json:"isFree"`
}

var hundred = decimal.NewFromInt(100)

func discountFor(base decimal.Decimal, percent int, currency string) decimal.Decimal {
	if percent <= 0 || !base.IsPositive() {
		return decimal.Zero
	}
	if percent >= 100 {
		return domain.RoundMoney(base, currency)
	}
	d := domain.RoundMoney(base.Mul(decimal.NewFromInt(int64(percent))).Div(hundred), currency)
	if d.GreaterThan(base) {
		return base
	}
	return d
}

// Quote prices a course. Only a valid coupon contributes a discount.
func Quote(price decimal.Decimal, currency string, coupon *domain.CouponResult) PriceQuote {
	base := domain.RoundMoney(price, currency)
	if base.IsNegative() {
		base = decimal.Zero
	}
	discount := decimal.Zero
	if coupon != nil && coupon.Valid {
		discount = discountFor(base, coupon.DiscountPercent, currency)
	}
	final := base.Sub(discount)
	return PriceQuote{
		BaseAmount:     base,
		DiscountAmount: discount,
		FinalAmount:    final,
		Currency:       currency,
		IsFree:         final.IsZero(),
	}
}
