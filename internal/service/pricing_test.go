package service

import (
	"testing"

	"academy-checkout/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	d := decimal.RequireFromString
	valid := func(pct int) *domain.CouponResult {
		return &domain.CouponResult{Valid: true, DiscountPercent: pct}
	}

	tests := []struct {
		name     string
		price    string
		currency string
		coupon   *domain.CouponResult
		discount string
		final    string
		free     bool
	}{
		{"no coupon", "100", "USD", nil, "0", "100", false},
		{"half", "100", "USD", valid(50), "50", "50", false},
		{"cents round half up", "99.99", "USD", valid(15), "15", "84.99", false},
		{"zero decimal currency", "9990", "CLP", valid(15), "1499", "8491", false},
		{"full discount", "100", "USD", valid(100), "100", "0", true},
		{"free course", "0", "USD", nil, "0", "0", true},
		{"invalid coupon ignored", "100", "USD", &domain.CouponResult{Valid: false, DiscountPercent: 90}, "0", "100", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Quote(d(tt.price), tt.currency, tt.coupon)
			assert.True(t, d(tt.discount).Equal(q.DiscountAmount), "discount %s", q.DiscountAmount)
			assert.True(t, d(tt.final).Equal(q.FinalAmount), "final %s", q.FinalAmount)
			assert.True(t, q.FinalAmount.Equal(q.BaseAmount.Sub(q.DiscountAmount)))
			assert.False(t, q.FinalAmount.IsNegative())
			assert.Equal(t, tt.free, q.IsFree)
		})
	}
}
