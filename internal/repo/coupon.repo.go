package repo

import (
	"context"
	"database/sql"
	"errors"

	"academy-checkout/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CouponRepo interface {
	CreateCoupon(ctx context.Context, coupon *domain.Coupon) error
	// FindByCode returns nil, nil when no coupon has the code.
	FindByCode(ctx context.Context, code string) (*domain.Coupon, error)
	// ConsumeUse increments the use counter only while uses remain.
	ConsumeUse(ctx context.Context, id uuid.UUID) (bool, error)
}

type couponRepo struct {
	db *sql.DB
}

func NewCouponRepo(db *sql.DB) CouponRepo {
	return &couponRepo{db: db}
}

func (r *couponRepo) CreateCoupon(ctx context.Context, c *domain.Coupon) error {
	var minAmount decimal.NullDecimal
	if c.MinPurchaseAmount != nil {
		minAmount = decimal.NewNullDecimal(*c.MinPurchaseAmount)
	}
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO coupons (id, code, discount_percent, max_uses, used_count, restricted_email,
			restricted_course_id, min_purchase_amount, valid_from, expires_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.Code, c.DiscountPercent, c.MaxUses, c.UsedCount, c.RestrictedEmail,
		c.RestrictedCourseID, minAmount, c.ValidFrom, c.ExpiresAt, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *couponRepo) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	var minAmount decimal.NullDecimal
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, code, discount_percent, max_uses, used_count, restricted_email,
		       restricted_course_id, min_purchase_amount, valid_from, expires_at, active,
		       created_at, updated_at
		FROM coupons WHERE code = upper($1)`, code).Scan(
		&c.ID,
		&c.Code,
		&c.DiscountPercent,
		&c.MaxUses,
		&c.UsedCount,
		&c.RestrictedEmail,
		&c.RestrictedCourseID,
		&minAmount,
		&c.ValidFrom,
		&c.ExpiresAt,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if minAmount.Valid {
		c.MinPurchaseAmount = &minAmount.Decimal
	}
	return &c, nil
}

func (r *couponRepo) ConsumeUse(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE id = $1 AND used_count < max_uses`, id)
	return affectedOne(res, err)
}
