package service

import (
	"context"
	"errors"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/repo"

	"github.com/rs/zerolog/log"
)

// settlement confirms payment of an order: the paid transition, the coupon
// use and the enrollment commit together.
type settlement struct {
	tx          repo.TxManager
	orders      OrderService
	couponRepo  repo.CouponRepo
	enrollments EnrollmentService
}

type settleResult struct {
	Applied    bool
	Order      *domain.Order
	Enrollment *domain.Enrollment
}

// markPaid moves order from pending_payment (or initiated for free orders) to
// paid and fulfills it. When the order is already paid it only makes sure the
// enrollment exists. strictCoupon rejects the confirmation if the coupon ran
// out of uses in the meantime; otherwise exhaustion is logged and the payment
// honored. order is updated only after everything committed.
func (s *settlement) markPaid(ctx context.Context, order *domain.Order, patch domain.StatusPatch, strictCoupon bool) (settleResult, error) {
	working := *order
	res := settleResult{Order: &working}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		applied := false
		if working.Status != domain.OrderPaid {
			var err error
			applied, err = s.orders.UpdateOrderStatus(ctx, &working, domain.OrderPaid, patch)
			if err != nil {
				return err
			}
		}
		if !applied {
			current, err := s.orders.GetOrderById(ctx, order.ID)
			if err != nil {
				return err
			}
			res.Order = current
			if current.Status != domain.OrderPaid {
				return nil
			}
		} else {
			res.Applied = true
			if err := s.consumeCoupon(ctx, &working, strictCoupon); err != nil {
				return err
			}
		}

		enrollment, err := s.enrollments.Fulfill(ctx, res.Order)
		if err != nil {
			return err
		}
		res.Enrollment = enrollment
		return nil
	})
	if err != nil {
		return settleResult{}, err
	}
	*order = *res.Order
	res.Order = order
	return res, nil
}

func (s *settlement) consumeCoupon(ctx context.Context, order *domain.Order, strict bool) error {
	if order.CouponID == nil {
		return nil
	}
	ok, err := s.couponRepo.ConsumeUse(ctx, *order.CouponID)
	if err != nil {
		return domain.Persistence("consume coupon", err)
	}
	if ok {
		return nil
	}
	if strict {
		return &domain.CouponRejectedError{Reason: domain.CouponMaxUsesReached}
	}
	log.Warn().
		Str("alert", "coupon_exhausted").
		Str("order_id", order.ID.String()).
		Str("coupon_id", order.CouponID.String()).
		Msg("coupon ran out of uses before confirmation, honoring paid order")
	return nil
}

func isBlocked(err error, reason domain.BlockReason) bool {
	var blocked *domain.BlockedError
	return errors.As(err, &blocked) && blocked.Reason == reason
}
