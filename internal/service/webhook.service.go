package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/infrastructure/cache"
	"academy-checkout/internal/infrastructure/notify"
	"academy-checkout/internal/infrastructure/payment"
	"academy-checkout/internal/repo"

	"github.com/rs/zerolog/log"
)

type WebhookOutcome string

const (
	WebhookProcessed      WebhookOutcome = "processed"
	WebhookDuplicate      WebhookOutcome = "duplicate"
	WebhookIgnored        WebhookOutcome = "ignored"
	WebhookUnknownOrder   WebhookOutcome = "unknown_order"
	WebhookNoChange       WebhookOutcome = "no_change"
	WebhookAmountMismatch WebhookOutcome = "amount_mismatch"
	WebhookMalformed      WebhookOutcome = "malformed"
)

type WebhookService interface {
	// Process handles one provider notification. Only ErrSignatureInvalid and
	// transient failures are returned as errors; every other delivery, including
	// a signed but unreadable one, is acknowledged so the provider stops retrying.
	Process(ctx context.Context, raw []byte, signature string) (WebhookOutcome, error)
}

type WebhookDeps struct {
	Tx          repo.TxManager
	Orders      OrderService
	Enrollments EnrollmentService
	CouponRepo  repo.CouponRepo
	CourseRepo  repo.CourseRepo
	Gateway     payment.PaymentGateway
	Notifier    notify.Dispatcher
	Deliveries  cache.DeliveryCache
	Now         func() time.Time
}

type webhookService struct {
	orders     OrderService
	courseRepo repo.CourseRepo
	gateway    payment.PaymentGateway
	notifier   notify.Dispatcher
	deliveries cache.DeliveryCache
	settlement *settlement
	now        func() time.Time
}

func NewWebhookService(d WebhookDeps) WebhookService {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Deliveries == nil {
		d.Deliveries = cache.NoopDeliveryCache{}
	}
	return &webhookService{
		orders:     d.Orders,
		courseRepo: d.CourseRepo,
		gateway:    d.Gateway,
		notifier:   d.Notifier,
		deliveries: d.Deliveries,
		settlement: &settlement{
			tx:          d.Tx,
			orders:      d.Orders,
			couponRepo:  d.CouponRepo,
			enrollments: d.Enrollments,
		},
		now: d.Now,
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

func deliveryKey(p *domain.Payment) string {
	return fmt.Sprintf("payment:%s:%s", p.ID, p.Status)
}

func (s *webhookService) Process(ctx context.Context, raw []byte, signature string) (WebhookOutcome, error) {
	res, err := s.gateway.VerifyWebhook(ctx, raw, signature)
	if err != nil {
		log.Warn().Err(err).Msg("webhook payment lookup failed, provider will retry")
		return "", err
	}
	switch res.Kind {
	case payment.WebhookInvalidSignature:
		return "", domain.ErrSignatureInvalid
	case payment.WebhookMalformed:
		log.Warn().
			Str("type", res.Type).
			Int("body_bytes", len(raw)).
			Bytes("body", truncate(raw, 512)).
			Msg("acknowledging malformed webhook")
		return WebhookMalformed, nil
	case payment.WebhookIgnored:
		log.Debug().Str("type", res.Type).Msg("ignoring non-payment webhook")
		return WebhookIgnored, nil
	}

	p := res.Payment
	key := deliveryKey(p)
	seen, err := s.deliveries.Seen(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("payment_id", p.ID).Msg("delivery cache unavailable")
	}
	if seen {
		log.Debug().Str("payment_id", p.ID).Str("status", string(p.Status)).Msg("duplicate webhook delivery")
		return WebhookDuplicate, nil
	}

	outcome, err := s.apply(ctx, p)
	if err != nil {
		return "", err
	}
	if err := s.deliveries.MarkProcessed(ctx, key); err != nil {
		log.Warn().Err(err).Str("payment_id", p.ID).Msg("failed to mark webhook delivery")
	}
	return outcome, nil
}

// findOrder resolves the order a payment belongs to: by payment id first,
// then by preference id, then by the external reference (order number).
func (s *webhookService) findOrder(ctx context.Context, p *domain.Payment) (*domain.Order, error) {
	lookups := []struct {
		key  string
		find func(context.Context, string) (*domain.Order, error)
	}{
		{p.ID, s.orders.GetOrderByPaymentId},
		{p.PreferenceID, s.orders.GetOrderByPreferenceId},
		{p.ExternalReference, s.orders.GetOrderByNumber},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		order, err := l.find(ctx, l.key)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (s *webhookService) apply(ctx context.Context, p *domain.Payment) (WebhookOutcome, error) {
	order, err := s.findOrder(ctx, p)
	if errors.Is(err, domain.ErrOrderNotFound) {
		log.Warn().
			Str("payment_id", p.ID).
			Str("preference_id", p.PreferenceID).
			Str("external_reference", p.ExternalReference).
			Msg("webhook for unknown order")
		return WebhookUnknownOrder, nil
	}
	if err != nil {
		return "", err
	}
	if order.PaymentMethod != domain.PaymentGateway {
		log.Warn().
			Str("order_id", order.ID.String()).
			Str("payment_id", p.ID).
			Str("payment_method", string(order.PaymentMethod)).
			Msg("webhook for order not paid through the gateway")
		return WebhookIgnored, nil
	}

	target, ok := p.Status.TargetStatus()
	if !ok {
		return s.track(ctx, order, p)
	}
	if target == domain.OrderPaid {
		return s.approve(ctx, order, p)
	}
	return s.reject(ctx, order, p)
}

// track links a payment that is still in flight to its order.
func (s *webhookService) track(ctx context.Context, order *domain.Order, p *domain.Payment) (WebhookOutcome, error) {
	if order.PaymentID == nil && order.Status.Open() {
		err := s.orders.RecordPaymentID(ctx, order, p.ID)
		if errors.Is(err, repo.ErrPaymentAlreadyLinked) {
			log.Error().Str("order_id", order.ID.String()).Str("payment_id", p.ID).Msg("payment id linked to another order")
			return WebhookNoChange, nil
		}
		if err != nil {
			return "", err
		}
	}
	log.Info().
		Str("order_id", order.ID.String()).
		Str("payment_id", p.ID).
		Str("status", string(p.Status)).
		Msg("payment in progress")
	return WebhookNoChange, nil
}

func (s *webhookService) approve(ctx context.Context, order *domain.Order, p *domain.Payment) (WebhookOutcome, error) {
	if order.Status.Terminal() && order.Status != domain.OrderPaid {
		log.Error().
			Str("alert", "paid_after_close").
			Str("order_id", order.ID.String()).
			Str("order_number", order.OrderNumber).
			Str("payment_id", p.ID).
			Str("status", string(order.Status)).
			Msg("approved payment for closed order, needs manual review")
		return WebhookNoChange, nil
	}
	if !amountMatches(order, p) {
		log.Error().
			Str("alert", "amount_mismatch").
			Str("order_id", order.ID.String()).
			Str("payment_id", p.ID).
			Str("expected", order.FinalAmount.String()).
			Str("received", p.Amount.String()).
			Str("currency", p.Currency).
			Msg("approved payment does not match order amount")
		return WebhookAmountMismatch, nil
	}

	paidAt := s.now()
	if p.ApprovedAt != nil {
		paidAt = *p.ApprovedAt
	}
	paymentID := p.ID
	res, err := s.settlement.markPaid(ctx, order, domain.StatusPatch{PaymentID: &paymentID, PaidAt: &paidAt}, false)
	var conflict *domain.StateConflictError
	switch {
	case errors.Is(err, repo.ErrPaymentAlreadyLinked):
		log.Error().Str("order_id", order.ID.String()).Str("payment_id", p.ID).Msg("payment id linked to another order")
		return WebhookNoChange, nil
	case errors.As(err, &conflict):
		log.Info().Err(err).Str("payment_id", p.ID).Msg("approval does not apply to current order status")
		return WebhookNoChange, nil
	case err != nil:
		return "", err
	}
	if !res.Applied {
		return WebhookDuplicate, nil
	}
	log.Info().
		Str("order_id", order.ID.String()).
		Str("order_number", order.OrderNumber).
		Str("payment_id", p.ID).
		Msg("gateway payment approved")
	return WebhookProcessed, nil
}

func amountMatches(order *domain.Order, p *domain.Payment) bool {
	if p.Currency != "" && !strings.EqualFold(p.Currency, order.Currency) {
		return false
	}
	return domain.RoundMoney(p.Amount, order.Currency).Equal(order.FinalAmount)
}

func (s *webhookService) reject(ctx context.Context, order *domain.Order, p *domain.Payment) (WebhookOutcome, error) {
	reason := p.StatusDetail
	if reason == "" {
		reason = string(p.Status)
	}
	paymentID := p.ID
	applied, err := s.orders.UpdateOrderStatus(ctx, order, domain.OrderPaymentRejected, domain.StatusPatch{PaymentID: &paymentID, Reason: &reason})
	var conflict *domain.StateConflictError
	switch {
	case errors.Is(err, repo.ErrPaymentAlreadyLinked):
		log.Error().Str("order_id", order.ID.String()).Str("payment_id", p.ID).Msg("payment id linked to another order")
		return WebhookNoChange, nil
	case errors.As(err, &conflict):
		ev := log.Debug()
		if order.Status == domain.OrderPaid {
			ev = log.Warn()
		}
		ev.Str("order_id", order.ID.String()).
			Str("payment_id", p.ID).
			Str("status", string(order.Status)).
			Msg("rejection does not apply to current order status")
		return WebhookNoChange, nil
	case err != nil:
		return "", err
	}
	if !applied {
		return WebhookDuplicate, nil
	}

	snap := order.Snapshot()
	if course, err := s.courseRepo.FindById(ctx, order.CourseID); err == nil {
		snap.CourseTitle = course.Title
	}
	s.notifier.Dispatch(domain.Notification{
		Kind:      domain.TemplatePaymentRejected,
		Recipient: order.CustomerEmail,
		Order:     snap,
	})
	return WebhookProcessed, nil
}
