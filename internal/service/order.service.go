package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/repo"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const orderNumberAttempts = 5

// OrderService owns order persistence and every status change.
type OrderService interface {
	// CreateOrder persists draft as a new initiated order with a fresh id and
	// order number. repo.ErrOpenOrderExists is returned unwrapped.
	CreateOrder(ctx context.Context, draft *domain.Order) (*domain.Order, error)
	// UpdateOrderStatus moves order from its current status to to. The change
	// is rejected with *domain.StateConflictError when the table forbids it and
	// reports false when the stored status no longer matches. On success order
	// is updated in place.
	UpdateOrderStatus(ctx context.Context, order *domain.Order, to domain.OrderStatus, patch domain.StatusPatch) (bool, error)
	GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByPaymentId(ctx context.Context, paymentID string) (*domain.Order, error)
	GetOrderByPreferenceId(ctx context.Context, preferenceID string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	FindOpenOrder(ctx context.Context, userID, courseID uuid.UUID) (*domain.Order, error)
	AttachPreference(ctx context.Context, order *domain.Order, pref domain.Preference) (bool, error)
	RecordPaymentID(ctx context.Context, order *domain.Order, paymentID string) error
	RecordTransferProof(ctx context.Context, order *domain.Order, reference, proofURL string) (bool, error)
	FindStuckOrders(ctx context.Context, olderThan time.Duration) ([]domain.Order, error)
}

type orderService struct {
	orderRepo repo.OrderRepo
	now       func() time.Time
}

func NewOrderService(orderRepo repo.OrderRepo, now func() time.Time) OrderService {
	if now == nil {
		now = time.Now
	}
	return &orderService{orderRepo: orderRepo, now: now}
}

// NewOrderNumber renders ORD-YYYYMMDD-XXXXXXXX.
func NewOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), suffix)
}

func (s *orderService) CreateOrder(ctx context.Context, draft *domain.Order) (*domain.Order, error) {
	if !draft.PaymentMethod.Valid() {
		return nil, &domain.ValidationError{Field: "paymentMethod", Message: "unknown payment method"}
	}
	if !draft.FinalAmount.Equal(draft.BaseAmount.Sub(draft.DiscountAmount)) || draft.FinalAmount.IsNegative() {
		return nil, &domain.ValidationError{Field: "finalAmount", Message: "must equal base minus discount and not be negative"}
	}

	order := *draft
	now := s.now()
	order.ID = uuid.New()
	order.Status = domain.OrderInitiated
	order.CreatedAt = now
	order.UpdatedAt = now

	for attempt := 1; ; attempt++ {
		order.OrderNumber = NewOrderNumber(now)
		err := s.orderRepo.CreateOrder(ctx, &order)
		if err == nil {
			break
		}
		if errors.Is(err, repo.ErrOpenOrderExists) {
			return nil, err
		}
		if errors.Is(err, repo.ErrOrderNumberTaken) && attempt < orderNumberAttempts {
			continue
		}
		return nil, domain.Persistence("create order", err)
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("order_number", order.OrderNumber).
		Str("course_id", order.CourseID.String()).
		Str("payment_method", string(order.PaymentMethod)).
		Str("final_amount", order.FinalAmount.String()).
		Msg("order created")
	return &order, nil
}

func (s *orderService) UpdateOrderStatus(ctx context.Context, order *domain.Order, to domain.OrderStatus, patch domain.StatusPatch) (bool, error) {
	from := order.Status
	if !domain.CanTransition(order.PaymentMethod, from, to) {
		return false, &domain.StateConflictError{OrderID: order.ID, From: from, To: to}
	}

	applied, err := s.orderRepo.TransitionStatus(ctx, order.ID, from, to, patch)
	if err != nil {
		if errors.Is(err, repo.ErrPaymentAlreadyLinked) {
			return false, err
		}
		return false, domain.Persistence("update order status", err)
	}
	if !applied {
		log.Debug().
			Str("order_id", order.ID.String()).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("status transition already applied or superseded")
		return false, nil
	}

	order.Status = to
	order.UpdatedAt = s.now()
	if patch.PaymentID != nil {
		order.PaymentID = patch.PaymentID
	}
	if patch.PaidAt != nil {
		order.PaidAt = patch.PaidAt
	}
	if patch.Reason != nil {
		order.StatusReason = patch.Reason
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("order_number", order.OrderNumber).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("order status changed")
	return true, nil
}

func (s *orderService) get(op string, order *domain.Order, err error) (*domain.Order, error) {
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.Persistence(op, err)
	}
	return order, nil
}

func (s *orderService) GetOrderById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.FindById(ctx, id)
	return s.get("get order", order, err)
}

func (s *orderService) GetOrderByPaymentId(ctx context.Context, paymentID string) (*domain.Order, error) {
	order, err := s.orderRepo.FindByPaymentId(ctx, paymentID)
	return s.get("get order by payment", order, err)
}

func (s *orderService) GetOrderByPreferenceId(ctx context.Context, preferenceID string) (*domain.Order, error) {
	order, err := s.orderRepo.FindByPreferenceId(ctx, preferenceID)
	return s.get("get order by preference", order, err)
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	order, err := s.orderRepo.FindByOrderNumber(ctx, orderNumber)
	return s.get("get order by number", order, err)
}

func (s *orderService) FindOpenOrder(ctx context.Context, userID, courseID uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.FindOpenOrder(ctx, userID, courseID)
	return s.get("find open order", order, err)
}

func (s *orderService) AttachPreference(ctx context.Context, order *domain.Order, pref domain.Preference) (bool, error) {
	applied, err := s.orderRepo.SetPreference(ctx, order.ID, pref)
	if err != nil {
		return false, domain.Persistence("attach preference", err)
	}
	if applied {
		order.PreferenceID = &pref.ID
		order.CheckoutURL = &pref.RedirectURL
		order.UpdatedAt = s.now()
	}
	return applied, nil
}

func (s *orderService) RecordPaymentID(ctx context.Context, order *domain.Order, paymentID string) error {
	if err := s.orderRepo.RecordPaymentID(ctx, order.ID, paymentID); err != nil {
		if errors.Is(err, repo.ErrPaymentAlreadyLinked) {
			return err
		}
		return domain.Persistence("record payment id", err)
	}
	if order.PaymentID == nil {
		order.PaymentID = &paymentID
	}
	return nil
}

func (s *orderService) RecordTransferProof(ctx context.Context, order *domain.Order, reference, proofURL string) (bool, error) {
	sentAt := s.now()
	applied, err := s.orderRepo.RecordTransferProof(ctx, order.ID, reference, proofURL, sentAt)
	if err != nil {
		return false, domain.Persistence("record transfer proof", err)
	}
	if applied {
		order.TransferReference = &reference
		order.TransferProofURL = &proofURL
		order.TransferSentAt = &sentAt
	}
	return applied, nil
}

func (s *orderService) FindStuckOrders(ctx context.Context, olderThan time.Duration) ([]domain.Order, error) {
	orders, err := s.orderRepo.FindStuckOrders(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, domain.Persistence("find stuck orders", err)
	}
	return orders, nil
}
