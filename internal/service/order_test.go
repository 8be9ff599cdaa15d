package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderNumber(t *testing.T) {
	at := time.Date(2025, 7, 9, 23, 30, 0, 0, time.UTC)
	number := NewOrderNumber(at)
	assert.Regexp(t, regexp.MustCompile(`^ORD-20250709-[0-9A-F]{8}$`), number)
	assert.NotEqual(t, number, NewOrderNumber(at))
}

func TestCreateOrder_RejectsInconsistentAmounts(t *testing.T) {
	svc := NewOrderService(repo.NewMemoryOrders(repo.NewMemoryStore()), nil)

	_, err := svc.CreateOrder(context.Background(), &domain.Order{
		BaseAmount:     decimal.NewFromInt(100),
		DiscountAmount: decimal.NewFromInt(10),
		FinalAmount:    decimal.NewFromInt(80),
		PaymentMethod:  domain.PaymentGateway,
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.CreateOrder(context.Background(), &domain.Order{
		BaseAmount:     decimal.NewFromInt(10),
		DiscountAmount: decimal.NewFromInt(20),
		FinalAmount:    decimal.NewFromInt(-10),
		PaymentMethod:  domain.PaymentGateway,
	})
	require.ErrorAs(t, err, &verr)

	_, err = svc.CreateOrder(context.Background(), &domain.Order{
		BaseAmount:     decimal.NewFromInt(10),
		DiscountAmount: decimal.Zero,
		FinalAmount:    decimal.NewFromInt(10),
		PaymentMethod:  domain.PaymentMethod("card"),
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "paymentMethod", verr.Field)
}

func TestUpdateOrderStatus_StateMachine(t *testing.T) {
	ctx := context.Background()
	svc := NewOrderService(repo.NewMemoryOrders(repo.NewMemoryStore()), nil)

	order, err := svc.CreateOrder(ctx, &domain.Order{
		UserID:         uuid.New(),
		CourseID:       uuid.New(),
		BaseAmount:     decimal.NewFromInt(10),
		DiscountAmount: decimal.Zero,
		FinalAmount:    decimal.NewFromInt(10),
		Currency:       "USD",
		PaymentMethod:  domain.PaymentBankTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderInitiated, order.Status)

	_, err = svc.UpdateOrderStatus(ctx, order, domain.OrderPaid, domain.StatusPatch{})
	var conflict *domain.StateConflictError
	require.ErrorAs(t, err, &conflict, "paid orders skip pending only when free")

	applied, err := svc.UpdateOrderStatus(ctx, order, domain.OrderPendingPayment, domain.StatusPatch{})
	require.NoError(t, err)
	require.True(t, applied)

	_, err = svc.UpdateOrderStatus(ctx, order, domain.OrderPaymentRejected, domain.StatusPatch{})
	require.ErrorAs(t, err, &conflict, "bank transfers are never rejected by the provider")

	stale := *order
	applied, err = svc.UpdateOrderStatus(ctx, order, domain.OrderPaid, domain.StatusPatch{})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = svc.UpdateOrderStatus(ctx, &stale, domain.OrderCancelled, domain.StatusPatch{})
	require.NoError(t, err)
	assert.False(t, applied, "stale copy must not overwrite paid")

	for _, to := range []domain.OrderStatus{domain.OrderPendingPayment, domain.OrderCancelled, domain.OrderInitiated} {
		_, err = svc.UpdateOrderStatus(ctx, order, to, domain.StatusPatch{})
		require.ErrorAs(t, err, &conflict)
	}

	stored, err := svc.GetOrderById(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, stored.Status)
}

func TestGetOrder_NotFound(t *testing.T) {
	svc := NewOrderService(repo.NewMemoryOrders(repo.NewMemoryStore()), nil)
	_, err := svc.GetOrderById(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = svc.FindOpenOrder(context.Background(), uuid.New(), uuid.New())
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}
