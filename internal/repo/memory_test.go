package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"academy-checkout/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryOrder(userID, courseID uuid.UUID, number string) *domain.Order {
	now := time.Now()
	return &domain.Order{
		ID:            uuid.New(),
		OrderNumber:   number,
		UserID:        userID,
		CourseID:      courseID,
		BaseAmount:    decimal.NewFromInt(10),
		FinalAmount:   decimal.NewFromInt(10),
		Currency:      "USD",
		PaymentMethod: domain.PaymentGateway,
		Status:        domain.OrderInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryTx_RollbackRestoresState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tx := NewMemoryTx(store)
	orders := NewMemoryOrders(store)

	o := memoryOrder(uuid.New(), uuid.New(), "ORD-1")
	require.NoError(t, orders.CreateOrder(ctx, o))

	boom := errors.New("boom")
	hooks := 0
	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := orders.TransitionStatus(ctx, o.ID, domain.OrderInitiated, domain.OrderCancelled, domain.StatusPatch{})
		require.NoError(t, err)
		require.True(t, ok)
		AfterCommit(ctx, func() { hooks++ })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, hooks)

	got, err := orders.FindById(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderInitiated, got.Status)

	err = tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := orders.TransitionStatus(ctx, o.ID, domain.OrderInitiated, domain.OrderCancelled, domain.StatusPatch{})
		AfterCommit(ctx, func() { hooks++ })
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, hooks)
}

func TestMemoryOrders_Uniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orders := NewMemoryOrders(store)
	userID, courseID := uuid.New(), uuid.New()

	first := memoryOrder(userID, courseID, "ORD-1")
	require.NoError(t, orders.CreateOrder(ctx, first))
	assert.ErrorIs(t, orders.CreateOrder(ctx, memoryOrder(userID, courseID, "ORD-2")), ErrOpenOrderExists)
	assert.ErrorIs(t, orders.CreateOrder(ctx, memoryOrder(uuid.New(), courseID, "ORD-1")), ErrOrderNumberTaken)

	require.NoError(t, orders.RecordPaymentID(ctx, first.ID, "pay_1"))
	second := memoryOrder(uuid.New(), courseID, "ORD-3")
	require.NoError(t, orders.CreateOrder(ctx, second))
	assert.ErrorIs(t, orders.RecordPaymentID(ctx, second.ID, "pay_1"), ErrPaymentAlreadyLinked)
}

func TestMemoryOrders_FindStuckOrders(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orders := NewMemoryOrders(store)

	stale := memoryOrder(uuid.New(), uuid.New(), "ORD-1")
	withPreference := memoryOrder(uuid.New(), uuid.New(), "ORD-2")
	transfer := memoryOrder(uuid.New(), uuid.New(), "ORD-3")
	transfer.PaymentMethod = domain.PaymentBankTransfer
	for _, o := range []*domain.Order{stale, withPreference, transfer} {
		require.NoError(t, orders.CreateOrder(ctx, o))
	}
	for _, o := range []*domain.Order{withPreference, transfer} {
		_, err := orders.TransitionStatus(ctx, o.ID, domain.OrderInitiated, domain.OrderPendingPayment, domain.StatusPatch{})
		require.NoError(t, err)
	}
	_, err := orders.SetPreference(ctx, withPreference.ID, domain.Preference{ID: "pref_1", RedirectURL: "https://pay"})
	require.NoError(t, err)

	stuck, err := orders.FindStuckOrders(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, stale.ID, stuck[0].ID)
}

func TestMemoryCourses_IncrementEnrolled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	courses := NewMemoryCourses(store)
	capacity := 1
	c := &domain.Course{ID: uuid.New(), Capacity: &capacity, Status: domain.CourseEnrolling}
	require.NoError(t, courses.CreateCourse(ctx, c))

	ok, err := courses.IncrementEnrolled(ctx, c.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = courses.IncrementEnrolled(ctx, c.ID, true)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = courses.IncrementEnrolled(ctx, c.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)
}
