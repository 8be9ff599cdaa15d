package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/infrastructure/cache"
	"academy-checkout/internal/infrastructure/payment"
	"academy-checkout/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingDispatcher) Dispatch(n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingDispatcher) kinds() []domain.TemplateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TemplateKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	store       *repo.MemoryStore
	orderRepo   repo.OrderRepo
	courses     repo.CourseRepo
	coupons     repo.CouponRepo
	enrollments repo.EnrollmentRepo
	banks       repo.BankAccountRepo
	orders      OrderService
	provider    *payment.MockGateway
	notifier    *recordingDispatcher
	checkout    CheckoutService
	webhooks    WebhookService
}

func newFixture(t *testing.T, deliveries cache.DeliveryCache) *fixture {
	t.Helper()
	store := repo.NewMemoryStore()
	tx := repo.NewMemoryTx(store)
	f := &fixture{
		store:       store,
		orderRepo:   repo.NewMemoryOrders(store),
		courses:     repo.NewMemoryCourses(store),
		coupons:     repo.NewMemoryCoupons(store),
		enrollments: repo.NewMemoryEnrollments(store),
		banks:       repo.NewMemoryBankAccounts(store),
		provider:    payment.NewMockGateway(testWebhookSecret),
		notifier:    &recordingDispatcher{},
	}
	f.orders = NewOrderService(f.orderRepo, nil)
	enrollments := NewEnrollmentService(tx, f.enrollments, f.courses, f.notifier, nil)
	gateway := payment.NewPaymentGateway(f.provider, testWebhookSecret)

	f.checkout = NewCheckoutService(CheckoutDeps{
		Tx:              tx,
		Orders:          f.orders,
		Coupons:         NewCouponService(f.coupons, nil),
		Enrollments:     enrollments,
		CourseRepo:      f.courses,
		CouponRepo:      f.coupons,
		EnrollmentRepo:  f.enrollments,
		BankAccountRepo: f.banks,
		Gateway:         gateway,
		Notifier:        f.notifier,
		PublicBaseURL:   "https://academy.test/",
	})
	f.webhooks = NewWebhookService(WebhookDeps{
		Tx:          tx,
		Orders:      f.orders,
		Enrollments: enrollments,
		CouponRepo:  f.coupons,
		CourseRepo:  f.courses,
		Gateway:     gateway,
		Notifier:    f.notifier,
		Deliveries:  deliveries,
	})

	require.NoError(t, f.banks.CreateBankAccount(context.Background(), &domain.BankAccount{
		ID:            uuid.New(),
		BankName:      "Banco Test",
		AccountHolder: "Academy Ltd",
		AccountNumber: "000123",
		AccountType:   "checking",
		Active:        true,
	}))
	return f
}

func (f *fixture) addCourse(t *testing.T, price string, capacity *int) *domain.Course {
	t.Helper()
	now := time.Now()
	c := &domain.Course{
		ID:        uuid.New(),
		Slug:      "wine-" + uuid.NewString()[:6],
		Title:     "Wine Fundamentals",
		Type:      domain.CourseCertification,
		Price:     decimal.RequireFromString(price),
		Currency:  "USD",
		Capacity:  capacity,
		Status:    domain.CourseEnrolling,
		Modality:  domain.ModalityInPerson,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.courses.CreateCourse(context.Background(), c))
	return c
}

func (f *fixture) addCoupon(t *testing.T, code string, percent, maxUses int) *domain.Coupon {
	t.Helper()
	c := &domain.Coupon{
		ID:              uuid.New(),
		Code:            code,
		DiscountPercent: percent,
		MaxUses:         maxUses,
		Active:          true,
	}
	require.NoError(t, f.coupons.CreateCoupon(context.Background(), c))
	return c
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := f.orderRepo.FindById(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) course(t *testing.T, id uuid.UUID) *domain.Course {
	t.Helper()
	c, err := f.courses.FindById(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) coupon(t *testing.T, code string) *domain.Coupon {
	t.Helper()
	c, err := f.coupons.FindByCode(context.Background(), code)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

// deliver settles the order's preference with status and posts the signed webhook.
func (f *fixture) deliver(t *testing.T, paymentID string, order *domain.Order, status domain.ProviderPaymentStatus) (WebhookOutcome, error) {
	t.Helper()
	require.NotNil(t, order.PreferenceID)
	require.NoError(t, f.provider.PayWithID(paymentID, *order.PreferenceID, status))
	body, sig := f.provider.Webhook(paymentID)
	return f.webhooks.Process(context.Background(), body, sig)
}

func student() domain.Principal {
	return domain.Principal{UserID: uuid.New(), Email: "student@example.com", Role: domain.RoleStudent}
}

func superadmin() domain.Principal {
	return domain.Principal{UserID: uuid.New(), Email: "admin@example.com", Role: domain.RoleSuperadmin}
}

func seats(n int) *int {
	return &n
}
