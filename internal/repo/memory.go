package repo

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"academy-checkout/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore is an in-process implementation of every repository, used by the
// simulator and the service tests. A transaction holds the store lock for its
// whole duration and restores a snapshot on rollback.
type MemoryStore struct {
	mu           sync.Mutex
	orders       map[uuid.UUID]domain.Order
	courses      map[uuid.UUID]domain.Course
	coupons      map[uuid.UUID]domain.Coupon
	enrollments  map[uuid.UUID]domain.Enrollment
	bankAccounts []domain.BankAccount
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[uuid.UUID]domain.Order),
		courses:     make(map[uuid.UUID]domain.Course),
		coupons:     make(map[uuid.UUID]domain.Coupon),
		enrollments: make(map[uuid.UUID]domain.Enrollment),
	}
}

type memorySnapshot struct {
	orders       map[uuid.UUID]domain.Order
	courses      map[uuid.UUID]domain.Course
	coupons      map[uuid.UUID]domain.Coupon
	enrollments  map[uuid.UUID]domain.Enrollment
	bankAccounts []domain.BankAccount
}

func (m *MemoryStore) snapshot() memorySnapshot {
	return memorySnapshot{
		orders:       maps.Clone(m.orders),
		courses:      maps.Clone(m.courses),
		coupons:      maps.Clone(m.coupons),
		enrollments:  maps.Clone(m.enrollments),
		bankAccounts: append([]domain.BankAccount(nil), m.bankAccounts...),
	}
}

func (m *MemoryStore) restore(s memorySnapshot) {
	m.orders = s.orders
	m.courses = s.courses
	m.coupons = s.coupons
	m.enrollments = s.enrollments
	m.bankAccounts = s.bankAccounts
}

// lock takes the store lock unless ctx already runs inside a transaction on m.
func (m *MemoryStore) lock(ctx context.Context) func() {
	if st := stateFrom(ctx); st != nil && st.memory == m {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

type memoryTx struct {
	store *MemoryStore
}

func NewMemoryTx(store *MemoryStore) TxManager {
	return &memoryTx{store: store}
}

func (t *memoryTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if stateFrom(ctx) != nil {
		return fn(ctx)
	}

	t.store.mu.Lock()
	snap := t.store.snapshot()
	st := &txState{memory: t.store}
	err := fn(context.WithValue(ctx, txKey{}, st))
	if err != nil {
		t.store.restore(snap)
	}
	t.store.mu.Unlock()

	if err != nil {
		return err
	}
	runHooks(st.hooks)
	return nil
}

// Orders

type memoryOrders struct {
	store *MemoryStore
}

func NewMemoryOrders(store *MemoryStore) OrderRepo {
	return &memoryOrders{store: store}
}

var _ OrderRepo = (*memoryOrders)(nil)

func (r *memoryOrders) CreateOrder(ctx context.Context, order *domain.Order) error {
	defer r.store.lock(ctx)()
	for _, o := range r.store.orders {
		if o.OrderNumber == order.OrderNumber {
			return ErrOrderNumberTaken
		}
		if o.UserID == order.UserID && o.CourseID == order.CourseID && o.Status.Open() && order.Status.Open() {
			return ErrOpenOrderExists
		}
	}
	r.store.orders[order.ID] = *order
	return nil
}

func (r *memoryOrders) find(ctx context.Context, match func(o domain.Order) bool) (*domain.Order, error) {
	defer r.store.lock(ctx)()
	for _, o := range r.store.orders {
		if match(o) {
			found := o
			return &found, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (r *memoryOrders) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.find(ctx, func(o domain.Order) bool { return o.ID == id })
}

func (r *memoryOrders) FindByPaymentId(ctx context.Context, paymentID string) (*domain.Order, error) {
	return r.find(ctx, func(o domain.Order) bool { return o.PaymentID != nil && *o.PaymentID == paymentID })
}

func (r *memoryOrders) FindByPreferenceId(ctx context.Context, preferenceID string) (*domain.Order, error) {
	return r.find(ctx, func(o domain.Order) bool { return o.PreferenceID != nil && *o.PreferenceID == preferenceID })
}

func (r *memoryOrders) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.find(ctx, func(o domain.Order) bool { return o.OrderNumber == orderNumber })
}

func (r *memoryOrders) FindOpenOrder(ctx context.Context, userID, courseID uuid.UUID) (*domain.Order, error) {
	return r.find(ctx, func(o domain.Order) bool {
		return o.UserID == userID && o.CourseID == courseID && o.Status.Open()
	})
}

func (r *memoryOrders) paymentLinkedElsewhere(id uuid.UUID, paymentID string) bool {
	for _, o := range r.store.orders {
		if o.ID != id && o.PaymentID != nil && *o.PaymentID == paymentID {
			return true
		}
	}
	return false
}

func (r *memoryOrders) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, patch domain.StatusPatch) (bool, error) {
	defer r.store.lock(ctx)()
	o, ok := r.store.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	if patch.PaymentID != nil {
		if r.paymentLinkedElsewhere(id, *patch.PaymentID) {
			return false, ErrPaymentAlreadyLinked
		}
		o.PaymentID = patch.PaymentID
	}
	if patch.PaidAt != nil {
		o.PaidAt = patch.PaidAt
	}
	if patch.Reason != nil {
		o.StatusReason = patch.Reason
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	r.store.orders[id] = o
	return true, nil
}

func (r *memoryOrders) SetPreference(ctx context.Context, id uuid.UUID, pref domain.Preference) (bool, error) {
	defer r.store.lock(ctx)()
	o, ok := r.store.orders[id]
	if !ok || o.Status != domain.OrderPendingPayment {
		return false, nil
	}
	prefID, url := pref.ID, pref.RedirectURL
	o.PreferenceID = &prefID
	o.CheckoutURL = &url
	o.UpdatedAt = time.Now()
	r.store.orders[id] = o
	return true, nil
}

func (r *memoryOrders) RecordPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error {
	defer r.store.lock(ctx)()
	o, ok := r.store.orders[id]
	if !ok || o.PaymentID != nil {
		return nil
	}
	if r.paymentLinkedElsewhere(id, paymentID) {
		return ErrPaymentAlreadyLinked
	}
	o.PaymentID = &paymentID
	o.UpdatedAt = time.Now()
	r.store.orders[id] = o
	return nil
}

func (r *memoryOrders) RecordTransferProof(ctx context.Context, id uuid.UUID, reference, proofURL string, sentAt time.Time) (bool, error) {
	defer r.store.lock(ctx)()
	o, ok := r.store.orders[id]
	if !ok || o.Status != domain.OrderPendingPayment || o.PaymentMethod != domain.PaymentBankTransfer {
		return false, nil
	}
	o.TransferReference = &reference
	o.TransferProofURL = &proofURL
	o.TransferSentAt = &sentAt
	o.UpdatedAt = time.Now()
	r.store.orders[id] = o
	return true, nil
}

func (r *memoryOrders) FindStuckOrders(ctx context.Context, updatedBefore time.Time) ([]domain.Order, error) {
	defer r.store.lock(ctx)()
	var stuck []domain.Order
	for _, o := range r.store.orders {
		if !o.UpdatedAt.Before(updatedBefore) {
			continue
		}
		gatewayWithoutPreference := o.Status == domain.OrderPendingPayment &&
			o.PaymentMethod == domain.PaymentGateway && o.PreferenceID == nil
		if o.Status == domain.OrderInitiated || gatewayWithoutPreference {
			stuck = append(stuck, o)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	return stuck, nil
}

// Courses

type memoryCourses struct {
	store *MemoryStore
}

func NewMemoryCourses(store *MemoryStore) CourseRepo {
	return &memoryCourses{store: store}
}

func (r *memoryCourses) CreateCourse(ctx context.Context, course *domain.Course) error {
	defer r.store.lock(ctx)()
	r.store.courses[course.ID] = *course
	return nil
}

func (r *memoryCourses) FindById(ctx context.Context, id uuid.UUID) (*domain.Course, error) {
	defer r.store.lock(ctx)()
	c, ok := r.store.courses[id]
	if !ok {
		return nil, domain.ErrCourseNotFound
	}
	return &c, nil
}

func (r *memoryCourses) IncrementEnrolled(ctx context.Context, id uuid.UUID, enforceCapacity bool) (bool, error) {
	defer r.store.lock(ctx)()
	c, ok := r.store.courses[id]
	if !ok {
		return false, nil
	}
	if enforceCapacity && c.Capacity != nil && c.EnrolledCount >= *c.Capacity {
		return false, nil
	}
	c.EnrolledCount++
	c.UpdatedAt = time.Now()
	r.store.courses[id] = c
	return true, nil
}

// Coupons

type memoryCoupons struct {
	store *MemoryStore
}

func NewMemoryCoupons(store *MemoryStore) CouponRepo {
	return &memoryCoupons{store: store}
}

func (r *memoryCoupons) CreateCoupon(ctx context.Context, coupon *domain.Coupon) error {
	defer r.store.lock(ctx)()
	r.store.coupons[coupon.ID] = *coupon
	return nil
}

func (r *memoryCoupons) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	defer r.store.lock(ctx)()
	for _, c := range r.store.coupons {
		if c.Code == code {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memoryCoupons) ConsumeUse(ctx context.Context, id uuid.UUID) (bool, error) {
	defer r.store.lock(ctx)()
	c, ok := r.store.coupons[id]
	if !ok || c.UsedCount >= c.MaxUses {
		return false, nil
	}
	c.UsedCount++
	r.store.coupons[id] = c
	return true, nil
}

// Enrollments

type memoryEnrollments struct {
	store *MemoryStore
}

func NewMemoryEnrollments(store *MemoryStore) EnrollmentRepo {
	return &memoryEnrollments{store: store}
}

func (r *memoryEnrollments) CreateEnrollment(ctx context.Context, e *domain.Enrollment) error {
	defer r.store.lock(ctx)()
	if e.Status != domain.EnrollmentCancelled {
		for _, existing := range r.store.enrollments {
			if existing.StudentID == e.StudentID && existing.CourseID == e.CourseID && existing.Status != domain.EnrollmentCancelled {
				return ErrAlreadyEnrolled
			}
		}
	}
	r.store.enrollments[e.ID] = *e
	return nil
}

func (r *memoryEnrollments) FindActive(ctx context.Context, studentID, courseID uuid.UUID) (*domain.Enrollment, error) {
	defer r.store.lock(ctx)()
	for _, e := range r.store.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID && e.Status != domain.EnrollmentCancelled {
			found := e
			return &found, nil
		}
	}
	return nil, nil
}

// Bank accounts

type memoryBankAccounts struct {
	store *MemoryStore
}

func NewMemoryBankAccounts(store *MemoryStore) BankAccountRepo {
	return &memoryBankAccounts{store: store}
}

func (r *memoryBankAccounts) CreateBankAccount(ctx context.Context, account *domain.BankAccount) error {
	defer r.store.lock(ctx)()
	r.store.bankAccounts = append(r.store.bankAccounts, *account)
	return nil
}

func (r *memoryBankAccounts) ListActive(ctx context.Context) ([]domain.BankAccount, error) {
	defer r.store.lock(ctx)()
	var active []domain.BankAccount
	for _, a := range r.store.bankAccounts {
		if a.Active {
			active = append(active, a)
		}
	}
	return active, nil
}
