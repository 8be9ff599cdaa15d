package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/infrastructure/notify"
	"academy-checkout/internal/infrastructure/payment"
	"academy-checkout/internal/repo"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const WebhookPath = "/api/v1/webhooks/payments"

type CheckoutOutcome string

const (
	OutcomeRedirect        CheckoutOutcome = "redirect"
	OutcomePendingTransfer CheckoutOutcome = "pending_transfer"
	OutcomeCompleted       CheckoutOutcome = "completed"
)

type CheckoutRequest struct {
	CourseID      uuid.UUID            `json:"courseId" validate:"required"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod" validate:"required,oneof=gateway bank_transfer free"`
	CouponCode    string               `json:"couponCode,omitempty" validate:"omitempty,max=32"`
}

type TransferProofRequest struct {
	ReferenceCode string `json:"referenceCode" validate:"required,max=64"`
	ProofURL      string `json:"proofUrl" validate:"required,url,max=512"`
}

type CheckoutResult struct {
	Outcome      CheckoutOutcome      `json:"outcome"`
	Order        domain.OrderSnapshot `json:"order"`
	RedirectURL  string               `json:"redirectUrl,omitempty"`
	BankAccounts []domain.BankAccount `json:"bankAccounts,omitempty"`
	EnrollmentID *uuid.UUID           `json:"enrollmentId,omitempty"`
}

type CourseSummary struct {
	ID        uuid.UUID           `json:"id"`
	Slug      string              `json:"slug"`
	Title     string              `json:"title"`
	Type      domain.CourseType   `json:"type"`
	Modality  domain.Modality     `json:"modality"`
	Status    domain.CourseStatus `json:"status"`
	Price     decimal.Decimal     `json:"price"`
	Currency  string              `json:"currency"`
	SeatsLeft *int                `json:"seatsLeft,omitempty"`
	StartDate *time.Time          `json:"startDate,omitempty"`
}

// CheckoutContext is the read-only preview shown before a student commits.
type CheckoutContext struct {
	Course       CourseSummary         `json:"course"`
	Coupon       *domain.CouponResult  `json:"coupon,omitempty"`
	Quote        PriceQuote            `json:"quote"`
	Eligible     bool                  `json:"eligible"`
	BlockReason  domain.BlockReason    `json:"blockReason,omitempty"`
	BankAccounts []domain.BankAccount  `json:"bankAccounts,omitempty"`
	OpenOrder    *domain.OrderSnapshot `json:"openOrder,omitempty"`
}

type CheckoutService interface {
	BuildContext(ctx context.Context, p domain.Principal, courseID uuid.UUID, couponCode string) (*CheckoutContext, error)
	ValidateCoupon(ctx context.Context, p domain.Principal, code string, courseID uuid.UUID) (domain.CouponResult, error)
	Submit(ctx context.Context, p domain.Principal, req CheckoutRequest) (*CheckoutResult, error)
	GetOrder(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*domain.Order, error)
	CancelOrder(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*domain.Order, error)
	SubmitTransferProof(ctx context.Context, p domain.Principal, orderID uuid.UUID, req TransferProofRequest) (*domain.Order, error)
	ConfirmTransferPayment(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*CheckoutResult, error)
}

type CheckoutDeps struct {
	Tx              repo.TxManager
	Orders          OrderService
	Coupons         CouponService
	Enrollments     EnrollmentService
	CourseRepo      repo.CourseRepo
	CouponRepo      repo.CouponRepo
	EnrollmentRepo  repo.EnrollmentRepo
	BankAccountRepo repo.BankAccountRepo
	Gateway         payment.PaymentGateway
	Notifier        notify.Dispatcher
	// PublicBaseURL is where the provider sends webhooks and returns buyers.
	PublicBaseURL string
	// DefaultCurrency prices courses stored without a currency.
	DefaultCurrency string
	Now             func() time.Time
}

type checkoutService struct {
	orders          OrderService
	coupons         CouponService
	courseRepo      repo.CourseRepo
	enrollmentRepo  repo.EnrollmentRepo
	bankAccountRepo repo.BankAccountRepo
	gateway         payment.PaymentGateway
	notifier        notify.Dispatcher
	settlement      *settlement
	baseURL         string
	currency        string
	validate        *validator.Validate
	now             func() time.Time
}

func NewCheckoutService(d CheckoutDeps) CheckoutService {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.DefaultCurrency == "" {
		d.DefaultCurrency = "USD"
	}
	return &checkoutService{
		orders:          d.Orders,
		coupons:         d.Coupons,
		courseRepo:      d.CourseRepo,
		enrollmentRepo:  d.EnrollmentRepo,
		bankAccountRepo: d.BankAccountRepo,
		gateway:         d.Gateway,
		notifier:        d.Notifier,
		settlement: &settlement{
			tx:          d.Tx,
			orders:      d.Orders,
			couponRepo:  d.CouponRepo,
			enrollments: d.Enrollments,
		},
		baseURL:  strings.TrimRight(d.PublicBaseURL, "/"),
		currency: strings.ToUpper(d.DefaultCurrency),
		validate: newValidator(),
		now:      d.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *checkoutService) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		return &domain.ValidationError{Field: fe.Field(), Message: "failed " + fe.Tag() + " check"}
	}
	return &domain.ValidationError{Field: "body", Message: err.Error()}
}

func (s *checkoutService) loadCourse(ctx context.Context, id uuid.UUID) (*domain.Course, error) {
	course, err := s.courseRepo.FindById(ctx, id)
	if errors.Is(err, domain.ErrCourseNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.Persistence("load course", err)
	}
	if course.Currency == "" {
		course.Currency = s.currency
	}
	return course, nil
}

func (s *checkoutService) eligibility(ctx context.Context, p domain.Principal, course *domain.Course) (domain.BlockReason, error) {
	existing, err := s.enrollmentRepo.FindActive(ctx, p.UserID, course.ID)
	if err != nil {
		return "", domain.Persistence("find enrollment", err)
	}
	if existing != nil {
		return domain.BlockAlreadyEnrolled, nil
	}
	return course.BlockReason(), nil
}

// price quotes course for p. The coupon result is nil when no code was given.
func (s *checkoutService) price(ctx context.Context, p domain.Principal, course *domain.Course, code string) (PriceQuote, *domain.CouponResult, error) {
	if strings.TrimSpace(code) == "" {
		return Quote(course.Price, course.Currency, nil), nil, nil
	}
	result, err := s.coupons.Validate(ctx, CouponInput{
		Code:     code,
		CourseID: course.ID,
		Email:    p.Email,
		Amount:   domain.RoundMoney(course.Price, course.Currency),
		Currency: course.Currency,
	})
	if err != nil {
		return PriceQuote{}, nil, err
	}
	return Quote(course.Price, course.Currency, &result), &result, nil
}

func (s *checkoutService) BuildContext(ctx context.Context, p domain.Principal, courseID uuid.UUID, couponCode string) (*CheckoutContext, error) {
	if !p.CanPurchase() {
		return nil, domain.ErrForbidden
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	reason, err := s.eligibility(ctx, p, course)
	if err != nil {
		return nil, err
	}
	quote, coupon, err := s.price(ctx, p, course, couponCode)
	if err != nil {
		return nil, err
	}

	out := &CheckoutContext{
		Course:      summarize(course),
		Coupon:      coupon,
		Quote:       quote,
		Eligible:    reason == "",
		BlockReason: reason,
	}
	if out.Eligible && !quote.IsFree {
		accounts, err := s.bankAccountRepo.ListActive(ctx)
		if err != nil {
			return nil, domain.Persistence("list bank accounts", err)
		}
		out.BankAccounts = accounts
	}
	open, err := s.orders.FindOpenOrder(ctx, p.UserID, course.ID)
	switch {
	case err == nil:
		snap := open.Snapshot()
		snap.CourseTitle = course.Title
		out.OpenOrder = &snap
	case !errors.Is(err, domain.ErrOrderNotFound):
		return nil, err
	}
	return out, nil
}

func summarize(c *domain.Course) CourseSummary {
	out := CourseSummary{
		ID:        c.ID,
		Slug:      c.Slug,
		Title:     c.Title,
		Type:      c.Type,
		Modality:  c.Modality,
		Status:    c.Status,
		Price:     c.Price,
		Currency:  c.Currency,
		StartDate: c.StartDate,
	}
	if c.Capacity != nil {
		left := c.SeatsLeft()
		out.SeatsLeft = &left
	}
	return out
}

func (s *checkoutService) ValidateCoupon(ctx context.Context, p domain.Principal, code string, courseID uuid.UUID) (domain.CouponResult, error) {
	if !p.CanPurchase() {
		return domain.CouponResult{}, domain.ErrForbidden
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return domain.CouponResult{}, err
	}
	return s.coupons.Validate(ctx, CouponInput{
		Code:     code,
		CourseID: course.ID,
		Email:    p.Email,
		Amount:   domain.RoundMoney(course.Price, course.Currency),
		Currency: course.Currency,
	})
}

func (s *checkoutService) Submit(ctx context.Context, p domain.Principal, req CheckoutRequest) (*CheckoutResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if !p.CanPurchase() {
		return nil, domain.ErrForbidden
	}

	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	reason, err := s.eligibility(ctx, p, course)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, &domain.BlockedError{Reason: reason}
	}

	quote, coupon, err := s.price(ctx, p, course, req.CouponCode)
	if err != nil {
		return nil, err
	}
	var couponID *uuid.UUID
	if coupon != nil {
		if !coupon.Valid {
			return nil, &domain.CouponRejectedError{Code: coupon.Code, Reason: coupon.Reason}
		}
		id := coupon.CouponID
		couponID = &id
	}

	method := req.PaymentMethod
	switch {
	case quote.IsFree:
		method = domain.PaymentFree
	case method == domain.PaymentFree:
		return nil, &domain.ValidationError{Field: "paymentMethod", Message: "course is not free"}
	}

	// One retry covers a concurrent submission that took the open-intent slot
	// between the lookup and the insert.
	for attempt := 0; attempt < 2; attempt++ {
		open, err := s.orders.FindOpenOrder(ctx, p.UserID, course.ID)
		switch {
		case err == nil:
			res, resumed, err := s.resume(ctx, open, course, method, quote, couponID)
			if err != nil || resumed {
				return res, err
			}
		case !errors.Is(err, domain.ErrOrderNotFound):
			return nil, err
		}

		order, err := s.orders.CreateOrder(ctx, &domain.Order{
			UserID:         p.UserID,
			CustomerEmail:  p.Email,
			CourseID:       course.ID,
			CouponID:       couponID,
			BaseAmount:     quote.BaseAmount,
			DiscountAmount: quote.DiscountAmount,
			FinalAmount:    quote.FinalAmount,
			Currency:       quote.Currency,
			PaymentMethod:  method,
		})
		if errors.Is(err, repo.ErrOpenOrderExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		switch method {
		case domain.PaymentFree:
			res, err := s.completeFree(ctx, order)
			var rejected *domain.CouponRejectedError
			if errors.As(err, &rejected) && coupon != nil {
				rejected.Code = coupon.Code
			}
			return res, err
		case domain.PaymentBankTransfer:
			return s.openTransfer(ctx, order, course)
		default:
			return s.openGateway(ctx, order, course)
		}
	}
	return nil, domain.ErrCheckoutInProgress
}

// resume reuses an open order when it matches the new submission. A stale
// intent with no payment in flight is cancelled and resumed reports false so a
// fresh order is created. One that may still be paid is never replaced: the
// student has to finish or cancel it first.
func (s *checkoutService) resume(ctx context.Context, open *domain.Order, course *domain.Course, method domain.PaymentMethod, quote PriceQuote, couponID *uuid.UUID) (*CheckoutResult, bool, error) {
	same := open.Status == domain.OrderPendingPayment &&
		open.PaymentMethod == method &&
		sameCoupon(open.CouponID, couponID) &&
		open.FinalAmount.Equal(quote.FinalAmount)
	if same {
		switch method {
		case domain.PaymentGateway:
			if open.CheckoutURL != nil && *open.CheckoutURL != "" {
				return s.redirectResult(open, course), true, nil
			}
			res, err := s.requestPreference(ctx, open, course)
			return res, true, err
		case domain.PaymentBankTransfer:
			res, err := s.transferResult(ctx, open, course)
			return res, true, err
		}
	}

	if open.PaymentInFlight() {
		snap := open.Snapshot()
		snap.CourseTitle = course.Title
		return nil, false, &domain.OpenOrderError{Order: snap}
	}

	reason := "superseded"
	applied, err := s.orders.UpdateOrderStatus(ctx, open, domain.OrderCancelled, domain.StatusPatch{Reason: &reason})
	if err != nil {
		return nil, false, err
	}
	if applied {
		log.Info().
			Str("order_id", open.ID.String()).
			Str("order_number", open.OrderNumber).
			Msg("open order superseded by new checkout")
	}
	return nil, false, nil
}

func sameCoupon(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *checkoutService) completeFree(ctx context.Context, order *domain.Order) (*CheckoutResult, error) {
	paidAt := s.now()
	res, err := s.settlement.markPaid(ctx, order, domain.StatusPatch{PaidAt: &paidAt}, true)
	if err != nil {
		var rejected *domain.CouponRejectedError
		switch {
		case isBlocked(err, domain.BlockCourseFull):
			s.cancelQuietly(ctx, order, string(domain.BlockCourseFull))
		case errors.As(err, &rejected):
			s.cancelQuietly(ctx, order, "coupon_"+string(rejected.Reason))
		}
		return nil, err
	}
	if res.Order.Status != domain.OrderPaid || res.Enrollment == nil {
		return nil, &domain.StateConflictError{OrderID: order.ID, From: res.Order.Status, To: domain.OrderPaid}
	}
	return &CheckoutResult{
		Outcome:      OutcomeCompleted,
		Order:        res.Order.Snapshot(),
		EnrollmentID: &res.Enrollment.ID,
	}, nil
}

func (s *checkoutService) cancelQuietly(ctx context.Context, order *domain.Order, reason string) {
	if _, err := s.orders.UpdateOrderStatus(ctx, order, domain.OrderCancelled, domain.StatusPatch{Reason: &reason}); err != nil {
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to cancel unfulfilled order")
	}
}

func (s *checkoutService) openPending(ctx context.Context, order *domain.Order) error {
	applied, err := s.orders.UpdateOrderStatus(ctx, order, domain.OrderPendingPayment, domain.StatusPatch{})
	if err != nil {
		return err
	}
	if !applied {
		return &domain.StateConflictError{OrderID: order.ID, From: order.Status, To: domain.OrderPendingPayment}
	}
	return nil
}

func (s *checkoutService) openTransfer(ctx context.Context, order *domain.Order, course *domain.Course) (*CheckoutResult, error) {
	if err := s.openPending(ctx, order); err != nil {
		return nil, err
	}
	res, err := s.transferResult(ctx, order, course)
	if err != nil {
		return nil, err
	}
	snap := res.Order
	snap.BankAccounts = res.BankAccounts
	s.notifier.Dispatch(domain.Notification{
		Kind:      domain.TemplateTransferInstructions,
		Recipient: order.CustomerEmail,
		Order:     snap,
	})
	return res, nil
}

func (s *checkoutService) transferResult(ctx context.Context, order *domain.Order, course *domain.Course) (*CheckoutResult, error) {
	accounts, err := s.bankAccountRepo.ListActive(ctx)
	if err != nil {
		return nil, domain.Persistence("list bank accounts", err)
	}
	snap := order.Snapshot()
	snap.CourseTitle = course.Title
	return &CheckoutResult{
		Outcome:      OutcomePendingTransfer,
		Order:        snap,
		BankAccounts: accounts,
	}, nil
}

func (s *checkoutService) openGateway(ctx context.Context, order *domain.Order, course *domain.Course) (*CheckoutResult, error) {
	if err := s.openPending(ctx, order); err != nil {
		return nil, err
	}
	return s.requestPreference(ctx, order, course)
}

// requestPreference registers the order with the provider. The order number
// is the idempotency key, so a retry after a timeout gets the same preference.
// On failure the order stays pending_payment and can be resumed.
func (s *checkoutService) requestPreference(ctx context.Context, order *domain.Order, course *domain.Course) (*CheckoutResult, error) {
	pref, err := s.gateway.CreatePreference(ctx, payment.PreferenceRequest{
		IdempotencyKey:    order.OrderNumber,
		ExternalReference: order.OrderNumber,
		Title:             course.Title,
		Amount:            order.FinalAmount,
		Currency:          order.Currency,
		PayerEmail:        order.CustomerEmail,
		NotificationURL:   s.baseURL + WebhookPath,
		BackURL:           s.baseURL + "/orders/" + order.ID.String(),
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("order_id", order.ID.String()).
			Str("order_number", order.OrderNumber).
			Msg("preference creation failed, order left pending")
		return nil, err
	}

	applied, err := s.orders.AttachPreference(ctx, order, pref)
	if err != nil {
		return nil, err
	}
	if !applied {
		current, err := s.orders.GetOrderById(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		return nil, &domain.StateConflictError{OrderID: order.ID, From: current.Status, To: domain.OrderPendingPayment}
	}
	return s.redirectResult(order, course), nil
}

func (s *checkoutService) redirectResult(order *domain.Order, course *domain.Course) *CheckoutResult {
	snap := order.Snapshot()
	snap.CourseTitle = course.Title
	return &CheckoutResult{
		Outcome:     OutcomeRedirect,
		Order:       snap,
		RedirectURL: snap.CheckoutURL,
	}
}

func (s *checkoutService) GetOrder(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orders.GetOrderById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !p.CanManage(order.UserID) {
		return nil, domain.ErrForbidden
	}
	return order, nil
}

func (s *checkoutService) CancelOrder(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.OrderCancelled {
		return order, nil
	}
	if order.Status.Terminal() {
		return nil, &domain.StateConflictError{OrderID: order.ID, From: order.Status, To: domain.OrderCancelled}
	}

	reason := "cancelled_by_user"
	if p.UserID != order.UserID {
		reason = "cancelled_by_admin"
	}
	applied, err := s.orders.UpdateOrderStatus(ctx, order, domain.OrderCancelled, domain.StatusPatch{Reason: &reason})
	if err != nil {
		return nil, err
	}
	if applied {
		return order, nil
	}
	current, err := s.orders.GetOrderById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.OrderCancelled {
		return current, nil
	}
	return nil, &domain.StateConflictError{OrderID: order.ID, From: current.Status, To: domain.OrderCancelled}
}

func (s *checkoutService) SubmitTransferProof(ctx context.Context, p domain.Principal, orderID uuid.UUID, req TransferProofRequest) (*domain.Order, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrderById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != p.UserID {
		return nil, domain.ErrForbidden
	}
	if order.PaymentMethod != domain.PaymentBankTransfer {
		return nil, &domain.ValidationError{Field: "paymentMethod", Message: "order is not paid by bank transfer"}
	}
	if order.Status != domain.OrderPendingPayment {
		return nil, &domain.StateConflictError{OrderID: order.ID, From: order.Status, To: domain.OrderPendingPayment}
	}

	applied, err := s.orders.RecordTransferProof(ctx, order, strings.TrimSpace(req.ReferenceCode), strings.TrimSpace(req.ProofURL))
	if err != nil {
		return nil, err
	}
	if !applied {
		current, err := s.orders.GetOrderById(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return nil, &domain.StateConflictError{OrderID: order.ID, From: current.Status, To: domain.OrderPendingPayment}
	}
	log.Info().
		Str("order_id", order.ID.String()).
		Str("order_number", order.OrderNumber).
		Msg("transfer proof recorded")
	return order, nil
}

// ConfirmTransferPayment is the manual admin confirmation of a bank transfer.
// Confirming an already paid order only re-checks the enrollment.
func (s *checkoutService) ConfirmTransferPayment(ctx context.Context, p domain.Principal, orderID uuid.UUID) (*CheckoutResult, error) {
	if !p.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	order, err := s.orders.GetOrderById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != domain.PaymentBankTransfer {
		return nil, &domain.ValidationError{Field: "paymentMethod", Message: "order is not paid by bank transfer"}
	}
	if order.Status != domain.OrderPaid && order.Status != domain.OrderPendingPayment {
		return nil, &domain.StateConflictError{OrderID: order.ID, From: order.Status, To: domain.OrderPaid}
	}

	paidAt := s.now()
	res, err := s.settlement.markPaid(ctx, order, domain.StatusPatch{PaidAt: &paidAt}, false)
	if err != nil {
		return nil, err
	}
	if res.Order.Status != domain.OrderPaid || res.Enrollment == nil {
		return nil, &domain.StateConflictError{OrderID: order.ID, From: res.Order.Status, To: domain.OrderPaid}
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("order_number", order.OrderNumber).
		Str("confirmed_by", p.UserID.String()).
		Bool("applied", res.Applied).
		Msg("bank transfer confirmed")
	return &CheckoutResult{
		Outcome:      OutcomeCompleted,
		Order:        res.Order.Snapshot(),
		EnrollmentID: &res.Enrollment.ID,
	}, nil
}
