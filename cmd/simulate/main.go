package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/infrastructure/cache"
	"academy-checkout/internal/infrastructure/notify"
	"academy-checkout/internal/infrastructure/payment"
	"academy-checkout/internal/repo"
	"academy-checkout/internal/service"
	"academy-checkout/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	students      = 20
	webhookSecret = "whsec_simulator"
)

type simulation struct {
	orderRepo  repo.OrderRepo
	courseRepo repo.CourseRepo
	provider   *payment.MockGateway
	checkout   service.CheckoutService
	webhooks   service.WebhookService
	sweeper    *worker.SweepWorker
	courses    []*domain.Course
	coupons    []string
	orders     []uuid.UUID
	outcomes   map[service.WebhookOutcome]int
}

func seats(n int) *int { return &n }

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	ctx := context.Background()
	store := repo.NewMemoryStore()
	tx := repo.NewMemoryTx(store)
	orderRepo := repo.NewMemoryOrders(store)
	courseRepo := repo.NewMemoryCourses(store)
	couponRepo := repo.NewMemoryCoupons(store)
	enrollmentRepo := repo.NewMemoryEnrollments(store)
	bankAccountRepo := repo.NewMemoryBankAccounts(store)

	// a fifth of preference calls time out after the provider registered them
	provider := payment.NewMockGateway(webhookSecret).WithTimeoutRate(20)
	gateway := payment.NewPaymentGateway(provider, webhookSecret)
	dispatcher := notify.NewAsyncDispatcher(notify.LogSender{}, 0)
	defer dispatcher.Close(ctx)

	orders := service.NewOrderService(orderRepo, nil)
	enrollments := service.NewEnrollmentService(tx, enrollmentRepo, courseRepo, dispatcher, nil)

	sim := &simulation{
		orderRepo:  orderRepo,
		courseRepo: courseRepo,
		provider:   provider,
		checkout: service.NewCheckoutService(service.CheckoutDeps{
			Tx:              tx,
			Orders:          orders,
			Coupons:         service.NewCouponService(couponRepo, nil),
			Enrollments:     enrollments,
			CourseRepo:      courseRepo,
			CouponRepo:      couponRepo,
			EnrollmentRepo:  enrollmentRepo,
			BankAccountRepo: bankAccountRepo,
			Gateway:         gateway,
			Notifier:        dispatcher,
			PublicBaseURL:   "http://localhost:8080",
		}),
		webhooks: service.NewWebhookService(service.WebhookDeps{
			Tx:          tx,
			Orders:      orders,
			Enrollments: enrollments,
			CouponRepo:  couponRepo,
			CourseRepo:  courseRepo,
			Gateway:     gateway,
			Notifier:    dispatcher,
			Deliveries:  cache.NewMemoryDeliveryCache(time.Hour),
		}),
		sweeper:  worker.NewSweepWorker(orders, 0, "@every 1m"),
		outcomes: make(map[service.WebhookOutcome]int),
	}

	if err := sim.seed(ctx, courseRepo, couponRepo, bankAccountRepo); err != nil {
		log.Fatal().Err(err).Msg("seed failed")
	}

	fmt.Printf("--- STARTING SIMULATION (%d STUDENTS) ---\n", students)
	for i := 0; i < students; i++ {
		sim.student(ctx, i+1)
	}

	swept, err := sim.sweeper.Sweep(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed")
	}
	fmt.Printf("--- SWEEP cancelled %d abandoned orders ---\n", swept)

	sim.summary(ctx)
}

func (s *simulation) seed(ctx context.Context, courses repo.CourseRepo, coupons repo.CouponRepo, banks repo.BankAccountRepo) error {
	now := time.Now()
	catalog := []*domain.Course{
		{Slug: "wine-fundamentals", Title: "Wine Fundamentals", Type: domain.CourseCertification,
			Price: decimal.NewFromInt(120), Currency: "USD", Capacity: seats(12), Modality: domain.ModalityInPerson},
		{Slug: "sommelier-level-1", Title: "Sommelier Level 1", Type: domain.CourseCertification,
			Price: decimal.NewFromInt(9990), Currency: "CLP", Modality: domain.ModalityOnline},
		{Slug: "open-tasting", Title: "Open Tasting Night", Type: domain.CourseTasting,
			Price: decimal.Zero, Currency: "USD", Capacity: seats(3), Modality: domain.ModalityInPerson},
	}
	for _, c := range catalog {
		c.ID = uuid.New()
		c.Status = domain.CourseEnrolling
		c.CreatedAt, c.UpdatedAt = now, now
		if err := courses.CreateCourse(ctx, c); err != nil {
			return err
		}
	}
	s.courses = catalog

	for _, c := range []*domain.Coupon{
		{Code: "HALF", DiscountPercent: 50, MaxUses: 100},
		{Code: "WELCOME100", DiscountPercent: 100, MaxUses: 2},
	} {
		c.ID = uuid.New()
		c.Active = true
		if err := coupons.CreateCoupon(ctx, c); err != nil {
			return err
		}
		s.coupons = append(s.coupons, c.Code)
	}

	return banks.CreateBankAccount(ctx, &domain.BankAccount{
		ID:            uuid.New(),
		BankName:      "Banco Simulado",
		AccountHolder: "Academy Ltd",
		AccountNumber: "00-123-456",
		AccountType:   "checking",
		Active:        true,
	})
}

func (s *simulation) student(ctx context.Context, n int) {
	p := domain.Principal{
		UserID: uuid.New(),
		Email:  fmt.Sprintf("student%02d@example.com", n),
		Role:   domain.RoleStudent,
	}
	req := service.CheckoutRequest{
		CourseID:      s.courses[rand.IntN(len(s.courses))].ID,
		PaymentMethod: domain.PaymentGateway,
	}
	if rand.IntN(4) == 0 {
		req.PaymentMethod = domain.PaymentBankTransfer
	}
	if rand.IntN(3) == 0 {
		req.CouponCode = s.coupons[rand.IntN(len(s.coupons))]
	}

	fmt.Printf("[%02d] %s method=%s coupon=%q ... ", n, p.Email, req.PaymentMethod, req.CouponCode)
	res, err := s.checkout.Submit(ctx, p, req)
	var provider *domain.ProviderError
	if errors.As(err, &provider) {
		// the student presses pay again; the open order is resumed
		fmt.Printf("provider timeout, retrying ... ")
		res, err = s.checkout.Submit(ctx, p, req)
	}
	if err != nil {
		fmt.Printf("FAILED: %v\n", err)
		return
	}
	s.orders = append(s.orders, res.Order.OrderID)
	fmt.Printf("%s %s %s %s\n", res.Outcome, res.Order.OrderNumber, res.Order.FinalAmount.StringFixed(2), res.Order.Currency)

	switch res.Outcome {
	case service.OutcomeRedirect:
		s.pay(ctx, res.Order.OrderID)
	case service.OutcomePendingTransfer:
		s.transfer(ctx, p, res.Order)
	}
}

// pay settles the preference at random and delivers the webhook twice, the
// way a provider retries notifications.
func (s *simulation) pay(ctx context.Context, orderID uuid.UUID) {
	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil || order.PreferenceID == nil {
		fmt.Printf("     -> no preference recorded, order left for the sweeper\n")
		return
	}
	paymentID, status, err := s.provider.SettleRandom(*order.PreferenceID)
	if err != nil {
		fmt.Printf("     -> settle failed: %v\n", err)
		return
	}
	body, signature := s.provider.Webhook(paymentID)
	for attempt := 1; attempt <= 2; attempt++ {
		outcome, err := s.webhooks.Process(ctx, body, signature)
		if err != nil {
			fmt.Printf("     -> webhook #%d for %s (%s) failed: %v\n", attempt, paymentID, status, err)
			continue
		}
		s.outcomes[outcome]++
		fmt.Printf("     -> webhook #%d for %s (%s): %s\n", attempt, paymentID, status, outcome)
	}
}

func (s *simulation) transfer(ctx context.Context, p domain.Principal, order domain.OrderSnapshot) {
	if _, err := s.checkout.SubmitTransferProof(ctx, p, order.OrderID, service.TransferProofRequest{
		ReferenceCode: order.OrderNumber,
		ProofURL:      "https://files.example.com/receipts/" + order.OrderNumber + ".pdf",
	}); err != nil {
		fmt.Printf("     -> transfer proof failed: %v\n", err)
		return
	}
	if rand.IntN(2) == 0 {
		fmt.Printf("     -> transfer proof sent, awaiting admin review\n")
		return
	}
	admin := domain.Principal{UserID: uuid.New(), Email: "admin@example.com", Role: domain.RoleSuperadmin}
	res, err := s.checkout.ConfirmTransferPayment(ctx, admin, order.OrderID)
	if err != nil {
		fmt.Printf("     -> admin confirmation failed: %v\n", err)
		return
	}
	fmt.Printf("     -> admin confirmed transfer: %s\n", res.Order.Status)
}

func (s *simulation) summary(ctx context.Context) {
	byStatus := make(map[domain.OrderStatus]int)
	for _, id := range s.orders {
		order, err := s.orderRepo.FindById(ctx, id)
		if err != nil {
			continue
		}
		byStatus[order.Status]++
	}

	fmt.Println("--- SUMMARY ---")
	statuses := make([]string, 0, len(byStatus))
	for st := range byStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Printf("orders %-18s %d\n", st, byStatus[domain.OrderStatus(st)])
	}
	outcomes := make([]string, 0, len(s.outcomes))
	for o := range s.outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Printf("webhook %-17s %d\n", o, s.outcomes[service.WebhookOutcome(o)])
	}
	for _, c := range s.courses {
		course, err := s.courseRepo.FindById(ctx, c.ID)
		if err != nil {
			continue
		}
		fmt.Printf("course %-20s enrolled=%d\n", course.Slug, course.EnrolledCount)
	}
}
