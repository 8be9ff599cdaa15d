package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/infrastructure/cache"
	"academy-checkout/internal/infrastructure/notify"
	"academy-checkout/internal/infrastructure/payment"
	"academy-checkout/internal/repo"
	"academy-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testWebhookSecret = "whsec_test"
)

type stubHealth map[string]string

func (h stubHealth) Health(context.Context) map[string]string { return h }

type harness struct {
	server   *Server
	auth     *Authenticator
	provider *payment.MockGateway
	courses  repo.CourseRepo
	coupons  repo.CouponRepo
	orders   repo.OrderRepo
}

func setupServer(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repo.NewMemoryStore()
	tx := repo.NewMemoryTx(store)
	h := &harness{
		auth:     NewAuthenticator(testJWTSecret, "academy-test"),
		provider: payment.NewMockGateway(testWebhookSecret),
		courses:  repo.NewMemoryCourses(store),
		coupons:  repo.NewMemoryCoupons(store),
		orders:   repo.NewMemoryOrders(store),
	}
	enrollmentRepo := repo.NewMemoryEnrollments(store)
	banks := repo.NewMemoryBankAccounts(store)
	require.NoError(t, banks.CreateBankAccount(context.Background(), &domain.BankAccount{
		ID: uuid.New(), BankName: "Banco Test", AccountHolder: "Academy Ltd", AccountNumber: "1", AccountType: "checking", Active: true,
	}))

	notifier := notify.NewAsyncDispatcher(notify.LogSender{}, 16)
	t.Cleanup(func() { _ = notifier.Close(context.Background()) })

	orders := service.NewOrderService(h.orders, nil)
	enrollments := service.NewEnrollmentService(tx, enrollmentRepo, h.courses, notifier, nil)
	gateway := payment.NewPaymentGateway(h.provider, testWebhookSecret)

	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Tx:              tx,
		Orders:          orders,
		Coupons:         service.NewCouponService(h.coupons, nil),
		Enrollments:     enrollments,
		CourseRepo:      h.courses,
		CouponRepo:      h.coupons,
		EnrollmentRepo:  enrollmentRepo,
		BankAccountRepo: banks,
		Gateway:         gateway,
		Notifier:        notifier,
		PublicBaseURL:   "https://academy.test",
	})
	webhooks := service.NewWebhookService(service.WebhookDeps{
		Tx:          tx,
		Orders:      orders,
		Enrollments: enrollments,
		CouponRepo:  h.coupons,
		CourseRepo:  h.courses,
		Gateway:     gateway,
		Notifier:    notifier,
		Deliveries:  cache.NewMemoryDeliveryCache(time.Hour),
	})
	h.server = NewServer(checkout, webhooks, h.auth, stubHealth{"status": "up"}, []string{"https://academy.test"})
	return h
}

func (h *harness) addCourse(t *testing.T, price string) uuid.UUID {
	t.Helper()
	c := &domain.Course{
		ID:       uuid.New(),
		Slug:     "course",
		Title:    "Sommelier Level 1",
		Type:     domain.CourseCertification,
		Price:    decimal.RequireFromString(price),
		Currency: "USD",
		Status:   domain.CourseEnrolling,
		Modality: domain.ModalityOnline,
	}
	require.NoError(t, h.courses.CreateCourse(context.Background(), c))
	return c.ID
}

func (h *harness) token(t *testing.T, role domain.Role) (string, domain.Principal) {
	t.Helper()
	p := domain.Principal{UserID: uuid.New(), Email: role.String() + "@example.com", Role: role}
	tok, err := h.auth.Issue(p, time.Hour)
	require.NoError(t, err)
	return tok, p
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h := setupServer(t)
	w := doJSON(t, h.server, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "up", decode(t, w)["status"])
}

func TestCheckoutRequiresAuthentication(t *testing.T) {
	h := setupServer(t)
	courseID := h.addCourse(t, "100")

	w := doJSON(t, h.server, http.MethodPost, "/api/v1/checkout", "", map[string]any{"courseId": courseID, "paymentMethod": "gateway"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h.server, http.MethodPost, "/api/v1/checkout", "not-a-jwt", map[string]any{"courseId": courseID, "paymentMethod": "gateway"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other := NewAuthenticator("another-secret", "academy-test")
	forged, err := other.Issue(domain.Principal{UserID: uuid.New(), Role: domain.RoleStudent}, time.Hour)
	require.NoError(t, err)
	w = doJSON(t, h.server, http.MethodPost, "/api/v1/checkout", forged, map[string]any{"courseId": courseID, "paymentMethod": "gateway"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	educator, _ := h.token(t, domain.RoleEducator)
	w = doJSON(t, h.server, http.MethodPost, "/api/v1/checkout", educator, map[string]any{"courseId": courseID, "paymentMethod": "gateway"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGatewayCheckoutAndWebhookFlow(t *testing.T) {
	h := setupServer(t)
	courseID := h.addCourse(t, "100")
	require.NoError(t, h.coupons.CreateCoupon(context.Background(), &domain.Coupon{
		ID: uuid.New(), Code: "HALF", DiscountPercent: 50, MaxUses: 10, Active: true,
	}))
	tok, _ := h.token(t, domain.RoleStudent)

	w := doJSON(t, h.server, http.MethodGet, "/api/v1/checkout/"+courseID.String()+"?coupon=HALF", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	preview := decode(t, w)
	assert.Equal(t, true, preview["eligible"])
	assert.Equal(t, "50", preview["quote"].(map[string]any)["finalAmount"])

	w = doJSON(t, h.server, http.MethodPost, "/api/v1/checkout", tok, map[string]any{
		"courseId": courseID, "paymentMethod": "gateway", "couponCode": "HALF",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "redirect", res["outcome"])
	assert.NotEmpty(t, res["redirectUrl"])
	order := res["order"].(map[string]any)
	orderID := order["orderId"].(string)

	stored, err := h.orders.FindById(context.Background(), uuid.MustParse(orderID))
	require.NoError(t, err)
	require.NoError(t, h.provider.PayWithID("pay_123", *stored.PreferenceID, domain.ProviderApproved))
	body, sig := h.provider.Webhook("pay_123")

	post := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
		req.Header.Set(payment.SignatureHeader, sig)
		w := httptest.NewRecorder()
		h.server.Engine().ServeHTTP(w, req)
		return w
	}

	w = post("sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(sig)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "processed", decode(t, w)["status"])

	w = post(sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decode(t, w)["status"])

	w = doJSON(t, h.server, http.MethodGet, "/api/v1/orders/"+orderID, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "paid", got["status"])
	assert.Equal(t, "pay_123", got["paymentId"])

	w = doJSON(t, h.server, http.MethodPost, "/api/v1/checkout", tok, map[string]any{"courseId": courseID, "paymentMethod": "gateway"})
	assert.Equal(t, http.StatusConflict, w.Code)
	blocked := decode(t, w)
	assert.Equal(t, "blocked", blocked["code"])
	assert.Equal(t, "already_enrolled", blocked["reason"])
}

func TestPaymentWebhook_AcknowledgesSignedMalformedBody(t *testing.T) {
	h := setupServer(t)
	post := func(body []byte, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(body))
		req.Header.Set(payment.SignatureHeader, sig)
		w := httptest.NewRecorder()
		h.server.Engine().ServeHTTP(w, req)
		return w
	}

	for _, raw := range []string{`{not json`, `{"type":"payment","data":{}}`} {
		body := []byte(raw)
		w := post(body, payment.SignatureFor(testWebhookSecret, body))
		require.Equal(t, http.StatusOK, w.Code, raw)
		assert.Equal(t, "malformed", decode(t, w)["status"], raw)

		w = post(body, payment.SignatureFor("wrong-secret", body))
		assert.Equal(t, http.StatusUnauthorized, w.Code, raw)
	}

	missing := []byte(`{"type":"payment","data":{"id":"pay_missing"}}`)
	w := post(missing, payment.SignatureFor(testWebhookSecret, missing))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestBankTransferFlow(t *testing.T) {
	h := setupServer(t)
	courseID := h.addCourse(t, "300")
	tok, _ := h.token(t, domain.RoleStudent)
	adminTok, _ := h.token(t, domain.RoleSuperadmin)

	w := doJSON(t, h.server, http.MethodPost, "/api/v1/checkout", tok, map[string]any{"courseId": courseID, "paymentMethod": "bank_transfer"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "pending_transfer", res["outcome"])
	assert.Len(t, res["bankAccounts"], 1)
	orderID := res["order"].(map[string]any)["orderId"].(string)

	w = doJSON(t, h.server, http.MethodPost, "/api/v1/orders/"+orderID+"/transfer-proof", tok, map[string]any{"referenceCode": "TX-99", "proofUrl": "not a url"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "proofUrl", decode(t, w)["field"])

	w = doJSON(t, h.server, http.MethodPost, "/api/v1/orders/"+orderID+"/transfer-proof", tok, map[string]any{"referenceCode": "TX-99", "proofUrl": "https://files.test/p.png"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pending_payment", decode(t, w)["status"])

	w = doJSON(t, h.server, http.MethodPost, "/api/v1/admin/orders/"+orderID+"/confirm-transfer", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h.server, http.MethodPost, "/api/v1/admin/orders/"+orderID+"/confirm-transfer", adminTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	confirmed := decode(t, w)
	assert.Equal(t, "completed", confirmed["outcome"])
	assert.NotEmpty(t, confirmed["enrollmentId"])

	w = doJSON(t, h.server, http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "state_conflict", decode(t, w)["code"])
}

func TestOrderLookupErrors(t *testing.T) {
	h := setupServer(t)
	tok, _ := h.token(t, domain.RoleStudent)

	w := doJSON(t, h.server, http.MethodGet, "/api/v1/orders/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h.server, http.MethodGet, "/api/v1/orders/"+uuid.NewString(), tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h.server, http.MethodGet, "/api/v1/checkout/"+uuid.NewString(), tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidateCouponEndpoint(t *testing.T) {
	h := setupServer(t)
	courseID := h.addCourse(t, "80")
	require.NoError(t, h.coupons.CreateCoupon(context.Background(), &domain.Coupon{
		ID: uuid.New(), Code: "QUARTER", DiscountPercent: 25, MaxUses: 1, Active: true,
	}))
	tok, _ := h.token(t, domain.RoleStudent)

	w := doJSON(t, h.server, http.MethodGet, "/api/v1/coupons/quarter/validate?courseId="+courseID.String(), tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, true, res["valid"])
	assert.Equal(t, "20", res["discountAmount"])

	w = doJSON(t, h.server, http.MethodGet, "/api/v1/coupons/quarter/validate", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMapErrorToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.BlockedError{Reason: domain.BlockCourseFull}, http.StatusConflict},
		{&domain.ValidationError{Field: "x"}, http.StatusBadRequest},
		{&domain.CouponRejectedError{Reason: domain.CouponExpired}, http.StatusUnprocessableEntity},
		{&domain.ProviderError{Op: "create preference", Err: payment.ErrConnectionTimeout}, http.StatusBadGateway},
		{&domain.StateConflictError{}, http.StatusConflict},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrOrderNotFound, http.StatusNotFound},
		{domain.ErrSignatureInvalid, http.StatusUnauthorized},
		{&domain.OpenOrderError{}, http.StatusConflict},
		{errors.New("read webhook body: unexpected EOF"), http.StatusInternalServerError},
		{domain.Persistence("create order", context.DeadlineExceeded), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorToStatus(tt.err), tt.err.Error())
	}
}
