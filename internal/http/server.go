package httpapi

import (
	"context"

	"academy-checkout/internal/service"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports dependency health, e.g. database pool statistics.
type HealthChecker interface {
	Health(ctx context.Context) map[string]string
}

type Server struct {
	engine   *gin.Engine
	checkout service.CheckoutService
	webhooks service.WebhookService
	auth     *Authenticator
	health   HealthChecker
}

func NewServer(
	checkout service.CheckoutService,
	webhooks service.WebhookService,
	auth *Authenticator,
	health HealthChecker,
	allowedOrigins []string,
) *Server {
	r := gin.New()
	r.Use(requestLogger(), gin.Recovery())
	if len(allowedOrigins) > 0 {
		r.Use(corsMiddleware(allowedOrigins))
	}
	s := &Server{
		engine:   r,
		checkout: checkout,
		webhooks: webhooks,
		auth:     auth,
		health:   health,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.healthCheck)

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/webhooks/payments", s.paymentWebhook)

		authed := v1.Group("", s.requireAuth())
		authed.GET("/checkout/:courseId", s.checkoutContext)
		authed.POST("/checkout", s.submitCheckout)
		authed.GET("/coupons/:code/validate", s.validateCoupon)

		orders := authed.Group("/orders")
		orders.GET("/:id", s.getOrder)
		orders.POST("/:id/cancel", s.cancelOrder)
		orders.POST("/:id/transfer-proof", s.submitTransferProof)

		admin := authed.Group("/admin")
		admin.POST("/orders/:id/confirm-transfer", s.confirmTransfer)
	}
}
