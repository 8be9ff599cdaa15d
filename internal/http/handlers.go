package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/infrastructure/payment"
	"academy-checkout/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxWebhookBody = 1 << 20

type orderResponse struct {
	domain.OrderSnapshot
	PaymentID        string     `json:"paymentId,omitempty"`
	TransferProofURL string     `json:"transferProofUrl,omitempty"`
	TransferSentAt   *time.Time `json:"transferSentAt,omitempty"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func toOrderResponse(o *domain.Order) orderResponse {
	res := orderResponse{
		OrderSnapshot:  o.Snapshot(),
		TransferSentAt: o.TransferSentAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.PaymentID != nil {
		res.PaymentID = *o.PaymentID
	}
	if o.TransferProofURL != nil {
		res.TransferProofURL = *o.TransferProofURL
	}
	return res
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		writeError(c, &domain.ValidationError{Field: name, Message: "must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) healthCheck(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := s.health.Health(c.Request.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}

func (s *Server) checkoutContext(c *gin.Context) {
	courseID, ok := parseID(c, "courseId")
	if !ok {
		return
	}
	out, err := s.checkout.BuildContext(c.Request.Context(), principal(c), courseID, c.Query("coupon"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) submitCheckout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &domain.ValidationError{Field: "body", Message: "invalid json"})
		return
	}
	res, err := s.checkout.Submit(c.Request.Context(), principal(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) validateCoupon(c *gin.Context) {
	courseID, err := uuid.Parse(c.Query("courseId"))
	if err != nil {
		writeError(c, &domain.ValidationError{Field: "courseId", Message: "must be a uuid"})
		return
	}
	res, err := s.checkout.ValidateCoupon(c.Request.Context(), principal(c), c.Param("code"), courseID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	o, err := s.checkout.GetOrder(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	o, err := s.checkout.CancelOrder(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

func (s *Server) submitTransferProof(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.TransferProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, &domain.ValidationError{Field: "body", Message: "invalid json"})
		return
	}
	o, err := s.checkout.SubmitTransferProof(c.Request.Context(), principal(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

func (s *Server) confirmTransfer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	res, err := s.checkout.ConfirmTransferPayment(c.Request.Context(), principal(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// paymentWebhook always answers 2xx once a delivery is authenticated and
// understood, so the provider only retries on transient failures.
func (s *Server) paymentWebhook(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		writeError(c, fmt.Errorf("read webhook body: %w", err))
		return
	}
	outcome, err := s.webhooks.Process(c.Request.Context(), raw, c.GetHeader(payment.SignatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrSignatureInvalid) {
			log.Warn().
				Str("event", "webhook_signature_invalid").
				Str("remote_addr", c.ClientIP()).
				Int("body_bytes", len(raw)).
				Msg("rejected webhook with invalid signature")
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": outcome})
}
