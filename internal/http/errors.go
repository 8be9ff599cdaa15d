package httpapi

import (
	"errors"
	"net/http"

	"academy-checkout/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`

	OpenOrder *domain.OrderSnapshot `json:"openOrder,omitempty"`
}

func mapErrorToStatus(err error) int {
	var (
		blocked    *domain.BlockedError
		validation *domain.ValidationError
		coupon     *domain.CouponRejectedError
		provider   *domain.ProviderError
		conflict   *domain.StateConflictError
		open       *domain.OpenOrderError
	)
	switch {
	case errors.Is(err, errUnauthenticated), errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.As(err, &blocked), errors.As(err, &conflict), errors.As(err, &open),
		errors.Is(err, domain.ErrCheckoutInProgress):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &coupon):
		return http.StatusUnprocessableEntity
	case errors.As(err, &provider):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrCourseNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) errorResponse {
	var (
		blocked    *domain.BlockedError
		validation *domain.ValidationError
		coupon     *domain.CouponRejectedError
		provider   *domain.ProviderError
		conflict   *domain.StateConflictError
		open       *domain.OpenOrderError
	)
	switch {
	case errors.As(err, &open):
		return errorResponse{Error: err.Error(), Code: "open_order", OpenOrder: &open.Order}
	case errors.As(err, &blocked):
		return errorResponse{Error: err.Error(), Code: "blocked", Reason: string(blocked.Reason)}
	case errors.As(err, &validation):
		return errorResponse{Error: err.Error(), Code: "validation", Field: validation.Field}
	case errors.As(err, &coupon):
		return errorResponse{Error: err.Error(), Code: "coupon_rejected", Reason: string(coupon.Reason)}
	case errors.As(err, &provider):
		return errorResponse{Error: "payment provider unavailable, please retry", Code: "provider", Retryable: true}
	case errors.As(err, &conflict):
		return errorResponse{Error: err.Error(), Code: "state_conflict", Reason: string(conflict.From)}
	case errors.Is(err, domain.ErrCheckoutInProgress):
		return errorResponse{Error: err.Error(), Code: "in_progress", Retryable: true}
	}
	if mapErrorToStatus(err) == http.StatusInternalServerError {
		return errorResponse{Error: "internal error", Code: "internal", Retryable: true}
	}
	return errorResponse{Error: err.Error()}
}

func writeError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, errorBody(err))
}
