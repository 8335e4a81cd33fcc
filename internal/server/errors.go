package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/classsphere/classsphere/internal/payment/domain"
	"github.com/classsphere/classsphere/internal/payment/gateway"
	walletdomain "github.com/classsphere/classsphere/internal/wallet/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

// ErrorHandlingMiddleware converts errors attached to the gin context
// into a single JSON error response after the handler chain finishes.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    err.Error(),
			Message: "validation error",
		}
	case errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, walletdomain.ErrWalletNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    err.Error(),
			Message: "not found",
		}
	case errors.Is(err, paymentdomain.ErrNotRefundable),
		errors.Is(err, paymentdomain.ErrNotCancellable),
		errors.Is(err, walletdomain.ErrInsufficientFunds):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    err.Error(),
			Message: "conflict",
		}
	case errors.Is(err, gateway.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    "invalid_signature",
			Message: "invalid signature",
		}
	case gateway.IsRetryable(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "gateway_unavailable",
			Code:    "gateway_retryable",
			Message: "payment gateway temporarily unavailable",
		}
	case gateway.IsFatal(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Code:    "gateway_fatal",
			Message: "payment gateway rejected the request",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	for _, candidate := range []error{
		ErrInvalidRequest,
		paymentdomain.ErrInvalidParent,
		paymentdomain.ErrInvalidAmount,
		paymentdomain.ErrInvalidType,
		paymentdomain.ErrInvalidMethod,
		paymentdomain.ErrInvalidEmail,
		paymentdomain.ErrInvalidItems,
		paymentdomain.ErrItemSumMismatch,
		paymentdomain.ErrRefundExceeds,
		walletdomain.ErrInvalidAmount,
		walletdomain.ErrInvalidReference,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
