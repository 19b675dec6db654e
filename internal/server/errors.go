package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	financedomain "github.com/AlexProc13/external-payment/internal/finance/domain"
)

// APIError carries an HTTP status with a stable machine-readable code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string { return e.Code }

func invalidRequestError() *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: "invalid_request"}
}

func rateLimitedError() *APIError {
	return &APIError{Status: http.StatusTooManyRequests, Code: "rate_limited"}
}

// AbortWithError renders a domain error as a JSON error envelope. Business
// rule rejections are client errors; unknown errors stay opaque.
func AbortWithError(c *gin.Context, err error) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		abortJSON(c, apiErr.Status, apiErr.Code, apiErr.Message)
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case isValidationError(err):
		status = http.StatusBadRequest
		code = err.Error()
	case errors.Is(err, financedomain.ErrWrongSignature),
		errors.Is(err, financedomain.ErrWrongStatus),
		errors.Is(err, financedomain.ErrInvalidPayload):
		status = http.StatusBadRequest
		code = err.Error()
	case errors.Is(err, financedomain.ErrProviderNotFound),
		errors.Is(err, financedomain.ErrInvoiceNotFound),
		errors.Is(err, financedomain.ErrUserNotFound):
		status = http.StatusNotFound
		code = err.Error()
	}
	abortJSON(c, status, code, "")
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, financedomain.ErrRequiredParameter),
		errors.Is(err, financedomain.ErrInvalidDirection),
		errors.Is(err, financedomain.ErrWageringNotMet),
		errors.Is(err, financedomain.ErrBonusWithdrawalLocked),
		errors.Is(err, financedomain.ErrAmountBelowMin),
		errors.Is(err, financedomain.ErrAmountAboveMax),
		errors.Is(err, financedomain.ErrDailyLimitExceeded),
		errors.Is(err, financedomain.ErrWithdrawalPending),
		errors.Is(err, financedomain.ErrNotEnoughBalance):
		return true
	default:
		return false
	}
}

func abortJSON(c *gin.Context, status int, code, message string) {
	payload := gin.H{"code": code}
	if message != "" {
		payload["message"] = message
	}
	c.AbortWithStatusJSON(status, gin.H{"error": payload})
}
