package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned alongside the error message
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeNotConfigured       = "NOT_CONFIGURED"
	ErrCodeOrderRejected       = "ORDER_REJECTED"
	ErrCodeExchangeUnavailable = "EXCHANGE_UNAVAILABLE"
	ErrCodeStaleData           = "STALE_DATA"
)

// Success sends {"success": true, ...fields}
func Success(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Fail sends {"success": false, "error": message, "code": code}
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// Handle sends data under key on success, or maps err onto a status code
func Handle(c *gin.Context, key string, data interface{}, err error) {
	if err == nil {
		Success(c, gin.H{key: data})
		return
	}
	handleError(c, err)
}

func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

func TooManyRequests(c *gin.Context, message string) {
	Fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

func InternalError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	var stale interface{ Stale() bool }
	if errors.As(err, &stale) && stale.Stale() {
		Fail(c, http.StatusServiceUnavailable, ErrCodeStaleData, err.Error())
		return
	}

	var kinded interface{ ErrorKind() string }
	if !errors.As(err, &kinded) {
		InternalError(c, "An unexpected error occurred")
		return
	}

	switch kinded.ErrorKind() {
	case "configuration":
		Fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, err.Error())
	case "invalid_request":
		BadRequest(c, err.Error())
	case "rejected":
		Fail(c, http.StatusUnprocessableEntity, ErrCodeOrderRejected, err.Error())
	case "transient", "malformed":
		Fail(c, http.StatusBadGateway, ErrCodeExchangeUnavailable, err.Error())
	default:
		InternalError(c, "An unexpected error occurred")
	}
}
