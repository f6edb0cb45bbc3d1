package remote

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"livecast/internal/domain"
)

// Response is the envelope every API route returns.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// failure writes err with the status it maps to. data, when not nil, is
// the state after the failed call.
func failure(c *gin.Context, err error, data any) {
	status, code := classify(err)
	c.JSON(status, Response{
		Success: false,
		Data:    data,
		Error:   &ErrorInfo{Code: code, Message: err.Error()},
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   &ErrorInfo{Code: "BAD_REQUEST", Message: message},
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAlreadySessionActive):
		return http.StatusConflict, "SESSION_ACTIVE"
	case errors.Is(err, domain.ErrNotLive):
		return http.StatusConflict, "NOT_LIVE"
	case errors.Is(err, domain.ErrInvalidForm):
		return http.StatusBadRequest, "INVALID_FORM"
	case errors.Is(err, domain.ErrStreamCreationFailed):
		return http.StatusBadGateway, "STREAM_CREATION_FAILED"
	case errors.Is(err, domain.ErrGoLiveFailed):
		return http.StatusBadGateway, "GO_LIVE_FAILED"
	case errors.Is(err, domain.ErrBackendNotificationFailed):
		return http.StatusBadGateway, "STOP_NOTIFY_FAILED"
	case errors.Is(err, domain.ErrUserCancelled):
		return http.StatusFailedDependency, "USER_CANCELLED"
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrNoDeviceFound),
		errors.Is(err, domain.ErrConstraintsUnsatisfiable), errors.Is(err, domain.ErrDeviceFailure):
		return http.StatusFailedDependency, "DEVICE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
