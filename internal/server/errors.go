package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorHandler renders every error as an ErrorResponse.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	resp := ErrorResponse{Code: "internal", Message: "internal server error"}

	var he *echo.HTTPError
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		resp = ErrorResponse{Code: "invalid_request", Message: ve.Error()}
	case errors.As(err, &he):
		status = he.Code
		resp = ErrorResponse{Code: codeFor(status), Message: http.StatusText(status)}
		if msg, ok := he.Message.(string); ok {
			resp.Message = msg
		}
	default:
		slog.Error("Unhandled request error", "error", err, "path", c.Path())
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, resp)
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= 500 {
			return "internal"
		}
		return "error"
	}
}
