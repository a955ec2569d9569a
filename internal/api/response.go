package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"agilewatch/internal/rates"
	"agilewatch/internal/service"
)

// Response is the envelope of every API reply.
type Response struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func dataResponse(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func successResponse(c echo.Context, data any) error {
	return dataResponse(c, http.StatusOK, data)
}

func errorResponse(c echo.Context, status int, msg string, data any) error {
	return c.JSON(status, Response{Status: status, Message: msg, Data: data})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rates.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, rates.ErrNotYetEligible), errors.Is(err, service.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, rates.ErrFetchAuth), errors.Is(err, rates.ErrFetchTransport), errors.Is(err, rates.ErrFetchEmpty):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func appErrorResponse(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Something went wrong"
	}
	return errorResponse(c, status, msg, nil)
}
