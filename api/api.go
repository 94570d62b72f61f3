// Package api defines the JSON response envelope shared by every /api/
// endpoint: the root content API, the newsletter handlers, and the
// engagement ingest surface all answer with the same shape.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error codes used in API responses.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeRateLimit    = "RATE_LIMIT_EXCEEDED"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL_ERROR"
)

// Error is the error half of the response envelope.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Response is the envelope every /api/ endpoint responds with.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Error   *Error `json:"error"`
}

// OK writes a success envelope with the given payload.
func OK(c echo.Context, status int, data any) error {
	return c.JSON(status, Response{Success: true, Data: data})
}

// Fail writes an error envelope with the given code and message.
func Fail(c echo.Context, status int, code, message string) error {
	return c.JSON(status, Response{Success: false, Error: &Error{Message: message, Code: code}})
}

// FailInternal logs err and writes a generic internal error envelope.
func FailInternal(c echo.Context, err error) error {
	c.Logger().Errorf("internal error: %v", err)
	return Fail(c, http.StatusInternalServerError, CodeInternal, "Internal server error")
}
