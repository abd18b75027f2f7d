package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // bad_request, not_found, report_source_unavailable, ...
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// Error codes shared by REST, GraphQL and WebSocket responses.
const (
	codeBadRequest        = "bad_request"
	codeNotFound          = "not_found"
	codeSourceUnavailable = "report_source_unavailable"
	codeTimeout           = "timeout"
	codeInternal          = "internal_error"
)

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, codeBadRequest, msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusNotFound, codeNotFound, msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusInternalServerError, codeInternal, msg)
}

// errUnavailable returns a 503 error asking the client to retry shortly.
func errUnavailable(c *fiber.Ctx, msg string) error {
	c.Set(fiber.HeaderRetryAfter, "5")
	return newError(c, fiber.StatusServiceUnavailable, codeSourceUnavailable, msg)
}

// classify maps a service error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return fiber.StatusBadRequest, codeBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		// Fetch timeouts are also wrapped as source errors; the deadline wins.
		return fiber.StatusGatewayTimeout, codeTimeout
	case errors.Is(err, domain.ErrReportSourceUnavailable):
		return fiber.StatusServiceUnavailable, codeSourceUnavailable
	default:
		return fiber.StatusInternalServerError, codeInternal
	}
}

// errFromService writes the response for an error returned by the heatmap
// use case. Only invalid-query messages are echoed to the client.
func errFromService(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	switch code {
	case codeBadRequest:
		return errBadRequest(c, err.Error())
	case codeSourceUnavailable:
		LoggerFromCtx(c.UserContext()).Warn("report source unavailable", "error", err)
		return errUnavailable(c, "report store is temporarily unavailable")
	case codeTimeout:
		LoggerFromCtx(c.UserContext()).Warn("heatmap request timed out", "error", err)
		return newError(c, status, code, "heatmap request timed out")
	default:
		LoggerFromCtx(c.UserContext()).Error("heatmap request failed", "error", err)
		return errInternal(c, "could not compute heatmap")
	}
}
