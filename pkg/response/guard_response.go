// Package response provides the API response envelope.
package response

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Response is the standard API response structure.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta contains list metadata.
type Meta struct {
	Total int `json:"total"`
	Limit int `json:"limit,omitempty"`
}

func envelope(c *fiber.Ctx, success bool) Response {
	requestID, _ := c.Locals("request_id").(string)
	return Response{
		Success:   success,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data interface{}) error {
	r := envelope(c, true)
	r.Data = data
	return c.JSON(r)
}

// OKWithMeta returns a successful response with metadata.
func OKWithMeta(c *fiber.Ctx, data interface{}, meta *Meta) error {
	r := envelope(c, true)
	r.Data, r.Meta = data, meta
	return c.JSON(r)
}

// Accepted returns a 202 response for work handed to the background.
func Accepted(c *fiber.Ctx, data interface{}) error {
	r := envelope(c, true)
	r.Data = data
	return c.Status(fiber.StatusAccepted).JSON(r)
}

// NoContent returns a 204 no content response.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// Error returns an error response.
func Error(c *fiber.Ctx, status int, code, message string) error {
	r := envelope(c, false)
	r.Error = &ErrorInfo{Code: code, Message: message}
	return c.Status(status).JSON(r)
}
