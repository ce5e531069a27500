package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"
	// RequestIDLocalKey is where the ID is kept in fiber locals.
	RequestIDLocalKey = "request_id"
	// maxRequestIDLen bounds caller-supplied IDs so they cannot bloat logs.
	maxRequestIDLen = 128
)

// RequestID makes sure every request has an ID. A caller-supplied X-Request-ID is kept,
// otherwise a UUID is generated. The ID is echoed in the response header.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		c.Locals(RequestIDLocalKey, id)
		c.Set(RequestIDHeader, id)

		return c.Next()
	}
}
