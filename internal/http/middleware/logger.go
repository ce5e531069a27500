package middleware

import (
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"bloodreport/internal/logging"
)

// Logger logs each HTTP request as one JSON line through the default logger.
func Logger() fiber.Handler {
	return logRequests(logging.Default())
}

// LoggerWithWriter is Logger writing to w with timestamps in loc.
func LoggerWithWriter(w io.Writer, loc *time.Location) fiber.Handler {
	return logRequests(logging.New(w, loc))
}

// logRequests records request_id, method, path, status and latency (ms) after the handler ran.
func logRequests(l *logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		rid, _ := c.Locals(RequestIDLocalKey).(string)
		status := statusOf(c, err)
		entry := map[string]any{
			"request_id": rid,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency":    float64(time.Since(start).Microseconds()) / 1000,
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			entry["level"] = "error"
		case status >= fiber.StatusBadRequest:
			entry["level"] = "warn"
		}
		l.Log(entry)

		return err
	}
}

// statusOf is the status the client will see. Errors returned to fiber are rendered later by
// the ErrorHandler, so the response code is not final yet.
func statusOf(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}
