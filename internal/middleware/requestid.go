package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const (
	localRequestID = "request_id"
	localLogger    = "logger"
)

// RequestID tags each request with an id, reusing one the client sent.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     HeaderRequestID,
		Generator:  uuid.NewString,
		ContextKey: localRequestID,
	})
}

// RequestLogger stores a logger carrying the request id for the handlers.
// It runs after RequestID.
func RequestLogger(log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		c.Locals(localLogger, log.With(zap.String("request_id", GetRequestID(c))))
		return c.Next()
	}
}

// Logger returns the request's logger, or fallback outside RequestLogger.
func Logger(c *fiber.Ctx, fallback *zap.Logger) *zap.Logger {
	if l, ok := c.Locals(localLogger).(*zap.Logger); ok {
		return l
	}
	return fallback
}

// GetRequestID returns the id RequestID assigned, if any.
func GetRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(localRequestID).(string)
	return id
}
