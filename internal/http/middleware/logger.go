package middleware

import (
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"projectapi/internal/logger"
)

// Logger logs each HTTP request through the process-wide zap logger.
func Logger() fiber.Handler {
	return requestLogger(logger.L)
}

// LoggerWithWriter logs each request as one JSON line to w.
func LoggerWithWriter(w io.Writer) fiber.Handler {
	l := logger.New(w, zapcore.DebugLevel)
	return requestLogger(func() *zap.Logger { return l })
}

// requestLogger emits request_id, method, path, status and latency (ms).
// Server errors log at error level, client errors at warn.
func requestLogger(get func() *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := statusOf(c, err)
		latency := float64(time.Since(start).Microseconds()) / 1000

		fields := []zap.Field{
			zap.String("request_id", RequestIDFrom(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Float64("latency", latency),
		}

		l := get()
		switch {
		case status >= fiber.StatusInternalServerError:
			l.Error("request", fields...)
		case status >= fiber.StatusBadRequest:
			l.Warn("request", fields...)
		default:
			l.Info("request", fields...)
		}

		return err
	}
}
