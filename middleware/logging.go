package middleware

import (
	"time"

	"mahjong-league/logging"
	"mahjong-league/metrics"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RequestLogger logs every request and records it in m.
func RequestLogger(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.IncRequestsInFlight()
		defer m.DecRequestsInFlight()

		err := c.Next()
		if err != nil {
			// Let the app error handler write the response so the status is final.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		route := c.Route().Path
		took := time.Since(start)
		m.RecordHTTPRequest(c.Method(), route, status, took)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("took", took),
			zap.String("ip", c.IP()),
		}
		switch {
		case status >= 500:
			logging.L().Error("[HTTP] request", fields...)
		case status >= 400:
			logging.L().Warn("[HTTP] request", fields...)
		default:
			logging.L().Debug("[HTTP] request", fields...)
		}
		return nil
	}
}
