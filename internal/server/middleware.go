package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/book-expert/speech-gateway/internal/auth"
	"github.com/book-expert/speech-gateway/internal/metrics"
)

// Auth rejection reasons used as metric labels.
const (
	reasonMissing      = "missing"
	reasonInvalid      = "invalid"
	reasonSubscription = "subscription_key"
)

// requireToken admits a request only if the gate accepts its Authorization
// header.
func requireToken(gate *auth.Gate, collectors *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := gate.Check(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			reason := reasonInvalid
			if errors.Is(err, auth.ErrAuthMissing) {
				reason = reasonMissing
			}

			collectors.AuthRejected(reason)

			return err
		}

		return c.Next()
	}
}

// accessLog writes one entry per request and records request metrics. Errors
// are rendered by the error handler first so that the logged status is the
// one sent to the client.
func accessLog(log zerolog.Logger, collectors *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()

		chainErr := c.Next()
		if chainErr != nil {
			handlerErr := c.App().ErrorHandler(c, chainErr)
			if handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		elapsed := time.Since(started)
		status := c.Response().StatusCode()

		collectors.ObserveRequest(c.Route().Path, status, elapsed)

		event := log.Info()
		if status >= fiber.StatusInternalServerError {
			event = log.Error()
		}

		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", elapsed).
			Int("bytes", len(c.Response().Body())).
			Msg("request")

		return nil
	}
}
