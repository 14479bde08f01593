package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/book-expert/speech-gateway/internal/auth"
	"github.com/book-expert/speech-gateway/internal/ssml"
	"github.com/book-expert/speech-gateway/internal/synthesis"
)

// Client-facing error messages.
const (
	msgMissingSSML         = "Missing SSML payload"
	msgInvalidSSML         = "Invalid SSML payload"
	msgMissingAPIKey       = "Missing or invalid API key"
	msgInvalidAPIKey       = "Invalid or expired API key"
	msgInvalidSubscription = "Invalid subscription key"
	msgInternal            = "An internal server error occurred"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string  `json:"error"`
	Details *string `json:"details,omitempty"`
}

// handleError is the fiber error handler: it maps every error a handler
// returns to a status code and a JSON body.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status, body := s.classify(err)

	return c.Status(status).JSON(body)
}

func (s *Server) classify(err error) (int, errorBody) {
	var (
		malformed *ssml.MalformedError
		backend   *synthesis.BackendError
		fiberErr  *fiber.Error
	)

	switch {
	case errors.Is(err, ssml.ErrMissingPayload):
		return fiber.StatusBadRequest, errorBody{Error: msgMissingSSML}
	case errors.As(err, &malformed):
		return fiber.StatusBadRequest, errorBody{Error: fmt.Sprintf("%s: %v", msgInvalidSSML, malformed.Err)}
	case errors.Is(err, ssml.ErrInvalidStructure):
		return fiber.StatusBadRequest, errorBody{Error: msgInvalidSSML}
	case errors.Is(err, auth.ErrAuthMissing):
		return fiber.StatusUnauthorized, errorBody{Error: msgMissingAPIKey}
	case errors.Is(err, auth.ErrAuthInvalid):
		return fiber.StatusUnauthorized, errorBody{Error: msgInvalidAPIKey}
	case errors.Is(err, auth.ErrSubscriptionKey):
		return fiber.StatusUnauthorized, errorBody{Error: msgInvalidSubscription}
	case errors.As(err, &backend):
		s.deps.Log.Error("%s", describeFailure(backend, s.deps.DetailedErrors))

		return fiber.StatusInternalServerError, internalError(backend)
	case errors.As(err, &fiberErr):
		return fiberErr.Code, errorBody{Error: fiberErr.Message}
	default:
		s.deps.Log.Error("%s", describeFailure(err, s.deps.DetailedErrors))

		return fiber.StatusInternalServerError, internalError(err)
	}
}

func internalError(err error) errorBody {
	details := err.Error()

	return errorBody{Error: msgInternal, Details: &details}
}

// describeFailure renders a failure for the service log: message and stack
// trace when detailed is set, the message alone otherwise.
func describeFailure(err error, detailed bool) string {
	if detailed {
		return fmt.Sprintf("Error during request processing: %+v", err)
	}

	return fmt.Sprintf("Error during request processing: %v", err)
}
