package server

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/book-expert/speech-gateway/internal/audio"
	"github.com/book-expert/speech-gateway/internal/core"
	"github.com/book-expert/speech-gateway/internal/voices"
)

// Request headers read by the handlers.
const (
	HeaderOutputFormat    = "X-Microsoft-OutputFormat"
	HeaderSubscriptionKey = "Ocp-Apim-Subscription-Key"
)

// synthesize handles POST /cognitiveservices/v1.
func (s *Server) synthesize(c *fiber.Ctx) error {
	parsed, err := s.deps.Parser.Parse(c.Body())
	if err != nil {
		return err
	}

	format, mimeType := audio.Negotiate(c.Get(HeaderOutputFormat))

	result, err := s.deps.Orchestrator.Synthesize(c.UserContext(), core.SpeechRequest{
		Text:     parsed.Text,
		Voice:    parsed.Voice,
		Language: s.deps.TTS.DefaultLanguage,
		Format:   format,
		Speed:    s.deps.TTS.DefaultSpeed,
	})
	if err != nil {
		return err
	}

	data, err := result.Consume()
	if err != nil {
		return fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	c.Set(fiber.HeaderContentType, mimeType)

	return c.Send(data)
}

// listVoices handles GET /cognitiveservices/voices/list.
func (s *Server) listVoices(c *fiber.Ctx) error {
	// fasthttp reuses the query buffer once the handler returns.
	locale := strings.Clone(voices.LocaleFilter(func(key string) string { return c.Query(key) }))

	list, err := s.deps.Voices.List(c.UserContext(), locale)
	if err != nil {
		return err
	}

	return c.JSON(list)
}

// issueToken handles POST /sts/v1.0/issueToken.
func (s *Server) issueToken(c *fiber.Ctx) error {
	token, err := s.deps.Gate.IssueToken(c.Get(HeaderSubscriptionKey))
	if err != nil {
		s.deps.Metrics.AuthRejected(reasonSubscription)

		return err
	}

	s.deps.Metrics.TokenIssued()
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)

	return c.SendString(token)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
