// Package server exposes the Azure-compatible HTTP surface of the gateway
// on fiber.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/book-expert/speech-gateway/internal/auth"
	"github.com/book-expert/speech-gateway/internal/config"
	"github.com/book-expert/speech-gateway/internal/metrics"
	"github.com/book-expert/speech-gateway/internal/ssml"
	"github.com/book-expert/speech-gateway/internal/synthesis"
	"github.com/book-expert/speech-gateway/internal/voices"
)

// Routes.
const (
	RouteSynthesize = "/cognitiveservices/v1"
	RouteVoices     = "/cognitiveservices/voices/list"
	RouteIssueToken = "/sts/v1.0/issueToken"
	RouteHealth     = "/health"
	RouteMetrics    = "/metrics"
)

const (
	appName         = "speech-gateway"
	shutdownTimeout = 10 * time.Second
)

// Dependencies are the collaborators the HTTP layer is wired to.
type Dependencies struct {
	TTS          config.TTSConfig
	Gate         *auth.Gate
	Parser       *ssml.Parser
	Orchestrator *synthesis.Orchestrator
	Voices       *voices.Proxy
	// Metrics may be nil, which also disables the metrics route.
	Metrics *metrics.Metrics
	Log     *logger.Logger
	// AccessLog receives one entry per request.
	AccessLog zerolog.Logger
	// DetailedErrors logs backend failures with their stack trace.
	DetailedErrors bool
}

// Server is the gateway's HTTP server.
type Server struct {
	app  *fiber.App
	deps Dependencies
}

// New builds the fiber app and registers all routes.
func New(deps Dependencies) *Server {
	server := &Server{deps: deps}

	server.app = fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ErrorHandler:          server.handleError,
	})

	server.app.Use(accessLog(deps.AccessLog, deps.Metrics))
	server.app.Use(recover.New())

	server.register()

	return server
}

func (s *Server) register() {
	protected := requireToken(s.deps.Gate, s.deps.Metrics)

	s.app.Post(RouteSynthesize, protected, s.synthesize)
	s.app.Get(RouteVoices, protected, s.listVoices)
	s.app.Post(RouteIssueToken, s.issueToken)
	s.app.Get(RouteHealth, s.health)

	if s.deps.Metrics != nil {
		s.app.Get(RouteMetrics, adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listenErr := make(chan error, 1)

	go func() {
		listenErr <- s.app.Listen(addr)
	}()

	s.deps.Log.System("Speech gateway listening on %s", addr)

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := s.app.ShutdownWithContext(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	s.deps.Log.Info("HTTP server stopped")

	return <-listenErr
}
