package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-gateway/internal/config"
	"github.com/book-expert/speech-gateway/internal/core"
)

// HealthCheckTimeout bounds the startup probe of an HTTP engine.
const HealthCheckTimeout = 10 * time.Second

// ErrNoVoiceListing is returned when the configured engine cannot list voices.
var ErrNoVoiceListing = errors.New("engine does not support voice listing")

// Engine is a synthesizer built from configuration. Catalog is nil unless
// the engine can list its own voices.
type Engine struct {
	core.Synthesizer

	Kind    string
	Catalog core.VoiceCatalog
	health  func(ctx context.Context) error
}

// NewEngine builds the engine selected by cfg.Engine.Kind.
func NewEngine(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	timeout := cfg.EngineTimeout()

	switch cfg.Engine.Kind {
	case config.EngineHTTP:
		client := NewHTTPClient(cfg.Engine.URL, timeout)

		return &Engine{
			Synthesizer: client,
			Kind:        cfg.Engine.Kind,
			Catalog:     client,
			health:      client.HealthCheck,
		}, nil
	case config.EngineOpenAI:
		return &Engine{
			Synthesizer: NewOpenAIEngine(cfg.Engine.URL, cfg.Engine.APIKey, cfg.Engine.Model, timeout),
			Kind:        cfg.Engine.Kind,
		}, nil
	case config.EngineCommand:
		command, err := NewCommandEngine(cfg.Engine.Command, log)
		if err != nil {
			return nil, err
		}

		return &Engine{Synthesizer: command, Kind: cfg.Engine.Kind}, nil
	default:
		return nil, fmt.Errorf("%w: '%s'", config.ErrUnknownEngine, cfg.Engine.Kind)
	}
}

// HealthCheck probes the engine if it exposes a health endpoint. Engines
// without one always report healthy.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.health == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	err := e.health(ctx)
	if err != nil {
		return fmt.Errorf("TTS service health check failed: %w", err)
	}

	return nil
}

// VoiceCatalog returns the engine's own catalog or ErrNoVoiceListing.
func (e *Engine) VoiceCatalog() (core.VoiceCatalog, error) {
	if e.Catalog == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoVoiceListing, e.Kind)
	}

	return e.Catalog, nil
}
