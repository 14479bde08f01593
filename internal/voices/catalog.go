// Package voices serves the voice list: a proxy that extracts the locale
// filter from a request and forwards it to a catalog, and the catalogs
// themselves.
package voices

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/book-expert/speech-gateway/internal/config"
	"github.com/book-expert/speech-gateway/internal/core"
)

const localeField = "Locale"

//go:embed voices.yaml
var defaultCatalog []byte

// Static errors.
var (
	ErrEmptyCatalog  = errors.New("voice catalog is empty")
	ErrNoEngineVoice = errors.New("engine voice catalog requested but the engine cannot list voices")
)

// FileCatalog is a fixed list of Azure-shaped voice descriptors.
type FileCatalog struct {
	voices []core.VoiceDescriptor
}

// NewFileCatalog parses a YAML list of voice descriptors.
func NewFileCatalog(data []byte) (*FileCatalog, error) {
	var voices []core.VoiceDescriptor

	err := yaml.Unmarshal(data, &voices)
	if err != nil {
		return nil, fmt.Errorf("failed to parse voice catalog: %w", err)
	}

	if len(voices) == 0 {
		return nil, ErrEmptyCatalog
	}

	return &FileCatalog{voices: voices}, nil
}

// LoadFileCatalog reads a catalog from path, or the built-in catalog when
// path is empty.
func LoadFileCatalog(path string) (*FileCatalog, error) {
	if path == "" {
		return NewFileCatalog(defaultCatalog)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice catalog: %w", err)
	}

	return NewFileCatalog(data)
}

// ListVoices returns the voices whose Locale starts with locale, ignoring
// case, so "en" matches "en-US" and "en-GB". An empty locale returns all.
func (c *FileCatalog) ListVoices(_ context.Context, locale string) ([]core.VoiceDescriptor, error) {
	matched := make([]core.VoiceDescriptor, 0, len(c.voices))

	for _, voice := range c.voices {
		if locale == "" || hasLocalePrefix(voice, locale) {
			matched = append(matched, voice)
		}
	}

	return matched, nil
}

func hasLocalePrefix(voice core.VoiceDescriptor, locale string) bool {
	value, ok := voice[localeField].(string)
	if !ok {
		return false
	}

	return len(value) >= len(locale) && strings.EqualFold(value[:len(locale)], locale)
}

// NewCatalog picks the catalog configured in cfg. engineCatalog is the
// engine's own listing and may be nil.
func NewCatalog(cfg config.VoicesConfig, engineCatalog core.VoiceCatalog) (core.VoiceCatalog, error) {
	switch cfg.Source {
	case config.VoicesFromEngine:
		if engineCatalog == nil {
			return nil, ErrNoEngineVoice
		}

		return engineCatalog, nil
	case config.VoicesFromFile:
		return LoadFileCatalog(cfg.File)
	default:
		return nil, fmt.Errorf("%w: '%s'", config.ErrUnknownVoices, cfg.Source)
	}
}
