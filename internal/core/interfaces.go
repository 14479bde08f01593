// Package core defines the collaborator interfaces the speech gateway
// delegates to: the synthesis engine, the text normalizer, the voice catalog
// and the blob store used by the async worker.
package core

import (
	"context"

	"github.com/book-expert/speech-gateway/internal/audio"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeechRequest is what the gateway asks an engine to speak.
type SpeechRequest struct {
	Text     string
	Voice    string
	Language string
	Format   audio.Format
	Speed    float64
}

// Synthesizer defines the interface for a backend speech synthesis engine.
// It returns the encoded audio in the requested format.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// TextNormalizer rewrites text before it is spoken.
type TextNormalizer interface {
	Normalize(text string) string
}

// NormalizerFunc adapts a plain function to TextNormalizer.
type NormalizerFunc func(text string) string

// Normalize implements TextNormalizer.
func (f NormalizerFunc) Normalize(text string) string {
	return f(text)
}

// VoiceDescriptor is an opaque voice entry; the gateway forwards it untouched.
type VoiceDescriptor map[string]any

// VoiceCatalog lists voices, optionally filtered by locale. An empty locale
// means no filter.
type VoiceCatalog interface {
	ListVoices(ctx context.Context, locale string) ([]VoiceDescriptor, error)
}
