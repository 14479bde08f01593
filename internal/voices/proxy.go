package voices

import (
	"context"

	"github.com/book-expert/speech-gateway/internal/core"
	"github.com/book-expert/speech-gateway/internal/synthesis"
)

// Query parameters read by LocaleFilter, in order of precedence.
const (
	LanguageParam = "language"
	LocaleParam   = "locale"
)

// Proxy forwards voice list requests to a catalog.
type Proxy struct {
	catalog core.VoiceCatalog
}

// NewProxy creates a proxy over catalog.
func NewProxy(catalog core.VoiceCatalog) *Proxy {
	return &Proxy{catalog: catalog}
}

// LocaleFilter returns the first non-empty value of the language and locale
// query parameters. An empty result means no filter.
func LocaleFilter(query func(key string) string) string {
	if language := query(LanguageParam); language != "" {
		return language
	}

	return query(LocaleParam)
}

// List returns the catalog's voices unmodified. A catalog failure is
// returned as *synthesis.BackendError.
func (p *Proxy) List(ctx context.Context, locale string) ([]core.VoiceDescriptor, error) {
	voices, err := p.catalog.ListVoices(ctx, locale)
	if err != nil {
		return nil, synthesis.NewBackendError(err)
	}

	if voices == nil {
		voices = []core.VoiceDescriptor{}
	}

	return voices, nil
}
