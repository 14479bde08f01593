package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/book-expert/speech-gateway/internal/core"
)

const openAIPathSuffix = "/v1"

// OpenAIEngine synthesizes through an OpenAI-compatible /v1/audio/speech
// endpoint. Voice names are passed through as given; the remote service
// decides which ones it knows.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

// NewOpenAIEngine creates an engine for the API rooted at baseURL. An empty
// baseURL targets api.openai.com. A zero timeout means none.
func NewOpenAIEngine(baseURL, apiKey, model string, timeout time.Duration) *OpenAIEngine {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = openAIBaseURL(baseURL)
	}

	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIEngine{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

// Synthesize implements core.Synthesizer.
func (e *OpenAIEngine) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	resp, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(e.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(req.Voice),
		ResponseFormat: openai.SpeechResponseFormat(req.Format),
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// openAIBaseURL appends the API version path unless the URL already ends
// with it.
func openAIBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(trimmed, openAIPathSuffix) {
		return trimmed
	}

	return trimmed + openAIPathSuffix
}
