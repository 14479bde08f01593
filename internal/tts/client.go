// Package tts provides the backend synthesis engines the gateway delegates
// to: an HTTP speech service, an OpenAI-compatible speech API and a local
// command.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/book-expert/speech-gateway/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiVoices         = "/v1/voices"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// Error messages.
const (
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceError         = "TTS service error (%s): %s"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s, body: %s"
)

// Static errors.
var (
	ErrTextEmpty              = errors.New("text cannot be empty")
	ErrEmptyAudio             = errors.New("received empty audio data")
	ErrUnexpectedContentType  = errors.New("unexpected content type")
	ErrUnexpectedVoiceListing = errors.New("unexpected voice listing")
)

// HTTPClient talks to a standalone TTS HTTP service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
}

// SpeechPayload is the JSON body of a generation request.
type SpeechPayload struct {
	Text           string  `json:"text"`
	Voice          string  `json:"voice"`
	Language       string  `json:"language,omitempty"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

// NewHTTPClient creates a client for the service at baseURL
// (e.g. "http://localhost:8000"). A zero timeout means none.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize implements core.Synthesizer. The service must answer with
// audio in the requested container.
func (c *HTTPClient) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	requestBody, err := json.Marshal(SpeechPayload{
		Text:           req.Text,
		Voice:          req.Voice,
		Language:       req.Language,
		ResponseFormat: string(req.Format),
		Speed:          req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, req.Format.MIMEType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !isAudioContentType(contentType) {
		return nil, fmt.Errorf("%w: expected %s, got %s",
			ErrUnexpectedContentType, req.Format.MIMEType(), contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// ListVoices asks the service for its voices. The service may answer with a
// bare JSON array or with an object holding a "voices" array.
func (c *HTTPClient) ListVoices(ctx context.Context, locale string) ([]core.VoiceDescriptor, error) {
	endpoint := c.baseURL + apiVoices
	if locale != "" {
		endpoint += "?" + url.Values{"locale": {locale}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create voices request: %w", err)
	}

	req.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice listing failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read voices: %w", err)
	}

	listing := gjson.ParseBytes(body)
	if !listing.IsArray() {
		listing = listing.Get("voices")
	}

	if !listing.IsArray() {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedVoiceListing, truncate(string(body)))
	}

	voices := make([]core.VoiceDescriptor, 0)

	err = json.Unmarshal([]byte(listing.Raw), &voices)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}

	return voices, nil
}

// HealthCheck verifies that the TTS service is running.
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse extracts a diagnostic from an error body. It understands
// FastAPI style {"detail": ..., "error_code": ...} and OpenAI style
// {"error": {"message": ...}} bodies and falls back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, readErr.Error())
	}

	if gjson.ValidBytes(body) {
		result := gjson.GetManyBytes(body, "detail", "error_code", "error.message")
		detail, code, message := result[0], result[1], result[2]

		switch {
		case detail.Exists() && code.Exists():
			return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, detail.String(), code.String())
		case detail.Exists():
			return fmt.Errorf(errFmtServiceError, resp.Status, detail.String())
		case message.Exists():
			return fmt.Errorf(errFmtServiceError, resp.Status, message.String())
		}
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, truncate(string(body)))
}

// isAudioContentType accepts audio/* and generic binary responses. A missing
// header is accepted too.
func isAudioContentType(contentType string) bool {
	if contentType == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return strings.HasPrefix(mediaType, "audio/") || mediaType == contentTypeBinary
}

const maxErrorBody = 512

func truncate(body string) string {
	if len(body) <= maxErrorBody {
		return body
	}

	return body[:maxErrorBody] + "..."
}
