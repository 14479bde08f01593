package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-gateway/internal/tts"
)

func TestOpenAIEngine_Synthesize(t *testing.T) {
	t.Parallel()

	server := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/v1/audio/speech": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

			var payload map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "tts-1", payload["model"])
			assert.Equal(t, testText, payload["input"])
			assert.Equal(t, "alloy", payload["voice"])
			assert.Equal(t, "wav", payload["response_format"])
			assert.InDelta(t, 1.25, payload["speed"], 0.0001)

			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write([]byte(testAudio))
		},
	})

	engine := tts.NewOpenAIEngine(server.URL, "sk-test", "tts-1", 5*time.Second)
	req := testRequest()
	req.Voice = "alloy"

	audioData, err := engine.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, testAudio, string(audioData))
}

func TestOpenAIEngine_BaseURLWithVersion(t *testing.T) {
	t.Parallel()

	server := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/v1/audio/speech": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(testAudio))
		},
	})

	engine := tts.NewOpenAIEngine(server.URL+"/v1/", "key", "tts-1", 5*time.Second)

	audioData, err := engine.Synthesize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, testAudio, string(audioData))
}

func TestOpenAIEngine_Errors(t *testing.T) {
	t.Parallel()

	server := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/v1/audio/speech": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
		},
	})

	engine := tts.NewOpenAIEngine(server.URL, "key", "tts-1", 5*time.Second)

	_, err := engine.Synthesize(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	req := testRequest()
	req.Text = ""
	_, err = engine.Synthesize(context.Background(), req)
	require.ErrorIs(t, err, tts.ErrTextEmpty)
}
