package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-gateway/internal/audio"
	"github.com/book-expert/speech-gateway/internal/core"
	"github.com/book-expert/speech-gateway/internal/tts"
)

const (
	testText  = "Hello, world!"
	testVoice = "en-US-AvaNeural"
	testAudio = "RIFF....WAVE"
)

func testRequest() core.SpeechRequest {
	return core.SpeechRequest{
		Text:     testText,
		Voice:    testVoice,
		Language: "en-US",
		Format:   audio.FormatWAV,
		Speed:    1.25,
	}
}

// createMockTTSServer routes requests by path to the given handlers.
func createMockTTSServer(
	t *testing.T,
	responses map[string]http.HandlerFunc,
) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(
		http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			handler, exists := responses[request.URL.Path]
			if !exists {
				t.Errorf("Unexpected request path: %s", request.URL.Path)
				responseWriter.WriteHeader(http.StatusNotFound)

				return
			}

			handler(responseWriter, request)
		}),
	)
	t.Cleanup(server.Close)

	return server
}

func TestHTTPClient_Synthesize_Success(t *testing.T) {
	t.Parallel()

	server := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/v1/generate/speech": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "audio/wav", r.Header.Get("Accept"))

			var payload tts.SpeechPayload
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, tts.SpeechPayload{
				Text:           testText,
				Voice:          testVoice,
				Language:       "en-US",
				ResponseFormat: "wav",
				Speed:          1.25,
			}, payload)

			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write([]byte(testAudio))
		},
	})

	client := tts.NewHTTPClient(server.URL+"/", 10*time.Second)

	audioData, err := client.Synthesize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, testAudio, string(audioData))
}

func TestHTTPClient_Synthesize_EmptyText(t *testing.T) {
	t.Parallel()

	client := tts.NewHTTPClient("http://localhost:8000", time.Second)
	req := testRequest()
	req.Text = ""

	_, err := client.Synthesize(context.Background(), req)
	require.ErrorIs(t, err, tts.ErrTextEmpty)
}

func TestHTTPClient_Synthesize_ServiceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		contains    []string
	}{
		{
			name:        "detail with code",
			contentType: "application/json",
			body:        `{"detail":"Invalid speaker reference path","error_code":"INVALID_SPEAKER_PATH"}`,
			contains:    []string{"Invalid speaker reference path", "INVALID_SPEAKER_PATH", "400"},
		},
		{
			name:        "detail only",
			contentType: "application/json",
			body:        `{"detail":"voice not found"}`,
			contains:    []string{"voice not found"},
		},
		{
			name:        "openai style",
			contentType: "application/json",
			body:        `{"error":{"message":"rate limited","type":"requests"}}`,
			contains:    []string{"rate limited"},
		},
		{
			name:        "plain text",
			contentType: "text/plain",
			body:        "upstream exploded",
			contains:    []string{"non-OK status", "upstream exploded"},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := createMockTTSServer(t, map[string]http.HandlerFunc{
				"/v1/generate/speech": func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", testCase.contentType)
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(testCase.body))
				},
			})

			_, err := tts.NewHTTPClient(server.URL, time.Second).
				Synthesize(context.Background(), testRequest())
			require.Error(t, err)

			for _, fragment := range testCase.contains {
				assert.Contains(t, err.Error(), fragment)
			}
		})
	}
}

func TestHTTPClient_Synthesize_ContentTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		wantErr     bool
	}{
		{contentType: "audio/wav", wantErr: false},
		{contentType: "audio/mpeg; charset=binary", wantErr: false},
		{contentType: "application/octet-stream", wantErr: false},
		{contentType: "application/json", wantErr: true},
		{contentType: "text/html", wantErr: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.contentType, func(t *testing.T) {
			t.Parallel()

			server := createMockTTSServer(t, map[string]http.HandlerFunc{
				"/v1/generate/speech": func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", testCase.contentType)
					_, _ = w.Write([]byte(testAudio))
				},
			})

			_, err := tts.NewHTTPClient(server.URL, time.Second).
				Synthesize(context.Background(), testRequest())
			if testCase.wantErr {
				require.ErrorIs(t, err, tts.ErrUnexpectedContentType)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestHTTPClient_Synthesize_EmptyAudio(t *testing.T) {
	t.Parallel()

	server := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/v1/generate/speech": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "audio/wav")
			w.WriteHeader(http.StatusOK)
		},
	})

	_, err := tts.NewHTTPClient(server.URL, time.Second).
		Synthesize(context.Background(), testRequest())
	require.ErrorIs(t, err, tts.ErrEmptyAudio)
}

func TestHTTPClient_Synthesize_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/v1/generate/speech": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		},
	})
	t.Cleanup(func() { close(release) })

	_, err := tts.NewHTTPClient(server.URL, 50*time.Millisecond).
		Synthesize(context.Background(), testRequest())
	require.Error(t, err)
}

func TestHTTPClient_ListVoices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "bare array", body: `[{"ShortName":"en-US-AvaNeural","Locale":"en-US"}]`},
		{name: "wrapped", body: `{"voices":[{"ShortName":"en-US-AvaNeural","Locale":"en-US"}]}`},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := createMockTTSServer(t, map[string]http.HandlerFunc{
				"/v1/voices": func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "en-US", r.URL.Query().Get("locale"))
					w.Header().Set("Content-Type", "application/json")
					_, _ = w.Write([]byte(testCase.body))
				},
			})

			voices, err := tts.NewHTTPClient(server.URL, time.Second).
				ListVoices(context.Background(), "en-US")
			require.NoError(t, err)
			require.Len(t, voices, 1)
			assert.Equal(t, "en-US-AvaNeural", voices[0]["ShortName"])
		})
	}
}

func TestHTTPClient_ListVoices_Unexpected(t *testing.T) {
	t.Parallel()

	server := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/v1/voices": func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.URL.RawQuery)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		},
	})

	_, err := tts.NewHTTPClient(server.URL, time.Second).ListVoices(context.Background(), "")
	require.ErrorIs(t, err, tts.ErrUnexpectedVoiceListing)
}

func TestHTTPClient_HealthCheck(t *testing.T) {
	t.Parallel()

	healthy := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/health": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		},
	})
	require.NoError(t, tts.NewHTTPClient(healthy.URL, time.Second).HealthCheck(context.Background()))

	down := createMockTTSServer(t, map[string]http.HandlerFunc{
		"/health": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	err := tts.NewHTTPClient(down.URL, time.Second).HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func BenchmarkHTTPClient_Synthesize(b *testing.B) {
	server := httptest.NewServer(
		http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
			responseWriter.Header().Set("Content-Type", "audio/wav")
			_, _ = responseWriter.Write([]byte("mock-audio-data-for-benchmark"))
		}),
	)
	defer server.Close()

	client := tts.NewHTTPClient(server.URL, 30*time.Second)
	ctx := context.Background()
	req := testRequest()

	b.ResetTimer()

	for range b.N {
		_, err := client.Synthesize(ctx, req)
		if err != nil {
			b.Fatalf("Synthesize failed: %v", err)
		}
	}
}
