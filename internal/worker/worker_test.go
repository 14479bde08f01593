// Package worker_test tests the NATS worker of the speech gateway.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-gateway/internal/audio"
	"github.com/book-expert/speech-gateway/internal/core"
	"github.com/book-expert/speech-gateway/internal/metrics"
	"github.com/book-expert/speech-gateway/internal/objectstore"
	"github.com/book-expert/speech-gateway/internal/synthesis"
	"github.com/book-expert/speech-gateway/internal/worker"
)

const testSubject = "test_subject"

var (
	errMockDownload = errors.New("mock download error")
	errMockUpload   = errors.New("mock upload error")
	errMockEngine   = errors.New("mock engine error")
)

// mockObjectStore is a mock implementation of the ObjectStore interface.
type mockObjectStore struct {
	mu                 sync.Mutex
	downloadShouldFail bool
	uploadShouldFail   bool
	text               []byte
	downloadedKey      string
	uploadedKey        string
	uploadedData       []byte
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return m.text, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.uploadShouldFail {
		return errMockUpload
	}

	m.uploadedKey = key
	m.uploadedData = data

	return nil
}

func (m *mockObjectStore) downloaded() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.downloadedKey
}

func (m *mockObjectStore) uploaded() (string, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.uploadedKey, m.uploadedData
}

// fakeEngine is a core.Synthesizer recording the requests it receives.
type fakeEngine struct {
	mu       sync.Mutex
	requests []core.SpeechRequest
	err      error
}

func (f *fakeEngine) Synthesize(_ context.Context, req core.SpeechRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}

	return []byte("sample audio"), nil
}

func (f *fakeEngine) calls() []core.SpeechRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]core.SpeechRequest(nil), f.requests...)
}

func startNats(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(natsConnection.Close)

	return natsConnection
}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	lg, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = lg.Close() })

	return lg
}

func testDefaults() worker.Defaults {
	return worker.Defaults{
		Voice:    "en-US-AvaNeural",
		Language: "en-US",
		Format:   audio.FormatWAV,
		Speed:    1.25,
	}
}

// startWorker runs a worker on testSubject until the test ends.
func startWorker(
	t *testing.T,
	natsConnection *nats.Conn,
	store core.ObjectStore,
	engine core.Synthesizer,
	collectors *metrics.Metrics,
) {
	t.Helper()

	log := createTestLogger(t)
	orchestrator := synthesis.NewOrchestrator(engine, nil, audio.NewMemorySpool(), log, synthesis.Options{})
	workerInstance := worker.NewNatsWorker(
		natsConnection, testSubject, store, orchestrator, testDefaults(), log, collectors)

	require.NoError(t, workerInstance.Subscribe())
	require.NoError(t, natsConnection.Flush())

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})
}

func newEvent(textKey, voice string) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		TextKey:           textKey,
		PNGKey:            "",
		PageNumber:        3,
		TotalPages:        10,
		Voice:             voice,
		Seed:              0,
		NGL:               0,
		TopP:              0,
		RepetitionPenalty: 0,
		Temperature:       0,
	}
}

func request(t *testing.T, natsConnection *nats.Conn, event *events.TextProcessedEvent, timeout time.Duration) (*nats.Msg, error) {
	t.Helper()

	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	return natsConnection.Request(testSubject, eventData, timeout)
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	natsConnection := startNats(t)
	mockStore := &mockObjectStore{text: []byte("sample text")}
	engine := &fakeEngine{}
	startWorker(t, natsConnection, mockStore, engine, nil)

	testEvent := newEvent("test-text-key", "")

	replyMsg, err := request(t, natsConnection, testEvent, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &replyEvent))

	uploadedKey, uploadedData := mockStore.uploaded()
	assert.Equal(t, "test-text-key", mockStore.downloaded())
	assert.Equal(t, []byte("sample audio"), uploadedData)
	assert.Equal(t, uploadedKey, replyEvent.AudioKey)
	assert.Regexp(t, `^[0-9a-f-]{36}\.wav$`, uploadedKey)
	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.Equal(t, 3, replyEvent.PageNumber)
	assert.Equal(t, 10, replyEvent.TotalPages)

	calls := engine.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, core.SpeechRequest{
		Text:     "sample text",
		Voice:    "en-US-AvaNeural",
		Language: "en-US",
		Format:   audio.FormatWAV,
		Speed:    1.25,
	}, calls[0])
}

func TestMessageHandler_EventVoiceOverridesDefault(t *testing.T) {
	t.Parallel()

	natsConnection := startNats(t)
	engine := &fakeEngine{}
	startWorker(t, natsConnection, &mockObjectStore{text: []byte("hallo")}, engine, nil)

	_, err := request(t, natsConnection, newEvent("key", "de-DE-KatjaNeural"), 5*time.Second)
	require.NoError(t, err)

	calls := engine.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "de-DE-KatjaNeural", calls[0].Voice)
}

func TestMessageHandler_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		store  *mockObjectStore
		engine *fakeEngine
		event  *events.TextProcessedEvent
	}{
		{
			name:   "download fails",
			store:  &mockObjectStore{downloadShouldFail: true},
			engine: &fakeEngine{},
			event:  newEvent("key", ""),
		},
		{
			name:   "empty text",
			store:  &mockObjectStore{text: nil},
			engine: &fakeEngine{},
			event:  newEvent("key", ""),
		},
		{
			name:   "engine fails",
			store:  &mockObjectStore{text: []byte("text")},
			engine: &fakeEngine{err: errMockEngine},
			event:  newEvent("key", ""),
		},
		{
			name:   "upload fails",
			store:  &mockObjectStore{text: []byte("text"), uploadShouldFail: true},
			engine: &fakeEngine{},
			event:  newEvent("key", ""),
		},
		{
			name:   "missing text key",
			store:  &mockObjectStore{text: []byte("text")},
			engine: &fakeEngine{},
			event:  newEvent("", ""),
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			natsConnection := startNats(t)
			collectors := metrics.New(nil)
			startWorker(t, natsConnection, testCase.store, testCase.engine, collectors)

			_, err := request(t, natsConnection, testCase.event, 300*time.Millisecond)
			require.ErrorIs(t, err, nats.ErrTimeout, "a failed job must not be answered")

			uploadedKey, _ := testCase.store.uploaded()
			assert.Empty(t, uploadedKey)

			assert.Eventually(t, func() bool {
				count, gatherErr := testutil.GatherAndCount(
					collectors.Registry(), "speech_gateway_worker_events_total")

				return gatherErr == nil && count > 0
			}, 2*time.Second, 20*time.Millisecond)
		})
	}
}

func TestMessageHandler_WithNatsObjectStore(t *testing.T) {
	t.Parallel()

	natsConnection := startNats(t)

	js, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	ctx := context.Background()
	store, err := objectstore.New(ctx, js, "speech")
	require.NoError(t, err)
	require.NoError(t, store.Upload(ctx, "page-1.txt", []byte("Chapter one.")))

	startWorker(t, natsConnection, store, &fakeEngine{}, nil)

	replyMsg, err := request(t, natsConnection, newEvent("page-1.txt", ""), 5*time.Second)
	require.NoError(t, err)

	var replyEvent events.AudioChunkCreatedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &replyEvent))

	audioData, err := store.Download(ctx, replyEvent.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("sample audio"), audioData)
}
