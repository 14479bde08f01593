// Package worker provides a NATS worker that synthesizes speech for text
// published by upstream pipeline stages.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-gateway/internal/audio"
	"github.com/book-expert/speech-gateway/internal/core"
	"github.com/book-expert/speech-gateway/internal/metrics"
)

const (
	handleMessageTimeout = 2 * time.Minute
	queueGroup           = "speech-gateway"
)

// Static errors.
var (
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	ErrTextEmpty    = errors.New("downloaded text is empty")
)

// Synthesizer is the part of the synthesis orchestrator the worker needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.SpeechRequest) (*audio.Result, error)
}

// Defaults fill in what an event does not carry.
type Defaults struct {
	Voice    string
	Language string
	Format   audio.Format
	Speed    float64
}

// NatsWorker listens for TextProcessedEvents on a NATS subject, speaks the
// referenced text and replies with an AudioChunkCreatedEvent.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    Synthesizer
	defaults       Defaults
	log            *logger.Logger
	metrics        *metrics.Metrics
	subscription   *nats.Subscription
}

// NewNatsWorker creates a new instance of a NATS worker. collectors may be nil.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer Synthesizer,
	defaults Defaults,
	log *logger.Logger,
	collectors *metrics.Metrics,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		defaults:       defaults,
		log:            log,
		metrics:        collectors,
	}
}

// Subscribe joins the worker queue group on the subject. Run calls it when
// the worker is not subscribed yet.
func (w *NatsWorker) Subscribe() error {
	if w.subscription != nil {
		return nil
	}

	sub, err := w.natsConnection.QueueSubscribe(w.subject, queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.subscription = sub
	w.log.System("Listening for text on subject: %s", w.subject)

	return nil
}

// Run processes messages until ctx is cancelled, then drains the
// subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	err := w.Subscribe()
	if err != nil {
		return err
	}

	<-ctx.Done()

	drainErr := w.subscription.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.metrics.WorkerEvent(metrics.OutcomeFailure)
		w.log.Error("Failed to parse and validate event: %v", err)

		return
	}

	audioKey, processErr := w.processJob(ctx, event)
	if processErr != nil {
		w.metrics.WorkerEvent(metrics.OutcomeFailure)
		w.log.Error("Failed to process TTS job for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	w.metrics.WorkerEvent(metrics.OutcomeSuccess)

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReplyEvent(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processJob downloads the text, synthesizes it and uploads the audio,
// returning the audio object key.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	if len(textData) == 0 {
		return "", fmt.Errorf("%w: key '%s'", ErrTextEmpty, event.TextKey)
	}

	voice := event.Voice
	if voice == "" {
		voice = w.defaults.Voice
	}

	result, err := w.synthesizer.Synthesize(ctx, core.SpeechRequest{
		Text:     string(textData),
		Voice:    voice,
		Language: w.defaults.Language,
		Format:   w.defaults.Format,
		Speed:    w.defaults.Speed,
	})
	if err != nil {
		return "", fmt.Errorf("failed to process text to speech: %w", err)
	}

	audioData, err := result.Consume()
	if err != nil {
		return "", fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	audioKey := uuid.NewString() + result.Format.Extension()

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Uploaded %s (%d bytes) for workflow %s page %d/%d",
		audioKey, len(audioData), event.Header.WorkflowID, event.PageNumber, event.TotalPages)

	return audioKey, nil
}

// publishReplyEvent marshals and responds with the AudioChunkCreatedEvent.
// Messages published without a reply subject get no response.
func publishReplyEvent(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
