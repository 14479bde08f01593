// Package synthesis runs one synthesis request end to end: optional text
// normalization, the engine call and spooling of the produced audio.
package synthesis

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/book-expert/logger"
	pkgerrors "github.com/pkg/errors"

	"github.com/book-expert/speech-gateway/internal/audio"
	"github.com/book-expert/speech-gateway/internal/core"
	"github.com/book-expert/speech-gateway/internal/metrics"
)

// BackendError reports a failure of a backend collaborator: the engine, the
// voice catalog or the audio spool. It carries the stack of the point where
// the failure was classified; "%+v" prints it.
type BackendError struct {
	err error
}

// NewBackendError classifies err as a backend failure and records the stack.
func NewBackendError(err error) *BackendError {
	return &BackendError{err: pkgerrors.WithStack(err)}
}

// Error returns the message of the underlying failure.
func (e *BackendError) Error() string {
	return e.err.Error()
}

// Unwrap returns the underlying failure.
func (e *BackendError) Unwrap() error {
	return e.err
}

// Format implements fmt.Formatter so that "%+v" includes the stack trace.
func (e *BackendError) Format(state fmt.State, verb rune) {
	switch verb {
	case 'v':
		if state.Flag('+') {
			_, _ = fmt.Fprintf(state, "%+v", e.err)

			return
		}

		_, _ = io.WriteString(state, e.Error())
	case 's':
		_, _ = io.WriteString(state, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(state, "%q", e.Error())
	}
}

// Options tune an Orchestrator.
type Options struct {
	// RemoveFilter disables text normalization.
	RemoveFilter bool
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Orchestrator turns a speech request into spooled audio.
type Orchestrator struct {
	engine     core.Synthesizer
	normalizer core.TextNormalizer
	spool      *audio.Spool
	log        *logger.Logger
	opts       Options
}

// NewOrchestrator creates an orchestrator. normalizer may be nil.
func NewOrchestrator(
	engine core.Synthesizer,
	normalizer core.TextNormalizer,
	spool *audio.Spool,
	log *logger.Logger,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		engine:     engine,
		normalizer: normalizer,
		spool:      spool,
		log:        log,
		opts:       opts,
	}
}

// Synthesize calls the engine exactly once with ctx as given. Any failure
// is returned as *BackendError. The caller owns the result and must Consume
// or Release it.
func (o *Orchestrator) Synthesize(ctx context.Context, req core.SpeechRequest) (*audio.Result, error) {
	if o.normalizer != nil && !o.opts.RemoveFilter {
		req.Text = o.normalizer.Normalize(req.Text)
	}

	started := time.Now()
	audioData, err := o.engine.Synthesize(ctx, req)
	elapsed := time.Since(started)

	if err != nil {
		o.opts.Metrics.ObserveSynthesis(string(req.Format), metrics.OutcomeFailure, elapsed)

		return nil, NewBackendError(err)
	}

	o.opts.Metrics.ObserveSynthesis(string(req.Format), metrics.OutcomeSuccess, elapsed)

	result, err := o.spool.Put(audioData, req.Format)
	if err != nil {
		return nil, NewBackendError(fmt.Errorf("failed to spool audio: %w", err))
	}

	o.describe(req, audioData, elapsed)

	return result, nil
}

func (o *Orchestrator) describe(req core.SpeechRequest, audioData []byte, elapsed time.Duration) {
	info, err := audio.Probe(audioData, req.Format)
	if err != nil {
		o.opts.Metrics.ObserveAudio(len(audioData), 0)
		o.log.Info("Synthesized %s of %s with voice %s in %s",
			audio.FormatSize(len(audioData)), req.Format, req.Voice, elapsed.Round(time.Millisecond))

		if !pkgerrors.Is(err, audio.ErrProbeUnsupported) {
			o.log.Warn("Could not probe %s audio: %v", req.Format, err)
		}

		return
	}

	o.opts.Metrics.ObserveAudio(len(audioData), info.Duration)
	o.log.Info("Synthesized %s of %s (%d Hz, %d ch, %s) with voice %s in %s",
		info.Duration.Round(time.Millisecond), req.Format, info.SampleRate, info.Channels,
		audio.FormatSize(len(audioData)), req.Voice, elapsed.Round(time.Millisecond))
}
