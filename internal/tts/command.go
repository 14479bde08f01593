package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-gateway/internal/core"
)

// Argument placeholders substituted per request.
const (
	placeholderVoice    = "{voice}"
	placeholderLanguage = "{language}"
	placeholderFormat   = "{format}"
	placeholderSpeed    = "{speed}"
	placeholderOutput   = "{output}"
)

// ErrEmptyCommand is returned when the command line has no program.
var ErrEmptyCommand = errors.New("engine command is empty")

// CommandEngine runs a local synthesis binary per request. The text is
// written to the program's stdin. If the command line contains {output}, the
// audio is read from that temp file afterwards, otherwise from stdout.
type CommandEngine struct {
	program string
	args    []string
	log     *logger.Logger
}

// NewCommandEngine parses a whitespace-separated command line such as
// "piper --model en.onnx --output_file {output}".
func NewCommandEngine(commandLine string, log *logger.Logger) (*CommandEngine, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}

	return &CommandEngine{program: fields[0], args: fields[1:], log: log}, nil
}

// Synthesize implements core.Synthesizer.
func (e *CommandEngine) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	outputPath := ""

	if e.usesOutputFile() {
		tempFile, err := os.CreateTemp("", "tts-output-*"+req.Format.Extension())
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file for tts output: %w", err)
		}

		outputPath = tempFile.Name()
		_ = tempFile.Close()

		defer func() {
			removeErr := os.Remove(outputPath)
			if removeErr != nil && e.log != nil {
				e.log.Warn("Failed to remove temp file '%s': %v", outputPath, removeErr)
			}
		}()
	}

	// #nosec G204 -- the program comes from operator configuration
	cmd := exec.CommandContext(ctx, e.program, e.expandArgs(req, outputPath)...)
	cmd.Stdin = strings.NewReader(req.Text)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("%s execution failed: %w - output: %s", e.program, err, stderr.String())
	}

	audioData := stdout.Bytes()

	if outputPath != "" {
		audioData, err = os.ReadFile(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
		}
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

func (e *CommandEngine) usesOutputFile() bool {
	for _, arg := range e.args {
		if strings.Contains(arg, placeholderOutput) {
			return true
		}
	}

	return false
}

func (e *CommandEngine) expandArgs(req core.SpeechRequest, outputPath string) []string {
	replacer := strings.NewReplacer(
		placeholderVoice, req.Voice,
		placeholderLanguage, req.Language,
		placeholderFormat, string(req.Format),
		placeholderSpeed, strconv.FormatFloat(req.Speed, 'f', -1, 64),
		placeholderOutput, outputPath,
	)

	args := make([]string, len(e.args))
	for index, arg := range e.args {
		args[index] = replacer.Replace(arg)
	}

	return args
}
