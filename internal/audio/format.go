// Package audio provides the audio formats the gateway can return, the
// negotiation of a client format hint into one of them, a spool for produced
// audio, and a probe that reads basic stream properties from produced audio.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Format represents a supported audio container/codec.
type Format string

// Supported formats.
const (
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatAAC  Format = "aac"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
	FormatPCM  Format = "pcm"
)

// DefaultOutputFormatHint is the X-Microsoft-OutputFormat value assumed when
// a client sends none.
const DefaultOutputFormatHint = "audio-24khz-48kbitrate-mono-mp3"

const fallbackMIMEType = "audio/mpeg"

// ErrUnknownFormat is returned by ParseFormat for names outside the table.
var ErrUnknownFormat = errors.New("unknown audio format")

var mimeTypes = map[Format]string{
	FormatMP3:  "audio/mpeg",
	FormatOpus: "audio/ogg",
	FormatAAC:  "audio/aac",
	FormatFLAC: "audio/flac",
	FormatWAV:  "audio/wav",
	FormatPCM:  "audio/L16",
}

// hintRules is evaluated in order; the first rule with a matching substring
// wins. Anything unmatched resolves to mp3.
var hintRules = []struct {
	needles []string
	format  Format
}{
	{needles: []string{"wav"}, format: FormatWAV},
	{needles: []string{"flac"}, format: FormatFLAC},
	{needles: []string{"opus", "ogg"}, format: FormatOpus},
	{needles: []string{"aac"}, format: FormatAAC},
}

// MIMEType returns the Content-Type for the format.
func (f Format) MIMEType() string {
	mime, ok := mimeTypes[f]
	if !ok {
		return fallbackMIMEType
	}

	return mime
}

// Extension returns the file extension, including the dot, used for
// objects stored in this format.
func (f Format) Extension() string {
	if f == FormatOpus {
		return ".ogg"
	}

	return "." + string(f)
}

// ParseFormat resolves a configured format name such as "mp3" or "wav".
func ParseFormat(name string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(name)))

	_, ok := mimeTypes[format]
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrUnknownFormat, name)
	}

	return format, nil
}

// Negotiate maps an X-Microsoft-OutputFormat hint to a supported format and
// its MIME type. Matching is case-insensitive and never fails.
func Negotiate(hint string) (Format, string) {
	if hint == "" {
		hint = DefaultOutputFormatHint
	}

	lowered := strings.ToLower(hint)

	for _, rule := range hintRules {
		for _, needle := range rule.needles {
			if strings.Contains(lowered, needle) {
				return rule.format, rule.format.MIMEType()
			}
		}
	}

	return FormatMP3, FormatMP3.MIMEType()
}
