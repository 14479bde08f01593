// Package ssml extracts the spoken text and requested voice from an SSML
// synthesis request body.
//
// Only the voice element is interpreted. Everything else (prosody, breaks,
// emphasis, additional voice elements) is ignored rather than rejected.
package ssml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Namespace is the SSML namespace the voice element is expected in.
const Namespace = "http://www.w3.org/2001/10/synthesis"

// utf8BOM is the byte order mark some clients prepend to UTF-8 bodies.
var utf8BOM = []byte("\ufeff")

const (
	voiceElement  = "voice"
	nameAttribute = "name"
)

// Static errors.
var (
	// ErrMissingPayload is returned for an empty request body.
	ErrMissingPayload = errors.New("missing SSML payload")
	// ErrInvalidStructure is returned when no voice element is present.
	ErrInvalidStructure = errors.New("invalid SSML payload")

	errNotUTF8         = errors.New("payload is not valid UTF-8")
	errNoRootElement   = errors.New("no element found")
	errJunkAfterRoot   = errors.New("junk after document element")
	errTextOutsideRoot = errors.New("text outside of the document element")
)

// MalformedError reports a body that is not well-formed XML.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("invalid SSML payload: %v", e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Request is the synthesis input carried by an SSML document.
type Request struct {
	Text  string
	Voice string
}

// Parser parses SSML bodies, substituting defaultVoice when the voice
// element has no name.
type Parser struct {
	defaultVoice string
}

// NewParser creates a parser.
func NewParser(defaultVoice string) *Parser {
	return &Parser{defaultVoice: defaultVoice}
}

// Parse validates body and extracts the text and voice of its first voice
// element. The voice element must be in the SSML namespace, or in no
// namespace at all for documents that omit xmlns. Character data nested in
// unsupported markup inside the voice element is kept; the markup is not.
func (p *Parser) Parse(body []byte) (Request, error) {
	if len(body) == 0 {
		return Request{}, ErrMissingPayload
	}

	if !utf8.Valid(body) {
		return Request{}, &MalformedError{Err: errNotUTF8}
	}

	body = bytes.TrimPrefix(body, utf8BOM)

	scan, err := scanDocument(body)
	if err != nil {
		return Request{}, &MalformedError{Err: err}
	}

	if !scan.found {
		return Request{}, ErrInvalidStructure
	}

	voice := scan.name
	if !scan.hasName {
		voice = p.defaultVoice
	}

	return Request{Text: scan.text.String(), Voice: voice}, nil
}

type documentScan struct {
	found   bool
	hasName bool
	name    string
	text    strings.Builder
}

// scanDocument walks the whole token stream so that any well-formedness
// error anywhere in the body is reported, not just before the voice element.
func scanDocument(body []byte) (*documentScan, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	// The body is UTF-8 whatever the declaration says.
	decoder.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	scan := &documentScan{found: false, hasName: false, name: "", text: strings.Builder{}}

	var (
		depth        int
		rootSeen     bool
		capturing    bool
		captureDepth int
	)

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		switch element := token.(type) {
		case xml.StartElement:
			if depth == 0 {
				if rootSeen {
					return nil, errJunkAfterRoot
				}

				rootSeen = true
			}

			depth++

			if !scan.found && isVoice(element.Name) {
				scan.found = true
				scan.name, scan.hasName = nameOf(element)
				capturing = true
				captureDepth = depth
			}
		case xml.EndElement:
			if capturing && depth == captureDepth {
				capturing = false
			}

			depth--
		case xml.CharData:
			if capturing {
				scan.text.Write(element)
			} else if depth == 0 && len(bytes.TrimSpace(element)) > 0 {
				return nil, errTextOutsideRoot
			}
		}
	}

	if !rootSeen {
		return nil, errNoRootElement
	}

	return scan, nil
}

func isVoice(name xml.Name) bool {
	return name.Local == voiceElement && (name.Space == Namespace || name.Space == "")
}

func nameOf(element xml.StartElement) (string, bool) {
	for _, attr := range element.Attr {
		if attr.Name.Local == nameAttribute && attr.Name.Space == "" {
			return attr.Value, true
		}
	}

	return "", false
}
