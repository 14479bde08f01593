// Command gateway-client talks to a running speech gateway: it issues tokens,
// synthesizes SSML and lists voices.
package main

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
)

// Gateway paths and headers.
const (
	pathIssueToken = "/sts/v1.0/issueToken"
	pathSynthesize = "/cognitiveservices/v1"
	pathVoices     = "/cognitiveservices/voices/list"

	headerSubscriptionKey = "Ocp-Apim-Subscription-Key"
	headerOutputFormat    = "X-Microsoft-OutputFormat"
	contentTypeSSML       = "application/ssml+xml"
)

const (
	defaultGatewayURL = "http://localhost:5050"
	defaultTimeout    = 2 * time.Minute
	defaultOutputFile = "output.mp3"
	errorBodyLimit    = 512
)

// Static errors.
var (
	ErrEitherTextOrFile  = errors.New("either --text or --file must be provided")
	ErrCannotSpecifyBoth = errors.New("cannot specify both --text and --file")
	ErrGatewayStatus     = errors.New("gateway returned an error")
)

type (
	cmd struct {
		URL     string        `help:"Base URL of the speech gateway." default:"http://localhost:5050" env:"GATEWAY_URL"`
		Key     string        `help:"API key or bearer token." env:"GATEWAY_API_KEY"`
		Timeout time.Duration `help:"Request timeout." default:"2m"`

		Token  cmdToken  `cmd:"" help:"Exchange the API key for a short-lived bearer token."`
		Speak  cmdSpeak  `cmd:"" help:"Synthesize text and write the audio to a file."`
		Voices cmdVoices `cmd:"" help:"List the voices the gateway offers."`
	}
	cmdToken struct{}
	cmdSpeak struct {
		Text   string `help:"Text to convert to speech."`
		File   string `help:"File containing the text to convert." type:"existingfile"`
		Voice  string `help:"Voice name; the gateway default when empty."`
		Format string `help:"Azure output format name, e.g. riff-24khz-16bit-mono-pcm."`
		Output string `help:"Output file path." short:"o" default:"output.mp3"`
	}
	cmdVoices struct {
		Language string `help:"Locale prefix filter, e.g. en-US."`
	}
)

// client is a minimal HTTP client for the gateway.
type client struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

func newClient(baseURL, key string, timeout time.Duration) *client {
	if baseURL == "" {
		baseURL = defaultGatewayURL
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func main() {
	err := doMain(context.Background(), os.Stdout, os.Stderr, os.Args[1:])
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func doMain(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var c cmd

	parser, err := kong.New(&c,
		kong.Name("gateway-client"),
		kong.Description("Client for the speech gateway."),
		kong.Writers(stdout, stderr),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	gateway := newClient(c.URL, c.Key, c.Timeout)

	switch kctx.Command() {
	case "token":
		return runToken(ctx, gateway, stdout)
	case "speak":
		return runSpeak(ctx, gateway, c.Speak, stdout)
	case "voices":
		return runVoices(ctx, gateway, c.Voices, stdout)
	default:
		panic("unreachable")
	}
}

func runToken(ctx context.Context, gateway *client, stdout io.Writer) error {
	token, err := gateway.issueToken(ctx)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(stdout, token)

	return err
}

func runSpeak(ctx context.Context, gateway *client, args cmdSpeak, stdout io.Writer) error {
	input, err := speechInput(args)
	if err != nil {
		return err
	}

	audio, err := gateway.synthesize(ctx, buildSSML(input, args.Voice), args.Format)
	if err != nil {
		return err
	}

	output := args.Output
	if output == "" {
		output = defaultOutputFile
	}

	err = os.WriteFile(output, audio, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write audio to %s: %w", output, err)
	}

	_, err = fmt.Fprintf(stdout, "Generated: %s (%d bytes)\n", output, len(audio))

	return err
}

func runVoices(ctx context.Context, gateway *client, args cmdVoices, stdout io.Writer) error {
	listing, err := gateway.voices(ctx, args.Language)
	if err != nil {
		return err
	}

	_, err = stdout.Write(append(listing, '\n'))

	return err
}

// speechInput validates the mutually exclusive text sources.
func speechInput(args cmdSpeak) (string, error) {
	if args.Text == "" && args.File == "" {
		return "", ErrEitherTextOrFile
	}

	if args.Text != "" && args.File != "" {
		return "", ErrCannotSpecifyBoth
	}

	if args.Text != "" {
		return args.Text, nil
	}

	data, err := os.ReadFile(args.File)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", args.File, err)
	}

	return string(data), nil
}

// buildSSML wraps text in a minimal Azure SSML document.
func buildSSML(text, voice string) []byte {
	var escaped bytes.Buffer

	_ = xml.EscapeText(&escaped, []byte(text))

	var doc bytes.Buffer

	doc.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="en-US">`)

	if voice != "" {
		var escapedVoice bytes.Buffer

		_ = xml.EscapeText(&escapedVoice, []byte(voice))
		fmt.Fprintf(&doc, `<voice name="%s">`, escapedVoice.String())
	} else {
		doc.WriteString("<voice>")
	}

	doc.Write(escaped.Bytes())
	doc.WriteString("</voice></speak>")

	return doc.Bytes()
}

func (c *client) issueToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathIssueToken, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerSubscriptionKey, c.key)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(body)), nil
}

func (c *client) synthesize(ctx context.Context, ssmlDoc []byte, format string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathSynthesize, bytes.NewReader(ssmlDoc))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeSSML)

	if format != "" {
		req.Header.Set(headerOutputFormat, format)
	}

	c.authorize(req)

	return c.do(req)
}

func (c *client) voices(ctx context.Context, language string) ([]byte, error) {
	endpoint := c.baseURL + pathVoices
	if language != "" {
		endpoint += "?language=" + url.QueryEscape(language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.authorize(req)

	return c.do(req)
}

func (c *client) authorize(req *http.Request) {
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
}

func (c *client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL.Path, err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > errorBodyLimit {
			body = body[:errorBodyLimit]
		}

		return nil, fmt.Errorf("%w: %s %d: %s", ErrGatewayStatus, req.URL.Path, resp.StatusCode, body)
	}

	return body, nil
}
