// Package config provides the configuration structure for the speech-gateway.
//
// A Config is built once at startup from layered sources (built-in defaults,
// the central configurator, an optional TOML file and finally the process
// environment) and is then passed by value or pointer to every component that
// needs it. Nothing else in the module reads the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/speech-gateway/internal/audio"
)

// Engine kinds understood by the gateway.
const (
	EngineHTTP    = "http"
	EngineOpenAI  = "openai"
	EngineCommand = "command"
)

// Voice catalog sources.
const (
	VoicesFromFile   = "file"
	VoicesFromEngine = "engine"
)

const (
	defaultPort            = 5050
	defaultAPIKey          = "your_api_key_here"
	defaultVoice           = "en-US-AvaNeural"
	defaultResponseFormat  = "mp3"
	defaultSpeed           = 1.0
	defaultLanguage        = "en-US"
	defaultTokenTTLSeconds = 600
	defaultEngineURL       = "http://127.0.0.1:8000"
	defaultEngineModel     = "tts-1"
	defaultNATSSubject     = "text.processed"
	defaultNATSBucket      = "AUDIO_FILES"
	defaultDotEnvFile      = ".env"
	maxPort                = 65535
)

// Static errors.
var (
	ErrInvalidPort    = errors.New("port must be between 1 and 65535")
	ErrInvalidSpeed   = errors.New("default speed must be positive")
	ErrInvalidTTL     = errors.New("token ttl must be positive")
	ErrInvalidTimeout = errors.New("engine timeout must not be negative")
	ErrUnknownEngine  = errors.New("unknown engine")
	ErrUnknownVoices  = errors.New("unknown voices source")
	ErrMissingCommand = errors.New("command engine requires a command")
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port           int    `toml:"port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
	SpoolDir       string `toml:"spool_dir"`
}

// AuthConfig holds the access-control settings.
type AuthConfig struct {
	APIKey          string `toml:"api_key"`
	RequireAPIKey   bool   `toml:"require_api_key"`
	TokenTTLSeconds int    `toml:"token_ttl_seconds"`
}

// TTSConfig holds the synthesis defaults applied to every request.
type TTSConfig struct {
	DefaultVoice          string  `toml:"default_voice"`
	DefaultResponseFormat string  `toml:"default_response_format"`
	DefaultSpeed          float64 `toml:"default_speed"`
	DefaultLanguage       string  `toml:"default_language"`
	RemoveFilter          bool    `toml:"remove_filter"`
}

// EngineConfig selects and configures the backend synthesis engine.
type EngineConfig struct {
	Kind           string `toml:"kind"`
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Command        string `toml:"command"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// VoicesConfig selects the voice catalog.
type VoicesConfig struct {
	Source string `toml:"source"`
	File   string `toml:"file"`
}

// NATSConfig holds the configuration for the optional async worker.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
	Bucket  string `toml:"bucket"`
}

// LoggingConfig holds the service log settings.
type LoggingConfig struct {
	Dir            string `toml:"dir"`
	DetailedErrors bool   `toml:"detailed_errors"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Auth    AuthConfig    `toml:"auth"`
	TTS     TTSConfig     `toml:"tts"`
	Engine  EngineConfig  `toml:"engine"`
	Voices  VoicesConfig  `toml:"voices"`
	NATS    NATSConfig    `toml:"nats"`
	Logging LoggingConfig `toml:"logging"`
}

// LookupFunc resolves a single environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the configuration used when no source overrides a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           defaultPort,
			MetricsEnabled: true,
			SpoolDir:       os.TempDir(),
		},
		Auth: AuthConfig{
			APIKey:          defaultAPIKey,
			RequireAPIKey:   true,
			TokenTTLSeconds: defaultTokenTTLSeconds,
		},
		TTS: TTSConfig{
			DefaultVoice:          defaultVoice,
			DefaultResponseFormat: defaultResponseFormat,
			DefaultSpeed:          defaultSpeed,
			DefaultLanguage:       defaultLanguage,
			RemoveFilter:          false,
		},
		Engine: EngineConfig{
			Kind:           EngineHTTP,
			URL:            defaultEngineURL,
			APIKey:         "",
			Model:          defaultEngineModel,
			Command:        "",
			TimeoutSeconds: 0,
		},
		Voices: VoicesConfig{
			Source: VoicesFromFile,
			File:   "",
		},
		NATS: NATSConfig{
			URL:     "",
			Subject: defaultNATSSubject,
			Bucket:  defaultNATSBucket,
		},
		Logging: LoggingConfig{
			Dir:            os.TempDir(),
			DetailedErrors: true,
		},
	}
}

// Load loads the configuration for the speech-gateway from the central
// configurator, starting from Default so that absent keys keep their defaults.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}

// LoadFile loads a TOML configuration file on top of Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	err := cfg.ApplyFile(path)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyFile overlays the keys present in a TOML file onto c.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	err = toml.Unmarshal(data, c)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already present in the environment win. A missing default file is
// not an error; a missing explicitly named file is.
func LoadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultDotEnvFile
	}

	err := godotenv.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	return nil
}

// ApplyEnv overrides the configuration with the recognised environment
// variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	env := envReader{lookup: lookup}

	env.intVar("PORT", &c.Server.Port)
	env.stringVar("API_KEY", &c.Auth.APIKey)
	env.stringVar("DEFAULT_VOICE", &c.TTS.DefaultVoice)
	env.stringVar("DEFAULT_RESPONSE_FORMAT", &c.TTS.DefaultResponseFormat)
	env.floatVar("DEFAULT_SPEED", &c.TTS.DefaultSpeed)
	env.stringVar("DEFAULT_LANGUAGE", &c.TTS.DefaultLanguage)
	env.boolVar("REQUIRE_API_KEY", &c.Auth.RequireAPIKey)
	env.boolVar("REMOVE_FILTER", &c.TTS.RemoveFilter)
	env.boolVar("DETAILED_ERROR_LOGGING", &c.Logging.DetailedErrors)
	env.intVar("TOKEN_TTL", &c.Auth.TokenTTLSeconds)

	env.stringVar("ENGINE", &c.Engine.Kind)
	env.stringVar("ENGINE_URL", &c.Engine.URL)
	env.stringVar("ENGINE_API_KEY", &c.Engine.APIKey)
	env.stringVar("ENGINE_MODEL", &c.Engine.Model)
	env.stringVar("ENGINE_COMMAND", &c.Engine.Command)
	env.intVar("ENGINE_TIMEOUT", &c.Engine.TimeoutSeconds)

	env.stringVar("VOICES_SOURCE", &c.Voices.Source)
	env.stringVar("VOICES_FILE", &c.Voices.File)

	env.stringVar("NATS_URL", &c.NATS.URL)
	env.stringVar("NATS_SUBJECT", &c.NATS.Subject)
	env.stringVar("NATS_BUCKET", &c.NATS.Bucket)

	env.stringVar("LOG_DIR", &c.Logging.Dir)
	env.boolVar("METRICS_ENABLED", &c.Server.MetricsEnabled)
	env.stringVar("SPOOL_DIR", &c.Server.SpoolDir)

	return errors.Join(env.errs...)
}

// Validate checks that the configuration can run a gateway.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	if c.TTS.DefaultSpeed <= 0 {
		return fmt.Errorf("%w: got %f", ErrInvalidSpeed, c.TTS.DefaultSpeed)
	}

	if c.Auth.TokenTTLSeconds <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTTL, c.Auth.TokenTTLSeconds)
	}

	if c.Engine.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTimeout, c.Engine.TimeoutSeconds)
	}

	_, formatErr := audio.ParseFormat(c.TTS.DefaultResponseFormat)
	if formatErr != nil {
		return fmt.Errorf("invalid default response format: %w", formatErr)
	}

	switch c.Engine.Kind {
	case EngineHTTP, EngineOpenAI:
	case EngineCommand:
		if c.Engine.Command == "" {
			return ErrMissingCommand
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownEngine, c.Engine.Kind)
	}

	switch c.Voices.Source {
	case VoicesFromFile, VoicesFromEngine:
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownVoices, c.Voices.Source)
	}

	return nil
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.Server.Port))
}

// TokenTTL returns the lifetime of issued tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

// EngineTimeout returns the engine client timeout; zero means none.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// ParseBool reports whether value is one of the accepted truthy spellings.
// Anything else, including unrecognised spellings, is false.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "1", "t":
		return true
	default:
		return false
	}
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) stringVar(key string, target *string) {
	value, ok := e.lookup(key)
	if ok && value != "" {
		*target = value
	}
}

func (e *envReader) boolVar(key string, target *bool) {
	value, ok := e.lookup(key)
	if ok && value != "" {
		*target = ParseBool(value)
	}
}

func (e *envReader) intVar(key string, target *int) {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s '%s': %w", key, value, err))

		return
	}

	*target = parsed
}

func (e *envReader) floatVar(key string, target *float64) {
	value, ok := e.lookup(key)
	if !ok || value == "" {
		return
	}

	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s '%s': %w", key, value, err))

		return
	}

	*target = parsed
}
