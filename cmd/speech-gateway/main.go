// main package for the speech-gateway
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/speech-gateway/internal/audio"
	"github.com/book-expert/speech-gateway/internal/auth"
	"github.com/book-expert/speech-gateway/internal/config"
	"github.com/book-expert/speech-gateway/internal/metrics"
	"github.com/book-expert/speech-gateway/internal/objectstore"
	"github.com/book-expert/speech-gateway/internal/server"
	"github.com/book-expert/speech-gateway/internal/ssml"
	"github.com/book-expert/speech-gateway/internal/synthesis"
	"github.com/book-expert/speech-gateway/internal/tts"
	"github.com/book-expert/speech-gateway/internal/tts/text"
	"github.com/book-expert/speech-gateway/internal/voices"
	"github.com/book-expert/speech-gateway/internal/worker"
)

const (
	bootstrapLogFile = "speech-gateway-bootstrap.log"
	serviceLogFile   = "speech-gateway.log"
)

// cli holds the command-line flags. Flags win over every other source.
type cli struct {
	Config  string `help:"Path to a TOML configuration file." type:"path"`
	EnvFile string `help:"Path to a .env file (default: ./.env when present)." type:"path" name:"env-file"`
	Port    int    `help:"Port to listen on, overriding PORT."`
}

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

// loadConfig layers defaults, the central configurator, the TOML file, the
// .env file, the environment and the flags, then validates the result.
func loadConfig(flags cli, log *logger.Logger) (*config.Config, error) {
	cfg, err := config.Load(log)
	if err != nil {
		log.Warn("Central configuration unavailable, using defaults: %v", err)

		defaults := config.Default()
		cfg = &defaults
	}

	if flags.Config != "" {
		err = cfg.ApplyFile(flags.Config)
		if err != nil {
			return nil, err
		}
	}

	err = config.LoadDotEnv(flags.EnvFile)
	if err != nil {
		return nil, err
	}

	err = cfg.ApplyEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	if flags.Port != 0 {
		cfg.Server.Port = flags.Port
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// gateway is the wired application.
type gateway struct {
	server       *server.Server
	orchestrator *synthesis.Orchestrator
	metrics      *metrics.Metrics
	format       audio.Format
}

func buildGateway(cfg *config.Config, log *logger.Logger) (*gateway, error) {
	engine, err := tts.NewEngine(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	err = engine.HealthCheck(context.Background())
	if err != nil {
		log.Warn("Engine %s is not healthy yet: %v", engine.Kind, err)
	}

	spool, err := audio.NewSpool(afero.NewOsFs(), cfg.Server.SpoolDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio spool: %w", err)
	}

	tokens := auth.NewTokenStore(cfg.Auth.APIKey, cfg.TokenTTL())

	var collectors *metrics.Metrics
	if cfg.Server.MetricsEnabled {
		collectors = metrics.New(tokens.Len)
	}

	orchestrator := synthesis.NewOrchestrator(engine, text.NewNormalizer(), spool, log, synthesis.Options{
		RemoveFilter: cfg.TTS.RemoveFilter,
		Metrics:      collectors,
	})

	catalog, err := voices.NewCatalog(cfg.Voices, engine.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice catalog: %w", err)
	}

	format, err := audio.ParseFormat(cfg.TTS.DefaultResponseFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid default response format: %w", err)
	}

	accessLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "speech-gateway").Logger()

	srv := server.New(server.Dependencies{
		TTS:            cfg.TTS,
		Gate:           auth.NewGate(tokens, cfg.Auth.RequireAPIKey),
		Parser:         ssml.NewParser(cfg.TTS.DefaultVoice),
		Orchestrator:   orchestrator,
		Voices:         voices.NewProxy(catalog),
		Metrics:        collectors,
		Log:            log,
		AccessLog:      accessLog,
		DetailedErrors: cfg.Logging.DetailedErrors,
	})

	return &gateway{server: srv, orchestrator: orchestrator, metrics: collectors, format: format}, nil
}

// runWorker connects to NATS and processes TextProcessedEvents until ctx ends.
func runWorker(ctx context.Context, cfg *config.Config, app *gateway, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("speech-gateway"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	js, err := jetstream.New(natsConnection)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(ctx, js, cfg.NATS.Bucket)
	if err != nil {
		return err
	}

	natsWorker := worker.NewNatsWorker(natsConnection, cfg.NATS.Subject, store, app.orchestrator, worker.Defaults{
		Voice:    cfg.TTS.DefaultVoice,
		Language: cfg.TTS.DefaultLanguage,
		Format:   app.format,
		Speed:    cfg.TTS.DefaultSpeed,
	}, log, app.metrics)

	return natsWorker.Run(ctx)
}

func run(flags cli) error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := loadConfig(flags, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Logging.Dir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	app, err := buildGateway(cfg, finalLog)
	if err != nil {
		finalLog.Error("Failed to initialize gateway: %v", err)

		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return app.server.Serve(groupCtx, cfg.ListenAddr())
	})

	if cfg.NATS.URL != "" {
		group.Go(func() error {
			return runWorker(groupCtx, cfg, app, finalLog)
		})
	} else {
		finalLog.Info("NATS_URL not set; async worker disabled.")
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		finalLog.Error("Speech gateway stopped with error: %v", err)

		return err
	}

	finalLog.System("Speech gateway stopped.")

	return nil
}

func main() {
	var flags cli

	kong.Parse(&flags,
		kong.Name("speech-gateway"),
		kong.Description("Azure-compatible text-to-speech gateway."),
	)

	err := run(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
