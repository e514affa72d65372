package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livechat/internal/bootstrap"
	"livechat/internal/config"
	"livechat/internal/domain"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	envFile := flag.String("env", ".env", "Path to a .env file, ignored when missing")
	noSpeaker := flag.Bool("no-speaker", false, "Play model audio on a silent virtual device")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *noSpeaker {
		cfg.Audio.Output = config.OutputNone
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("Configuration loaded",
		slog.String("transport", cfg.Gemini.Transport),
		slog.String("model", cfg.Gemini.Model),
		slog.String("voice", cfg.Gemini.Voice),
		slog.String("audio_input", cfg.Audio.InputDevice),
		slog.String("audio_output", cfg.Audio.Output),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Stdout); err != nil {
		logger.Error("Live chat failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	app := NewApp(out, logger)

	services, err := bootstrap.Build(cfg, app, logger)
	if err != nil {
		app.SessionError(domain.ErrorCodeStartup, err.Error())
		return err
	}

	if cfg.Metrics.Addr != "" {
		server := newMetricsServer(cfg.Metrics.Addr, services.Registry)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	return runSession(ctx, services.Controller, app.Ended(), logger)
}

// liveSession is the part of the session controller the CLI drives.
type liveSession interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
}

// runSession starts session and keeps it running until ctx is cancelled or
// ended is closed. A cancellation while Start is still connecting aborts it.
func runSession(ctx context.Context, session liveSession, ended <-chan struct{}, logger *slog.Logger) error {
	started := make(chan error, 1)
	go func() {
		// The session outlives the signal context so a signal ends it through Close.
		started <- session.Start(context.WithoutCancel(ctx))
	}()

	select {
	case err := <-started:
		if err != nil {
			return fmt.Errorf("start live session: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal while connecting")
		err := closeSession(session)
		<-started
		// Start may have created the session after the first Close ran.
		if closeErr := closeSession(session); err == nil {
			err = closeErr
		}
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-ended:
	}
	return closeSession(session)
}

func closeSession(session liveSession) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return session.Close(ctx)
}

func newMetricsServer(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// initLogger creates the structured logger described by cfg.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output io.Writer
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(output, opts))
	}
	return slog.New(slog.NewTextHandler(output, opts))
}
