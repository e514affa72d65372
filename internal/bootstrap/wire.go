package bootstrap

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"livechat/internal/audio"
	"livechat/internal/config"
	"livechat/internal/metrics"
	"livechat/internal/ports"
	"livechat/internal/providers/gemini"
	"livechat/internal/providers/livews"
	"livechat/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Registry   *prometheus.Registry
}

// Build wires all backend dependencies for the given configuration.
func Build(cfg config.Config, eventSink ports.EventSink, logger *slog.Logger) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return Services{}, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	controller := usecase.NewSessionController(
		audio.NewFFMPEGCapture(cfg.Audio.FFMPEGCommand),
		newOutput(cfg, logger),
		newTransport(cfg, logger),
		eventSink,
		usecase.Config{
			Capture: ports.CaptureConfig{
				SampleRate:  cfg.Audio.InputSampleRate,
				Channels:    1,
				FrameSize:   cfg.Audio.FrameSize,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Output: ports.OutputConfig{
				SampleRate: cfg.Audio.OutputSampleRate,
				BufferSize: cfg.Audio.SpeakerBuffer,
			},
			Transport: ports.TransportConfig{
				Model:               cfg.Gemini.Model,
				Voice:               cfg.Gemini.Voice,
				SystemInstruction:   cfg.Gemini.SystemInstruction,
				InputSampleRate:     cfg.Audio.InputSampleRate,
				OutputSampleRate:    cfg.Audio.OutputSampleRate,
				InputTranscription:  cfg.Session.InputTranscription,
				OutputTranscription: cfg.Session.OutputTranscription,
			},
			SendQueue: cfg.Session.SendQueue,
			Metrics:   metrics.New(registry),
			Logger:    logger,
		},
	)

	return Services{Controller: controller, Config: cfg, Registry: registry}, nil
}

func newOutput(cfg config.Config, logger *slog.Logger) ports.AudioOutput {
	if cfg.Audio.Output == config.OutputNone {
		return audio.NewVirtualOutput()
	}
	return audio.NewBeepOutput(logger.With(slog.String("component", "speaker")))
}

func newTransport(cfg config.Config, logger *slog.Logger) ports.Transport {
	logger = logger.With(slog.String("component", "transport"), slog.String("transport", cfg.Gemini.Transport))
	if cfg.Gemini.Transport == config.TransportWebsocket {
		return livews.NewProvider(livews.Config{
			APIKey:           cfg.Gemini.APIKey,
			URL:              cfg.Gemini.WebsocketURL,
			HandshakeTimeout: cfg.Gemini.HandshakeTimeout,
			Logger:           logger,
		})
	}
	return gemini.NewProvider(gemini.Config{
		APIKey:           cfg.Gemini.APIKey,
		HandshakeTimeout: cfg.Gemini.HandshakeTimeout,
		Logger:           logger,
	})
}
