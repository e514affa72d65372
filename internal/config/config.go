package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportGenAI     = "genai"
	TransportWebsocket = "websocket"

	OutputSpeaker = "speaker"
	OutputNone    = "none"
)

// Config stores runtime configuration for the live chat client.
type Config struct {
	Gemini  GeminiConfig  `yaml:"gemini"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type GeminiConfig struct {
	APIKey            string        `yaml:"api_key"`
	Transport         string        `yaml:"transport"`
	Model             string        `yaml:"model"`
	Voice             string        `yaml:"voice"`
	SystemInstruction string        `yaml:"system_instruction"`
	WebsocketURL      string        `yaml:"websocket_url"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
}

type AudioConfig struct {
	FFMPEGCommand    string        `yaml:"ffmpeg_command"`
	InputFormat      string        `yaml:"input_format"`
	InputDevice      string        `yaml:"input_device"`
	InputSampleRate  int           `yaml:"input_sample_rate"`
	OutputSampleRate int           `yaml:"output_sample_rate"`
	FrameSize        int           `yaml:"frame_size"`
	Output           string        `yaml:"output"`
	SpeakerBuffer    time.Duration `yaml:"speaker_buffer"`
}

type SessionConfig struct {
	SendQueue           int  `yaml:"send_queue"`
	InputTranscription  bool `yaml:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Gemini: GeminiConfig{
			Transport:        TransportGenAI,
			Model:            "gemini-2.5-flash-native-audio-preview-09-2025",
			Voice:            "Zephyr",
			WebsocketURL:     "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			HandshakeTimeout: 10 * time.Second,
		},
		Audio: AudioConfig{
			FFMPEGCommand:    "ffmpeg",
			InputFormat:      "pulse",
			InputDevice:      "default",
			InputSampleRate:  16000,
			OutputSampleRate: 24000,
			FrameSize:        4096,
			Output:           OutputSpeaker,
			SpeakerBuffer:    100 * time.Millisecond,
		},
		Session: SessionConfig{
			SendQueue:           32,
			InputTranscription:  true,
			OutputTranscription: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and
// environment variables, in that order of precedence.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Gemini.APIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"), cfg.Gemini.APIKey)
	cfg.Gemini.Transport = envOrDefault("LIVECHAT_TRANSPORT", cfg.Gemini.Transport)
	cfg.Gemini.Model = envOrDefault("LIVECHAT_MODEL", cfg.Gemini.Model)
	cfg.Gemini.Voice = envOrDefault("LIVECHAT_VOICE", cfg.Gemini.Voice)
	cfg.Gemini.SystemInstruction = envOrDefault("LIVECHAT_SYSTEM_INSTRUCTION", cfg.Gemini.SystemInstruction)
	cfg.Gemini.WebsocketURL = envOrDefault("LIVECHAT_WEBSOCKET_URL", cfg.Gemini.WebsocketURL)
	cfg.Gemini.HandshakeTimeout = envOrDefaultMillis("LIVECHAT_HANDSHAKE_TIMEOUT_MS", cfg.Gemini.HandshakeTimeout)

	cfg.Audio.FFMPEGCommand = envOrDefault("LIVECHAT_FFMPEG_COMMAND", cfg.Audio.FFMPEGCommand)
	cfg.Audio.InputFormat = envOrDefault("LIVECHAT_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("LIVECHAT_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.InputSampleRate = envOrDefaultInt("LIVECHAT_INPUT_SAMPLE_RATE", cfg.Audio.InputSampleRate)
	cfg.Audio.OutputSampleRate = envOrDefaultInt("LIVECHAT_OUTPUT_SAMPLE_RATE", cfg.Audio.OutputSampleRate)
	cfg.Audio.FrameSize = envOrDefaultInt("LIVECHAT_FRAME_SIZE", cfg.Audio.FrameSize)
	cfg.Audio.Output = envOrDefault("LIVECHAT_AUDIO_OUTPUT", cfg.Audio.Output)
	cfg.Audio.SpeakerBuffer = envOrDefaultMillis("LIVECHAT_SPEAKER_BUFFER_MS", cfg.Audio.SpeakerBuffer)

	cfg.Session.SendQueue = envOrDefaultInt("LIVECHAT_SEND_QUEUE", cfg.Session.SendQueue)
	cfg.Session.InputTranscription = envOrDefaultBool("LIVECHAT_INPUT_TRANSCRIPTION", cfg.Session.InputTranscription)
	cfg.Session.OutputTranscription = envOrDefaultBool("LIVECHAT_OUTPUT_TRANSCRIPTION", cfg.Session.OutputTranscription)

	cfg.Metrics.Addr = envOrDefault("LIVECHAT_METRICS_ADDR", cfg.Metrics.Addr)

	cfg.Logging.Level = envOrDefault("LIVECHAT_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("LIVECHAT_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Output = envOrDefault("LIVECHAT_LOG_OUTPUT", cfg.Logging.Output)
}

func normalize(cfg *Config) {
	defaults := Defaults()

	cfg.Gemini.Transport = strings.ToLower(strings.TrimSpace(cfg.Gemini.Transport))
	if cfg.Gemini.HandshakeTimeout <= 0 {
		cfg.Gemini.HandshakeTimeout = defaults.Gemini.HandshakeTimeout
	}
	if cfg.Audio.InputSampleRate <= 0 {
		cfg.Audio.InputSampleRate = defaults.Audio.InputSampleRate
	}
	if cfg.Audio.OutputSampleRate <= 0 {
		cfg.Audio.OutputSampleRate = defaults.Audio.OutputSampleRate
	}
	if cfg.Audio.FrameSize < 256 {
		cfg.Audio.FrameSize = defaults.Audio.FrameSize
	}
	cfg.Audio.Output = strings.ToLower(strings.TrimSpace(cfg.Audio.Output))
	if cfg.Audio.SpeakerBuffer <= 0 {
		cfg.Audio.SpeakerBuffer = defaults.Audio.SpeakerBuffer
	}
	if cfg.Session.SendQueue <= 0 {
		cfg.Session.SendQueue = defaults.Session.SendQueue
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
}

// Validate reports the first invalid section.
func (c *Config) Validate() error {
	if err := c.Gemini.Validate(); err != nil {
		return fmt.Errorf("gemini config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (g *GeminiConfig) Validate() error {
	switch g.Transport {
	case TransportGenAI:
	case TransportWebsocket:
		if strings.TrimSpace(g.WebsocketURL) == "" {
			return errors.New("websocket_url cannot be empty for the websocket transport")
		}
	default:
		return fmt.Errorf("transport must be %q or %q, got %q", TransportGenAI, TransportWebsocket, g.Transport)
	}
	if strings.TrimSpace(g.Model) == "" {
		return errors.New("model cannot be empty")
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	switch a.Output {
	case OutputSpeaker, OutputNone:
	default:
		return fmt.Errorf("output must be %q or %q, got %q", OutputSpeaker, OutputNone, a.Output)
	}
	if a.InputSampleRate < 8000 || a.InputSampleRate > 48000 {
		return fmt.Errorf("input_sample_rate must be between 8000 and 48000, got %d", a.InputSampleRate)
	}
	if a.OutputSampleRate < 8000 || a.OutputSampleRate > 48000 {
		return fmt.Errorf("output_sample_rate must be between 8000 and 48000, got %d", a.OutputSampleRate)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be one of debug, info, warn, error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
