package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"livechat/internal/domain"
	"livechat/internal/pcm"
	"livechat/internal/ports"
	"livechat/internal/providers/streaming"
)

// Config controls the Gen AI SDK live transport.
type Config struct {
	APIKey           string
	HandshakeTimeout time.Duration
	SendQueue        int
	Logger           *slog.Logger
}

// liveSession is the subset of *genai.Session used by the transport.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

// Provider implements ports.Transport on top of the Gemini Live API.
type Provider struct {
	cfg     Config
	connect connectFunc
}

func NewProvider(cfg Config) *Provider {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Provider{cfg: cfg}
	p.connect = p.dial
	return p
}

func (p *Provider) dial(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	session, err := client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (p *Provider) Open(ctx context.Context, cfg ports.TransportConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not configured")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("live model is not configured")
	}

	live, err := p.connect(ctx, cfg.Model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gemini live: %w", err)
	}
	if err := awaitSetup(ctx, live, p.cfg.HandshakeTimeout); err != nil {
		_ = live.Close()
		return nil, err
	}

	session := &streamingSession{
		Core:   streaming.NewCore(p.cfg.SendQueue),
		live:   live,
		logger: p.cfg.Logger,
	}
	session.Run(ctx, session.receiveLoop, session.sendLoop, func() { _ = live.Close() }, func() { _ = live.Close() })
	return session, nil
}

func connectConfig(cfg ports.TransportConfig) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if cfg.Voice != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if strings.TrimSpace(cfg.SystemInstruction) != "" {
		out.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return out
}

// awaitSetup blocks until the server acknowledges the setup message.
func awaitSetup(ctx context.Context, live liveSession, timeout time.Duration) error {
	result := make(chan error, 1)
	go func() {
		for {
			msg, err := live.Receive()
			if err != nil {
				result <- fmt.Errorf("setup was not acknowledged: %w", err)
				return
			}
			if msg != nil && msg.SetupComplete != nil {
				result <- nil
				return
			}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("setup was not acknowledged within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

type streamingSession struct {
	*streaming.Core

	live   liveSession
	logger *slog.Logger
}

func (s *streamingSession) sendLoop() {
	for {
		select {
		case chunk := <-s.Outbound():
			data, err := pcm.DecodeText(chunk.Data)
			if err != nil {
				s.logger.Warn("dropping undecodable outbound audio", slog.String("error", err.Error()))
				continue
			}
			input := genai.LiveRealtimeInput{Audio: &genai.Blob{Data: data, MIMEType: chunk.MIMEType}}
			if err := s.live.SendRealtimeInput(input); err != nil {
				s.Fail(fmt.Errorf("failed to send audio: %w", err))
				s.Shutdown()
				_ = s.live.Close()
				return
			}
		case <-s.Stopped():
			return
		}
	}
}

func (s *streamingSession) receiveLoop() {
	for {
		msg, err := s.live.Receive()
		if err != nil {
			s.Fail(fmt.Errorf("failed to receive live event: %w", err))
			return
		}
		if msg == nil {
			continue
		}
		if msg.GoAway != nil {
			s.logger.Warn("gemini live is going away")
		}

		event, ok := toServerEvent(msg)
		if !ok {
			continue
		}
		if !s.Emit(event) {
			return
		}
	}
}

func toServerEvent(msg *genai.LiveServerMessage) (domain.ServerEvent, bool) {
	sc := msg.ServerContent
	if sc == nil {
		return domain.ServerEvent{}, false
	}

	var event domain.ServerEvent
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		event.Transcripts = append(event.Transcripts, domain.TranscriptFragment{
			Speaker: domain.SpeakerUser,
			Text:    sc.InputTranscription.Text,
		})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		event.Transcripts = append(event.Transcripts, domain.TranscriptFragment{
			Speaker: domain.SpeakerModel,
			Text:    sc.OutputTranscription.Text,
		})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			event.Audio = append(event.Audio, domain.WireBlob{
				Data:     pcm.EncodeText(part.InlineData.Data),
				MIMEType: part.InlineData.MIMEType,
			})
		}
	}
	event.Interrupted = sc.Interrupted
	event.TurnComplete = sc.TurnComplete

	if len(event.Transcripts) == 0 && len(event.Audio) == 0 && !event.Interrupted && !event.TurnComplete {
		return domain.ServerEvent{}, false
	}
	return event, true
}
