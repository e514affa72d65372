package livews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"livechat/internal/ports"
	"livechat/internal/providers/streaming"
)

const defaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Config controls the websocket live transport.
type Config struct {
	APIKey           string
	URL              string
	HandshakeTimeout time.Duration
	SendQueue        int
	Logger           *slog.Logger
}

// Provider implements ports.Transport over the raw BidiGenerateContent
// websocket protocol.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

// Open dials the endpoint, sends the setup frame and returns once the server
// acknowledged it with setupComplete.
func (p *Provider) Open(ctx context.Context, cfg ports.TransportConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("live model is not configured")
	}

	wsURL, err := buildURL(p.cfg)
	if err != nil {
		return nil, err
	}

	conn, _, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to live websocket: %w", err)
	}

	if err := handshake(ctx, conn, buildSetup(cfg), p.cfg.HandshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	session := &streamingSession{
		Core:   streaming.NewCore(p.cfg.SendQueue),
		conn:   conn,
		logger: p.cfg.Logger,
	}
	session.Run(ctx, session.readLoop, session.writeLoop, session.interrupt, func() { _ = conn.Close() })
	return session, nil
}

func handshake(ctx context.Context, conn *websocket.Conn, setup clientMessage, timeout time.Duration) error {
	// Closing the connection is the only way to abort a blocked read.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err := exchangeSetup(conn, setup, timeout)
	if !stop() {
		return ctx.Err()
	}
	return err
}

func exchangeSetup(conn *websocket.Conn, setup clientMessage, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(setup); err != nil {
		return fmt.Errorf("failed to send setup: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("setup was not acknowledged: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

type streamingSession struct {
	*streaming.Core

	conn   *websocket.Conn
	logger *slog.Logger
}

// interrupt sends a normal close frame and drops the connection so both
// loops return.
func (s *streamingSession) interrupt() {
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = s.conn.Close()
}

func (s *streamingSession) writeLoop() {
	for {
		select {
		case b := <-s.Outbound():
			msg := clientMessage{RealtimeInput: &realtimeInputMessage{
				Audio: &blob{MIMEType: b.MIMEType, Data: b.Data},
			}}
			if err := s.conn.WriteJSON(msg); err != nil {
				s.Fail(fmt.Errorf("failed to send audio: %w", err))
				s.Shutdown()
				_ = s.conn.Close()
				return
			}
		case <-s.Stopped():
			return
		}
	}
}

func (s *streamingSession) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.Fail(fmt.Errorf("failed to read live event: %w", err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Debug("ignoring undecodable live message", slog.String("error", err.Error()))
			continue
		}
		if msg.GoAway != nil {
			s.logger.Warn("live endpoint is going away", slog.String("time_left", msg.GoAway.TimeLeft))
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

func buildURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.URL)
	if base == "" {
		base = defaultURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	wsURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid live websocket URL: %w", err)
	}
	if wsURL.Scheme != "ws" && wsURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid live websocket URL scheme %q", wsURL.Scheme)
	}
	if cfg.APIKey != "" {
		query := wsURL.Query()
		query.Set("key", cfg.APIKey)
		wsURL.RawQuery = query.Encode()
	}
	return wsURL.String(), nil
}
