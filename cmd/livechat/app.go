package main

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"livechat/internal/domain"
)

// App renders session events on the terminal.
type App struct {
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	printed int

	ended   chan struct{}
	endOnce sync.Once
}

func NewApp(out io.Writer, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{out: out, logger: logger, ended: make(chan struct{})}
}

// Ended is closed once the session reaches a terminal status.
func (a *App) Ended() <-chan struct{} {
	return a.ended
}

// StatusChanged prints session lifecycle updates.
func (a *App) StatusChanged(state domain.ConnectionStatus, reason domain.StatusReason) {
	a.mu.Lock()
	fmt.Fprintf(a.out, "[%s] %s\n", state, statusMessage(reason))
	a.mu.Unlock()

	if state.Terminal() {
		a.endOnce.Do(func() { close(a.ended) })
	}
}

// TranscriptionChanged prints each entry once it becomes final.
func (a *App) TranscriptionChanged(entries []domain.TranscriptionEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(entries) < a.printed {
		a.printed = 0
	}
	for a.printed < len(entries) && entries[a.printed].IsFinal {
		entry := entries[a.printed]
		fmt.Fprintf(a.out, "%s: %s\n", speakerLabel(entry.Speaker), entry.Text)
		a.printed++
	}
}

func (a *App) SpeakingChanged(speaking bool) {
	a.logger.Debug("model speaking changed", slog.Bool("speaking", speaking))
}

// SessionError prints backend errors.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	message := errorMessage(code, detail)
	if detail == "" || detail == message {
		fmt.Fprintf(a.out, "error: %s\n", message)
		return
	}
	fmt.Fprintf(a.out, "error: %s (%s)\n", message, detail)
}

func speakerLabel(speaker domain.Speaker) string {
	if speaker == domain.SpeakerModel {
		return "model"
	}
	return "you"
}

func statusMessage(reason domain.StatusReason) string {
	switch reason {
	case domain.ReasonIdle:
		return "Idle"
	case domain.ReasonConnecting:
		return "Connecting..."
	case domain.ReasonConnected:
		return "Connected, start talking"
	case domain.ReasonStopped:
		return "Session stopped"
	case domain.ReasonRemoteClosed:
		return "Session closed by the server"
	case domain.ReasonAcquisitionFailed:
		return "Could not open the audio devices"
	case domain.ReasonTransportFailed:
		return "Connection to the model failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeAcquisition:
		return "Audio device error"
	case domain.ErrorCodeTransport:
		return "Transport error"
	case domain.ErrorCodeDecode:
		return "Skipped undecodable audio"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
