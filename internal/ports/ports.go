package ports

import (
	"context"
	"errors"
	"time"

	"livechat/internal/domain"
)

var (
	// ErrSendQueueFull is returned when the outbound audio queue cannot take another chunk.
	ErrSendQueueFull = errors.New("send queue is full")
	// ErrSessionClosed is returned when sending on a session that has ended.
	ErrSessionClosed = errors.New("session closed")
)

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	FrameSize   int
	InputFormat string
	InputDevice string
}

// CaptureSession is an acquired microphone. Frames are pushed to the handler
// passed to Start on the device goroutine.
type CaptureSession interface {
	Start(onFrame func(frame []float32)) error
	// Done delivers at most one error when capture ends without Stop, and is
	// closed once frame delivery has finished.
	Done() <-chan error
	Stop() error
}

// AudioCapture acquires microphone capture sessions.
type AudioCapture interface {
	Open(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// OutputConfig describes the playback device.
type OutputConfig struct {
	SampleRate int
	BufferSize time.Duration
}

// PlaybackHandle controls one scheduled buffer.
type PlaybackHandle interface {
	// Stop silences the buffer immediately. onEnded is not invoked afterwards.
	Stop()
}

// OutputContext is an open playback device with its own clock.
type OutputContext interface {
	// Now reports the device clock, starting at zero when the context opens.
	Now() time.Duration
	// Play schedules buffer to start at device time at. onEnded runs once after
	// natural completion and never from inside Play.
	Play(buffer domain.AudioBuffer, at time.Duration, onEnded func()) (PlaybackHandle, error)
	Close() error
}

// AudioOutput opens playback contexts.
type AudioOutput interface {
	Open(ctx context.Context, cfg OutputConfig) (OutputContext, error)
}

// TransportConfig describes the live session requested from the remote service.
type TransportConfig struct {
	Model               string
	Voice               string
	SystemInstruction   string
	InputSampleRate     int
	OutputSampleRate    int
	InputTranscription  bool
	OutputTranscription bool
}

// StreamingSession is an open bidirectional channel to the live endpoint.
type StreamingSession interface {
	// Send queues one chunk without blocking.
	Send(blob domain.WireBlob) error
	// Events delivers inbound messages in receipt order and closes when the session ends.
	Events() <-chan domain.ServerEvent
	// Wait blocks until the session ends. A nil error means a normal close.
	Wait() error
	Close() error
}

// Transport opens streaming sessions. Open returns once the remote setup
// handshake has completed.
type Transport interface {
	Open(ctx context.Context, cfg TransportConfig) (StreamingSession, error)
}

// EventSink emits session state and transcript changes to the UI.
type EventSink interface {
	StatusChanged(status domain.ConnectionStatus, reason domain.StatusReason)
	TranscriptionChanged(entries []domain.TranscriptionEntry)
	SpeakingChanged(speaking bool)
	SessionError(code domain.ErrorCode, detail string)
}
