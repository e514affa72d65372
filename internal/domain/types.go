package domain

import "time"

// ConnectionStatus models the live session lifecycle.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// Terminal reports whether a session in this state can no longer be used.
func (s ConnectionStatus) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// StatusReason provides a structured reason for state transitions.
type StatusReason string

const (
	ReasonIdle              StatusReason = "idle"
	ReasonConnecting        StatusReason = "connecting"
	ReasonConnected         StatusReason = "connected"
	ReasonStopped           StatusReason = "stopped"
	ReasonRemoteClosed      StatusReason = "remote_closed"
	ReasonAcquisitionFailed StatusReason = "acquisition_failed"
	ReasonTransportFailed   StatusReason = "transport_failed"
)

// ErrorCode identifies non-fatal and fatal session errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeAcquisition ErrorCode = "acquisition"
	ErrorCodeTransport   ErrorCode = "transport"
	ErrorCodeDecode      ErrorCode = "decode"
	ErrorCodeAudioStream ErrorCode = "audio_stream"
)

// Speaker identifies who produced a transcription fragment.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerModel Speaker = "model"
)

// TranscriptionEntry is one turn-delimited line of the conversation.
type TranscriptionEntry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	IsFinal bool    `json:"isFinal"`
}

// TranscriptFragment is an incremental speech-to-text result.
type TranscriptFragment struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// WireBlob is one text-encoded audio chunk as carried on the streaming channel.
type WireBlob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// ServerEvent is a single inbound message from the live endpoint. Every field is optional.
type ServerEvent struct {
	Transcripts  []TranscriptFragment
	Audio        []WireBlob
	Interrupted  bool
	TurnComplete bool
}

// AudioBuffer holds decoded mono samples ready for playback.
type AudioBuffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Status summarizes the current runtime status.
type Status struct {
	State     ConnectionStatus `json:"state"`
	Reason    StatusReason     `json:"reason"`
	SessionID string           `json:"sessionId,omitempty"`
	Active    bool             `json:"active"`
}
