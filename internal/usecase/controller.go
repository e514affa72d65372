package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"livechat/internal/domain"
	"livechat/internal/metrics"
	"livechat/internal/pcm"
	"livechat/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active live session")
	// ErrAcquisition wraps microphone and audio device failures.
	ErrAcquisition = errors.New("audio device acquisition failed")
	// ErrTransport wraps failures of the streaming channel.
	ErrTransport = errors.New("live transport failed")
	// ErrStartAborted is returned by Start when Stop won the race against setup.
	ErrStartAborted = errors.New("session stopped before it connected")
)

// Config controls live session behavior.
type Config struct {
	Capture   ports.CaptureConfig
	Output    ports.OutputConfig
	Transport ports.TransportConfig
	SendQueue int
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// SessionController orchestrates microphone capture, the live transport,
// playback scheduling, and transcription for one session at a time.
type SessionController struct {
	capture   ports.AudioCapture
	output    ports.AudioOutput
	transport ports.Transport
	events    ports.EventSink
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger

	transcript *transcriptAggregator
	// dispatchMu orders transcript updates of the receive loop with the reset
	// done by Start.
	dispatchMu sync.Mutex

	mu      sync.Mutex
	current *activeSession
}

func NewSessionController(
	capture ports.AudioCapture,
	output ports.AudioOutput,
	transport ports.Transport,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = 16000
	}
	if cfg.Capture.Channels <= 0 {
		cfg.Capture.Channels = 1
	}
	if cfg.Capture.FrameSize <= 0 {
		cfg.Capture.FrameSize = 4096
	}
	if cfg.Output.SampleRate <= 0 {
		cfg.Output.SampleRate = 24000
	}
	if cfg.Transport.InputSampleRate <= 0 {
		cfg.Transport.InputSampleRate = cfg.Capture.SampleRate
	}
	if cfg.Transport.OutputSampleRate <= 0 {
		cfg.Transport.OutputSampleRate = cfg.Output.SampleRate
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 32
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionController{
		capture:    capture,
		output:     output,
		transport:  transport,
		events:     events,
		cfg:        cfg,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		transcript: newTranscriptAggregator(),
	}
}

// Start begins a new live session. It is a no-op while a session is
// connecting or connected.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.current != nil && !c.current.terminal() {
		c.mu.Unlock()
		return nil
	}
	sessionCtx, cancel := context.WithCancel(ctx)
	id := xid.New().String()
	active := newActiveSession(id, cancel, c.logger.With(slog.String("session_id", id)))
	c.current = active
	c.mu.Unlock()

	if !c.transition(active, domain.StatusConnecting, domain.ReasonConnecting) {
		_ = active.release()
		return ErrStartAborted
	}
	c.metrics.SessionsStarted.Inc()

	c.dispatchMu.Lock()
	c.transcript.Reset()
	c.events.TranscriptionChanged(c.transcript.Entries())
	c.dispatchMu.Unlock()

	capture, err := c.capture.Open(sessionCtx, c.cfg.Capture)
	if err != nil {
		return c.failStart(active, domain.ErrorCodeAcquisition, fmt.Errorf("%w: microphone: %w", ErrAcquisition, err))
	}
	if !active.adopt(func() { active.capture = capture }) {
		_ = capture.Stop()
		return c.abortedErr(active)
	}

	output, err := c.output.Open(sessionCtx, c.cfg.Output)
	if err != nil {
		return c.failStart(active, domain.ErrorCodeAcquisition, fmt.Errorf("%w: output device: %w", ErrAcquisition, err))
	}
	if !active.adopt(func() { active.output = output }) {
		_ = output.Close()
		return c.abortedErr(active)
	}

	stream, err := c.transport.Open(sessionCtx, c.cfg.Transport)
	if err != nil {
		return c.failStart(active, domain.ErrorCodeTransport, fmt.Errorf("%w: open: %w", ErrTransport, err))
	}
	if !active.adopt(func() { active.stream = stream }) {
		_ = stream.Close()
		return c.abortedErr(active)
	}

	// The transport is open from here on.
	return c.connect(active, capture, output, stream)
}

func (c *SessionController) connect(
	active *activeSession,
	capture ports.CaptureSession,
	output ports.OutputContext,
	stream ports.StreamingSession,
) error {
	scheduler := newPlaybackScheduler(
		output,
		c.cfg.Output.SampleRate,
		func(speaking bool) { c.speakingChanged(active, speaking) },
		c.metrics,
		active.logger,
	)
	pump := newAudioPump(stream, c.cfg.SendQueue, c.metrics, active.logger)
	go pump.run()

	if !active.adopt(func() {
		active.scheduler = scheduler
		active.pump = pump
		active.consuming = true
	}) {
		pump.Close()
		return c.abortedErr(active)
	}
	go c.consumeServerEvents(active, stream, scheduler)

	rate := c.cfg.Capture.SampleRate
	err := capture.Start(func(frame []float32) {
		c.metrics.FramesCaptured.Inc()
		pump.Enqueue(pcm.NewBlob(frame, rate))
	})
	if err != nil {
		return c.failStart(active, domain.ErrorCodeAcquisition, fmt.Errorf("%w: microphone: %w", ErrAcquisition, err))
	}
	go c.watchCapture(active, capture)

	if !c.transition(active, domain.StatusConnected, domain.ReasonConnected) {
		return c.abortedErr(active)
	}
	return nil
}

func (c *SessionController) failStart(active *activeSession, code domain.ErrorCode, err error) error {
	if active.isReleased() {
		return c.abortedErr(active)
	}
	c.fail(active, domain.StatusError, code, reasonForCode(code), err)
	return err
}

// abortedErr explains why Start could not finish after the session ended
// underneath it.
func (c *SessionController) abortedErr(active *activeSession) error {
	if err := active.failureErr(); err != nil {
		return err
	}
	if _, reason := active.status(); reason == domain.ReasonRemoteClosed {
		return fmt.Errorf("%w: closed by the server during setup", ErrTransport)
	}
	return ErrStartAborted
}

// watchCapture fails the session when the microphone stops on its own.
func (c *SessionController) watchCapture(active *activeSession, capture ports.CaptureSession) {
	select {
	case err, ok := <-capture.Done():
		if !ok || err == nil {
			return
		}
		c.fail(active, domain.StatusError, domain.ErrorCodeAudioStream, domain.ReasonAcquisitionFailed,
			fmt.Errorf("%w: audio capture error: %w", ErrAcquisition, err))
	case <-active.releasedCh:
	}
}

// Stop ends the active session, closing the transport and releasing every
// device. Calling it again is harmless.
func (c *SessionController) Stop(ctx context.Context) error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}

	c.transition(active, domain.StatusDisconnected, domain.ReasonStopped)
	if err := active.release(); err != nil {
		active.logger.Warn("session cleanup reported errors", slog.String("error", err.Error()))
	}
	active.waitConsumer(ctx)
	return nil
}

// Close releases everything owned by the controller.
func (c *SessionController) Close(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil && !errors.Is(err, ErrNoActiveSession) {
		return err
	}
	return nil
}

// Status returns the current session status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.StatusDisconnected, Reason: domain.ReasonIdle}
	}
	state, reason := c.current.status()
	return domain.Status{
		State:     state,
		Reason:    reason,
		SessionID: c.current.id,
		Active:    !state.Terminal(),
	}
}

// Transcript returns the entries of the current or most recent session.
func (c *SessionController) Transcript() []domain.TranscriptionEntry {
	return c.transcript.Entries()
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func (c *SessionController) consumeServerEvents(active *activeSession, stream ports.StreamingSession, scheduler *playbackScheduler) {
	defer close(active.eventsDone)

	for event := range stream.Events() {
		c.dispatch(active, scheduler, event)
	}

	if err := stream.Wait(); err != nil {
		c.fail(active, domain.StatusError, domain.ErrorCodeTransport, domain.ReasonTransportFailed, fmt.Errorf("%w: %w", ErrTransport, err))
		return
	}
	if c.transition(active, domain.StatusDisconnected, domain.ReasonRemoteClosed) {
		if err := active.release(); err != nil {
			active.logger.Warn("session cleanup reported errors", slog.String("error", err.Error()))
		}
	}
}

func (c *SessionController) dispatch(active *activeSession, scheduler *playbackScheduler, event domain.ServerEvent) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if active.terminal() {
		return
	}

	changed := false
	for _, fragment := range event.Transcripts {
		if c.transcript.Add(fragment) {
			c.metrics.TranscriptFragments.WithLabelValues(string(fragment.Speaker)).Inc()
			changed = true
		}
	}
	if changed {
		c.events.TranscriptionChanged(c.transcript.Entries())
	}

	if event.Interrupted {
		active.logger.Debug("model interrupted, clearing playback")
		scheduler.Interrupt()
	}

	for _, blob := range event.Audio {
		if _, err := scheduler.Schedule(blob); err != nil {
			if errors.Is(err, pcm.ErrMalformedAudio) {
				active.logger.Warn("skipping undecodable audio fragment", slog.String("error", err.Error()))
				c.events.SessionError(domain.ErrorCodeDecode, err.Error())
				continue
			}
			if !errors.Is(err, errSchedulerStopped) {
				active.logger.Warn("failed to schedule audio fragment", slog.String("error", err.Error()))
			}
		}
	}

	if event.TurnComplete {
		c.transcript.CompleteTurn()
		c.events.TranscriptionChanged(c.transcript.Entries())
	}
}

func (c *SessionController) speakingChanged(active *activeSession, speaking bool) {
	if active.terminal() {
		return
	}
	c.events.SpeakingChanged(speaking)
}

func (c *SessionController) fail(
	active *activeSession,
	state domain.ConnectionStatus,
	code domain.ErrorCode,
	reason domain.StatusReason,
	err error,
) {
	if !active.transition(state, reason, func() {
		active.setFailure(err)
		c.notifyStatus(active, state, reason)
	}) {
		return
	}
	c.metrics.SessionFailures.WithLabelValues(string(code)).Inc()
	active.logger.Error("live session failed", slog.String("code", string(code)), slog.String("error", err.Error()))
	c.events.SessionError(code, err.Error())
	if releaseErr := active.release(); releaseErr != nil {
		active.logger.Warn("session cleanup reported errors", slog.String("error", releaseErr.Error()))
	}
}

func (c *SessionController) transition(active *activeSession, state domain.ConnectionStatus, reason domain.StatusReason) bool {
	return active.transition(state, reason, func() { c.notifyStatus(active, state, reason) })
}

func (c *SessionController) notifyStatus(active *activeSession, state domain.ConnectionStatus, reason domain.StatusReason) {
	c.metrics.SetStatus(state)
	active.logger.Info("session status changed", slog.String("status", string(state)), slog.String("reason", string(reason)))
	c.events.StatusChanged(state, reason)
}

func reasonForCode(code domain.ErrorCode) domain.StatusReason {
	if code == domain.ErrorCodeTransport {
		return domain.ReasonTransportFailed
	}
	return domain.ReasonAcquisitionFailed
}
