package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"livechat/internal/domain"
	"livechat/internal/pcm"
	"livechat/internal/ports"
)

func TestSessionControllerStartConnectsAndStreamsAudio(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	stream := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := newTestController(capture, newFakeOutputContext(), stream, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	status := controller.Status()
	if status.State != domain.StatusConnected || !status.Active || status.SessionID == "" {
		t.Fatalf("unexpected status: %+v", status)
	}

	states := events.snapshotStates()
	want := []stateEvent{
		{state: domain.StatusConnecting, reason: domain.ReasonConnecting},
		{state: domain.StatusConnected, reason: domain.ReasonConnected},
	}
	if diff := cmp.Diff(want, states, cmp.AllowUnexported(stateEvent{})); diff != "" {
		t.Fatalf("unexpected transitions (-want +got):\n%s", diff)
	}

	capture.emit(make([]float32, 4096))
	waitFor(t, func() bool { return len(stream.snapshotSent()) == 1 })

	sent := stream.snapshotSent()[0]
	if sent.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("unexpected mime type: %q", sent.MIMEType)
	}
	data, err := pcm.DecodeText(sent.Data)
	if err != nil || len(data) != 8192 {
		t.Fatalf("expected 8192 encoded bytes, got %d (%v)", len(data), err)
	}
}

func TestSessionControllerStartIsNoopWhileConnected(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	audio := &fakeAudioCapture{sessions: []*fakeCaptureSession{capture}}
	controller := NewSessionController(
		audio,
		&fakeAudioOutput{contexts: []*fakeOutputContext{newFakeOutputContext()}},
		&fakeTransport{sessions: []*fakeStreamingSession{newFakeStreamingSession()}},
		&fakeEventSink{},
		Config{Logger: discardLogger()},
	)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
	if audio.openCalls() != 1 {
		t.Fatalf("expected one microphone acquisition, got %d", audio.openCalls())
	}
}

func TestSessionControllerSchedulesPlaybackGaplessly(t *testing.T) {
	t.Parallel()

	output := newFakeOutputContext()
	stream := newFakeStreamingSession()
	controller := newTestController(&fakeCaptureSession{}, output, stream, &fakeEventSink{})

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	arrivals := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2500 * time.Millisecond}
	for i, at := range arrivals {
		output.setNow(at)
		stream.events <- domain.ServerEvent{Audio: []domain.WireBlob{secondsOfAudio(1, 24000)}}
		waitFor(t, func() bool { return len(output.snapshotHandles()) == i+1 })
	}

	want := []time.Duration{100 * time.Millisecond, 1100 * time.Millisecond, 2500 * time.Millisecond}
	for i, handle := range output.snapshotHandles() {
		if handle.at != want[i] {
			t.Fatalf("fragment %d scheduled at %v, want %v", i, handle.at, want[i])
		}
	}
}

func TestSessionControllerAggregatesTranscription(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := newTestController(&fakeCaptureSession{}, newFakeOutputContext(), stream, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream.events <- domain.ServerEvent{Transcripts: []domain.TranscriptFragment{{Speaker: domain.SpeakerUser, Text: "He"}}}
	stream.events <- domain.ServerEvent{Transcripts: []domain.TranscriptFragment{{Speaker: domain.SpeakerUser, Text: "llo"}}}
	stream.events <- domain.ServerEvent{TurnComplete: true}
	stream.events <- domain.ServerEvent{Transcripts: []domain.TranscriptFragment{{Speaker: domain.SpeakerModel, Text: "Hi"}}}

	want := []domain.TranscriptionEntry{
		{Speaker: domain.SpeakerUser, Text: "Hello", IsFinal: true},
		{Speaker: domain.SpeakerModel, Text: "Hi"},
	}
	waitFor(t, func() bool { return cmp.Equal(want, events.lastTranscript()) })

	if diff := cmp.Diff(want, controller.Transcript()); diff != "" {
		t.Fatalf("unexpected transcript (-want +got):\n%s", diff)
	}
}

func TestSessionControllerStopReleasesEverythingIdempotently(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	output := newFakeOutputContext()
	stream := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := newTestController(capture, output, stream, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream.events <- domain.ServerEvent{Audio: []domain.WireBlob{secondsOfAudio(1, 24000)}}
	waitFor(t, func() bool { return len(output.snapshotHandles()) == 1 })

	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}

	if capture.stops() != 1 {
		t.Fatalf("expected microphone released once, got %d", capture.stops())
	}
	if output.closes() != 1 {
		t.Fatalf("expected output closed once, got %d", output.closes())
	}
	if stream.closes() != 1 {
		t.Fatalf("expected transport closed once, got %d", stream.closes())
	}
	if output.snapshotHandles()[0].stops() != 1 {
		t.Fatalf("expected active playback to be stopped")
	}

	active := controller.current
	if activeFragments(active.scheduler) != 0 {
		t.Fatalf("expected no active playback entries")
	}
	if active.capture != nil || active.output != nil || active.stream != nil || active.pump != nil {
		t.Fatalf("expected device handles to be cleared")
	}

	status := controller.Status()
	if status.State != domain.StatusDisconnected || status.Reason != domain.ReasonStopped || status.Active {
		t.Fatalf("unexpected status after stop: %+v", status)
	}
	if states := events.snapshotStates(); len(states) != 3 {
		t.Fatalf("expected connecting, connected, disconnected; got %+v", states)
	}
}

func TestSessionControllerStopWithoutActiveSession(t *testing.T) {
	t.Parallel()

	controller := newTestController(&fakeCaptureSession{}, newFakeOutputContext(), newFakeStreamingSession(), &fakeEventSink{})

	err := controller.Stop(context.Background())
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if err := controller.Close(context.Background()); err != nil {
		t.Fatalf("close without session should succeed, got %v", err)
	}
}

func TestSessionControllerMicrophoneFailure(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	transport := &fakeTransport{}
	controller := NewSessionController(
		&fakeAudioCapture{err: errors.New("permission denied")},
		&fakeAudioOutput{},
		transport,
		events,
		Config{Logger: discardLogger()},
	)

	err := controller.Start(context.Background())
	if !errors.Is(err, ErrAcquisition) {
		t.Fatalf("expected acquisition error, got %v", err)
	}
	if transport.openCalls() != 0 {
		t.Fatalf("transport should not be opened after acquisition failure")
	}

	status := controller.Status()
	if status.State != domain.StatusError || status.Reason != domain.ReasonAcquisitionFailed {
		t.Fatalf("unexpected status: %+v", status)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeAcquisition {
		t.Fatalf("expected acquisition error event, got %+v", errs)
	}
}

func TestSessionControllerOutputFailureReleasesMicrophone(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []*fakeCaptureSession{capture}},
		&fakeAudioOutput{err: errors.New("no output device")},
		&fakeTransport{},
		&fakeEventSink{},
		Config{Logger: discardLogger()},
	)

	if err := controller.Start(context.Background()); !errors.Is(err, ErrAcquisition) {
		t.Fatalf("expected acquisition error, got %v", err)
	}
	if capture.stops() != 1 {
		t.Fatalf("expected microphone to be released, got %d stops", capture.stops())
	}
}

func TestSessionControllerTransportOpenFailure(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	output := newFakeOutputContext()
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []*fakeCaptureSession{capture}},
		&fakeAudioOutput{contexts: []*fakeOutputContext{output}},
		&fakeTransport{err: errors.New("handshake rejected")},
		events,
		Config{Logger: discardLogger()},
	)

	if err := controller.Start(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if capture.stops() != 1 || output.closes() != 1 {
		t.Fatalf("expected devices released, got capture=%d output=%d", capture.stops(), output.closes())
	}
	if status := controller.Status(); status.Reason != domain.ReasonTransportFailed {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSessionControllerTransportErrorTearsDown(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	output := newFakeOutputContext()
	stream := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := newTestController(capture, output, stream, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream.end(errors.New("connection reset"))

	waitFor(t, func() bool { return controller.Status().State == domain.StatusError })
	waitFor(t, func() bool { return output.closes() == 1 })

	if capture.stops() != 1 {
		t.Fatalf("expected microphone released after transport failure")
	}
	errs := events.snapshotErrors()
	if len(errs) == 0 || errs[len(errs)-1].code != domain.ErrorCodeTransport {
		t.Fatalf("expected transport error event, got %+v", errs)
	}
}

func TestSessionControllerRemoteCloseDisconnects(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	output := newFakeOutputContext()
	stream := newFakeStreamingSession()
	controller := newTestController(capture, output, stream, &fakeEventSink{})

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream.end(nil)

	waitFor(t, func() bool { return controller.Status().Reason == domain.ReasonRemoteClosed })
	waitFor(t, func() bool { return capture.stops() == 1 && output.closes() == 1 })

	if status := controller.Status(); status.State != domain.StatusDisconnected {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSessionControllerStopBeforeAcquisitionResolves(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	audio := &fakeAudioCapture{
		sessions: []*fakeCaptureSession{capture},
		opened:   make(chan struct{}),
		release:  make(chan struct{}),
	}
	transport := &fakeTransport{}
	controller := NewSessionController(audio, &fakeAudioOutput{}, transport, &fakeEventSink{}, Config{Logger: discardLogger()})

	startErr := make(chan error, 1)
	go func() { startErr <- controller.Start(context.Background()) }()

	<-audio.opened
	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	close(audio.release)

	if err := <-startErr; !errors.Is(err, ErrStartAborted) {
		t.Fatalf("expected aborted start, got %v", err)
	}
	if capture.stops() != 1 {
		t.Fatalf("late microphone must be released immediately, got %d stops", capture.stops())
	}
	if transport.openCalls() != 0 {
		t.Fatalf("transport must not open after stop")
	}
	if status := controller.Status(); status.State != domain.StatusDisconnected {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSessionControllerSkipsMalformedAudio(t *testing.T) {
	t.Parallel()

	output := newFakeOutputContext()
	stream := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := newTestController(&fakeCaptureSession{}, output, stream, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream.events <- domain.ServerEvent{Audio: []domain.WireBlob{
		{Data: "%%%", MIMEType: pcm.MIMEType(24000)},
		secondsOfAudio(1, 24000),
	}}

	waitFor(t, func() bool { return len(output.snapshotHandles()) == 1 })
	if status := controller.Status(); status.State != domain.StatusConnected {
		t.Fatalf("session should survive a bad fragment, got %+v", status)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeDecode {
		t.Fatalf("expected one decode error event, got %+v", errs)
	}
}

func TestSessionControllerInterruptStopsPlayback(t *testing.T) {
	t.Parallel()

	output := newFakeOutputContext()
	stream := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := newTestController(&fakeCaptureSession{}, output, stream, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream.events <- domain.ServerEvent{Audio: []domain.WireBlob{secondsOfAudio(2, 24000)}}
	waitFor(t, func() bool { return len(output.snapshotHandles()) == 1 })

	stream.events <- domain.ServerEvent{Interrupted: true}
	waitFor(t, func() bool { return output.snapshotHandles()[0].stops() == 1 })

	speaking := events.snapshotSpeaking()
	if len(speaking) != 2 || !speaking[0] || speaking[1] {
		t.Fatalf("expected speaking then silent, got %v", speaking)
	}
}

func TestSessionControllerCaptureEndFailsSession(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	output := newFakeOutputContext()
	stream := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := newTestController(capture, output, stream, events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	capture.fail(errors.New("ffmpeg exited: exit status 1: device unplugged"))

	waitFor(t, func() bool { return controller.Status().State == domain.StatusError })
	waitFor(t, func() bool { return output.closes() == 1 && stream.closes() == 1 })

	if status := controller.Status(); status.Reason != domain.ReasonAcquisitionFailed || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}
	errs := events.snapshotErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeAudioStream {
		t.Fatalf("expected one audio stream error, got %+v", errs)
	}
	if !strings.Contains(errs[0].detail, "device unplugged") {
		t.Fatalf("expected capture failure detail, got %q", errs[0].detail)
	}
}

func TestSessionControllerStopDoesNotReportCaptureEnd(t *testing.T) {
	t.Parallel()

	capture := &fakeCaptureSession{}
	events := &fakeEventSink{}
	controller := newTestController(capture, newFakeOutputContext(), newFakeStreamingSession(), events)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if errs := events.snapshotErrors(); len(errs) != 0 {
		t.Fatalf("expected no errors after a requested stop, got %+v", errs)
	}
	if status := controller.Status(); status.Reason != domain.ReasonStopped {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestSessionControllerStartReportsTransportEndDuringConnect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endErr   error
		wantText string
	}{
		{name: "channel failure", endErr: errors.New("connection reset"), wantText: "connection reset"},
		{name: "remote close", endErr: nil, wantText: "closed by the server"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			capture := &fakeCaptureSession{}
			stream := newFakeStreamingSession()
			controller := newTestController(capture, newFakeOutputContext(), stream, &fakeEventSink{})
			capture.onStart = func() {
				stream.end(tc.endErr)
				waitFor(t, func() bool { return controller.Status().State.Terminal() })
			}

			err := controller.Start(context.Background())
			if !errors.Is(err, ErrTransport) {
				t.Fatalf("expected transport error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantText) {
				t.Fatalf("expected %q in error, got %v", tc.wantText, err)
			}
		})
	}
}

func TestSessionControllerStartClearsPreviousTranscript(t *testing.T) {
	t.Parallel()

	firstStream := newFakeStreamingSession()
	events := &fakeEventSink{}
	controller := NewSessionController(
		&fakeAudioCapture{sessions: []*fakeCaptureSession{{}, {}}},
		&fakeAudioOutput{contexts: []*fakeOutputContext{newFakeOutputContext(), newFakeOutputContext()}},
		&fakeTransport{sessions: []*fakeStreamingSession{firstStream, newFakeStreamingSession()}},
		events,
		Config{Logger: discardLogger()},
	)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	firstStream.events <- domain.ServerEvent{Transcripts: []domain.TranscriptFragment{{Speaker: domain.SpeakerUser, Text: "hello"}}}
	waitFor(t, func() bool { return len(controller.Transcript()) == 1 })

	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if len(controller.Transcript()) != 1 {
		t.Fatalf("transcript should outlive the stopped session")
	}

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if got := controller.Transcript(); len(got) != 0 {
		t.Fatalf("expected transcript to be cleared, got %+v", got)
	}
	if got := events.lastTranscript(); len(got) != 0 {
		t.Fatalf("expected sink to receive an empty transcript, got %+v", got)
	}
}

func TestSessionControllerRestartBuildsNewSession(t *testing.T) {
	t.Parallel()

	first := &fakeCaptureSession{}
	second := &fakeCaptureSession{}
	audio := &fakeAudioCapture{sessions: []*fakeCaptureSession{first, second}}
	controller := NewSessionController(
		audio,
		&fakeAudioOutput{contexts: []*fakeOutputContext{newFakeOutputContext(), newFakeOutputContext()}},
		&fakeTransport{sessions: []*fakeStreamingSession{newFakeStreamingSession(), newFakeStreamingSession()}},
		&fakeEventSink{},
		Config{Logger: discardLogger()},
	)

	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	firstID := controller.Status().SessionID
	if err := controller.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := controller.Start(context.Background()); err != nil {
		t.Fatalf("second start failed: %v", err)
	}

	status := controller.Status()
	if status.SessionID == firstID || status.State != domain.StatusConnected {
		t.Fatalf("expected a fresh connected session, got %+v", status)
	}
	if audio.openCalls() != 2 {
		t.Fatalf("expected two microphone acquisitions, got %d", audio.openCalls())
	}
}

func newTestController(capture *fakeCaptureSession, output *fakeOutputContext, stream *fakeStreamingSession, events *fakeEventSink) *SessionController {
	return NewSessionController(
		&fakeAudioCapture{sessions: []*fakeCaptureSession{capture}},
		&fakeAudioOutput{contexts: []*fakeOutputContext{output}},
		&fakeTransport{sessions: []*fakeStreamingSession{stream}},
		events,
		Config{Logger: discardLogger()},
	)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []*fakeCaptureSession
	err      error
	calls    int

	opened  chan struct{}
	release chan struct{}
}

func (f *fakeAudioCapture) Open(_ context.Context, _ ports.CaptureConfig) (ports.CaptureSession, error) {
	if f.opened != nil {
		close(f.opened)
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no capture session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

func (f *fakeAudioCapture) openCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCaptureSession struct {
	mu        sync.Mutex
	onFrame   func([]float32)
	onStart   func()
	stopCalls int
	done      chan error
	ended     bool
}

func (f *fakeCaptureSession) Start(onFrame func([]float32)) error {
	f.mu.Lock()
	if f.stopCalls > 0 {
		f.mu.Unlock()
		return errors.New("capture already stopped")
	}
	f.onFrame = onFrame
	onStart := f.onStart
	f.mu.Unlock()

	if onStart != nil {
		onStart()
	}
	return nil
}

func (f *fakeCaptureSession) Done() <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doneLocked()
}

func (f *fakeCaptureSession) doneLocked() chan error {
	if f.done == nil {
		f.done = make(chan error, 1)
	}
	return f.done
}

func (f *fakeCaptureSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.finishLocked(nil)
	return nil
}

// fail simulates the device disappearing while capture runs.
func (f *fakeCaptureSession) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked(err)
}

func (f *fakeCaptureSession) finishLocked(err error) {
	if f.ended {
		return
	}
	f.ended = true
	done := f.doneLocked()
	if err != nil {
		done <- err
	}
	close(done)
}

func (f *fakeCaptureSession) emit(frame []float32) {
	f.mu.Lock()
	onFrame := f.onFrame
	f.mu.Unlock()
	if onFrame != nil {
		onFrame(frame)
	}
}

func (f *fakeCaptureSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeAudioOutput struct {
	mu       sync.Mutex
	contexts []*fakeOutputContext
	err      error
	calls    int
}

func (f *fakeAudioOutput) Open(_ context.Context, _ ports.OutputConfig) (ports.OutputContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.contexts) {
		return nil, errors.New("no output context configured")
	}
	ctx := f.contexts[f.calls]
	f.calls++
	return ctx, nil
}

type fakeOutputContext struct {
	mu         sync.Mutex
	now        time.Duration
	handles    []*fakePlaybackHandle
	closeCalls int
}

func newFakeOutputContext() *fakeOutputContext {
	return &fakeOutputContext{}
}

func (f *fakeOutputContext) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeOutputContext) Play(buffer domain.AudioBuffer, at time.Duration, onEnded func()) (ports.PlaybackHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := &fakePlaybackHandle{at: at, buffer: buffer, onEnded: onEnded}
	f.handles = append(f.handles, handle)
	return handle, nil
}

func (f *fakeOutputContext) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeOutputContext) setNow(now time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *fakeOutputContext) finish(index int) {
	f.mu.Lock()
	handle := f.handles[index]
	f.mu.Unlock()
	handle.onEnded()
}

func (f *fakeOutputContext) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeOutputContext) snapshotHandles() []*fakePlaybackHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakePlaybackHandle, len(f.handles))
	copy(out, f.handles)
	return out
}

type fakePlaybackHandle struct {
	mu        sync.Mutex
	at        time.Duration
	buffer    domain.AudioBuffer
	onEnded   func()
	stopCalls int
}

func (h *fakePlaybackHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopCalls++
}

func (h *fakePlaybackHandle) stops() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopCalls
}

type fakeTransport struct {
	mu       sync.Mutex
	sessions []*fakeStreamingSession
	err      error
	calls    int
}

func (f *fakeTransport) Open(_ context.Context, _ ports.TransportConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls > len(f.sessions) {
		return nil, errors.New("no stream session configured")
	}
	return f.sessions[f.calls-1], nil
}

func (f *fakeTransport) openCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStreamingSession struct {
	events chan domain.ServerEvent

	mu         sync.Mutex
	sent       []domain.WireBlob
	waitErr    error
	closeCalls int
	closed     bool
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{events: make(chan domain.ServerEvent, 16)}
}

func (f *fakeStreamingSession) Send(blob domain.WireBlob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ports.ErrSessionClosed
	}
	f.sent = append(f.sent, blob)
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.ServerEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		close(f.events)
		f.closed = true
	}
	return nil
}

// end simulates the remote side finishing the session.
func (f *fakeStreamingSession) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitErr = err
	if !f.closed {
		close(f.events)
		f.closed = true
	}
}

func (f *fakeStreamingSession) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeStreamingSession) snapshotSent() []domain.WireBlob {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WireBlob, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakeEventSink struct {
	mu sync.Mutex

	states      []stateEvent
	transcripts [][]domain.TranscriptionEntry
	speaking    []bool
	errors      []errEvent
}

type stateEvent struct {
	state  domain.ConnectionStatus
	reason domain.StatusReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) StatusChanged(state domain.ConnectionStatus, reason domain.StatusReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) TranscriptionChanged(entries []domain.TranscriptionEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, entries)
}

func (f *fakeEventSink) SpeakingChanged(speaking bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speaking = append(f.speaking, speaking)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotSpeaking() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.speaking))
	copy(out, f.speaking)
	return out
}

func (f *fakeEventSink) lastTranscript() []domain.TranscriptionEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transcripts) == 0 {
		return nil
	}
	return f.transcripts[len(f.transcripts)-1]
}
