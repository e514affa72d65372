package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"livechat/internal/ports"
)

// FFMPEGCapture captures microphone audio as mono float frames using ffmpeg.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

// Open acquires the input device by starting ffmpeg. Frames are not delivered
// until Start is called on the returned session.
func (c *FFMPEGCapture) Open(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, trimOutput(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegSession{
		stdout:    stdout,
		stderr:    &stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		channels:  cfg.Channels,
		frameSize: cfg.FrameSize,
		readDone:  make(chan struct{}),
		done:      make(chan error, 1),
	}, nil
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	channels  int
	frameSize int

	mu       sync.Mutex
	started  bool
	stopped  bool
	readDone chan struct{}
	done     chan error

	stopOnce sync.Once
	stopErr  error
}

// Start begins delivering fixed-size mono frames to onFrame from a reader
// goroutine. A trailing partial frame is dropped.
func (s *ffmpegSession) Start(onFrame func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("capture session is stopped")
	}
	if s.started {
		return errors.New("capture session already started")
	}
	s.started = true

	go s.readFrames(onFrame)
	return nil
}

func (s *ffmpegSession) Done() <-chan error {
	return s.done
}

func (s *ffmpegSession) readFrames(onFrame func([]float32)) {
	defer close(s.done)
	defer close(s.readDone)

	sampleBytes := 4 * s.channels
	buf := make([]byte, s.frameSize*sampleBytes)
	for {
		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			if s.isStopped() {
				return
			}
			ended := s.endedErr(err)
			if !s.isStopped() {
				s.done <- ended
			}
			return
		}
		onFrame(decodeFrame(buf, s.channels))
	}
}

func (s *ffmpegSession) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// endedErr describes why ffmpeg stopped producing audio without being asked to.
func (s *ffmpegSession) endedErr(readErr error) error {
	select {
	case err, ok := <-s.waitErr:
		if !ok {
			break
		}
		if err == nil {
			return errors.New("ffmpeg exited unexpectedly")
		}
		if output := trimOutput(s.stderr.String()); output != "" {
			return fmt.Errorf("ffmpeg exited: %w: %s", err, output)
		}
		return fmt.Errorf("ffmpeg exited: %w", err)
	case <-time.After(time.Second):
	}
	return fmt.Errorf("audio capture stopped: %w", readErr)
}

// decodeFrame converts interleaved f32le bytes to mono, keeping the first
// channel.
func decodeFrame(buf []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	stride := 4 * channels
	frame := make([]float32, len(buf)/stride)
	for i := range frame {
		bits := binary.LittleEndian.Uint32(buf[i*stride:])
		frame[i] = math.Float32frombits(bits)
	}
	return frame
}

func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		s.mu.Unlock()
		if !started {
			close(s.done)
		}

		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}
		if started {
			<-s.readDone
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimOutput(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
