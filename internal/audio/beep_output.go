package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"livechat/internal/domain"
	"livechat/internal/ports"
)

var errOutputClosed = errors.New("audio output is closed")

var (
	speakerOnce sync.Once
	speakerRate beep.SampleRate
	speakerErr  error
)

// initSpeaker opens the system speaker once per process. Later calls reuse
// the first sample rate; buffers are resampled to it.
func initSpeaker(rate beep.SampleRate, buffer time.Duration) (beep.SampleRate, error) {
	speakerOnce.Do(func() {
		speakerRate = rate
		speakerErr = speaker.Init(rate, rate.N(buffer))
	})
	return speakerRate, speakerErr
}

// BeepOutput plays scheduled buffers on the system speaker.
type BeepOutput struct {
	logger *slog.Logger
}

func NewBeepOutput(logger *slog.Logger) *BeepOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &BeepOutput{logger: logger}
}

func (o *BeepOutput) Open(_ context.Context, cfg ports.OutputConfig) (ports.OutputContext, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100 * time.Millisecond
	}

	rate, err := initSpeaker(beep.SampleRate(cfg.SampleRate), cfg.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open speaker: %w", err)
	}
	if int(rate) != cfg.SampleRate {
		o.logger.Debug("speaker already running at a different rate, resampling",
			slog.Int("speaker_rate", int(rate)),
			slog.Int("requested_rate", cfg.SampleRate),
		)
	}

	out := newBeepContext(rate)
	speaker.Play(out.clock)
	return out, nil
}

// beepContext schedules buffers on a mixer whose streamed sample count is the
// device clock.
type beepContext struct {
	rate  beep.SampleRate
	clock *clockStreamer
}

func newBeepContext(rate beep.SampleRate) *beepContext {
	return &beepContext{rate: rate, clock: &clockStreamer{}}
}

func (c *beepContext) Now() time.Duration {
	c.clock.mu.Lock()
	defer c.clock.mu.Unlock()
	return c.rate.D(c.clock.position)
}

func (c *beepContext) Play(buffer domain.AudioBuffer, at time.Duration, onEnded func()) (ports.PlaybackHandle, error) {
	var src beep.Streamer = &monoStreamer{samples: buffer.Samples}
	if buffer.SampleRate > 0 && beep.SampleRate(buffer.SampleRate) != c.rate {
		src = beep.Resample(4, beep.SampleRate(buffer.SampleRate), c.rate, src)
	}

	c.clock.mu.Lock()
	defer c.clock.mu.Unlock()
	if c.clock.closed {
		return nil, errOutputClosed
	}

	delay := c.rate.N(at) - c.clock.position
	if delay < 0 {
		delay = 0
	}
	ctrl := &beep.Ctrl{Streamer: beep.Seq(
		beep.Silence(delay),
		src,
		beep.Callback(func() {
			if onEnded != nil {
				go onEnded()
			}
		}),
	)}
	c.clock.mixer.Add(ctrl)
	return &beepHandle{clock: c.clock, ctrl: ctrl}, nil
}

func (c *beepContext) Close() error {
	c.clock.mu.Lock()
	defer c.clock.mu.Unlock()
	c.clock.closed = true
	c.clock.mixer.Clear()
	return nil
}

type beepHandle struct {
	clock *clockStreamer
	ctrl  *beep.Ctrl
}

// Stop silences the buffer without running its completion callback.
func (h *beepHandle) Stop() {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	h.ctrl.Streamer = nil
}

type clockStreamer struct {
	mu       sync.Mutex
	mixer    beep.Mixer
	position int
	closed   bool
}

func (c *clockStreamer) Stream(samples [][2]float64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.mixer.Stream(samples)
	c.position += len(samples)
	return len(samples), true
}

func (c *clockStreamer) Err() error { return nil }

// monoStreamer duplicates mono samples onto both speaker channels.
type monoStreamer struct {
	samples []float32
	pos     int
}

func (m *monoStreamer) Stream(out [][2]float64) (int, bool) {
	if m.pos >= len(m.samples) {
		return 0, false
	}
	n := 0
	for n < len(out) && m.pos < len(m.samples) {
		v := float64(m.samples[m.pos])
		out[n][0], out[n][1] = v, v
		n++
		m.pos++
	}
	return n, true
}

func (m *monoStreamer) Err() error { return nil }
