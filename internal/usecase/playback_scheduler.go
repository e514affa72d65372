package usecase

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"livechat/internal/domain"
	"livechat/internal/metrics"
	"livechat/internal/pcm"
	"livechat/internal/ports"
)

var errSchedulerStopped = errors.New("playback scheduler stopped")

type playbackEntry struct {
	handle   ports.PlaybackHandle
	start    time.Duration
	duration time.Duration
}

// playbackScheduler plays model audio back to back in arrival order. Each
// fragment starts at max(nextStart, device clock) so playback never overlaps
// and never starts in the past.
type playbackScheduler struct {
	output       ports.OutputContext
	fallbackRate int
	onSpeaking   func(bool)
	metrics      *metrics.Metrics
	logger       *slog.Logger

	// signalMu orders speaking notifications; it is taken before mu.
	signalMu sync.Mutex
	speaking bool

	mu        sync.Mutex
	nextStart time.Duration
	seq       uint64
	active    map[uint64]playbackEntry
	stopped   bool
}

func newPlaybackScheduler(
	output ports.OutputContext,
	fallbackRate int,
	onSpeaking func(bool),
	m *metrics.Metrics,
	logger *slog.Logger,
) *playbackScheduler {
	if onSpeaking == nil {
		onSpeaking = func(bool) {}
	}
	return &playbackScheduler{
		output:       output,
		fallbackRate: fallbackRate,
		onSpeaking:   onSpeaking,
		metrics:      m,
		logger:       logger,
		active:       make(map[uint64]playbackEntry),
	}
}

// Schedule decodes blob and queues it behind everything already scheduled.
// Decode failures skip the fragment and leave the schedule untouched.
func (s *playbackScheduler) Schedule(blob domain.WireBlob) (time.Duration, error) {
	buffer, err := pcm.DecodeBlob(blob, s.fallbackRate)
	if err != nil {
		s.metrics.DecodeFailures.Inc()
		return 0, err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, errSchedulerStopped
	}

	now := s.output.Now()
	start := s.nextStart
	if now > start {
		start = now
	}
	duration := buffer.Duration()

	s.seq++
	id := s.seq
	handle, err := s.output.Play(buffer, start, func() { s.finished(id) })
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.nextStart = start + duration
	s.active[id] = playbackEntry{handle: handle, start: start, duration: duration}
	s.metrics.ActivePlayback.Set(float64(len(s.active)))
	s.mu.Unlock()

	s.metrics.FragmentsScheduled.Inc()
	s.metrics.ScheduleLead.Observe((start - now).Seconds())
	s.logger.Debug("scheduled playback fragment",
		slog.Uint64("seq", id),
		slog.Duration("start", start),
		slog.Duration("duration", duration),
	)

	s.syncSpeaking()
	return start, nil
}

func (s *playbackScheduler) finished(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	s.metrics.ActivePlayback.Set(float64(len(s.active)))
	s.mu.Unlock()

	s.syncSpeaking()
}

// syncSpeaking reports the speaking state when it differs from the last
// report. The state is read under signalMu, so the final notification always
// matches the active set.
func (s *playbackScheduler) syncSpeaking() {
	s.signalMu.Lock()
	defer s.signalMu.Unlock()

	s.mu.Lock()
	speaking := len(s.active) > 0 && !s.stopped
	s.mu.Unlock()

	if speaking == s.speaking {
		return
	}
	s.speaking = speaking
	s.onSpeaking(speaking)
}

// Interrupt silences everything in flight and resets the schedule so the
// next fragment starts on the device clock.
func (s *playbackScheduler) Interrupt() {
	s.stopActive(false)
	s.syncSpeaking()
}

// StopAll forcibly stops every active fragment and rejects further
// scheduling. It is safe to call more than once.
func (s *playbackScheduler) StopAll() {
	s.stopActive(true)
}

func (s *playbackScheduler) stopActive(final bool) {
	s.mu.Lock()
	entries := s.active
	s.active = make(map[uint64]playbackEntry)
	s.nextStart = 0
	if final {
		s.stopped = true
	}
	s.metrics.ActivePlayback.Set(0)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.handle.Stop()
	}
}
