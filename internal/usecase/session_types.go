package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"livechat/internal/domain"
	"livechat/internal/ports"
)

// activeSession owns every resource of one live session. It is built by
// Start and released exactly once by stop, remote close, or failure.
type activeSession struct {
	id     string
	cancel context.CancelFunc
	logger *slog.Logger

	// transitionMu orders state changes with their notifications.
	transitionMu sync.Mutex

	mu        sync.Mutex
	state     domain.ConnectionStatus
	reason    domain.StatusReason
	released  bool
	consuming bool
	capture   ports.CaptureSession
	output    ports.OutputContext
	stream    ports.StreamingSession
	pump      *audioPump
	scheduler *playbackScheduler
	failure   error

	releaseOnce sync.Once
	releasedCh  chan struct{}
	eventsDone  chan struct{}
}

func newActiveSession(id string, cancel context.CancelFunc, logger *slog.Logger) *activeSession {
	return &activeSession{
		id:         id,
		cancel:     cancel,
		logger:     logger,
		releasedCh: make(chan struct{}),
		eventsDone: make(chan struct{}),
	}
}

// transition moves the session to state when the lifecycle allows it and runs
// notify while still holding the ordering lock.
func (s *activeSession) transition(state domain.ConnectionStatus, reason domain.StatusReason, notify func()) bool {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	allowed := false
	switch state {
	case domain.StatusConnecting:
		allowed = s.state == ""
	case domain.StatusConnected:
		allowed = s.state == domain.StatusConnecting
	case domain.StatusDisconnected, domain.StatusError:
		allowed = !s.state.Terminal()
	}
	if allowed {
		s.state = state
		s.reason = reason
	}
	s.mu.Unlock()

	if allowed && notify != nil {
		notify()
	}
	return allowed
}

func (s *activeSession) status() (domain.ConnectionStatus, domain.StatusReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return domain.StatusConnecting, domain.ReasonConnecting
	}
	return s.state, s.reason
}

func (s *activeSession) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal()
}

// adopt records a freshly acquired resource unless the session has already
// been released, in which case the caller must release it.
func (s *activeSession) adopt(set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return false
	}
	set()
	return true
}

// setFailure records why the session failed. It must run inside a
// transition's notify callback.
func (s *activeSession) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// failureErr waits for any in-flight transition and returns the recorded failure.
func (s *activeSession) failureErr() error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *activeSession) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// release stops capture, silences playback, and closes the output device and
// the transport. Later calls are no-ops.
func (s *activeSession) release() error {
	var errs []error
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		capture, pump, scheduler, output, stream := s.capture, s.pump, s.scheduler, s.output, s.stream
		s.capture, s.pump, s.output, s.stream = nil, nil, nil, nil
		s.mu.Unlock()

		close(s.releasedCh)
		s.cancel()

		if capture != nil {
			if err := capture.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if pump != nil {
			pump.Close()
		}
		if scheduler != nil {
			scheduler.StopAll()
		}
		if output != nil {
			if err := output.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if stream != nil {
			if err := stream.Close(); err != nil {
				s.logger.Debug("transport closed with error", slog.String("error", err.Error()))
			}
		}
	})
	return errors.Join(errs...)
}

func (s *activeSession) waitConsumer(ctx context.Context) {
	s.mu.Lock()
	consuming := s.consuming
	s.mu.Unlock()
	if !consuming {
		return
	}
	select {
	case <-s.eventsDone:
	case <-ctx.Done():
	}
}
