package usecase

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"livechat/internal/domain"
	"livechat/internal/metrics"
	"livechat/internal/ports"
)

// audioPump decouples the capture callback from the transport. The callback
// enqueues without blocking; run drains the queue into the stream in order.
type audioPump struct {
	stream  ports.StreamingSession
	metrics *metrics.Metrics
	logger  *slog.Logger

	queue chan domain.WireBlob
	done  chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func newAudioPump(stream ports.StreamingSession, size int, m *metrics.Metrics, logger *slog.Logger) *audioPump {
	if size <= 0 {
		size = 32
	}
	return &audioPump{
		stream:  stream,
		metrics: m,
		logger:  logger,
		queue:   make(chan domain.WireBlob, size),
		done:    make(chan struct{}),
	}
}

// Enqueue hands one frame to the send task. It reports false when the frame
// was dropped because the pump is full or closed.
func (p *audioPump) Enqueue(blob domain.WireBlob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.queue <- blob:
		return true
	default:
		p.metrics.FramesDropped.Inc()
		return false
	}
}

func (p *audioPump) run() {
	defer close(p.done)

	var lastDropLog time.Time
	for blob := range p.queue {
		err := p.stream.Send(blob)
		switch {
		case err == nil:
			p.metrics.FramesSent.Inc()
		case errors.Is(err, ports.ErrSendQueueFull):
			p.metrics.FramesDropped.Inc()
			if time.Since(lastDropLog) > time.Second {
				lastDropLog = time.Now()
				p.logger.Warn("transport not keeping up, dropping audio frames")
			}
		case errors.Is(err, ports.ErrSessionClosed):
			p.drain()
			return
		default:
			p.logger.Warn("failed to send audio frame", slog.String("error", err.Error()))
		}
	}
}

func (p *audioPump) drain() {
	for range p.queue {
	}
}

// Close stops accepting frames and waits for the send task to exit.
func (p *audioPump) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})
	<-p.done
}
