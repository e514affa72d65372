package audio

import (
	"context"
	"sync"
	"time"

	"livechat/internal/domain"
	"livechat/internal/ports"
)

// VirtualOutput is a headless output device driven by the wall clock. It
// keeps playback timing and completion callbacks without producing sound.
type VirtualOutput struct{}

func NewVirtualOutput() *VirtualOutput {
	return &VirtualOutput{}
}

func (VirtualOutput) Open(_ context.Context, _ ports.OutputConfig) (ports.OutputContext, error) {
	return &virtualContext{
		started: time.Now(),
		handles: make(map[*virtualHandle]struct{}),
	}, nil
}

type virtualContext struct {
	started time.Time

	mu      sync.Mutex
	closed  bool
	handles map[*virtualHandle]struct{}
}

func (c *virtualContext) Now() time.Duration {
	return time.Since(c.started)
}

func (c *virtualContext) Play(buffer domain.AudioBuffer, at time.Duration, onEnded func()) (ports.PlaybackHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errOutputClosed
	}

	wait := at + buffer.Duration() - c.Now()
	if wait < 0 {
		wait = 0
	}
	handle := &virtualHandle{ctx: c}
	c.handles[handle] = struct{}{}
	handle.timer = time.AfterFunc(wait, func() {
		if handle.finish() && onEnded != nil {
			onEnded()
		}
	})
	return handle, nil
}

func (c *virtualContext) Close() error {
	c.mu.Lock()
	c.closed = true
	handles := c.handles
	c.handles = make(map[*virtualHandle]struct{})
	c.mu.Unlock()

	for handle := range handles {
		handle.Stop()
	}
	return nil
}

func (c *virtualContext) forget(handle *virtualHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, handle)
}

type virtualHandle struct {
	ctx   *virtualContext
	timer *time.Timer

	mu   sync.Mutex
	done bool
}

// finish reports whether the handle ended naturally rather than being stopped.
func (h *virtualHandle) finish() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	h.ctx.forget(h)
	return true
}

func (h *virtualHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.timer.Stop()
	h.ctx.forget(h)
}
