// Package streaming holds the session plumbing shared by the live transports:
// a bounded outbound queue, an inbound event channel, and first-error-wins
// bookkeeping around one read loop and one write loop.
package streaming

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"livechat/internal/domain"
	"livechat/internal/ports"
)

// Core implements the queueing half of ports.StreamingSession. Transports
// embed it and supply their loops through Run.
type Core struct {
	events   chan domain.ServerEvent
	outbound chan domain.WireBlob
	stop     chan struct{}
	done     chan struct{}

	wg        sync.WaitGroup
	interrupt func()

	errMu sync.Mutex
	err   error

	stopOnce  sync.Once
	closeOnce sync.Once
}

func NewCore(sendQueue int) *Core {
	if sendQueue <= 0 {
		sendQueue = 64
	}
	return &Core{
		events:   make(chan domain.ServerEvent, 64),
		outbound: make(chan domain.WireBlob, sendQueue),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run starts read and write. The session stops when read returns. Once both
// have returned, Events and Done close and release runs. interrupt is called
// by Close to unblock the loops. A cancelled ctx closes the session.
func (c *Core) Run(ctx context.Context, read, write, interrupt, release func()) {
	c.interrupt = interrupt

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer c.Shutdown()
		read()
	}()
	go func() {
		defer c.wg.Done()
		write()
	}()
	go func() {
		c.wg.Wait()
		close(c.events)
		close(c.done)
		if release != nil {
			release()
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
}

// Send queues one audio chunk without blocking.
func (c *Core) Send(chunk domain.WireBlob) error {
	select {
	case <-c.stop:
		return ports.ErrSessionClosed
	default:
	}

	select {
	case c.outbound <- chunk:
		return nil
	default:
		return ports.ErrSendQueueFull
	}
}

func (c *Core) Events() <-chan domain.ServerEvent {
	return c.events
}

func (c *Core) Wait() error {
	<-c.done
	return c.Err()
}

// Close stops the session and waits for both loops to exit.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		c.Shutdown()
		if c.interrupt != nil {
			c.interrupt()
		}
	})
	<-c.done
	return c.Err()
}

// Outbound is drained by the write loop.
func (c *Core) Outbound() <-chan domain.WireBlob {
	return c.outbound
}

// Stopped is closed once the session is shutting down.
func (c *Core) Stopped() <-chan struct{} {
	return c.stop
}

func (c *Core) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Core) Stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Emit hands event to the consumer. It reports false when the session is
// stopping and the read loop should return.
func (c *Core) Emit(event domain.ServerEvent) bool {
	select {
	case c.events <- event:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Core) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Fail records err unless the session is already stopping locally.
func (c *Core) Fail(err error) {
	if c.Stopping() {
		return
	}
	c.SetErr(err)
}

// SetErr keeps the first error. Normal websocket closures are not errors.
func (c *Core) SetErr(err error) {
	if err == nil || IsNormalClose(err) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// IsNormalClose reports whether err is a websocket close with a code that
// signals a clean end of the session.
func IsNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	}
	return false
}
