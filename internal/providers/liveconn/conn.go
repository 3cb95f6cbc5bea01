// Package liveconn runs the send queue, event stream and shutdown sequence
// shared by the live model transports.
package liveconn

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"mitra/internal/domain"
)

const eventBufferSize = 64

var (
	ErrSendQueueFull = errors.New("live send queue is full")
	ErrSessionClosed = errors.New("live session is closed")
)

// Transport is one open bidirectional stream to the live model.
//
// Receive blocks for the next server message and returns the events it
// carries. A returned error ends the stream; a *domain.ConnectionError is
// surfaced unchanged, anything else is reported as a receive failure.
// Send and Receive are each called from a single goroutine. Close may be
// called concurrently with both and must unblock them.
type Transport interface {
	Receive() ([]domain.LiveEvent, error)
	Send(chunk domain.EncodedBlob) error
	Close() error
}

// Conn implements ports.LiveConnection over a Transport.
type Conn struct {
	transport Transport
	logger    *slog.Logger

	events   chan domain.LiveEvent
	outbound chan domain.EncodedBlob
	closing  chan struct{}
	finished chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Open starts the read and write loops for t. The connection closes when ctx
// is cancelled.
func Open(ctx context.Context, t Transport, queueSize int, logger *slog.Logger) *Conn {
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Conn{
		transport: t,
		logger:    logger,
		events:    make(chan domain.LiveEvent, eventBufferSize),
		outbound:  make(chan domain.EncodedBlob, queueSize),
		closing:   make(chan struct{}),
		finished:  make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go c.supervise()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.finished:
		}
	}()
	return c
}

// SendRealtimeInput queues chunk for the write loop and never waits on the
// network.
func (c *Conn) SendRealtimeInput(chunk domain.EncodedBlob) error {
	select {
	case <-c.closing:
		return ErrSessionClosed
	default:
	}

	select {
	case c.outbound <- chunk:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (c *Conn) Events() <-chan domain.LiveEvent {
	return c.events
}

// Close shuts the transport down and waits for the final Closed event to be
// queued. Safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown()
	<-c.finished
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.closing)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("closing live transport", "error", err)
		}
	})
}

func (c *Conn) supervise() {
	c.wg.Wait()
	c.shutdown()

	select {
	case c.events <- domain.LiveEvent{Kind: domain.LiveEventClosed, Err: c.closeErr()}:
	default:
		c.logger.Warn("dropped live close event, consumer is not draining")
	}
	close(c.events)
	close(c.finished)
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	// Stop the writer as soon as the read side is gone.
	defer c.shutdown()

	for {
		events, err := c.transport.Receive()
		for _, event := range events {
			c.emit(event)
		}
		if err == nil {
			continue
		}
		if c.isClosing() || isNormalClose(err) {
			return
		}
		var connErr *domain.ConnectionError
		if !errors.As(err, &connErr) {
			connErr = &domain.ConnectionError{Op: domain.ConnectionOpReceive, Err: err}
		}
		c.setErr(connErr)
		c.emit(domain.LiveEvent{Kind: domain.LiveEventError, Err: connErr})
		return
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.closing:
			return
		case chunk := <-c.outbound:
			if err := c.transport.Send(chunk); err != nil {
				if c.isClosing() {
					return
				}
				c.emit(domain.LiveEvent{
					Kind: domain.LiveEventError,
					Err:  &domain.ConnectionError{Op: domain.ConnectionOpSend, Err: err},
				})
			}
		}
	}
}

// emit blocks until the consumer takes the event, unless the connection is
// shutting down.
func (c *Conn) emit(event domain.LiveEvent) {
	select {
	case c.events <- event:
	case <-c.closing:
	}
}

func (c *Conn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Conn) closeErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
