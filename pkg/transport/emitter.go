package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/rhuss/probforge/pkg/api"
)

// ErrStreamClosed is returned when writing to a stream that already
// delivered its terminal event.
var ErrStreamClosed = errors.New("progress stream closed")

// DefaultEmitterBuffer is the channel capacity used when NewChannelEmitter
// is given a non-positive size.
const DefaultEmitterBuffer = 32

// ChannelEmitter is an EventWriter backed by a channel. The channel is
// closed exactly once, right after the terminal event is delivered.
//
// When the consumer goes away it calls Detach; from then on events are
// dropped instead of blocking the producer, and the channel is still closed
// on the terminal event.
type ChannelEmitter struct {
	mu       sync.Mutex
	ch       chan api.ProgressEvent
	closed   bool
	detached chan struct{}
	detach   sync.Once
}

var _ EventWriter = (*ChannelEmitter)(nil)

// NewChannelEmitter creates an emitter with the given buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = DefaultEmitterBuffer
	}
	return &ChannelEmitter{
		ch:       make(chan api.ProgressEvent, buffer),
		detached: make(chan struct{}),
	}
}

// Events returns the receive side of the stream.
func (e *ChannelEmitter) Events() <-chan api.ProgressEvent {
	return e.ch
}

// WriteEvent delivers event, blocking while the buffer is full unless the
// emitter is detached or ctx is done.
func (e *ChannelEmitter) WriteEvent(ctx context.Context, event api.ProgressEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStreamClosed
	}

	select {
	case e.ch <- event:
	case <-e.detached:
	case <-ctx.Done():
		if !event.IsTerminal() {
			return ctx.Err()
		}
		// Terminal events still close the stream so readers terminate.
		select {
		case e.ch <- event:
		default:
		}
	}

	if event.IsTerminal() {
		e.closed = true
		close(e.ch)
	}
	return nil
}

// Detach tells the emitter that nobody is reading anymore.
func (e *ChannelEmitter) Detach() {
	e.detach.Do(func() { close(e.detached) })
}

// Closed reports whether the terminal event has been written.
func (e *ChannelEmitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
