package events

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSinkClosed is returned when emitting into a closed sink.
	ErrSinkClosed = errors.New("event sink closed")

	// ErrNotRunning is returned by a cancel transport when the download has
	// already returned. Its terminal event is queued behind the cancel request.
	ErrNotRunning = errors.New("session is not running")
)

// Sink accepts events from the downloader.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// ChannelSink is a buffered asynchronous event channel.
type ChannelSink struct {
	ch     chan Event
	done   chan struct{}
	closer sync.Once
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Emit enqueues e, blocking until there is room, ctx is done or the sink is closed.
func (s *ChannelSink) Emit(ctx context.Context, e Event) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}

	select {
	case s.ch <- e:
		return nil
	case <-s.done:
		return ErrSinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Done is closed once Close has been called.
func (s *ChannelSink) Done() <-chan struct{} {
	return s.done
}

// Close stops accepting events. Buffered events remain readable from Events.
func (s *ChannelSink) Close() {
	s.closer.Do(func() { close(s.done) })
}
