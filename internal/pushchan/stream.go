// Package pushchan opens one-way server push channels and races their handshake.
package pushchan

import (
	"context"
	"errors"
	"sync"
)

const messageBuffer = 64

// ErrClosed is reported by Err when the stream was closed locally.
var ErrClosed = errors.New("push channel closed")

// Stream is one open push channel delivering raw message payloads in arrival order.
type Stream interface {
	// Messages is closed once the far side ends the stream or Close is called.
	Messages() <-chan []byte
	// Err reports why Messages closed. nil means the far side ended cleanly.
	Err() error
	// Close tears the channel down. It never blocks on delivery and is idempotent.
	Close() error
}

// Dialer opens a Stream. Dial returns only after the channel is open.
type Dialer interface {
	Dial(ctx context.Context, url string) (Stream, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Stream, error)

func (f DialerFunc) Dial(ctx context.Context, url string) (Stream, error) {
	return f(ctx, url)
}

// feed is the shared Stream implementation behind every transport.
// Exactly one producer goroutine calls deliver and then finish.
type feed struct {
	messages chan []byte
	done     chan struct{}
	teardown func() error

	closeOnce  sync.Once
	finishOnce sync.Once

	mu     sync.Mutex
	err    error
	closed bool
}

func newFeed(teardown func() error) *feed {
	return &feed{
		messages: make(chan []byte, messageBuffer),
		done:     make(chan struct{}),
		teardown: teardown,
	}
}

// NewFeed returns a Stream plus producer hooks. It backs in-memory channels in tests
// and any transport that is not HTTP based.
func NewFeed(teardown func() error) (Stream, func([]byte) bool, func(error)) {
	f := newFeed(teardown)
	return f, f.deliver, f.finish
}

func (f *feed) Messages() <-chan []byte {
	return f.messages
}

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.done)
		if f.teardown != nil {
			err = f.teardown()
		}
	})
	return err
}

// deliver hands one payload to the consumer. It reports false once the stream is closed.
func (f *feed) deliver(msg []byte) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	select {
	case f.messages <- msg:
		return true
	case <-f.done:
		return false
	}
}

// finish records the terminal error and closes Messages.
func (f *feed) finish(err error) {
	f.finishOnce.Do(func() {
		f.mu.Lock()
		if f.closed {
			err = ErrClosed
		}
		f.err = err
		f.mu.Unlock()
		close(f.messages)
	})
}
