package pushchan

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHandshakeTimeout reports that a channel did not open before the deadline.
var ErrHandshakeTimeout = errors.New("push channel handshake timed out")

type dialResult struct {
	stream Stream
	err    error
}

// Handshake races dialer.Dial against timeout. Both sides share one cancellation
// token: the loser is told to stop, and a stream that opens after the deadline
// is closed as soon as it arrives.
func Handshake(ctx context.Context, dialer Dialer, url string, timeout time.Duration) (Stream, error) {
	token, cancel := context.WithCancel(ctx)

	results := make(chan dialResult, 1)
	go func() {
		stream, err := dialer.Dial(token, url)
		results <- dialResult{stream: stream, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			cancel()
			return nil, r.err
		}
		return &ownedStream{Stream: r.stream, cancel: cancel}, nil
	case <-timer.C:
		cancel()
		go closeLate(results)
		return nil, fmt.Errorf("%w after %s", ErrHandshakeTimeout, timeout)
	case <-ctx.Done():
		cancel()
		go closeLate(results)
		return nil, ctx.Err()
	}
}

// closeLate waits for the losing dial and tears down anything it opened.
func closeLate(results <-chan dialResult) {
	r := <-results
	if r.err == nil && r.stream != nil {
		_ = r.stream.Close()
	}
}

// ownedStream releases the handshake token together with the stream.
type ownedStream struct {
	Stream
	cancel context.CancelFunc
}

func (s *ownedStream) Close() error {
	err := s.Stream.Close()
	s.cancel()
	return err
}
