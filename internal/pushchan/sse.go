package pushchan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"
)

var errClosedBeforeOpen = errors.New("event stream ended before it opened")

// DefaultMaxEventBytes caps one message when a dialer leaves its limit unset.
const DefaultMaxEventBytes = 8 << 20

// SSEDialer opens text/event-stream channels. Reconnects are disabled: a dropped
// stream surfaces to the caller instead of being retried behind its back.
// MaxEventBytes bounds a single event including its field prefixes.
type SSEDialer struct {
	Client        *http.Client
	Headers       map[string]string
	MaxEventBytes int
}

func (d SSEDialer) Dial(ctx context.Context, url string) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	f := newFeed(func() error {
		cancel()
		return nil
	})

	client := sse.NewClient(url, sse.ClientMaxBufferSize(eventLimit(d.MaxEventBytes)))
	if d.Client != nil {
		client.Connection = d.Client
	}
	client.ReconnectStrategy = &backoff.StopBackOff{}
	if client.Headers == nil {
		client.Headers = make(map[string]string)
	}
	for k, v := range d.Headers {
		client.Headers[k] = v
	}

	// The validator runs as soon as response headers arrive, which is when the
	// channel counts as open.
	opened := make(chan struct{})
	var openOnce sync.Once
	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		openOnce.Do(func() { close(opened) })
		return nil
	}

	subscribed := make(chan error, 1)
	go func() {
		err := client.SubscribeRawWithContext(streamCtx, func(msg *sse.Event) {
			if len(msg.Data) == 0 {
				return
			}
			payload := make([]byte, len(msg.Data))
			copy(payload, msg.Data)
			f.deliver(payload)
		})
		f.finish(err)
		subscribed <- err
	}()

	select {
	case <-opened:
		return f, nil
	case err := <-subscribed:
		select {
		case <-opened:
			// Opened, delivered, and ended before we looked; the buffered messages remain readable.
			return f, nil
		default:
		}
		cancel()
		if err == nil {
			err = errClosedBeforeOpen
		}
		return nil, fmt.Errorf("open event stream %s: %w", url, err)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

func eventLimit(n int) int {
	if n <= 0 {
		return DefaultMaxEventBytes
	}
	return n
}
