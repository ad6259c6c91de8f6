package pushchan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens the same channel over a websocket. http(s) URLs are
// rewritten to ws(s). A message above MaxMessageBytes ends the stream.
type WebSocketDialer struct {
	Dialer          *websocket.Dialer
	Header          http.Header
	MaxMessageBytes int
}

func (d WebSocketDialer) Dial(ctx context.Context, rawURL string) (Stream, error) {
	wsURL, err := toWebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open websocket %s: HTTP %d: %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("open websocket %s: %w", wsURL, err)
	}

	conn.SetReadLimit(int64(eventLimit(d.MaxMessageBytes)))

	f := newFeed(conn.Close)
	go readWebSocket(conn, f)
	go func() {
		select {
		case <-ctx.Done():
			_ = f.Close()
		case <-f.done:
		}
	}()
	return f, nil
}

func readWebSocket(conn *websocket.Conn, f *feed) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			f.finish(err)
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if !f.deliver(data) {
			f.finish(nil)
			return
		}
	}
}

func toWebSocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("channel url must use http, https, ws, or wss")
	}
	return u.String(), nil
}
