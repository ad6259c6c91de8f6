package session

import (
	"context"

	"github.com/rbright/speakcoach/internal/remote"
)

// Backend is the handshake surface the controller needs from the coach server.
type Backend interface {
	Upload(ctx context.Context, rec remote.Recording) (string, error)
	ChatStreamURL(sessionID string) string
}

// placeholderBackend keeps a controller usable when no backend is wired.
type placeholderBackend struct{}

func (placeholderBackend) Upload(context.Context, remote.Recording) (string, error) {
	return "", ErrBackendUnavailable
}

func (placeholderBackend) ChatStreamURL(string) string {
	return ""
}
