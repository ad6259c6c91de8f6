package session

import (
	"github.com/rbright/speakcoach/internal/event"
	"github.com/rbright/speakcoach/internal/fsm"
)

// Snapshot is a read-only copy of the session for rendering.
type Snapshot struct {
	Attempt        uint64
	SessionID      string
	State          fsm.State
	Transcript     string
	Revealed       string
	RecognizedText string
	Suggestions    map[event.Kind]string
	Err            error
	PendingAudio   int
	DecodeFailures int
	CanRetry       bool
}

// ErrorMessage is the human-readable failure, or "" when there is none.
func (s Snapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Suggestion returns the current value for kind.
func (s Snapshot) Suggestion(kind event.Kind) (string, bool) {
	text, ok := s.Suggestions[kind]
	return text, ok
}

// Observer is notified after every transition and every dispatched event.
// It runs with the controller locked and must not call back into it.
type Observer interface {
	SessionChanged(Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) SessionChanged(s Snapshot) {
	f(s)
}

type noopObserver struct{}

func (noopObserver) SessionChanged(Snapshot) {}
