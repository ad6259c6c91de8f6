// Package fsm holds the pure transition functions for coaching and diagnosis sessions.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle              State = "idle"
	StateUploading         State = "uploading"
	StateAwaitingHandshake State = "awaiting-handshake"
	StateStreaming         State = "streaming"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

const (
	EventStart    Event = "start"
	EventUploaded Event = "uploaded"
	EventOpened   Event = "opened"
	EventEnd      Event = "end"
	EventFail     Event = "fail"
	EventCancel   Event = "cancel"
)

// Terminal reports whether no further events are expected for the attempt.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Active reports whether an attempt is in flight.
func (s State) Active() bool {
	return s == StateUploading || s == StateAwaitingHandshake || s == StateStreaming
}

// Transition applies one event to a primary session state.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle, StateCompleted, StateFailed:
		switch event {
		case EventStart:
			return StateUploading, nil
		case EventCancel:
			return current, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateUploading:
		switch event {
		case EventUploaded:
			return StateAwaitingHandshake, nil
		case EventFail:
			return StateFailed, nil
		case EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAwaitingHandshake:
		switch event {
		case EventOpened:
			return StateStreaming, nil
		case EventFail:
			return StateFailed, nil
		case EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStreaming:
		switch event {
		case EventEnd:
			return StateCompleted, nil
		case EventFail:
			return StateFailed, nil
		case EventCancel:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
