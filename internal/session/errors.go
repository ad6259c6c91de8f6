package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAlreadyRunning rejects Start while an attempt is in flight.
	ErrAlreadyRunning = errors.New("chat session already running")
	// ErrNothingToRetry rejects Retry outside the failed state or without a remembered recording.
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrCancelled is returned by an attempt that was superseded by Cancel or a newer Start.
	ErrCancelled = errors.New("chat session cancelled")
	// ErrBackendUnavailable indicates the coach backend is not wired.
	ErrBackendUnavailable = errors.New("coach backend not configured")
)

// DefaultRemoteError is shown when the far side reports an error without a message.
const DefaultRemoteError = "unknown error"

// UploadError is a failure before a session handle exists.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// HandshakeTimeoutError reports a push channel that did not open in time.
type HandshakeTimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("push channel did not open within %s", e.Timeout)
}

func (e *HandshakeTimeoutError) Unwrap() error { return e.Err }

// ChannelError is a push channel that failed to open or dropped before the end event.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string {
	if e.Err == nil {
		return "connection error"
	}
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// RemoteError is an explicit error event from the coach.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsRetryable reports whether err ends an attempt in a way Retry can recover from.
func IsRetryable(err error) bool {
	var (
		upload    *UploadError
		handshake *HandshakeTimeoutError
		channel   *ChannelError
		remote    *RemoteError
	)
	return errors.As(err, &upload) ||
		errors.As(err, &handshake) ||
		errors.As(err, &channel) ||
		errors.As(err, &remote)
}
