// Package diagnosis runs one advanced diagnosis for a coaching suggestion over its own push channel.
package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/speakcoach/internal/event"
	"github.com/rbright/speakcoach/internal/fsm"
	"github.com/rbright/speakcoach/internal/observability"
	"github.com/rbright/speakcoach/internal/pushchan"
)

// DefaultOpenTimeout bounds the wait for the diagnosis channel to open.
const DefaultOpenTimeout = 30 * time.Second

const completeLine = "diagnosis complete"

var (
	// ErrBusy rejects a request while a different diagnosis is running.
	ErrBusy = errors.New("a different diagnosis is already running; cancel it first")
	// ErrConnection reports a diagnosis channel that ended before a terminal status.
	ErrConnection = errors.New("connection error")
)

// DiagnosisRequestError is a failure establishing the diagnosis handshake.
type DiagnosisRequestError struct {
	Err error
}

func (e *DiagnosisRequestError) Error() string {
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *DiagnosisRequestError) Unwrap() error { return e.Err }

// FailureError is an error status reported on the diagnosis channel.
type FailureError struct {
	Message string
}

func (e *FailureError) Error() string {
	return e.Message
}

// Backend is the handshake surface the controller needs from the coach server.
type Backend interface {
	RequestDiagnosis(ctx context.Context, kind event.Kind, content string) (string, error)
	DiagnosisStreamURL(kind event.Kind, sessionID string) string
}

// Snapshot is a read-only copy of the diagnosis for rendering.
type Snapshot struct {
	Kind      event.Kind
	Content   string
	SessionID string
	State     fsm.DiagnosisState
	Logs      []string
	Keywords  []string
	Results   []event.Result
	Previews  []event.Preview
	Err       error
}

// Observer is notified after every change. It runs with the controller locked.
type Observer interface {
	DiagnosisChanged(Snapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) DiagnosisChanged(s Snapshot) {
	f(s)
}

type noopObserver struct{}

func (noopObserver) DiagnosisChanged(Snapshot) {}

// Config wires a Controller. Backend is required.
type Config struct {
	Logger      *slog.Logger
	Backend     Backend
	Dialer      pushchan.Dialer
	Observer    Observer
	Metrics     *observability.Metrics
	OpenTimeout time.Duration
}

// Controller owns at most one diagnosis at a time. It shares nothing with the chat session.
type Controller struct {
	logger      *slog.Logger
	backend     Backend
	dialer      pushchan.Dialer
	observer    Observer
	metrics     *observability.Metrics
	openTimeout time.Duration

	mu        sync.Mutex
	state     fsm.DiagnosisState
	attempt   uint64
	kind      event.Kind
	content   string
	sessionID string
	logs      []string
	keywords  []string
	results   []event.Result
	previews  []event.Preview
	err       error
	stream    pushchan.Stream
	cancelReq context.CancelFunc
	done      chan struct{}
}

// NewController constructs a diagnosis controller with safe default fallbacks.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Dialer == nil {
		cfg.Dialer = pushchan.SSEDialer{}
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		logger:      cfg.Logger,
		backend:     cfg.Backend,
		dialer:      cfg.Dialer,
		observer:    cfg.Observer,
		metrics:     cfg.Metrics,
		openTimeout: cfg.OpenTimeout,
		state:       fsm.DiagnosisIdle,
		done:        done,
	}
}

// State returns the current diagnosis state.
func (c *Controller) State() fsm.DiagnosisState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current diagnosis.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Done is closed once the current diagnosis completes, fails, or is cancelled.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Request starts a diagnosis for (kind, content). Repeating the running
// request is a no-op; a different one fails with ErrBusy.
func (c *Controller) Request(ctx context.Context, kind event.Kind, content string) error {
	c.mu.Lock()
	if c.state == fsm.DiagnosisRunning {
		same := c.kind == kind && c.content == content
		c.mu.Unlock()
		if same {
			return nil
		}
		return ErrBusy
	}
	if err := c.transitionLocked(fsm.EventStart); err != nil {
		c.mu.Unlock()
		return err
	}
	c.attempt++
	attempt := c.attempt
	c.kind = kind
	c.content = content
	c.sessionID = ""
	c.logs = []string{fmt.Sprintf("starting %s diagnosis...", kind.Label())}
	c.keywords = nil
	c.results = nil
	c.previews = nil
	c.err = nil
	c.done = make(chan struct{})
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancelReq = cancel
	c.notifyLocked()
	c.mu.Unlock()

	if c.backend == nil {
		return c.fail(attempt, &DiagnosisRequestError{Err: errors.New("coach backend not configured")})
	}

	sessionID, err := c.backend.RequestDiagnosis(reqCtx, kind, content)
	if err != nil {
		return c.fail(attempt, &DiagnosisRequestError{Err: err})
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return context.Canceled
	}
	c.sessionID = sessionID
	c.mu.Unlock()

	stream, err := pushchan.Handshake(reqCtx, c.dialer, c.backend.DiagnosisStreamURL(kind, sessionID), c.openTimeout)
	if err != nil {
		return c.fail(attempt, &DiagnosisRequestError{Err: err})
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		_ = stream.Close()
		return context.Canceled
	}
	c.stream = stream
	c.mu.Unlock()

	c.logger.Info("diagnosis channel open", "kind", string(kind), "session_id", sessionID)
	go c.pump(attempt, stream)
	return nil
}

// Cancel closes any open channel. It is always safe to call.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()
	if c.state != fsm.DiagnosisRunning {
		return
	}
	c.attempt++
	_ = c.transitionLocked(fsm.EventCancel)
	c.finishLocked()
	c.notifyLocked()
	c.logger.Info("diagnosis cancelled", "kind", string(c.kind))
}

func (c *Controller) pump(attempt uint64, stream pushchan.Stream) {
	for raw := range stream.Messages() {
		if !c.dispatch(attempt, raw) {
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt || c.state != fsm.DiagnosisRunning {
		return
	}
	if err := stream.Err(); err != nil {
		c.failLocked(fmt.Errorf("%w: %v", ErrConnection, err))
		return
	}
	c.failLocked(ErrConnection)
}

func (c *Controller) dispatch(attempt uint64, raw []byte) bool {
	ev, decodeErr := event.DecodeDiagnosis(raw)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt || c.state != fsm.DiagnosisRunning {
		return false
	}
	if decodeErr != nil {
		c.logger.Warn("skipping undecodable diagnosis message", "kind", string(c.kind), "error", decodeErr.Error())
		return true
	}
	if ev == nil {
		return true
	}

	switch v := ev.(type) {
	case event.Log:
		c.logs = append(c.logs, v.Line)
	case event.Extracted:
		c.keywords = v.Keywords
		if len(v.Keywords) == 0 {
			c.logger.Debug("diagnosis keywords empty after flattening", "kind", string(c.kind))
		}
	case event.Content:
		c.previews = append(c.previews, v.Preview)
	case event.Complete:
		c.results = v.Results
		c.logs = append(c.logs, completeLine)
		c.releaseLocked()
		_ = c.transitionLocked(fsm.EventEnd)
		c.finishLocked()
		c.notifyLocked()
		c.logger.Info("diagnosis complete", "kind", string(c.kind), "results", len(v.Results), "keywords", len(c.keywords))
		return false
	case event.Failure:
		c.failLocked(&FailureError{Message: v.Message})
		return false
	}

	c.notifyLocked()
	return true
}

func (c *Controller) fail(attempt uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return context.Canceled
	}
	c.failLocked(err)
	return err
}

func (c *Controller) failLocked(err error) {
	c.err = err
	c.releaseLocked()
	_ = c.transitionLocked(fsm.EventFail)
	c.finishLocked()
	c.notifyLocked()
	c.logger.Error("diagnosis failed", "kind", string(c.kind), "error", err.Error())
}

func (c *Controller) releaseLocked() {
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	if c.cancelReq != nil {
		c.cancelReq()
		c.cancelReq = nil
	}
}

func (c *Controller) finishLocked() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Controller) transitionLocked(ev fsm.Event) error {
	next, err := fsm.DiagnosisTransition(c.state, ev)
	if err != nil {
		return err
	}
	if next != c.state && next != fsm.DiagnosisRunning {
		c.metrics.DiagnosisOutcome(string(c.kind), string(next))
	}
	c.state = next
	return nil
}

func (c *Controller) notifyLocked() {
	c.observer.DiagnosisChanged(c.snapshotLocked())
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Kind:      c.kind,
		Content:   c.content,
		SessionID: c.sessionID,
		State:     c.state,
		Logs:      append([]string(nil), c.logs...),
		Keywords:  append([]string(nil), c.keywords...),
		Results:   append([]event.Result(nil), c.results...),
		Previews:  append([]event.Preview(nil), c.previews...),
		Err:       c.err,
	}
}
