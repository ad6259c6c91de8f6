// Package session coordinates one coaching turn: upload, push channel handshake, and event dispatch.
package session

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
	"github.com/rbright/speakcoach/internal/ipc"
	"github.com/rbright/speakcoach/internal/observability"
	"github.com/rbright/speakcoach/internal/playback"
	"github.com/rbright/speakcoach/internal/pushchan"
	"github.com/rbright/speakcoach/internal/remote"
	"github.com/rbright/speakcoach/internal/typewriter"
)

// DefaultHandshakeTimeout bounds the wait for the push channel to open.
const DefaultHandshakeTimeout = 30 * time.Second

// TextSink receives transcript text.
type TextSink interface {
	Append(delta string)
	Replace(text string)
	Accumulated() string
	Revealed() string
	Halt()
}

// AudioQueue receives audio segments for sequential playback.
type AudioQueue interface {
	Enqueue(seg playback.Segment) bool
	Clear() int
	Len() int
	Busy() bool
}

// Config wires a Controller. Nil fields get safe defaults.
type Config struct {
	Logger           *slog.Logger
	Backend          Backend
	Dialer           pushchan.Dialer
	Text             TextSink
	Audio            AudioQueue
	Observer         Observer
	Metrics          *observability.Metrics
	HandshakeTimeout time.Duration
}

// Controller owns the lifecycle of one chat session and its sinks.
type Controller struct {
	logger           *slog.Logger
	backend          Backend
	dialer           pushchan.Dialer
	text             TextSink
	audio            AudioQueue
	observer         Observer
	metrics          *observability.Metrics
	handshakeTimeout time.Duration

	mu             sync.Mutex
	state          fsm.State
	attempt        uint64
	sessionID      string
	recording      *remote.Recording
	recognized     string
	suggestions    map[event.Kind]string
	err            error
	decodeFailures int
	stream         pushchan.Stream
	cancelAttempt  context.CancelFunc
	done           chan struct{}
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Backend == nil {
		cfg.Backend = placeholderBackend{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = pushchan.SSEDialer{}
	}
	if cfg.Text == nil {
		cfg.Text = typewriter.New(typewriter.DefaultInterval, nil)
	}
	if cfg.Audio == nil {
		cfg.Audio = playback.NewQueue(cfg.Logger, nil, nil, cfg.Metrics)
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	done := make(chan struct{})
	close(done)
	return &Controller{
		logger:           cfg.Logger,
		backend:          cfg.Backend,
		dialer:           cfg.Dialer,
		text:             cfg.Text,
		audio:            cfg.Audio,
		observer:         cfg.Observer,
		metrics:          cfg.Metrics,
		handshakeTimeout: cfg.HandshakeTimeout,
		state:            fsm.StateIdle,
		suggestions:      make(map[event.Kind]string),
		done:             done,
	}
}

// State returns the current FSM state.
func (c *Controller) State() fsm.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of everything a renderer needs.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Done is closed once the current attempt completes, fails, or is cancelled.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Start runs upload and handshake for rec, then streams events in the
// background. ctx bounds the whole attempt, including the stream.
func (c *Controller) Start(ctx context.Context, rec remote.Recording) error {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := c.transitionLocked(fsm.EventStart); err != nil {
		c.mu.Unlock()
		return err
	}
	c.attempt++
	attempt := c.attempt
	remembered := rec
	c.recording = &remembered
	c.sessionID = ""
	c.recognized = ""
	c.suggestions = make(map[event.Kind]string)
	c.err = nil
	c.decodeFailures = 0
	c.done = make(chan struct{})
	attemptCtx, cancel := context.WithCancel(ctx)
	c.cancelAttempt = cancel
	c.text.Replace("")
	c.audio.Clear()
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Info("chat attempt started", "attempt", attempt, "bytes", len(rec.Data))
	started := time.Now()

	sessionID, err := c.backend.Upload(attemptCtx, rec)
	if err != nil {
		return c.fail(attempt, &UploadError{Err: err})
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return ErrCancelled
	}
	c.sessionID = sessionID
	if err := c.transitionLocked(fsm.EventUploaded); err != nil {
		c.mu.Unlock()
		return err
	}
	c.notifyLocked()
	c.mu.Unlock()

	stream, err := pushchan.Handshake(attemptCtx, c.dialer, c.backend.ChatStreamURL(sessionID), c.handshakeTimeout)
	if err != nil {
		if errors.Is(err, pushchan.ErrHandshakeTimeout) {
			return c.fail(attempt, &HandshakeTimeoutError{Timeout: c.handshakeTimeout, Err: err})
		}
		return c.fail(attempt, &ChannelError{Err: err})
	}

	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		_ = stream.Close()
		return ErrCancelled
	}
	c.stream = stream
	if err := c.transitionLocked(fsm.EventOpened); err != nil {
		c.mu.Unlock()
		_ = stream.Close()
		return err
	}
	c.notifyLocked()
	c.mu.Unlock()

	c.metrics.ObserveHandshakeLatency(time.Since(started))
	c.logger.Info("push channel open", "attempt", attempt, "session_id", sessionID, "latency_ms", time.Since(started).Milliseconds())

	go c.pump(attempt, stream)
	return nil
}

// Retry restarts the last recording. It is valid only from failed.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != fsm.StateFailed || c.recording == nil {
		c.mu.Unlock()
		return ErrNothingToRetry
	}
	rec := *c.recording
	c.mu.Unlock()

	c.logger.Info("retrying chat attempt")
	return c.Start(ctx, rec)
}

// Cancel tears down the channel, drops queued audio and freezes the reveal.
// Safe in every state. Neither observer nor reveal callbacks for the
// cancelled attempt fire after it returns.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := c.audio.Clear()
	if !c.state.Active() {
		return
	}

	c.attempt++
	c.text.Halt()
	c.releaseAttemptLocked()
	_ = c.transitionLocked(fsm.EventCancel)
	c.finishLocked()
	c.notifyLocked()
	c.logger.Info("chat attempt cancelled", "dropped_audio", dropped)
}

// Handle serves IPC commands for a running chat.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		snap := c.Snapshot()
		return ipc.Response{
			OK:           true,
			State:        string(snap.State),
			SessionID:    snap.SessionID,
			PendingAudio: snap.PendingAudio,
			Message:      statusMessage(snap),
		}
	case ipc.CommandCancel:
		state := c.State()
		if !state.Active() {
			c.Cancel()
			return ipc.Response{OK: true, State: string(state), Message: "nothing in flight; audio stopped"}
		}
		c.Cancel()
		return ipc.Response{OK: true, State: string(c.State()), Message: "cancel requested"}
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func statusMessage(s Snapshot) string {
	switch s.State {
	case fsm.StateFailed:
		return s.ErrorMessage()
	case fsm.StateStreaming, fsm.StateCompleted:
		return fmt.Sprintf("session %s: %d chars, %d audio pending", s.SessionID, len([]rune(s.Transcript)), s.PendingAudio)
	default:
		return string(s.State)
	}
}

// pump reads the stream until it ends or the attempt is superseded.
func (c *Controller) pump(attempt uint64, stream pushchan.Stream) {
	for raw := range stream.Messages() {
		if !c.dispatch(attempt, raw) {
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt || c.state != fsm.StateStreaming {
		return
	}
	err := stream.Err()
	c.failLocked(&ChannelError{Err: err})
}

// dispatch applies one raw message. It reports false once the attempt is over.
func (c *Controller) dispatch(attempt uint64, raw []byte) bool {
	ev, decodeErr := event.Decode(raw)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt || c.state != fsm.StateStreaming {
		return false
	}

	if decodeErr != nil {
		c.decodeFailures++
		c.metrics.DecodeFailure()
		c.logger.Warn("skipping undecodable message", "session_id", c.sessionID, "error", decodeErr.Error())
		c.notifyLocked()
		return true
	}
	if ev == nil {
		c.logger.Debug("ignoring message with unknown type", "session_id", c.sessionID)
		return true
	}

	c.metrics.StreamEvent(event.Name(ev))

	switch v := ev.(type) {
	case event.TextDelta:
		c.text.Append(v.Text)
	case event.AudioSegment:
		c.audio.Enqueue(playback.Segment{Payload: v.Payload, Codec: v.Codec})
	case event.RecognizedText:
		c.recognized = v.Text
	case event.Suggestion:
		c.suggestions[v.Kind] = v.Text
	case event.Error:
		message := v.Message
		if message == "" {
			message = DefaultRemoteError
		}
		c.failLocked(&RemoteError{Message: message})
		return false
	case event.End:
		c.releaseAttemptLocked()
		if err := c.transitionLocked(fsm.EventEnd); err != nil {
			c.logger.Error("end transition rejected", "error", err.Error())
		}
		c.finishLocked()
		c.notifyLocked()
		c.logger.Info("chat attempt completed",
			"session_id", c.sessionID,
			"transcript_chars", len([]rune(c.text.Accumulated())),
			"decode_failures", c.decodeFailures,
		)
		return false
	}

	c.notifyLocked()
	return true
}

// fail ends attempt with err unless it was superseded.
func (c *Controller) fail(attempt uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != attempt {
		return ErrCancelled
	}
	c.failLocked(err)
	return err
}

func (c *Controller) failLocked(err error) {
	c.err = err
	c.releaseAttemptLocked()
	c.audio.Clear()
	if terr := c.transitionLocked(fsm.EventFail); terr != nil {
		c.logger.Error("fail transition rejected", "error", terr.Error())
	}
	c.finishLocked()
	c.notifyLocked()
	c.logger.Error("chat attempt failed", "session_id", c.sessionID, "error", err.Error(), "retryable", IsRetryable(err))
}

// releaseAttemptLocked closes the stream and cancels the attempt context.
func (c *Controller) releaseAttemptLocked() {
	if c.stream != nil {
		_ = c.stream.Close()
		c.stream = nil
	}
	if c.cancelAttempt != nil {
		c.cancelAttempt()
		c.cancelAttempt = nil
	}
}

func (c *Controller) finishLocked() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// transitionLocked applies one FSM event to the controller state.
func (c *Controller) transitionLocked(ev fsm.Event) error {
	next, err := fsm.Transition(c.state, ev)
	if err != nil {
		return err
	}
	if next != c.state {
		c.logger.Debug("session transition", "from", string(c.state), "event", string(ev), "state", string(next))
		c.metrics.SessionTransition(string(next))
	}
	c.state = next
	return nil
}

func (c *Controller) notifyLocked() {
	c.observer.SessionChanged(c.snapshotLocked())
}

func (c *Controller) snapshotLocked() Snapshot {
	suggestions := make(map[event.Kind]string, len(c.suggestions))
	for k, v := range c.suggestions {
		suggestions[k] = v
	}
	pending := c.audio.Len()
	if c.audio.Busy() {
		pending++
	}
	return Snapshot{
		Attempt:        c.attempt,
		SessionID:      c.sessionID,
		State:          c.state,
		Transcript:     c.text.Accumulated(),
		Revealed:       c.text.Revealed(),
		RecognizedText: c.recognized,
		Suggestions:    suggestions,
		Err:            c.err,
		PendingAudio:   pending,
		DecodeFailures: c.decodeFailures,
		CanRetry:       c.state == fsm.StateFailed && c.recording != nil,
	}
}
