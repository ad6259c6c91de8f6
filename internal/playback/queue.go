// Package playback plays streamed audio segments strictly one at a time, in arrival order.
package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Segment is one queued, not yet materialized audio payload.
type Segment struct {
	Payload []byte
	Codec   string
}

// Materializer turns a segment into a playable clip.
type Materializer interface {
	Materialize(ctx context.Context, seg Segment) (*Clip, error)
}

// Player renders one clip and returns when it finishes, fails, or ctx ends.
type Player interface {
	Play(ctx context.Context, clip *Clip) error
}

// PlayerFunc adapts a function to the Player interface.
type PlayerFunc func(ctx context.Context, clip *Clip) error

func (f PlayerFunc) Play(ctx context.Context, clip *Clip) error {
	return f(ctx, clip)
}

// DiscardPlayer completes every clip immediately. It backs headless runs.
type DiscardPlayer struct{}

func (DiscardPlayer) Play(ctx context.Context, _ *Clip) error {
	return ctx.Err()
}

// Recorder observes clip lifecycles.
type Recorder interface {
	ClipMaterialized(codec string)
	ClipReleased()
	SegmentDone(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ClipMaterialized(string) {}
func (nopRecorder) ClipReleased()           {}
func (nopRecorder) SegmentDone(string)      {}

// Segment outcomes reported to Recorder.SegmentDone.
const (
	OutcomePlayed      = "played"
	OutcomePlayError   = "play_error"
	OutcomeDecodeError = "decode_error"
	OutcomeCancelled   = "cancelled"
)

// Queue is a FIFO of segments drained by a single consumer goroutine.
// Materialization happens only at the head, so decode latency cannot reorder playback.
type Queue struct {
	logger       *slog.Logger
	materializer Materializer
	player       Player
	recorder     Recorder

	mu      sync.Mutex
	pending []Segment
	playing bool
	current context.CancelFunc
	closed  bool
	idle    chan struct{}
}

// NewQueue constructs a queue with safe default fallbacks.
func NewQueue(logger *slog.Logger, materializer Materializer, player Player, recorder Recorder) *Queue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if materializer == nil {
		materializer = NewDecoder(CodecMP3, recorder)
	}
	if player == nil {
		player = DiscardPlayer{}
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		logger:       logger,
		materializer: materializer,
		player:       player,
		recorder:     recorder,
		idle:         idle,
	}
}

// Enqueue appends seg to the tail and wakes the consumer when it is idle.
// It reports false once the queue is closed.
func (q *Queue) Enqueue(seg Segment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending = append(q.pending, seg)
	if !q.playing {
		q.playing = true
		q.idle = make(chan struct{})
		go q.drain()
	}
	return true
}

// Len returns the number of segments waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a segment is being materialized or played.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Clear drops every waiting segment and stops the one playing. The stopped
// clip is still released by the consumer.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.pending)
	q.pending = nil
	if q.current != nil {
		q.current()
	}
	for i := 0; i < dropped; i++ {
		q.recorder.SegmentDone(OutcomeCancelled)
	}
	return dropped
}

// WaitIdle blocks until nothing is queued or playing, or ctx ends.
func (q *Queue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close clears the queue and rejects later segments.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.Clear()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.playing = false
			q.current = nil
			close(q.idle)
			q.mu.Unlock()
			return
		}
		seg := q.pending[0]
		q.pending[0] = Segment{}
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.current = cancel
		q.mu.Unlock()

		q.recorder.SegmentDone(q.playOne(ctx, seg))

		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
		cancel()
	}
}

// playOne materializes and plays one segment, releasing the clip on every path.
func (q *Queue) playOne(ctx context.Context, seg Segment) string {
	clip, err := q.materializer.Materialize(ctx, seg)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		q.logger.Warn("audio segment decode failed", "codec", seg.Codec, "bytes", len(seg.Payload), "error", err.Error())
		return OutcomeDecodeError
	}
	defer clip.Release()

	if err := q.player.Play(ctx, clip); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return OutcomeCancelled
		}
		q.logger.Warn("audio segment playback failed", "codec", clip.Codec, "error", err.Error())
		return OutcomePlayError
	}
	return OutcomePlayed
}
