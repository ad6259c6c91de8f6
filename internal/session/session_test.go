package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/speakcoach/internal/event"
	"github.com/rbright/speakcoach/internal/fsm"
	"github.com/rbright/speakcoach/internal/playback"
	"github.com/rbright/speakcoach/internal/pushchan"
	"github.com/rbright/speakcoach/internal/remote"
	"github.com/rbright/speakcoach/internal/typewriter"
)

type fakeBackend struct {
	id      string
	err     error
	block   chan struct{}
	uploads atomic.Int32
}

func (b *fakeBackend) Upload(ctx context.Context, _ remote.Recording) (string, error) {
	b.uploads.Add(1)
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.id, b.err
}

func (b *fakeBackend) ChatStreamURL(id string) string {
	return "mem://chat/" + id
}

// memChannel is an in-memory push channel whose Close ends Messages like a real transport.
type memChannel struct {
	stream  pushchan.Stream
	deliver func([]byte) bool
	finish  func(error)
	closes  atomic.Int32
}

func newMemChannel() *memChannel {
	ch := &memChannel{}
	var finish func(error)
	stream, deliver, fin := pushchan.NewFeed(func() error {
		ch.closes.Add(1)
		finish(nil)
		return nil
	})
	finish = fin
	ch.stream, ch.deliver, ch.finish = stream, deliver, fin
	return ch
}

func (m *memChannel) send(t *testing.T, payload string) {
	t.Helper()
	require.True(t, m.deliver([]byte(payload)), "channel closed before %s", payload)
}

type memDialer struct {
	mu       sync.Mutex
	channels []*memChannel
	urls     []string
}

func (d *memDialer) Dial(_ context.Context, url string) (pushchan.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.channels) == 0 {
		return nil, errors.New("no channel prepared")
	}
	ch := d.channels[0]
	d.channels = d.channels[1:]
	return ch.stream, nil
}

type stateLog struct {
	mu     sync.Mutex
	states []fsm.State
	calls  int
	last   Snapshot
}

func (l *stateLog) SessionChanged(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.last = s
	if len(l.states) == 0 || l.states[len(l.states)-1] != s.State {
		l.states = append(l.states, s.State)
	}
}

func (l *stateLog) snapshot() ([]fsm.State, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]fsm.State(nil), l.states...), l.calls
}

type harness struct {
	ctrl     *Controller
	backend  *fakeBackend
	dialer   *memDialer
	text     *typewriter.Sink
	observer *stateLog
}

func newHarness(t *testing.T, channels ...*memChannel) *harness {
	t.Helper()
	h := &harness{
		backend:  &fakeBackend{id: "chat-1"},
		dialer:   &memDialer{channels: channels},
		text:     typewriter.New(0, nil),
		observer: &stateLog{},
	}
	h.ctrl = NewController(Config{
		Backend:          h.backend,
		Dialer:           h.dialer,
		Text:             h.text,
		Audio:            playback.NewQueue(nil, nil, nil, nil),
		Observer:         h.observer,
		HandshakeTimeout: time.Second,
	})
	return h
}

func waitDone(t *testing.T, ctrl *Controller) {
	t.Helper()
	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not finish; state=%s", ctrl.State())
	}
}

var twoSeconds = remote.Recording{Name: "take.webm", Data: make([]byte, 32000)}

func TestStartStreamsTranscriptAndCompletes(t *testing.T) {
	ch := newMemChannel()
	h := newHarness(t, ch)

	require.NoError(t, h.ctrl.Start(context.Background(), twoSeconds))
	require.Equal(t, fsm.StateStreaming, h.ctrl.State())
	require.Equal(t, []string{"mem://chat/chat-1"}, h.dialer.urls)

	ch.send(t, `{"type":"recognized_text","text":"hello"}`)
	ch.send(t, `{"type":"response","data":"Hi"}`)
	ch.send(t, `{"type":"response","data":" there"}`)
	ch.send(t, `{"type":"end"}`)
	waitDone(t, h.ctrl)

	snap := h.ctrl.Snapshot()
	require.Equal(t, fsm.StateCompleted, snap.State)
	require.Equal(t, "Hi there", snap.Transcript)
	require.Equal(t, "hello", snap.RecognizedText)
	require.Equal(t, "chat-1", snap.SessionID)
	require.NoError(t, snap.Err)
	require.False(t, snap.CanRetry)
	require.Equal(t, int32(1), ch.closes.Load())

	states, _ := h.observer.snapshot()
	require.Equal(t, []fsm.State{
		fsm.StateUploading,
		fsm.StateAwaitingHandshake,
		fsm.StateStreaming,
		fsm.StateCompleted,
	}, states)
}

func TestSuggestionsOverwritePerKind(t *testing.T) {
	ch := newMemChannel()
	h := newHarness(t, ch)
	require.NoError(t, h.ctrl.Start(context.Background(), twoSeconds))

	ch.send(t, `{"type":"grammarSuggestion","data":"use past tense"}`)
	ch.send(t, `{"type":"pronunciationSuggestion","data":["stress the first","syllable"]}`)
	ch.send(t, `{"type":"grammarSuggestion","data":"subject-verb agreement"}`)
	ch.send(t, `{"type":"userResponseSuggestion","data":""}`)
	ch.send(t, `{"type":"end"}`)
	waitDone(t, h.ctrl)

	snap := h.ctrl.Snapshot()
	require.Equal(t, map[event.Kind]string{
		event.KindGrammar:       "subject-verb agreement",
		event.KindPronunciation: "stress the first\nsyllable",
	}, snap.Suggestions)
	_, ok := snap.Suggestion(event.KindUserResponse)
	require.False(t, ok)
}

func TestDecodeFailureIsSkipped(t *testing.T) {
	ch := newMemChannel()
	h := newHarness(t, ch)
	require.NoError(t, h.ctrl.Start(context.Background(), twoSeconds))

	ch.send(t, `not json`)
	ch.send(t, `{"type":"audio","audio":"%%%"}`)
	ch.send(t, `{"type":"heartbeat"}`)
	ch.send(t, `{"type":"response","data":"still here"}`)
	ch.send(t, `{"type":"end"}`)
	waitDone(t, h.ctrl)

	snap := h.ctrl.Snapshot()
	require.Equal(t, fsm.StateCompleted, snap.State)
	require.Equal(t, "still here", snap.Transcript)
	require.Equal(t, 2, snap.DecodeFailures)
}

func TestRemoteErrorFailsAndRetryRestarts(t *testing.T) {
	first, second := newMemChannel(), newMemChannel()
	h := newHarness(t, first, second)
	require.NoError(t, h.ctrl.Start(context.Background(), twoSeconds))

	first.send(t, `{"type":"response","data":"partial"}`)
	first.send(t, `{"type":"error","text":"model overloaded"}`)
	waitDone(t, h.ctrl)

	snap := h.ctrl.Snapshot()
	require.Equal(t, fsm.StateFailed, snap.State)
	var remoteErr *RemoteError
	require.True(t, errors.As(snap.Err, &remoteErr))
	require.Equal(t, "model overloaded", snap.ErrorMessage())
	require.True(t, snap.CanRetry)
	require.True(t, IsRetryable(snap.Err))
	require.Equal(t, int32(1), first.closes.Load())
	require.False(t, first.deliver([]byte(`{"type":"end"}`)))

	require.NoError(t, h.ctrl.Retry(context.Background()))
	require.Equal(t, int32(2), h.backend.uploads.Load())
	require.Equal(t, "", h.ctrl.Snapshot().Transcript)

	second.send(t, `{"type":"response","data":"fresh"}`)
	second.send(t, `{"type":"end"}`)
	waitDone(t, h.ctrl)
	require.Equal(t, "fresh", h.ctrl.Snapshot().Transcript)
	require.Equal(t, fsm.StateCompleted, h.ctrl.State())
}

func TestRemoteErrorWithoutMessageUsesDefault(t *testing.T) {
	ch := newMemChannel()
	h := newHarness(t, ch)
	require.NoError(t, h.ctrl.Start(context.Background(), twoSeconds))

	ch.send(t, `{"type":"error"}`)
	waitDone(t, h.ctrl)
	require.Equal(t, DefaultRemoteError, h.ctrl.Snapshot().ErrorMessage())
}

func TestUploadFailureIsRetryable(t *testing.T) {
	h := newHarness(t, newMemChannel())
	h.backend.err = errors.New("connection refused")

	err := h.ctrl.Start(context.Background(), twoSeconds)
	var uploadErr *UploadError
	require.True(t, errors.As(err, &uploadErr))
	require.True(t, IsRetryable(err))
	require.Equal(t, fsm.StateFailed, h.ctrl.State())
	require.Empty(t, h.dialer.urls)

	h.backend.err = nil
	require.NoError(t, h.ctrl.Retry(context.Background()))
	require.Equal(t, fsm.StateStreaming, h.ctrl.State())
}

func TestHandshakeTimeoutIgnoresStrayOpen(t *testing.T) {
	late := newMemChannel()
	release := make(chan struct{})
	dialed := make(chan struct{})
	dialer := pushchan.DialerFunc(func(context.Context, string) (pushchan.Stream, error) {
		close(dialed)
		<-release
		return late.stream, nil
	})
	observer := &stateLog{}
	ctrl := NewController(Config{
		Backend:          &fakeBackend{id: "chat-9"},
		Dialer:           dialer,
		Observer:         observer,
		HandshakeTimeout: 20 * time.Millisecond,
	})

	err := ctrl.Start(context.Background(), twoSeconds)
	var timeoutErr *HandshakeTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	require.ErrorIs(t, err, pushchan.ErrHandshakeTimeout)
	require.Equal(t, fsm.StateFailed, ctrl.State())
	<-dialed

	_, callsBefore := observer.snapshot()
	close(release)
	require.Eventually(t, func() bool { return late.closes.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, callsAfter := observer.snapshot()
	require.Equal(t, callsBefore, callsAfter)
	require.Equal(t, fsm.StateFailed, ctrl.State())
	require.True(t, ctrl.Snapshot().CanRetry)
}

func TestStreamDropBeforeEndIsChannelError(t *testing.T) {
	ch := newMemChannel()
	h := newHarness(t, ch)
	require.NoError(t, h.ctrl.Start(context.Background(), twoSeconds))

	ch.send(t, `{"type":"response","data":"Hi"}`)
	ch.finish(errors.New("reset by peer"))
	waitDone(t, h.ctrl)

	snap := h.ctrl.Snapshot()
	require.Equal(t, fsm.StateFailed, snap.State)
	var channelErr *ChannelError
	require.True(t, errors.As(snap.Err, &channelErr))
	require.Contains(t, snap.ErrorMessage(), "connection error")
	require.Equal(t, "Hi", snap.Transcript)
}

func TestCancelStopsDispatchSynchronously(t *testing.T) {
	ch := newMemChannel()
	h := newHarness(t, ch)
	require.NoError(t, h.ctrl.Start(context.Background(), twoSeconds))

	ch.send(t, `{"type":"response","data":"Hi"}`)
	require.Eventually(t, func() bool { return h.text.Accumulated() == "Hi" }, time.Second, 5*time.Millisecond)

	h.ctrl.Cancel()
	waitDone(t, h.ctrl)
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Equal(t, int32(1), ch.closes.Load())
	_, calls := h.observer.snapshot()

	require.False(t, ch.deliver([]byte(`{"type":"response","data":" more"}`)))
	h.ctrl.Cancel()
	_, callsAfter := h.observer.snapshot()
	require.Equal(t, calls, callsAfter)
	require.Equal(t, "Hi", h.text.Accumulated())
}

func TestDefaultTextSinkRevealsOnItsOwn(t *testing.T) {
	ch := newMemChannel()
	ctrl := NewController(Config{
		Backend: &fakeBackend{id: "chat-4"},
		Dialer:  &memDialer{channels: []*memChannel{ch}},
	})
	require.NoError(t, ctrl.Start(context.Background(), twoSeconds))

	ch.send(t, `{"type":"response","data":"Hi"}`)
	require.Eventually(t, func() bool { return ctrl.Snapshot().Revealed == "Hi" }, 2*time.Second, 5*time.Millisecond)
	ctrl.Cancel()
}

func TestCancelFreezesReveal(t *testing.T) {
	var reveals atomic.Int32
	text := typewriter.New(2*time.Millisecond, func(string) { reveals.Add(1) })
	defer text.Close()

	ch := newMemChannel()
	ctrl := NewController(Config{
		Backend: &fakeBackend{id: "chat-5"},
		Dialer:  &memDialer{channels: []*memChannel{ch}},
		Text:    text,
	})
	require.NoError(t, ctrl.Start(context.Background(), twoSeconds))

	ch.send(t, `{"type":"response","data":"`+strings.Repeat("keep talking ", 40)+`"}`)
	require.Eventually(t, func() bool { return text.Revealed() != "" }, time.Second, time.Millisecond)

	ctrl.Cancel()
	frozen := reveals.Load()
	time.Sleep(30 * time.Millisecond)

	require.Equal(t, frozen, reveals.Load())
	snap := ctrl.Snapshot()
	require.Less(t, len(snap.Revealed), len(snap.Transcript))
	require.NoError(t, text.WaitSettled(context.Background()))
}

func TestCancelDuringUpload(t *testing.T) {
	h := newHarness(t, newMemChannel())
	h.backend.block = make(chan struct{})

	errs := make(chan error, 1)
	go func() { errs <- h.ctrl.Start(context.Background(), twoSeconds) }()
	require.Eventually(t, func() bool { return h.backend.uploads.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.ctrl.Cancel()
	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Cancel")
	}
	require.Equal(t, fsm.StateIdle, h.ctrl.State())
	require.Empty(t, h.dialer.urls)
}

func TestStartRejectsWhileRunning(t *testing.T) {
	h := newHarness(t, newMemChannel())
	require.NoError(t, h.ctrl.Start(context.Background(), twoSeconds))

	require.ErrorIs(t, h.ctrl.Start(context.Background(), twoSeconds), ErrAlreadyRunning)
	h.ctrl.Cancel()
}

func TestRetryRequiresFailure(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.ctrl.Retry(context.Background()), ErrNothingToRetry)
}

func TestPlaceholderBackendFailsUpload(t *testing.T) {
	ctrl := NewController(Config{})
	err := ctrl.Start(context.Background(), twoSeconds)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	require.Equal(t, fsm.StateFailed, ctrl.State())
}

type labelMaterializer struct{}

func (labelMaterializer) Materialize(_ context.Context, seg playback.Segment) (*playback.Clip, error) {
	return playback.NewClip(seg.Codec, 16000, 1, []int16{int16(seg.Payload[0])}, nil), nil
}

func TestAudioSegmentsPlayOneAtATime(t *testing.T) {
	started := make(chan int16, 4)
	finish := make(chan struct{})
	player := playback.PlayerFunc(func(ctx context.Context, clip *playback.Clip) error {
		started <- clip.Samples[0]
		select {
		case <-finish:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	queue := playback.NewQueue(nil, labelMaterializer{}, player, nil)
	defer queue.Close()

	ch := newMemChannel()
	ctrl := NewController(Config{
		Backend: &fakeBackend{id: "chat-2"},
		Dialer:  &memDialer{channels: []*memChannel{ch}},
		Audio:   queue,
	})
	require.NoError(t, ctrl.Start(context.Background(), twoSeconds))

	ch.send(t, `{"type":"audio","audio":"AQ==","format":"mp3"}`)
	ch.send(t, `{"type":"audio","audio":"Ag==","format":"mp3"}`)

	require.Equal(t, int16(1), <-started)
	require.Eventually(t, func() bool { return queue.Len() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case label := <-started:
		t.Fatalf("segment %d started before the first finished", label)
	case <-time.After(30 * time.Millisecond):
	}
	require.Equal(t, 2, ctrl.Snapshot().PendingAudio)

	finish <- struct{}{}
	require.Equal(t, int16(2), <-started)
	finish <- struct{}{}

	ch.send(t, `{"type":"end"}`)
	waitDone(t, ctrl)
	require.Equal(t, fsm.StateCompleted, ctrl.State())
}
