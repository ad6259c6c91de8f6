// Package typewriter accumulates streamed transcript text and reveals it at a fixed cadence.
package typewriter

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is the reveal cadence per character.
const DefaultInterval = 30 * time.Millisecond

// Sink holds the accumulated transcript and the currently revealed prefix.
// The reveal ticker runs only while revealed lags accumulated.
type Sink struct {
	interval time.Duration
	onReveal func(string)

	mu          sync.Mutex
	accumulated []rune
	revealed    int
	ticking     bool
	halted      bool
	closed      bool
	settled     chan struct{}
	done        chan struct{}
}

// New builds a sink. interval <= 0 disables the self-driving ticker; the
// caller then advances the reveal with Tick. onReveal may be nil. It runs
// with the sink locked, in reveal order, and must not call back into the sink.
func New(interval time.Duration, onReveal func(string)) *Sink {
	settled := make(chan struct{})
	close(settled)
	return &Sink{
		interval: interval,
		onReveal: onReveal,
		settled:  settled,
		done:     make(chan struct{}),
	}
}

// Append concatenates delta onto the accumulated transcript.
func (s *Sink) Append(delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.accumulated = append(s.accumulated, []rune(delta)...)
	s.halted = false
	s.resumeLocked()
}

// Replace swaps the accumulated transcript. When text does not extend the
// revealed prefix, the reveal restarts from empty.
func (s *Sink) Replace(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	revealed := string(s.accumulated[:s.revealed])
	s.accumulated = []rune(text)
	s.halted = false
	if !strings.HasPrefix(text, revealed) {
		s.revealed = 0
		if s.onReveal != nil {
			s.onReveal("")
		}
	}
	s.resumeLocked()
}

// Tick advances the revealed prefix by one character. It reports whether
// anything was revealed.
func (s *Sink) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stepLocked()
}

// Accumulated returns the full known transcript.
func (s *Sink) Accumulated() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.accumulated)
}

// Revealed returns the currently displayed prefix.
func (s *Sink) Revealed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.accumulated[:s.revealed])
}

// Pending reports how many characters are still hidden.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accumulated) - s.revealed
}

// WaitSettled blocks until revealed catches up with accumulated, the sink is
// closed, or ctx ends.
func (s *Sink) WaitSettled(ctx context.Context) error {
	s.mu.Lock()
	settled := s.settled
	s.mu.Unlock()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Halt freezes the reveal where it stands. No onReveal call happens after
// Halt returns until the next Append or Replace. Hidden text stays in
// Accumulated and WaitSettled stops waiting for it.
func (s *Sink) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = true
	s.markSettledLocked()
}

// Close stops the ticker. Later writes are ignored.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	s.markSettledLocked()
}

func (s *Sink) stepLocked() bool {
	if s.halted {
		return false
	}
	if s.revealed >= len(s.accumulated) {
		s.markSettledLocked()
		return false
	}
	s.revealed++
	if s.onReveal != nil {
		s.onReveal(string(s.accumulated[:s.revealed]))
	}
	if s.revealed == len(s.accumulated) {
		s.markSettledLocked()
	}
	return true
}

// resumeLocked reopens the settled latch and starts the ticker when text is hidden.
func (s *Sink) resumeLocked() {
	if s.revealed >= len(s.accumulated) {
		s.markSettledLocked()
		return
	}
	select {
	case <-s.settled:
		s.settled = make(chan struct{})
	default:
	}
	if s.interval > 0 && !s.ticking {
		s.ticking = true
		go s.run()
	}
}

func (s *Sink) markSettledLocked() {
	select {
	case <-s.settled:
	default:
		close(s.settled)
	}
}

func (s *Sink) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		s.stepLocked()
		stop := s.halted || s.revealed >= len(s.accumulated)
		if stop {
			s.ticking = false
		}
		s.mu.Unlock()

		if stop {
			return
		}
	}
}
