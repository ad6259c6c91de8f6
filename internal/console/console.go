// Package console renders chat and diagnosis progress to a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rbright/speakcoach/internal/diagnosis"
	"github.com/rbright/speakcoach/internal/event"
	"github.com/rbright/speakcoach/internal/fsm"
	"github.com/rbright/speakcoach/internal/session"
)

// Renderer prints only what changed since the last notification.
// It satisfies session.Observer and diagnosis.Observer; Reveal is the typewriter hook.
type Renderer struct {
	out      io.Writer
	messages messages

	mu          sync.Mutex
	state       fsm.State
	recognized  string
	suggestions map[event.Kind]string
	printed     []rune
	midLine     bool

	diagState    fsm.DiagnosisState
	diagLogs     int
	diagKeywords string
	diagPreviews int
}

// New renders to out.
func New(out io.Writer) *Renderer {
	return &Renderer{
		out:         out,
		messages:    messagesFromEnv(),
		state:       fsm.StateIdle,
		suggestions: make(map[event.Kind]string),
		diagState:   fsm.DiagnosisIdle,
	}
}

// Reveal prints the newly revealed suffix of the coach transcript.
func (r *Renderer) Reveal(revealed string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := []rune(revealed)
	if !hasRunePrefix(next, r.printed) {
		r.endLineLocked()
		r.printed = nil
	}
	if len(next) == len(r.printed) {
		return
	}
	if len(r.printed) == 0 {
		r.printf("%s ", r.messages.streaming)
	}
	r.printf("%s", string(next[len(r.printed):]))
	r.printed = next
	r.midLine = true
}

// SessionChanged prints state changes, recognized text, and suggestion updates.
func (r *Renderer) SessionChanged(s session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.State != r.state {
		r.state = s.State
		switch s.State {
		case fsm.StateUploading:
			r.printed = nil
			r.recognized = ""
			r.suggestions = make(map[event.Kind]string)
			r.lineLocked(r.messages.uploading)
		case fsm.StateAwaitingHandshake:
			r.lineLocked(r.messages.connecting)
		case fsm.StateIdle:
			r.lineLocked(r.messages.cancelled)
		case fsm.StateFailed:
			line := fmt.Sprintf("%s: %s", r.messages.failed, s.ErrorMessage())
			if s.CanRetry && session.IsRetryable(s.Err) {
				line += " " + r.messages.retryHint
			}
			r.lineLocked(line)
		}
	}

	if s.RecognizedText != "" && s.RecognizedText != r.recognized {
		r.recognized = s.RecognizedText
		r.lineLocked(fmt.Sprintf("%s: %s", r.messages.youSaid, s.RecognizedText))
	}

	for _, kind := range event.Kinds {
		text, ok := s.Suggestions[kind]
		if !ok || text == r.suggestions[kind] {
			continue
		}
		r.suggestions[kind] = text
		r.lineLocked(fmt.Sprintf("[%s] %s", kind.Label(), strings.ReplaceAll(text, "\n", "\n  ")))
	}
}

// Finish ends any partial transcript line and prints the completion marker.
func (r *Renderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == fsm.StateCompleted {
		r.lineLocked(r.messages.completed)
		return
	}
	r.endLineLocked()
}

// DiagnosisChanged prints new log lines, keyword changes, previews, and final results.
func (r *Renderer) DiagnosisChanged(s diagnosis.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.State == fsm.DiagnosisRunning && r.diagState != fsm.DiagnosisRunning {
		r.diagLogs, r.diagKeywords, r.diagPreviews = 0, "", 0
	}

	for _, line := range s.Logs[min(r.diagLogs, len(s.Logs)):] {
		r.lineLocked("· " + line)
	}
	r.diagLogs = len(s.Logs)

	if keywords := strings.Join(s.Keywords, ", "); keywords != r.diagKeywords {
		r.diagKeywords = keywords
		r.lineLocked(fmt.Sprintf("%s: %s", r.messages.keywords, keywords))
	}

	for _, p := range s.Previews[min(r.diagPreviews, len(s.Previews)):] {
		r.lineLocked(fmt.Sprintf("  %s <%s>", p.Title, p.URL))
	}
	r.diagPreviews = len(s.Previews)

	if s.State != r.diagState {
		r.diagState = s.State
		switch s.State {
		case fsm.DiagnosisCompleted:
			r.lineLocked(fmt.Sprintf("%s:", r.messages.results))
			for i, res := range s.Results {
				r.lineLocked(fmt.Sprintf("%d. %s <%s>", i+1, res.Title, res.URL))
				if res.Snippet != "" {
					r.lineLocked("   " + res.Snippet)
				}
			}
		case fsm.DiagnosisFailed:
			if s.Err != nil {
				r.lineLocked(fmt.Sprintf("%s: %s", r.messages.failed, s.Err.Error()))
			}
		case fsm.DiagnosisIdle:
			r.lineLocked(r.messages.cancelled)
		}
	}
}

func (r *Renderer) lineLocked(text string) {
	r.endLineLocked()
	r.printf("%s\n", text)
}

func (r *Renderer) endLineLocked() {
	if r.midLine {
		r.printf("\n")
		r.midLine = false
	}
}

func (r *Renderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func hasRunePrefix(s []rune, prefix []rune) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}
