package event

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// DefaultDiagnosisFailure is reported when an error status carries no message.
const DefaultDiagnosisFailure = "unknown error"

// DiagnosisEvent is one decoded diagnostic-channel message.
type DiagnosisEvent interface {
	diagnosisEvent()
}

// Log is one human-readable progress line.
type Log struct {
	Line string
}

// Extracted replaces the current keyword set.
type Extracted struct {
	Keywords []string
}

// Complete carries the final ranked results and ends the channel.
type Complete struct {
	Results []Result
}

// Content appends one page preview.
type Content struct {
	Preview Preview
}

// Failure ends the channel with a message.
type Failure struct {
	Message string
}

func (Log) diagnosisEvent()       {}
func (Extracted) diagnosisEvent() {}
func (Complete) diagnosisEvent()  {}
func (Content) diagnosisEvent()   {}
func (Failure) diagnosisEvent()   {}

// Result is one ranked search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Preview is fetched page content for one result.
type Preview struct {
	Title   string
	URL     string
	Content string
}

type diagnosisEnvelope struct {
	Status  string          `json:"status"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Results []Result        `json:"results"`
	Title   string          `json:"title"`
	URL     string          `json:"url"`
	Content string          `json:"content"`
}

// DecodeDiagnosis parses one diagnostic message. Messages matching no rule yield (nil, nil).
func DecodeDiagnosis(raw []byte) (DiagnosisEvent, error) {
	var env diagnosisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch {
	case env.Type == "log" && truthy(env.Data):
		return Log{Line: rawText(env.Data)}, nil
	case env.Status == "extracted" && truthy(env.Data):
		var data struct {
			SearchKeywords json.RawMessage `json:"search_keywords"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			// Lenient: a data shape without search_keywords clears the set.
			return Extracted{Keywords: []string{}}, nil
		}
		return Extracted{Keywords: FlattenKeywords(data.SearchKeywords)}, nil
	case env.Status == "complete" && env.Results != nil:
		return Complete{Results: env.Results}, nil
	case env.Status == "content":
		return Content{Preview: Preview{Title: env.Title, URL: env.URL, Content: env.Content}}, nil
	case env.Status == "error":
		msg := env.Message
		if msg == "" {
			msg = DefaultDiagnosisFailure
		}
		return Failure{Message: msg}, nil
	default:
		return nil, nil
	}
}

// FlattenKeywords flattens nested keyword arrays into a deduplicated list in
// first-seen order, dropping falsy entries. Non-array input yields an empty list.
func FlattenKeywords(raw json.RawMessage) []string {
	out := []string{}
	var root []json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return out
	}

	seen := make(map[string]struct{})
	var walk func(items []json.RawMessage)
	walk = func(items []json.RawMessage) {
		for _, item := range items {
			var nested []json.RawMessage
			if err := json.Unmarshal(item, &nested); err == nil {
				walk(nested)
				continue
			}
			if !truthy(item) {
				continue
			}
			keyword := rawText(item)
			if _, dup := seen[keyword]; dup {
				continue
			}
			seen[keyword] = struct{}{}
			out = append(out, keyword)
		}
	}
	walk(root)
	return out
}

// truthy mirrors loose truthiness: null, false, 0, and "" are falsy.
func truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "false", `""`:
		return false
	}
	if n, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return n != 0
	}
	return true
}

// rawText renders a JSON scalar as display text; strings are unquoted.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
