// Package event decodes push-channel payloads into typed coaching events.
package event

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultCodec is assumed when an audio payload carries no format hint.
const DefaultCodec = "mp3"

// Tag is the envelope discriminator carried in the `type` field.
type Tag string

const (
	TagResponse                Tag = "response"
	TagText                    Tag = "text"
	TagAudio                   Tag = "audio"
	TagError                   Tag = "error"
	TagRecognizedText          Tag = "recognized_text"
	TagPronunciationSuggestion Tag = "pronunciationSuggestion"
	TagGrammarSuggestion       Tag = "grammarSuggestion"
	TagUserResponseSuggestion  Tag = "userResponseSuggestion"
	TagEnd                     Tag = "end"
)

// Event is one decoded primary-channel message. The set of implementations is closed.
type Event interface {
	event()
}

// TextDelta is an incremental piece of coach text.
type TextDelta struct {
	Text string
}

// AudioSegment is one chunk of synthesized speech.
type AudioSegment struct {
	Payload []byte
	Codec   string
}

// RecognizedText is the server's transcription of the uploaded recording.
type RecognizedText struct {
	Text string
}

// Suggestion is the latest coaching text for one kind.
type Suggestion struct {
	Kind Kind
	Text string
}

// Error is an explicit failure reported by the far side.
type Error struct {
	Message string
}

// End marks the end of the coach reply.
type End struct{}

func (TextDelta) event()      {}
func (AudioSegment) event()   {}
func (RecognizedText) event() {}
func (Suggestion) event()     {}
func (Error) event()          {}
func (End) event()            {}

// Name returns a stable lowercase label for logs and metrics.
func Name(ev Event) string {
	switch ev.(type) {
	case TextDelta:
		return "text_delta"
	case AudioSegment:
		return "audio_segment"
	case RecognizedText:
		return "recognized_text"
	case Suggestion:
		return "suggestion"
	case Error:
		return "error"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

var errEmptyAudio = errors.New("empty audio payload")

// DecodeError reports one payload that could not be decoded.
type DecodeError struct {
	Tag Tag
	Err error
}

func (e *DecodeError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("decode event: %v", e.Err)
	}
	return fmt.Sprintf("decode %s event: %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type envelope struct {
	Type   Tag      `json:"type"`
	Data   flexText `json:"data"`
	Text   string   `json:"text"`
	Audio  string   `json:"audio"`
	Format string   `json:"format"`
}

// flexText accepts a JSON string, an array of strings, or null.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = flexText(single)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = flexText(strings.Join(list, "\n"))
		return nil
	}

	return fmt.Errorf("data must be a string or string array")
}

// Decode parses one raw message. An unrecognized tag yields (nil, nil).
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	switch env.Type {
	case TagResponse, TagText:
		return TextDelta{Text: firstNonEmpty(string(env.Data), env.Text)}, nil
	case TagAudio:
		encoded := firstNonEmpty(env.Audio, string(env.Data))
		payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, &DecodeError{Tag: env.Type, Err: err}
		}
		if len(payload) == 0 {
			return nil, &DecodeError{Tag: env.Type, Err: errEmptyAudio}
		}
		codec := strings.ToLower(strings.TrimSpace(env.Format))
		if codec == "" {
			codec = DefaultCodec
		}
		return AudioSegment{Payload: payload, Codec: codec}, nil
	case TagError:
		return Error{Message: firstNonEmpty(env.Text, string(env.Data))}, nil
	case TagRecognizedText:
		return RecognizedText{Text: firstNonEmpty(env.Text, string(env.Data))}, nil
	case TagPronunciationSuggestion, TagGrammarSuggestion, TagUserResponseSuggestion:
		if strings.TrimSpace(string(env.Data)) == "" {
			return nil, nil
		}
		return Suggestion{Kind: suggestionKinds[env.Type], Text: string(env.Data)}, nil
	case TagEnd:
		return End{}, nil
	default:
		return nil, nil
	}
}

var suggestionKinds = map[Tag]Kind{
	TagPronunciationSuggestion: KindPronunciation,
	TagGrammarSuggestion:       KindGrammar,
	TagUserResponseSuggestion:  KindUserResponse,
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
