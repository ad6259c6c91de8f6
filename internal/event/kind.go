package event

import (
	"fmt"
	"strings"
)

// Kind is one coaching dimension. Its value doubles as the diagnosis URL path segment.
type Kind string

const (
	KindPronunciation Kind = "pronunciation"
	KindGrammar       Kind = "grammar"
	KindUserResponse  Kind = "userResponse"
)

// Kinds lists every suggestion kind in display order.
var Kinds = []Kind{KindPronunciation, KindGrammar, KindUserResponse}

// ParseKind accepts the canonical names plus the hyphen/underscore spellings of user response.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pronunciation":
		return KindPronunciation, nil
	case "grammar":
		return KindGrammar, nil
	case "userresponse", "user-response", "user_response":
		return KindUserResponse, nil
	default:
		return "", fmt.Errorf("unknown suggestion kind %q (want pronunciation, grammar, or user-response)", raw)
	}
}

// Label is the human-readable name of the kind.
func (k Kind) Label() string {
	switch k {
	case KindPronunciation:
		return "pronunciation"
	case KindGrammar:
		return "grammar"
	case KindUserResponse:
		return "user response"
	default:
		return string(k)
	}
}
