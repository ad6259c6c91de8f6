package console

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	uploading  string
	connecting string
	streaming  string
	completed  string
	cancelled  string
	failed     string
	retryHint  string
	youSaid    string
	keywords   string
	results    string
}

func messagesFromEnv() messages {
	return localizedMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func localizedMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			uploading:  "Uploading recording…",
			connecting: "Waiting for the coach…",
			streaming:  "Coach:",
			completed:  "Done.",
			cancelled:  "Cancelled.",
			failed:     "Failed",
			retryHint:  "(retryable)",
			youSaid:    "You said",
			keywords:   "Keywords",
			results:    "Results",
		}
	}
}
