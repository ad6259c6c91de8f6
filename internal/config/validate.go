package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var supportedCodecs = map[string]struct{}{
	"mp3": {},
	"wav": {},
	"pcm": {},
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Server.BaseURL) == "" {
		return nil, fmt.Errorf("server.base_url must not be empty")
	}
	u, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("server.base_url is invalid: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("server.base_url must be an absolute http or https URL")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		warnings = append(warnings, Warning{Message: "server.base_url query and fragment are ignored"})
	}

	switch cfg.Server.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return nil, fmt.Errorf("server.transport must be one of: sse, websocket")
	}
	if cfg.Server.RequestTimeoutMS <= 0 {
		return nil, fmt.Errorf("server.request_timeout_ms must be > 0")
	}
	if cfg.Server.MaxEventBytes < 64<<10 || cfg.Server.MaxEventBytes > maxEventBytesLimit {
		return nil, fmt.Errorf("server.max_event_bytes must be between 65536 and %d", maxEventBytesLimit)
	}
	if cfg.Session.HandshakeTimeoutMS <= 0 {
		return nil, fmt.Errorf("session.handshake_timeout_ms must be > 0")
	}
	if cfg.Transcript.RevealIntervalMS <= 0 {
		return nil, fmt.Errorf("transcript.reveal_interval_ms must be > 0")
	}
	if cfg.Diagnosis.OpenTimeoutMS <= 0 {
		return nil, fmt.Errorf("diagnosis.open_timeout_ms must be > 0")
	}

	if _, ok := supportedCodecs[cfg.Audio.DefaultCodec]; !ok {
		return nil, fmt.Errorf("audio.default_codec must be one of: mp3, wav, pcm")
	}
	if cfg.Audio.Enable && strings.TrimSpace(cfg.Audio.Output) == "" {
		return nil, fmt.Errorf("audio.output must not be empty when audio.enable=true")
	}

	if listen := cfg.Metrics.Listen; listen != "" {
		if _, port, err := net.SplitHostPort(listen); err != nil || port == "" {
			return nil, fmt.Errorf("metrics.listen must be host:port, got %q", listen)
		}
	}

	return warnings, nil
}
