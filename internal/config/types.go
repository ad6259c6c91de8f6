// Package config resolves, parses, validates, and defaults speakcoach configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by speakcoach.
type Config struct {
	Server     ServerConfig
	Session    SessionConfig
	Transcript TranscriptConfig
	Audio      AudioConfig
	Diagnosis  DiagnosisConfig
	Metrics    MetricsConfig
}

// Transport names accepted by server.transport.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// ServerConfig locates the coach backend and picks the push channel transport.
type ServerConfig struct {
	BaseURL          string
	Transport        string
	RequestTimeoutMS int
	MaxEventBytes    int
}

// RequestTimeout bounds one handshake HTTP request.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMS) * time.Millisecond
}

// SessionConfig controls the primary chat session.
type SessionConfig struct {
	HandshakeTimeoutMS int
}

// HandshakeTimeout bounds how long the push channel may take to open.
func (s SessionConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutMS) * time.Millisecond
}

// TranscriptConfig controls typewriter pacing.
type TranscriptConfig struct {
	RevealIntervalMS int
}

// RevealInterval is the delay between revealed characters.
func (t TranscriptConfig) RevealInterval() time.Duration {
	return time.Duration(t.RevealIntervalMS) * time.Millisecond
}

// AudioConfig controls coach reply playback.
type AudioConfig struct {
	Enable       bool
	Output       string
	Fallback     string
	DefaultCodec string
}

// DiagnosisConfig controls advanced diagnosis sessions.
type DiagnosisConfig struct {
	OpenTimeoutMS int
}

// OpenTimeout bounds how long the diagnosis channel may take to open.
func (d DiagnosisConfig) OpenTimeout() time.Duration {
	return time.Duration(d.OpenTimeoutMS) * time.Millisecond
}

// MetricsConfig controls the optional Prometheus listener. Empty Listen disables it.
type MetricsConfig struct {
	Listen string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
