package config

// DefaultMaxEventBytes caps one push channel message. Audio events carry
// base64 clips, so this sits well above typical speech segments.
const DefaultMaxEventBytes = 8 << 20

const maxEventBytesLimit = 256 << 20

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:          "http://localhost:8000",
			Transport:        TransportSSE,
			RequestTimeoutMS: 15000,
			MaxEventBytes:    DefaultMaxEventBytes,
		},
		Session: SessionConfig{
			HandshakeTimeoutMS: 30000,
		},
		Transcript: TranscriptConfig{
			RevealIntervalMS: 30,
		},
		Audio: AudioConfig{
			Enable:       true,
			Output:       "default",
			Fallback:     "default",
			DefaultCodec: "mp3",
		},
		Diagnosis: DiagnosisConfig{
			OpenTimeoutMS: 30000,
		},
	}
}
