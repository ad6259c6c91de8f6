package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Server     *jsoncServer     `json:"server"`
	Session    *jsoncSession    `json:"session"`
	Transcript *jsoncTranscript `json:"transcript"`
	Audio      *jsoncAudio      `json:"audio"`
	Diagnosis  *jsoncDiagnosis  `json:"diagnosis"`
	Metrics    *jsoncMetrics    `json:"metrics"`
}

type jsoncServer struct {
	BaseURL          *string `json:"base_url"`
	Transport        *string `json:"transport"`
	RequestTimeoutMS *int    `json:"request_timeout_ms"`
	MaxEventBytes    *int    `json:"max_event_bytes"`
}

type jsoncSession struct {
	HandshakeTimeoutMS *int `json:"handshake_timeout_ms"`
}

type jsoncTranscript struct {
	RevealIntervalMS *int `json:"reveal_interval_ms"`
}

type jsoncAudio struct {
	Enable       *bool   `json:"enable"`
	Output       *string `json:"output"`
	Fallback     *string `json:"fallback"`
	DefaultCodec *string `json:"default_codec"`
}

type jsoncDiagnosis struct {
	OpenTimeoutMS *int `json:"open_timeout_ms"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings := payload.applyTo(&cfg)

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if payload.Server != nil {
		if payload.Server.BaseURL != nil {
			cfg.Server.BaseURL = strings.TrimSpace(*payload.Server.BaseURL)
		}
		if payload.Server.Transport != nil {
			cfg.Server.Transport = strings.ToLower(strings.TrimSpace(*payload.Server.Transport))
		}
		if payload.Server.RequestTimeoutMS != nil {
			cfg.Server.RequestTimeoutMS = *payload.Server.RequestTimeoutMS
		}
		if payload.Server.MaxEventBytes != nil {
			cfg.Server.MaxEventBytes = *payload.Server.MaxEventBytes
		}
	}

	if payload.Session != nil && payload.Session.HandshakeTimeoutMS != nil {
		cfg.Session.HandshakeTimeoutMS = *payload.Session.HandshakeTimeoutMS
	}

	if payload.Transcript != nil && payload.Transcript.RevealIntervalMS != nil {
		cfg.Transcript.RevealIntervalMS = *payload.Transcript.RevealIntervalMS
	}

	if payload.Audio != nil {
		if payload.Audio.Enable != nil {
			cfg.Audio.Enable = *payload.Audio.Enable
		}
		if payload.Audio.Output != nil {
			cfg.Audio.Output = strings.TrimSpace(*payload.Audio.Output)
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = strings.TrimSpace(*payload.Audio.Fallback)
		}
		if payload.Audio.DefaultCodec != nil {
			cfg.Audio.DefaultCodec = strings.ToLower(strings.TrimSpace(*payload.Audio.DefaultCodec))
		}
		if !cfg.Audio.Enable && (payload.Audio.Output != nil || payload.Audio.Fallback != nil) {
			warnings = append(warnings, Warning{Message: "audio.output and audio.fallback are ignored while audio.enable=false"})
		}
	}

	if payload.Diagnosis != nil && payload.Diagnosis.OpenTimeoutMS != nil {
		cfg.Diagnosis.OpenTimeoutMS = *payload.Diagnosis.OpenTimeoutMS
	}

	if payload.Metrics != nil && payload.Metrics.Listen != nil {
		cfg.Metrics.Listen = strings.TrimSpace(*payload.Metrics.Listen)
	}

	return warnings
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
