// Package remote talks to the coach backend's handshake endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/speakcoach/internal/event"
	"github.com/rbright/speakcoach/internal/version"
)

const (
	chatPath      = "/api/stream_audio_chat"
	diagnosisPath = "/api/advanced_diagnosis"

	maxErrorBody = 512
)

// ErrMissingSessionID reports a success response that carried no session handle.
var ErrMissingSessionID = errors.New("response missing session_id")

// Recording is one captured audio object handed over by the capture collaborator.
type Recording struct {
	Name        string
	ContentType string
	Data        []byte
}

// StatusError is a non-success HTTP response from a handshake endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client issues upload and diagnosis handshakes and builds stream URLs.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// New validates baseURL and builds a client. A nil httpClient gets a client with requestTimeout.
func New(baseURL string, requestTimeout time.Duration, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse server base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server base url must be http or https: %q", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server base url has no host: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{base: u, http: httpClient, logger: logger}, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Upload submits the recording as multipart field "audio" and returns the session handle.
func (c *Client) Upload(ctx context.Context, rec Recording) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	name := rec.Name
	if name == "" {
		name = "recording.webm"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, path.Base(name)))
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := form.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(rec.Data); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(chatPath), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	return c.handshake(req, "upload")
}

// RequestDiagnosis posts the suggestion text for kind and returns the diagnosis handle.
func (c *Client) RequestDiagnosis(ctx context.Context, kind event.Kind, content string) (string, error) {
	payload, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: content})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(diagnosisPath, string(kind)), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.handshake(req, "diagnosis")
}

// ChatStreamURL is the primary push channel for a session handle.
func (c *Client) ChatStreamURL(sessionID string) string {
	return c.endpoint(chatPath, sessionID)
}

// DiagnosisStreamURL is the diagnostic push channel for (kind, handle).
func (c *Client) DiagnosisStreamURL(kind event.Kind, sessionID string) string {
	return c.endpoint(diagnosisPath, string(kind), sessionID)
}

func (c *Client) endpoint(base string, segments ...string) string {
	return c.base.JoinPath(append([]string{base}, segments...)...).String()
}

func (c *Client) handshake(req *http.Request, op string) (string, error) {
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("handshake request failed", "op", op, "request_id", requestID, "error", err.Error())
		return "", fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		c.logger.Error("handshake rejected", "op", op, "request_id", requestID, "status", resp.StatusCode)
		return "", fmt.Errorf("%s request: %w", op, err)
	}

	var decoded struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%s response: %w", op, err)
	}
	if strings.TrimSpace(decoded.SessionID) == "" {
		return "", fmt.Errorf("%s response: %w", op, ErrMissingSessionID)
	}

	c.logger.Info("handshake complete",
		"op", op,
		"request_id", requestID,
		"session_id", decoded.SessionID,
		"latency_ms", time.Since(started).Milliseconds(),
	)
	return decoded.SessionID, nil
}
