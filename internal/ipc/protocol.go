// Package ipc is the unix-socket control plane for a running chat.
package ipc

// Commands understood by a running chat.
const (
	CommandStatus = "status"
	CommandCancel = "cancel"
)

// Request is one JSON line sent by a client.
type Request struct {
	Command string `json:"command"`
}

// Response is the JSON line written back for each request.
type Response struct {
	OK           bool   `json:"ok"`
	State        string `json:"state,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	PendingAudio int    `json:"pending_audio,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}
