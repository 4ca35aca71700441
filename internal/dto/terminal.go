package dto

import "encoding/json"

// Terminal websocket event names. The client sends start-session, input, and
// resize; the server sends output, terminal-error, and session-ended.
const (
	TermEventStartSession = "start-session"
	TermEventInput        = "input"
	TermEventResize       = "resize"
	TermEventOutput       = "output"
	TermEventError        = "terminal-error"
	TermEventSessionEnded = "session-ended"
)

// TerminalEvent is the envelope for every terminal channel message.
type TerminalEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StartSessionPayload opens an interactive session against a request's
// granted database account.
type StartSessionPayload struct {
	ApplicationID int64  `json:"application_id"`
	Cols          uint16 `json:"cols"`
	Rows          uint16 `json:"rows"`
}

// InputPayload carries client keystrokes, forwarded verbatim.
type InputPayload struct {
	Data string `json:"data"`
}

// ResizePayload propagates terminal geometry changes.
type ResizePayload struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// OutputPayload carries redacted process output to the client.
type OutputPayload struct {
	Data string `json:"data"`
}

// ErrorPayload carries a caller-visible terminal error.
type ErrorPayload struct {
	Message string `json:"message"`
}
