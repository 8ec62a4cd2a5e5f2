// Package protocol defines the JSON frame vocabulary spoken over the
// freshell WebSocket. Every frame is a UTF-8 text message carrying an object
// with a "type" discriminator. Inbound frames decode into one typed struct
// per discriminator; unknown discriminators are reported as ErrUnknownType so
// the connection layer can answer with an INVALID_MESSAGE error frame.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Error codes carried by error frames. Clients key off these; messages are
// free-form and may change.
const (
	CodeNotAuthenticated  = "NOT_AUTHENTICATED"
	CodeInvalidMessage    = "INVALID_MESSAGE"
	CodeInvalidTerminalID = "INVALID_TERMINAL_ID"
	CodeInvalidSessionID  = "INVALID_SESSION_ID"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeSpawnFailed       = "SPAWN_FAILED"
	CodeSlowConsumer      = "SLOW_CONSUMER"
	CodeInternalError     = "INTERNAL_ERROR"
)

// WebSocket close codes.
const (
	CloseAuthFailure  = 4001 // bad token or traffic before hello
	CloseHelloTimeout = 4002 // no hello within the handshake window
)

var ErrUnknownType = errors.New("protocol: unknown message type")

// --- Inbound frames (client to server) ---

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type HelloClient struct {
	Name   string `json:"name,omitempty"`
	Mobile *bool  `json:"mobile,omitempty"`
}

type Hello struct {
	Token        string       `json:"token"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Client       *HelloClient `json:"client,omitempty"`
}

type TerminalCreate struct {
	RequestID       string `json:"requestId"`
	Mode            string `json:"mode"`
	Shell           string `json:"shell,omitempty"`
	Cwd             string `json:"cwd,omitempty"`
	Cols            int    `json:"cols,omitempty"`
	Rows            int    `json:"rows,omitempty"`
	ResumeSessionID string `json:"resumeSessionId,omitempty"`
	// Restore marks a create issued by client-side layout hydration after a
	// reconnect; such requests bypass the rate bucket.
	Restore bool `json:"restore,omitempty"`
}

type TerminalAttach struct {
	TerminalID string `json:"terminalId"`
	// SinceSequence, when set, asks for a catch-up delta instead of a full
	// snapshot if the scrollback still covers that point.
	SinceSequence *uint64 `json:"sinceSequence,omitempty"`
}

type TerminalDetach struct {
	TerminalID string `json:"terminalId"`
}

type TerminalInput struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

type TerminalResize struct {
	TerminalID string `json:"terminalId"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

type TerminalKill struct {
	TerminalID string `json:"terminalId"`
}

type TerminalList struct {
	RequestID string `json:"requestId"`
}

type TerminalMetaList struct {
	RequestID string `json:"requestId"`
}

// SDKRequest is the routing shape for sdk.* frames. The payload is opaque to
// the core; only the session ID matters for authorization.
type SDKRequest struct {
	Type      string          `json:"-"`
	SessionID string          `json:"sessionId"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"-"`
}

// Decode parses one inbound frame. The returned value is one of the typed
// structs above; callers switch on the concrete type.
func Decode(data []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: invalid JSON: %w", err)
	}

	var msg any
	switch env.Type {
	case "ping":
		msg = &Ping{}
	case "hello":
		msg = &Hello{}
	case "terminal.create":
		msg = &TerminalCreate{}
	case "terminal.attach":
		msg = &TerminalAttach{}
	case "terminal.detach":
		msg = &TerminalDetach{}
	case "terminal.input":
		msg = &TerminalInput{}
	case "terminal.resize":
		msg = &TerminalResize{}
	case "terminal.kill":
		msg = &TerminalKill{}
	case "terminal.list":
		msg = &TerminalList{}
	case "terminal.meta.list":
		msg = &TerminalMetaList{}
	default:
		if strings.HasPrefix(env.Type, "sdk.") {
			req := &SDKRequest{Type: env.Type, Payload: append([]byte(nil), data...)}
			if err := json.Unmarshal(data, req); err != nil {
				return nil, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
			}
			return req, nil
		}
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", env.Type, err)
	}
	return msg, nil
}
