package protocol

import "encoding/json"

// --- Outbound frames (server to client) ---

type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type Ready struct {
	Type string `json:"type"`
}

type TerminalCreated struct {
	Type       string `json:"type"`
	RequestID  string `json:"requestId"`
	TerminalID string `json:"terminalId"`
}

// AttachedStart announces a chunked snapshot. TotalCodeUnits and TotalChunks
// let the client verify complete reassembly; SequenceAtSnapshot is the last
// output event the snapshot contains.
type AttachedStart struct {
	Type               string `json:"type"`
	TerminalID         string `json:"terminalId"`
	TotalCodeUnits     int    `json:"totalCodeUnits"`
	TotalChunks        int    `json:"totalChunks"`
	SequenceAtSnapshot uint64 `json:"sequenceAtSnapshot"`
}

type AttachedChunk struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	Chunk      string `json:"chunk"`
	ChunkIndex int    `json:"chunkIndex"`
}

type AttachedEnd struct {
	Type           string `json:"type"`
	TerminalID     string `json:"terminalId"`
	TotalCodeUnits int    `json:"totalCodeUnits"`
	TotalChunks    int    `json:"totalChunks"`
}

type Output struct {
	Type           string `json:"type"`
	TerminalID     string `json:"terminalId"`
	Data           string `json:"data"`
	SequenceNumber uint64 `json:"sequenceNumber"`
}

type Exit struct {
	Type       string `json:"type"`
	TerminalID string `json:"terminalId"`
	ExitCode   int    `json:"exitCode"`
}

type TerminalListResponse struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId"`
	Terminals []TerminalInfo `json:"terminals"`
}

type TerminalMetaListResponse struct {
	Type      string         `json:"type"`
	RequestID string         `json:"requestId"`
	Terminals []TerminalInfo `json:"terminals"`
}

type TerminalListUpdated struct {
	Type string `json:"type"`
}

// TerminalInfo is the read-only view of a terminal shared by list responses
// and the agent API.
type TerminalInfo struct {
	TerminalID     string `json:"terminalId"`
	Mode           string `json:"mode"`
	Shell          string `json:"shell"`
	Cwd            string `json:"cwd"`
	Status         string `json:"status"`
	ExitCode       *int   `json:"exitCode,omitempty"`
	Cols           int    `json:"cols"`
	Rows           int    `json:"rows"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	Subscribers    int    `json:"subscribers"`
	CreatedAt      int64  `json:"createdAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
}

// UICommand broadcasts a layout mutation so every client of the same logical
// session converges on one tree.
type UICommand struct {
	Type    string          `json:"type"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ErrorFrame struct {
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId,omitempty"`
	TerminalID string `json:"terminalId,omitempty"`
}

// Marshal encodes an outbound frame. Frames are built by the constructors
// below so the type tag can never disagree with the struct.
func Marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All outbound frame types marshal cleanly; this is unreachable
		// short of a programming error.
		panic(err)
	}
	return data
}

func NewPong(ts int64) Pong { return Pong{Type: "pong", Timestamp: ts} }

func NewReady() Ready { return Ready{Type: "ready"} }

func NewTerminalCreated(requestID, terminalID string) TerminalCreated {
	return TerminalCreated{Type: "terminal.created", RequestID: requestID, TerminalID: terminalID}
}

func NewAttachedStart(terminalID string, totalCodeUnits, totalChunks int, seq uint64) AttachedStart {
	return AttachedStart{
		Type:               "attached.start",
		TerminalID:         terminalID,
		TotalCodeUnits:     totalCodeUnits,
		TotalChunks:        totalChunks,
		SequenceAtSnapshot: seq,
	}
}

func NewAttachedChunk(terminalID, chunk string, index int) AttachedChunk {
	return AttachedChunk{Type: "attached.chunk", TerminalID: terminalID, Chunk: chunk, ChunkIndex: index}
}

func NewAttachedEnd(terminalID string, totalCodeUnits, totalChunks int) AttachedEnd {
	return AttachedEnd{Type: "attached.end", TerminalID: terminalID, TotalCodeUnits: totalCodeUnits, TotalChunks: totalChunks}
}

func NewOutput(terminalID, data string, seq uint64) Output {
	return Output{Type: "output", TerminalID: terminalID, Data: data, SequenceNumber: seq}
}

func NewExit(terminalID string, exitCode int) Exit {
	return Exit{Type: "exit", TerminalID: terminalID, ExitCode: exitCode}
}

func NewTerminalListResponse(requestID string, terminals []TerminalInfo) TerminalListResponse {
	if terminals == nil {
		terminals = []TerminalInfo{}
	}
	return TerminalListResponse{Type: "terminal.list.response", RequestID: requestID, Terminals: terminals}
}

func NewTerminalMetaListResponse(requestID string, terminals []TerminalInfo) TerminalMetaListResponse {
	if terminals == nil {
		terminals = []TerminalInfo{}
	}
	return TerminalMetaListResponse{Type: "terminal.meta.list.response", RequestID: requestID, Terminals: terminals}
}

func NewTerminalListUpdated() TerminalListUpdated {
	return TerminalListUpdated{Type: "terminal.list.updated"}
}

func NewUICommand(command string, payload json.RawMessage) UICommand {
	return UICommand{Type: "ui.command", Command: command, Payload: payload}
}

func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: "error", Code: code, Message: message}
}

func NewRequestError(code, message, requestID string) ErrorFrame {
	return ErrorFrame{Type: "error", Code: code, Message: message, RequestID: requestID}
}

func NewTerminalError(code, message, terminalID string) ErrorFrame {
	return ErrorFrame{Type: "error", Code: code, Message: message, TerminalID: terminalID}
}
