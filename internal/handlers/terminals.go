package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/freshell/freshell/internal/layout"
	"github.com/go-chi/chi/v5"
)

// ListTerminals returns all terminals, running and exited.
func (a *API) ListTerminals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"terminals": a.Registry.List()})
}

// KillTerminal signals a terminal's child process.
func (a *API) KillTerminal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Registry.Kill(id); err != nil {
		writeError(w, http.StatusNotFound, "Terminal not found")
		return
	}
	a.Sessions.NotifyTerminalListChanged()
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

// resolveTerminal maps a target string to the terminal shown in the
// resolved pane.
func (a *API) resolveTerminal(w http.ResponseWriter, target string) (string, bool) {
	res := a.Layout.ResolveTarget(target)
	if res.PaneID == "" {
		writeError(w, http.StatusNotFound, "Target not resolved")
		return "", false
	}
	content, err := a.Layout.PaneContent(res.PaneID)
	if err != nil || content.Kind != layout.ContentTerminal || content.TerminalID == "" {
		writeError(w, http.StatusConflict, "Pane does not hold a terminal")
		return "", false
	}
	return content.TerminalID, true
}

// SendInput writes input to the terminal of the targeted pane. submit
// appends a carriage return, as pressing Enter would.
func (a *API) SendInput(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	var req struct {
		Data   string `json:"data"`
		Submit bool   `json:"submit,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	terminalID, ok := a.resolveTerminal(w, target)
	if !ok {
		return
	}

	data := req.Data
	if req.Submit {
		data += "\r"
	}
	if err := a.Registry.Input(terminalID, []byte(data)); err != nil {
		writeError(w, http.StatusConflict, "Terminal is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "terminalId": terminalID})
}

// CaptureOutput returns the tail of the targeted pane's scrollback.
func (a *API) CaptureOutput(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	terminalID, ok := a.resolveTerminal(w, target)
	if !ok {
		return
	}

	t := a.Registry.Get(terminalID)
	if t == nil {
		writeError(w, http.StatusNotFound, "Terminal not found")
		return
	}

	snapshot, seq := t.Snapshot()
	if lastStr := r.URL.Query().Get("last"); lastStr != "" {
		if last, err := strconv.Atoi(lastStr); err == nil && last > 0 && last < len(snapshot) {
			snapshot = snapshot[len(snapshot)-last:]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"terminalId":     terminalID,
		"data":           string(snapshot),
		"sequenceNumber": seq,
	})
}

// waitPollInterval is how often WaitFor re-checks the terminal.
const waitPollInterval = 50 * time.Millisecond

// WaitFor blocks until the targeted pane's output matches a pattern, goes
// quiet for stableMs, or the timeout elapses. Always responds 200; the body
// says which condition fired.
func (a *API) WaitFor(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	var req struct {
		Match     string `json:"match,omitempty"`
		TimeoutMS int    `json:"timeoutMs,omitempty"`
		StableMS  int    `json:"stableMs,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var re *regexp.Regexp
	if req.Match != "" {
		var err error
		re, err = regexp.Compile(req.Match)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid match pattern")
			return
		}
	}
	timeout := 30 * time.Second
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	stable := 2 * time.Second
	if req.StableMS > 0 {
		stable = time.Duration(req.StableMS) * time.Millisecond
	}

	terminalID, ok := a.resolveTerminal(w, target)
	if !ok {
		return
	}
	t := a.Registry.Get(terminalID)
	if t == nil {
		writeError(w, http.StatusNotFound, "Terminal not found")
		return
	}

	deadline := time.Now().Add(timeout)
	lastSeq := t.Sequence()
	lastChange := time.Now()

	for {
		snapshot, seq := t.Snapshot()
		if re != nil && re.Match(snapshot) {
			writeJSON(w, http.StatusOK, map[string]any{"matched": true, "sequenceNumber": seq})
			return
		}
		if seq != lastSeq {
			lastSeq = seq
			lastChange = time.Now()
		} else if time.Since(lastChange) >= stable {
			writeJSON(w, http.StatusOK, map[string]any{"stable": true, "sequenceNumber": seq})
			return
		}
		if time.Now().After(deadline) {
			writeJSON(w, http.StatusOK, map[string]any{"timedOut": true, "sequenceNumber": seq})
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(waitPollInterval):
		}
	}
}

// GetHistory lists recent terminal sessions from the index.
func (a *API) GetHistory(w http.ResponseWriter, r *http.Request) {
	if a.History == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": []any{}})
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}
	sessions, err := a.History.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
