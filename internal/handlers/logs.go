package handlers

import (
	"net/http"
	"strconv"

	"github.com/freshell/freshell/internal/logging"
)

const (
	defaultLogLines = 100
	maxLogLines     = 1000
)

// GetLogs returns the tail of the server log for remote diagnostics.
func (a *API) GetLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if s := r.URL.Query().Get("lines"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid lines parameter")
			return
		}
		if v > maxLogLines {
			v = maxLogLines
		}
		n = v
	}

	tail, err := logging.ReadTail(n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read log file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": n, "log": tail})
}
