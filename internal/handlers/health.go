package handlers

import (
	"net/http"
)

// Health reports liveness plus a few cheap gauges.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"terminals":   len(a.Registry.List()),
		"connections": a.Sessions.ConnCount(),
	})
}
