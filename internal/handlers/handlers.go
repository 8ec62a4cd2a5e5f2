// Package handlers exposes the HTTP agent API and the WebSocket endpoint.
// The agent API is a thin REST surface over the layout manager and the
// terminal registry; the target resolution grammar is the contract between
// CLI strings and panes.
package handlers

import (
	"github.com/freshell/freshell/internal/history"
	"github.com/freshell/freshell/internal/layout"
	"github.com/freshell/freshell/internal/session"
	"github.com/freshell/freshell/internal/terminal"
)

// API bundles the collaborators every handler needs. Constructed in main
// and in tests; there are no package-level singletons.
type API struct {
	Registry *terminal.Registry
	Layout   *layout.Manager
	Sessions *session.Manager
	History  *history.Store
}

func New(registry *terminal.Registry, lm *layout.Manager, sm *session.Manager, hs *history.Store) *API {
	return &API{Registry: registry, Layout: lm, Sessions: sm, History: hs}
}
