package handlers

import (
	"github.com/freshell/freshell/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Routes builds the full HTTP surface: health, the WebSocket endpoint and
// the bearer-token-guarded agent API.
func (a *API) Routes(authToken string) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", a.Health)

	// WebSocket endpoint: authenticates via the hello frame, not the
	// bearer middleware.
	r.Get("/ws", a.WS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(authToken))

		r.Get("/layout", a.GetLayout)
		r.Post("/resolve", a.ResolveTarget)

		r.Post("/tabs", a.CreateTab)
		r.Delete("/tabs/{tabId}", a.CloseTab)
		r.Put("/tabs/{tabId}/rename", a.RenameTab)
		r.Put("/tabs/{tabId}/select", a.SelectTab)

		r.Post("/panes/{target}/split", a.SplitPane)
		r.Delete("/panes/{target}", a.ClosePane)
		r.Put("/panes/swap", a.SwapPane)
		r.Put("/panes/resize", a.ResizePane)

		r.Post("/panes/{target}/input", a.SendInput)
		r.Get("/panes/{target}/output", a.CaptureOutput)
		r.Post("/panes/{target}/wait", a.WaitFor)

		r.Get("/terminals", a.ListTerminals)
		r.Delete("/terminals/{id}", a.KillTerminal)

		r.Get("/history", a.GetHistory)
		r.Get("/logs", a.GetLogs)
	})

	return r
}
