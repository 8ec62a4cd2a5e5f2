package handlers

import (
	"net/http"

	"github.com/freshell/freshell/internal/layout"
	"github.com/freshell/freshell/internal/terminal"
	"github.com/go-chi/chi/v5"
)

// GetLayout returns the ordered, deterministic view of tabs and panes.
func (a *API) GetLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tabs": a.Layout.Snapshot()})
}

// ResolveTarget maps a target string to a (tab, pane) pair.
func (a *API) ResolveTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res := a.Layout.ResolveTarget(req.Target)
	if res.PaneID == "" {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// paneContentFromRequest builds the content for a new pane: a browser or
// editor pane when requested, otherwise a freshly spawned terminal.
func (a *API) paneContentFromRequest(browser, editor, mode, cwd string) (layout.Content, *terminal.Terminal, error) {
	switch {
	case browser != "":
		return layout.Content{Kind: layout.ContentBrowser, URL: browser}, nil, nil
	case editor != "":
		return layout.Content{Kind: layout.ContentEditor, File: editor}, nil, nil
	default:
		t, err := a.Registry.Create(terminal.CreateOpts{Mode: mode, Cwd: cwd})
		if err != nil {
			return layout.Content{}, nil, err
		}
		return layout.Content{Kind: layout.ContentTerminal, TerminalID: t.ID}, t, nil
	}
}

// CreateTab creates a tab whose single pane holds a terminal, browser or
// editor.
func (a *API) CreateTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		Browser string `json:"browser,omitempty"`
		Editor  string `json:"editor,omitempty"`
		Mode    string `json:"mode,omitempty"`
		Cwd     string `json:"cwd,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	content, t, err := a.paneContentFromRequest(req.Browser, req.Editor, req.Mode, req.Cwd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to spawn terminal")
		return
	}

	tabID, paneID := a.Layout.CreateTab(layout.CreateTabOpts{Title: req.Title, Browser: req.Browser, Editor: req.Editor})
	if t != nil {
		a.Layout.AttachPaneContent(tabID, paneID, content)
		a.Sessions.NotifyTerminalListChanged()
	}

	resp := map[string]string{"tabId": tabID, "paneId": paneID}
	if t != nil {
		resp["terminalId"] = t.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// CloseTab closes a tab and kills the terminals of its panes.
func (a *API) CloseTab(w http.ResponseWriter, r *http.Request) {
	tabID := chi.URLParam(r, "tabId")
	a.killTabTerminals(tabID)
	if err := a.Layout.CloseTab(tabID); err != nil {
		writeError(w, http.StatusNotFound, "Tab not found")
		return
	}
	a.Sessions.NotifyTerminalListChanged()
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (a *API) killTabTerminals(tabID string) {
	for _, tab := range a.Layout.Snapshot() {
		if tab.ID != tabID {
			continue
		}
		for _, pane := range tab.Panes {
			if pane.Content.Kind == layout.ContentTerminal && pane.Content.TerminalID != "" {
				a.Registry.Kill(pane.Content.TerminalID)
			}
		}
	}
}

// RenameTab sets a tab title.
func (a *API) RenameTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.Layout.RenameTab(chi.URLParam(r, "tabId"), req.Name); err != nil {
		writeError(w, http.StatusNotFound, "Tab not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

// SelectTab makes a tab active.
func (a *API) SelectTab(w http.ResponseWriter, r *http.Request) {
	if err := a.Layout.SelectTab(chi.URLParam(r, "tabId")); err != nil {
		writeError(w, http.StatusNotFound, "Tab not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "selected"})
}

// SplitPane splits the targeted pane; the new sibling holds a terminal
// unless a browser URL or editor file is supplied.
func (a *API) SplitPane(w http.ResponseWriter, r *http.Request) {
	res := a.Layout.ResolveTarget(chi.URLParam(r, "target"))
	if res.PaneID == "" {
		writeError(w, http.StatusNotFound, "Target not resolved")
		return
	}
	paneID := res.PaneID
	var req struct {
		Direction string `json:"direction"`
		Browser   string `json:"browser,omitempty"`
		Editor    string `json:"editor,omitempty"`
		Mode      string `json:"mode,omitempty"`
		Cwd       string `json:"cwd,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	content, t, err := a.paneContentFromRequest(req.Browser, req.Editor, req.Mode, req.Cwd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to spawn terminal")
		return
	}

	newPaneID, err := a.Layout.SplitPane(paneID, req.Direction, content)
	if err != nil {
		if t != nil {
			a.Registry.Kill(t.ID)
		}
		writeError(w, http.StatusNotFound, "Pane not found")
		return
	}
	if t != nil {
		a.Sessions.NotifyTerminalListChanged()
	}

	resp := map[string]string{"paneId": newPaneID}
	if t != nil {
		resp["terminalId"] = t.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ClosePane closes the targeted pane (closing the tab when it is the last
// pane) and kills its terminal if it held one.
func (a *API) ClosePane(w http.ResponseWriter, r *http.Request) {
	res := a.Layout.ResolveTarget(chi.URLParam(r, "target"))
	if res.PaneID == "" {
		writeError(w, http.StatusNotFound, "Target not resolved")
		return
	}
	paneID := res.PaneID

	if content, err := a.Layout.PaneContent(paneID); err == nil {
		if content.Kind == layout.ContentTerminal && content.TerminalID != "" {
			a.Registry.Kill(content.TerminalID)
			a.Sessions.NotifyTerminalListChanged()
		}
	}

	if err := a.Layout.ClosePane(paneID); err != nil {
		writeError(w, http.StatusNotFound, "Pane not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// SwapPane exchanges the contents of two panes.
func (a *API) SwapPane(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TabID   string `json:"tabId"`
		PaneID  string `json:"paneId"`
		OtherID string `json:"otherId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.Layout.SwapPane(req.TabID, req.PaneID, req.OtherID); err != nil {
		writeError(w, http.StatusNotFound, "Pane not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "swapped"})
}

// ResizePane sets the sizes of a split, addressed either directly or via
// any child pane.
func (a *API) ResizePane(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TabID   string `json:"tabId"`
		SplitID string `json:"splitId,omitempty"`
		PaneID  string `json:"paneId,omitempty"`
		Sizes   [2]int `json:"sizes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	splitID := req.SplitID
	if splitID == "" && req.PaneID != "" {
		id, err := a.Layout.FindSplitForPane(req.TabID, req.PaneID)
		if err != nil {
			writeError(w, http.StatusNotFound, "Split not found")
			return
		}
		splitID = id
	}

	if err := a.Layout.ResizePane(req.TabID, splitID, req.Sizes[0], req.Sizes[1]); err != nil {
		writeError(w, http.StatusNotFound, "Split not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resized"})
}
