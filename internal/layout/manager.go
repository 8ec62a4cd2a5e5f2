package layout

import (
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrTabNotFound   = errors.New("tab not found")
	ErrPaneNotFound  = errors.New("pane not found")
	ErrSplitNotFound = errors.New("split not found")
)

// Broadcaster fans a ui.command out to every connected client. The session
// manager implements it; tests use a recording stub.
type Broadcaster interface {
	BroadcastUICommand(command string, payload any)
}

// Manager owns the workspace state: the ordered tab list, the active tab and
// each tab's pane tree. All operations are serialized under one mutex; they
// are tree transforms plus a broadcast.
type Manager struct {
	mu          sync.Mutex
	tabs        []*Tab
	activeTabID string
	broadcaster Broadcaster
}

func NewManager(b Broadcaster) *Manager {
	return &Manager{broadcaster: b}
}

func (m *Manager) broadcast(command string, payload any) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.BroadcastUICommand(command, payload)
}

func marshalPayload(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// CreateTabOpts selects the initial pane content of a new tab.
type CreateTabOpts struct {
	Title   string
	Browser string // URL for an initial browser pane
	Editor  string // file path for an initial editor pane
}

// CreateTab appends a tab whose layout is a single leaf and makes it active.
func (m *Manager) CreateTab(opts CreateTabOpts) (tabID, paneID string) {
	content := Content{Kind: ContentTerminal}
	switch {
	case opts.Browser != "":
		content = Content{Kind: ContentBrowser, URL: opts.Browser}
	case opts.Editor != "":
		content = Content{Kind: ContentEditor, File: opts.Editor}
	}

	m.mu.Lock()
	leaf := &Node{ID: newPaneID(), Content: &content}
	tab := &Tab{
		ID:           newTabID(),
		Title:        opts.Title,
		Root:         leaf,
		ActivePaneID: leaf.ID,
	}
	m.tabs = append(m.tabs, tab)
	m.activeTabID = tab.ID
	m.mu.Unlock()

	m.broadcast("tab.created", map[string]any{"tabId": tab.ID, "paneId": leaf.ID, "title": opts.Title})
	return tab.ID, leaf.ID
}

// SelectTab makes the tab active.
func (m *Manager) SelectTab(tabID string) error {
	m.mu.Lock()
	if m.findTab(tabID) == nil {
		m.mu.Unlock()
		return ErrTabNotFound
	}
	m.activeTabID = tabID
	m.mu.Unlock()

	m.broadcast("tab.selected", map[string]any{"tabId": tabID})
	return nil
}

// RenameTab sets the tab title.
func (m *Manager) RenameTab(tabID, name string) error {
	m.mu.Lock()
	tab := m.findTab(tabID)
	if tab == nil {
		m.mu.Unlock()
		return ErrTabNotFound
	}
	tab.Title = name
	m.mu.Unlock()

	m.broadcast("tab.renamed", map[string]any{"tabId": tabID, "title": name})
	return nil
}

// CloseTab removes the tab. When it was active, the nearest remaining tab
// becomes active.
func (m *Manager) CloseTab(tabID string) error {
	m.mu.Lock()
	idx := -1
	for i, t := range m.tabs {
		if t.ID == tabID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrTabNotFound
	}
	m.tabs = append(m.tabs[:idx], m.tabs[idx+1:]...)
	if m.activeTabID == tabID {
		m.activeTabID = ""
		if len(m.tabs) > 0 {
			if idx >= len(m.tabs) {
				idx = len(m.tabs) - 1
			}
			m.activeTabID = m.tabs[idx].ID
		}
	}
	m.mu.Unlock()

	m.broadcast("tab.closed", map[string]any{"tabId": tabID})
	return nil
}

// SplitPane turns the pane into a split; the old pane keeps its place as the
// first child, the new leaf carries content. Returns the new pane's ID.
func (m *Manager) SplitPane(paneID, direction string, content Content) (string, error) {
	if direction != DirHorizontal && direction != DirVertical {
		return "", errors.New("invalid split direction")
	}

	m.mu.Lock()
	tab, leaf := m.findPane(paneID)
	if leaf == nil {
		m.mu.Unlock()
		return "", ErrPaneNotFound
	}
	fresh := splitLeaf(leaf, direction, content)
	tab.ActivePaneID = fresh.ID
	m.mu.Unlock()

	m.broadcast("pane.split", map[string]any{
		"tabId":     tab.ID,
		"paneId":    paneID,
		"newPaneId": fresh.ID,
		"direction": direction,
		"content":   marshalPayload(content),
	})
	return fresh.ID, nil
}

// ClosePane removes the pane, promoting its sibling. Closing the sole pane
// of a tab closes the tab.
func (m *Manager) ClosePane(paneID string) error {
	m.mu.Lock()
	tab, leaf := m.findPane(paneID)
	if leaf == nil {
		m.mu.Unlock()
		return ErrPaneNotFound
	}
	if tab.Root.ID == paneID {
		m.mu.Unlock()
		return m.CloseTab(tab.ID)
	}
	removeLeaf(tab.Root, paneID)
	if tab.ActivePaneID == paneID {
		if ls := leaves(tab.Root); len(ls) > 0 {
			tab.ActivePaneID = ls[0].ID
		}
	}
	m.mu.Unlock()

	m.broadcast("pane.closed", map[string]any{"tabId": tab.ID, "paneId": paneID})
	return nil
}

// ResizePane sets a split's sizes, normalized to sum to 100. splitID may be
// the split itself or, via FindSplitForPane, located from either child.
func (m *Manager) ResizePane(tabID, splitID string, a, b int) error {
	m.mu.Lock()
	tab := m.findTab(tabID)
	if tab == nil {
		m.mu.Unlock()
		return ErrTabNotFound
	}
	split := findNode(tab.Root, splitID)
	if split == nil || split.IsLeaf() {
		m.mu.Unlock()
		return ErrSplitNotFound
	}
	split.Sizes = normalizeSizes(a, b)
	sizes := split.Sizes
	m.mu.Unlock()

	m.broadcast("pane.resized", map[string]any{"tabId": tabID, "splitId": splitID, "sizes": sizes})
	return nil
}

// FindSplitForPane returns the ID of the split that directly contains the
// pane, letting callers resize via any child.
func (m *Manager) FindSplitForPane(tabID, paneID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab := m.findTab(tabID)
	if tab == nil {
		return "", ErrTabNotFound
	}
	parent := findParent(tab.Root, paneID)
	if parent == nil {
		return "", ErrSplitNotFound
	}
	return parent.ID, nil
}

// SwapPane exchanges the contents of two panes in the same tab.
func (m *Manager) SwapPane(tabID, paneID, otherID string) error {
	m.mu.Lock()
	tab := m.findTab(tabID)
	if tab == nil {
		m.mu.Unlock()
		return ErrTabNotFound
	}
	a := findNode(tab.Root, paneID)
	b := findNode(tab.Root, otherID)
	if a == nil || b == nil || !a.IsLeaf() || !b.IsLeaf() {
		m.mu.Unlock()
		return ErrPaneNotFound
	}
	a.Content, b.Content = b.Content, a.Content
	m.mu.Unlock()

	m.broadcast("pane.swapped", map[string]any{"tabId": tabID, "paneId": paneID, "otherId": otherID})
	return nil
}

// AttachPaneContent replaces a pane's content. Used both for the initial
// attach of a freshly created terminal and for respawning into an existing
// pane.
func (m *Manager) AttachPaneContent(tabID, paneID string, content Content) error {
	m.mu.Lock()
	tab := m.findTab(tabID)
	if tab == nil {
		m.mu.Unlock()
		return ErrTabNotFound
	}
	leaf := findNode(tab.Root, paneID)
	if leaf == nil || !leaf.IsLeaf() {
		m.mu.Unlock()
		return ErrPaneNotFound
	}
	leaf.Content = &content
	m.mu.Unlock()

	m.broadcast("pane.content", map[string]any{"tabId": tabID, "paneId": paneID, "content": marshalPayload(content)})
	return nil
}

// SetActivePane marks the pane active within its tab.
func (m *Manager) SetActivePane(tabID, paneID string) error {
	m.mu.Lock()
	tab := m.findTab(tabID)
	if tab == nil {
		m.mu.Unlock()
		return ErrTabNotFound
	}
	if findNode(tab.Root, paneID) == nil {
		m.mu.Unlock()
		return ErrPaneNotFound
	}
	tab.ActivePaneID = paneID
	m.mu.Unlock()

	m.broadcast("pane.activated", map[string]any{"tabId": tabID, "paneId": paneID})
	return nil
}

// PaneView is the deterministic enumeration entry used by the agent API.
type PaneView struct {
	TabID   string  `json:"tabId"`
	PaneID  string  `json:"paneId"`
	Index   int     `json:"index"`
	Content Content `json:"content"`
}

// TabView is a read-only tab summary.
type TabView struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Active       bool       `json:"active"`
	ActivePaneID string     `json:"activePaneId"`
	Panes        []PaneView `json:"panes"`
}

// Snapshot returns an ordered, deterministic view of all tabs and panes.
func (m *Manager) Snapshot() []TabView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]TabView, 0, len(m.tabs))
	for _, tab := range m.tabs {
		view := TabView{
			ID:           tab.ID,
			Title:        tab.Title,
			Active:       tab.ID == m.activeTabID,
			ActivePaneID: tab.ActivePaneID,
		}
		for i, leaf := range leaves(tab.Root) {
			view.Panes = append(view.Panes, PaneView{
				TabID:   tab.ID,
				PaneID:  leaf.ID,
				Index:   i,
				Content: *leaf.Content,
			})
		}
		views = append(views, view)
	}
	return views
}

// PaneContent returns the content of one pane.
func (m *Manager) PaneContent(paneID string) (Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, leaf := m.findPane(paneID)
	if leaf == nil {
		return Content{}, ErrPaneNotFound
	}
	return *leaf.Content, nil
}

// ActiveTabID returns the currently selected tab, or "".
func (m *Manager) ActiveTabID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeTabID
}

// findTab returns the tab with the given ID. Caller holds m.mu.
func (m *Manager) findTab(tabID string) *Tab {
	for _, t := range m.tabs {
		if t.ID == tabID {
			return t
		}
	}
	return nil
}

// findPane locates a leaf by pane ID across all tabs. Caller holds m.mu.
func (m *Manager) findPane(paneID string) (*Tab, *Node) {
	for _, t := range m.tabs {
		if n := findNode(t.Root, paneID); n != nil && n.IsLeaf() {
			return t, n
		}
	}
	return nil, nil
}
