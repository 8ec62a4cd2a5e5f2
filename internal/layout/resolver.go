package layout

import (
	"strconv"
	"strings"
)

// Resolution is the result of resolving a target string. TabID/PaneID are
// empty when the target did not resolve; Message carries a diagnostic either
// way (e.g. when a tab matched and its active pane was substituted).
type Resolution struct {
	TabID   string `json:"tabId,omitempty"`
	PaneID  string `json:"paneId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ResolveTarget maps a client-supplied target string to a (tab, pane) pair.
// The grammar, first match wins:
//
//  1. exact pane ID
//  2. exact tab ID, then exact tab title (active pane of that tab)
//  3. "tab.pane" or "session:window.pane": left side is a tab ID/title,
//     right side a numeric index into the tab's left-to-right leaf order
//  4. bare numeric: pane index into the active tab
//  5. unresolved
//
// An exact tab title always beats tab.pane parsing, so a tab literally named
// "alpha.1" resolves to that tab rather than pane 1 of tab "alpha".
func (m *Manager) ResolveTarget(raw string) Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Resolution{Message: "target not resolved"}
	}

	// 1. Exact pane ID.
	for _, tab := range m.tabs {
		if n := findNode(tab.Root, raw); n != nil && n.IsLeaf() {
			return Resolution{TabID: tab.ID, PaneID: raw}
		}
	}

	// 2. Exact tab ID or title.
	if tab := m.matchTabLocked(raw); tab != nil {
		return Resolution{TabID: tab.ID, PaneID: tab.ActivePaneID, Message: "tab matched; active pane used"}
	}

	// 3. tab.pane / session:window.pane compound form.
	compound := strings.TrimPrefix(raw, "session:")
	if dot := strings.LastIndex(compound, "."); dot >= 0 {
		left, right := compound[:dot], compound[dot+1:]
		if tab := m.matchTabLocked(left); tab != nil {
			if right == "" {
				return Resolution{TabID: tab.ID, PaneID: tab.ActivePaneID, Message: "no pane index; active pane used"}
			}
			if idx, err := strconv.Atoi(right); err == nil {
				if ls := leaves(tab.Root); idx >= 0 && idx < len(ls) {
					return Resolution{TabID: tab.ID, PaneID: ls[idx].ID}
				}
				return Resolution{Message: "pane index out of range"}
			}
		}
	}

	// 4. Bare numeric index into the active tab.
	if idx, err := strconv.Atoi(raw); err == nil {
		if tab := m.findTab(m.activeTabID); tab != nil {
			if ls := leaves(tab.Root); idx >= 0 && idx < len(ls) {
				return Resolution{TabID: tab.ID, PaneID: ls[idx].ID}
			}
		}
		return Resolution{Message: "pane index out of range"}
	}

	return Resolution{Message: "target not resolved"}
}

// matchTabLocked finds a tab by exact ID first, then exact title.
// Caller holds m.mu.
func (m *Manager) matchTabLocked(s string) *Tab {
	for _, t := range m.tabs {
		if t.ID == s {
			return t
		}
	}
	for _, t := range m.tabs {
		if t.Title == s {
			return t
		}
	}
	return nil
}
