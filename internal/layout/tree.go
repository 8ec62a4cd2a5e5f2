// Package layout models the per-tab pane tree and resolves client-supplied
// target strings to (tab, pane) pairs. Trees are pure data; every mutation
// goes through the Manager, which broadcasts a ui.command so all clients of
// the same logical session converge.
package layout

import (
	"strings"

	"github.com/google/uuid"
)

// Split directions.
const (
	DirHorizontal = "horizontal"
	DirVertical   = "vertical"
)

// Pane content kinds.
const (
	ContentTerminal  = "terminal"
	ContentBrowser   = "browser"
	ContentEditor    = "editor"
	ContentAgentChat = "agent-chat"
	ContentPicker    = "picker"
)

// Content is what a leaf pane displays.
type Content struct {
	Kind string `json:"kind"`
	// TerminalID is set for terminal panes.
	TerminalID string `json:"terminalId,omitempty"`
	// URL is set for browser panes.
	URL string `json:"url,omitempty"`
	// File is set for editor panes.
	File string `json:"file,omitempty"`
	// SessionRef is set for agent-chat panes.
	SessionRef string `json:"sessionRef,omitempty"`
}

// Node is one node of a tab's binary tree: either a leaf carrying exactly
// one content, or a split with exactly two children whose sizes sum to 100.
type Node struct {
	ID string `json:"id"`

	// Leaf fields.
	Content *Content `json:"content,omitempty"`

	// Split fields.
	Direction string   `json:"direction,omitempty"`
	Sizes     [2]int   `json:"sizes,omitempty"`
	Children  [2]*Node `json:"children,omitempty"`
}

// IsLeaf reports whether n carries content rather than children.
func (n *Node) IsLeaf() bool { return n.Content != nil }

// Tab is one tab of the workspace, holding a single pane tree.
type Tab struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Root         *Node  `json:"root"`
	ActivePaneID string `json:"activePaneId"`
}

func newPaneID() string { return "pane_" + shortID() }
func newTabID() string  { return "tab_" + shortID() }

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// findNode returns the node with the given ID under root, or nil.
func findNode(root *Node, id string) *Node {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	if root.IsLeaf() {
		return nil
	}
	if n := findNode(root.Children[0], id); n != nil {
		return n
	}
	return findNode(root.Children[1], id)
}

// findParent returns the split whose direct child has the given ID.
func findParent(root *Node, id string) *Node {
	if root == nil || root.IsLeaf() {
		return nil
	}
	if root.Children[0].ID == id || root.Children[1].ID == id {
		return root
	}
	if p := findParent(root.Children[0], id); p != nil {
		return p
	}
	return findParent(root.Children[1], id)
}

// leaves enumerates the tree's leaf panes left to right, depth first. This
// order is the normative pane index used by numeric targets.
func leaves(root *Node) []*Node {
	if root == nil {
		return nil
	}
	if root.IsLeaf() {
		return []*Node{root}
	}
	return append(leaves(root.Children[0]), leaves(root.Children[1])...)
}

// splitLeaf replaces the leaf with a split whose first child is the old leaf
// and second child is a new leaf carrying content. Returns the new leaf.
// Sizes start at 50/50.
func splitLeaf(leaf *Node, direction string, content Content) *Node {
	old := &Node{ID: leaf.ID, Content: leaf.Content}
	fresh := &Node{ID: newPaneID(), Content: &content}

	leaf.ID = "split_" + shortID()
	leaf.Content = nil
	leaf.Direction = direction
	leaf.Sizes = [2]int{50, 50}
	leaf.Children = [2]*Node{old, fresh}
	return fresh
}

// removeLeaf deletes the leaf with the given ID, promoting its sibling into
// the parent split's place. Returns false when the leaf is the root (the
// caller closes the whole tab instead) or does not exist.
func removeLeaf(root *Node, id string) bool {
	parent := findParent(root, id)
	if parent == nil {
		return false
	}
	var sibling *Node
	if parent.Children[0].ID == id {
		sibling = parent.Children[1]
	} else {
		sibling = parent.Children[0]
	}
	*parent = *sibling
	return true
}

// normalizeSizes clamps and scales a split's sizes so they sum to 100.
func normalizeSizes(a, b int) [2]int {
	if a < 0 {
		a = 0
	}
	if b < 0 {
		b = 0
	}
	if a+b == 0 {
		return [2]int{50, 50}
	}
	na := a * 100 / (a + b)
	return [2]int{na, 100 - na}
}
