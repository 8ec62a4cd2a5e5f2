package terminal

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/freshell/freshell/internal/protocol"
	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("terminal not found")
	ErrNotRunning = errors.New("terminal is not running")
	ErrBadSize    = errors.New("invalid terminal size")
)

// Safety bounds on client-supplied values.
const (
	maxCols = 1000
	maxRows = 500

	// MaxInputBytes caps a single input write. Larger pastes arrive as
	// multiple frames.
	MaxInputBytes = 1024 * 1024

	defaultCols = 80
	defaultRows = 24
)

// Recorder is notified of terminal lifecycle events. The history store
// implements it; a nil recorder disables the session index.
type Recorder interface {
	RecordCreate(id, mode, shell, cwd string, createdAt time.Time)
	RecordExit(id string, exitCode int, exitedAt time.Time)
}

// Config tunes a Registry.
type Config struct {
	// ScrollbackBytes caps each terminal's retained output. Zero uses the
	// package default.
	ScrollbackBytes int
	// Recorder receives create/exit notifications. Optional.
	Recorder Recorder
}

// Registry owns every PTY child on the server: spawn, scrollback, subscriber
// fan-out, kill and reap. It is constructor-injected everywhere so tests can
// run isolated instances.
type Registry struct {
	cfg Config

	mu        sync.RWMutex
	terminals map[string]*Terminal
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:       cfg,
		terminals: make(map[string]*Terminal),
	}
}

// CreateOpts carries the launch parameters for a new terminal.
type CreateOpts struct {
	Mode            string
	Shell           string
	Cwd             string
	Cols            int
	Rows            int
	ResumeSessionID string
	// Env entries are appended to the server's environment.
	Env []string
}

// Create resolves the command for (mode, shell), spawns a PTY child and
// begins buffering its output. The returned terminal is already running; a
// spawn rejection is reported to the caller only.
func (r *Registry) Create(opts CreateOpts) (*Terminal, error) {
	name, args, err := resolveCommand(opts.Mode, opts.Shell, opts.ResumeSessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve command: %w", err)
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModeShell
	}
	shell := opts.Shell
	if shell == "" {
		shell = ShellSystem
	}
	cols := opts.Cols
	if cols <= 0 {
		cols = defaultCols
	}
	rows := opts.Rows
	if rows <= 0 {
		rows = defaultRows
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Cwd
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}

	now := time.Now()
	t := &Terminal{
		ID:           uuid.New().String(),
		Mode:         mode,
		Shell:        shell,
		Cwd:          opts.Cwd,
		CreatedAt:    now,
		scrollback:   NewScrollback(r.cfg.ScrollbackBytes),
		ptmx:         ptmx,
		cmd:          cmd,
		status:       StatusRunning,
		cols:         cols,
		rows:         rows,
		lastActivity: now,
		subscribers:  make(map[string]Sink),
		done:         make(chan struct{}),
	}

	r.mu.Lock()
	r.terminals[t.ID] = t
	r.mu.Unlock()

	go t.readLoop()

	if r.cfg.Recorder != nil {
		r.cfg.Recorder.RecordCreate(t.ID, mode, shell, opts.Cwd, now)
	}
	go func() {
		<-t.Done()
		if r.cfg.Recorder != nil {
			r.cfg.Recorder.RecordExit(t.ID, t.ExitCode(), time.Now())
		}
	}()

	log.Printf("[registry] spawned terminal %s (mode=%s pid=%d)", t.ID, mode, cmd.Process.Pid)
	return t, nil
}

// Get returns a terminal by ID, or nil if unknown.
func (r *Registry) Get(id string) *Terminal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.terminals[id]
}

// List returns read-only views of all terminals, running and exited.
func (r *Registry) List() []protocol.TerminalInfo {
	r.mu.RLock()
	ts := make([]*Terminal, 0, len(r.terminals))
	for _, t := range r.terminals {
		ts = append(ts, t)
	}
	r.mu.RUnlock()

	infos := make([]protocol.TerminalInfo, 0, len(ts))
	for _, t := range ts {
		infos = append(infos, Info(t))
	}
	return infos
}

// ListRunning returns read-only views of the running terminals only.
func (r *Registry) ListRunning() []protocol.TerminalInfo {
	all := r.List()
	out := make([]protocol.TerminalInfo, 0, len(all))
	for _, info := range all {
		if info.Status == string(StatusRunning) {
			out = append(out, info)
		}
	}
	return out
}

// Info builds the wire view of a terminal.
func Info(t *Terminal) protocol.TerminalInfo {
	cols, rows := t.Size()
	info := protocol.TerminalInfo{
		TerminalID:     t.ID,
		Mode:           t.Mode,
		Shell:          t.Shell,
		Cwd:            t.Cwd,
		Status:         string(t.Status()),
		Cols:           cols,
		Rows:           rows,
		SequenceNumber: t.Sequence(),
		Subscribers:    t.SubscriberCount(),
		CreatedAt:      t.CreatedAt.UnixMilli(),
		LastActivityAt: t.LastActivity().UnixMilli(),
	}
	if info.Status == string(StatusExited) {
		code := t.ExitCode()
		info.ExitCode = &code
	}
	return info
}

// AttachResult is what a new subscriber needs to start rendering.
type AttachResult struct {
	// Snapshot is the full scrollback, or only the bytes after the requested
	// sequence when CatchUp is true.
	Snapshot []byte
	// Sequence is the output event the snapshot (or catch-up) ends at.
	Sequence uint64
	CatchUp  bool
}

// Attach subscribes sink under key and returns the current scrollback.
// Re-attaching an existing key replaces the prior attachment. sinceSeq, when
// non-nil, requests a catch-up delta; coverage is best-effort and falls back
// to a full snapshot.
func (r *Registry) Attach(id, key string, sink Sink, sinceSeq *uint64) (AttachResult, error) {
	t := r.Get(id)
	if t == nil {
		return AttachResult{}, ErrNotFound
	}
	if sinceSeq != nil {
		data, seq, catchUp := t.attachSince(key, sink, *sinceSeq)
		return AttachResult{Snapshot: data, Sequence: seq, CatchUp: catchUp}, nil
	}
	snapshot, seq := t.attach(key, sink)
	return AttachResult{Snapshot: snapshot, Sequence: seq}, nil
}

// Detach removes the attachment under key. The child keeps running.
func (r *Registry) Detach(id, key string) bool {
	t := r.Get(id)
	if t == nil {
		return false
	}
	return t.detach(key)
}

// DetachAll removes every attachment held under key, across all terminals.
// Used when a connection closes.
func (r *Registry) DetachAll(key string) {
	r.mu.RLock()
	ts := make([]*Terminal, 0, len(r.terminals))
	for _, t := range r.terminals {
		ts = append(ts, t)
	}
	r.mu.RUnlock()
	for _, t := range ts {
		t.detach(key)
	}
}

// Input writes bytes to the PTY master. Bytes are opaque; any ANSI/VT
// encoding is the caller's business.
func (r *Registry) Input(id string, data []byte) error {
	t := r.Get(id)
	if t == nil {
		return ErrNotFound
	}
	return t.input(data)
}

// Resize changes the PTY window size.
func (r *Registry) Resize(id string, cols, rows int) error {
	t := r.Get(id)
	if t == nil {
		return ErrNotFound
	}
	return t.resize(cols, rows)
}

// Kill signals the child. Final output is flushed into the scrollback before
// subscribers receive the exit event and are dropped.
func (r *Registry) Kill(id string) error {
	t := r.Get(id)
	if t == nil {
		return ErrNotFound
	}
	t.kill()
	return nil
}

// ReapExited removes exited terminals idle for longer than olderThan,
// freeing their scrollback. Returns the number removed.
func (r *Registry) ReapExited(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, t := range r.terminals {
		if t.Status() != StatusRunning && t.LastActivity().Before(cutoff) {
			delete(r.terminals, id)
			n++
		}
	}
	if n > 0 {
		log.Printf("[registry] reaped %d exited terminals", n)
	}
	return n
}

// Stop kills every running terminal and waits briefly for children to be
// reaped. Called on server shutdown.
func (r *Registry) Stop() {
	r.mu.RLock()
	ts := make([]*Terminal, 0, len(r.terminals))
	for _, t := range r.terminals {
		ts = append(ts, t)
	}
	r.mu.RUnlock()

	for _, t := range ts {
		t.kill()
	}
	deadline := time.After(5 * time.Second)
	for _, t := range ts {
		select {
		case <-t.Done():
		case <-deadline:
			return
		}
	}
}
