package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/freshell/freshell/internal/logutil"
	"github.com/freshell/freshell/internal/protocol"
	"github.com/freshell/freshell/internal/terminal"
)

// Config tunes a Manager.
type Config struct {
	// AuthToken is the shared secret expected in hello frames. Empty
	// disables authentication (local development).
	AuthToken string
	// HelloTimeout bounds how long a connection may stay silent before the
	// handshake; expiry closes it with code 4002.
	HelloTimeout time.Duration
	// RateLimit / RateWindow bound terminal.create calls per connection.
	RateLimit  int
	RateWindow time.Duration
	// ChunkBytes bounds one attached.chunk payload.
	ChunkBytes int
	// SendQueueLimit is the outbound backlog beyond which an attachment is
	// dropped as a slow consumer.
	SendQueueLimit int
}

// SDKBridge is the embedded coding-agent bridge that sdk.* frames route to.
// Only the routing shape matters to this package: the session manager
// enforces ownership of the referenced session and records sessions the
// bridge creates.
type SDKBridge interface {
	// Handle processes one sdk.* request, emitting any reply frames through
	// send. createdSessionID is non-empty when the request created a session
	// the calling connection should own.
	Handle(ctx context.Context, req *protocol.SDKRequest, send func(frame any)) (createdSessionID string, err error)
}

// Manager owns everything at the transport boundary: handshake, routing,
// ordering, authorization and rate limiting. It composes the terminal
// registry and fans layout broadcasts out to every client.
type Manager struct {
	cfg      Config
	registry *terminal.Registry
	sdk      SDKBridge

	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewManager(cfg Config, registry *terminal.Registry, sdk SDKBridge) *Manager {
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 10 * time.Second
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 64 * 1024
	}
	if cfg.SendQueueLimit <= 0 {
		cfg.SendQueueLimit = 200
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		sdk:      sdk,
		conns:    make(map[string]*Conn),
	}
}

// HandleConn runs one accepted WebSocket connection to completion.
func (m *Manager) HandleConn(ctx context.Context, ws *websocket.Conn, userAgent string) {
	ws.SetReadLimit(2 * 1024 * 1024)

	c := newConn(ctx, m, ws, userAgent)
	m.register(c)
	defer c.teardown()

	go c.sendLoop()

	helloTimer := time.AfterFunc(m.cfg.HelloTimeout, func() {
		if !c.isAuthenticated() {
			log.Printf("[session] conn %s hello timeout", c.ID)
			c.closeWithStatus(protocol.CloseHelloTimeout, "hello timeout")
		}
	})
	defer helloTimer.Stop()

	for {
		_, data, err := ws.Read(c.ctx)
		if err != nil {
			return
		}
		if !m.dispatch(c, data) {
			return
		}
	}
}

func (m *Manager) register(c *Conn) {
	m.mu.Lock()
	m.conns[c.ID] = c
	m.mu.Unlock()
}

func (m *Manager) unregister(c *Conn) {
	m.mu.Lock()
	delete(m.conns, c.ID)
	m.mu.Unlock()
}

// Broadcast sends a frame to every authenticated connection.
func (m *Manager) Broadcast(frame any) {
	data := protocol.Marshal(frame)
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	for _, c := range conns {
		if c.isAuthenticated() {
			c.enqueue(data)
		}
	}
}

// BroadcastUICommand implements layout.Broadcaster.
func (m *Manager) BroadcastUICommand(command string, payload any) {
	m.Broadcast(protocol.NewUICommand(command, protocol.Marshal(payload)))
}

// NotifyTerminalListChanged tells all clients to refresh their terminal
// lists. Called by this package and by the HTTP agent API after mutations.
func (m *Manager) NotifyTerminalListChanged() {
	m.Broadcast(protocol.NewTerminalListUpdated())
}

// dispatch handles one inbound frame. Returns false when the connection
// must stop reading (protocol violation before hello).
func (m *Manager) dispatch(c *Conn, data []byte) bool {
	msg, err := protocol.Decode(data)

	if !c.isAuthenticated() {
		// Pre-hello only ping and hello are legal; anything else, including
		// garbage, is a handshake violation.
		switch v := msg.(type) {
		case *protocol.Ping:
			c.send(protocol.NewPong(v.Timestamp))
			return true
		case *protocol.Hello:
			return m.handleHello(c, v)
		default:
			c.send(protocol.NewError(protocol.CodeNotAuthenticated, "hello required"))
			c.closeWithStatus(protocol.CloseAuthFailure, "not authenticated")
			return false
		}
	}

	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			c.send(protocol.NewError(protocol.CodeInvalidMessage, "unknown message type"))
		} else {
			c.send(protocol.NewError(protocol.CodeInvalidMessage, "malformed message"))
		}
		return true
	}

	switch v := msg.(type) {
	case *protocol.Ping:
		c.send(protocol.NewPong(v.Timestamp))
	case *protocol.Hello:
		// Post-hello hellos are ignored.
	case *protocol.TerminalCreate:
		m.handleCreate(c, v)
	case *protocol.TerminalAttach:
		m.handleAttach(c, v)
	case *protocol.TerminalDetach:
		c.removeAttachment(v.TerminalID)
		m.registry.Detach(v.TerminalID, c.ID)
	case *protocol.TerminalInput:
		m.handleInput(c, v)
	case *protocol.TerminalResize:
		m.handleResize(c, v)
	case *protocol.TerminalKill:
		m.handleKill(c, v)
	case *protocol.TerminalList:
		c.send(protocol.NewTerminalListResponse(v.RequestID, m.registry.ListRunning()))
	case *protocol.TerminalMetaList:
		c.send(protocol.NewTerminalMetaListResponse(v.RequestID, m.registry.List()))
	case *protocol.SDKRequest:
		m.handleSDK(c, v)
	}
	return true
}

func (m *Manager) handleHello(c *Conn, hello *protocol.Hello) bool {
	if m.cfg.AuthToken != "" &&
		subtle.ConstantTimeCompare([]byte(hello.Token), []byte(m.cfg.AuthToken)) != 1 {
		log.Printf("[session] conn %s rejected: bad token", c.ID)
		c.send(protocol.NewError(protocol.CodeNotAuthenticated, "invalid token"))
		c.closeWithStatus(protocol.CloseAuthFailure, "invalid token")
		return false
	}

	var mobileOverride *bool
	if hello.Client != nil {
		mobileOverride = hello.Client.Mobile
	}
	c.setAuthenticated(mobileOverride)
	c.send(protocol.NewReady())
	return true
}

func (m *Manager) handleCreate(c *Conn, req *protocol.TerminalCreate) {
	if req.RequestID == "" {
		c.send(protocol.NewError(protocol.CodeInvalidMessage, "terminal.create requires a requestId"))
		return
	}

	// Idempotent retry: replay the completed response verbatim, uncharged.
	if frame, ok := c.replays.get(req.RequestID); ok {
		c.enqueue(frame)
		return
	}

	// Bad enumerated values are protocol errors, not spawn failures; they
	// are rejected before anything is charged or launched.
	if req.Mode != "" && !terminal.ValidMode(req.Mode) {
		c.send(protocol.NewRequestError(protocol.CodeInvalidMessage, "unknown mode", req.RequestID))
		return
	}
	if !terminal.ValidShell(req.Shell) {
		c.send(protocol.NewRequestError(protocol.CodeInvalidMessage, "unknown shell", req.RequestID))
		return
	}

	// Layout hydration after reconnect bypasses the bucket.
	if !req.Restore && !c.limiter.allow() {
		c.send(protocol.NewRequestError(protocol.CodeRateLimited, "terminal create rate exceeded", req.RequestID))
		return
	}

	t, err := m.registry.Create(terminal.CreateOpts{
		Mode:            req.Mode,
		Shell:           req.Shell,
		Cwd:             req.Cwd,
		Cols:            req.Cols,
		Rows:            req.Rows,
		ResumeSessionID: req.ResumeSessionID,
	})
	if err != nil {
		log.Printf("[session] conn %s spawn failed: %v", c.ID, err)
		c.send(protocol.NewRequestError(protocol.CodeSpawnFailed, err.Error(), req.RequestID))
		return
	}

	frame := protocol.Marshal(protocol.NewTerminalCreated(req.RequestID, t.ID))
	c.replays.put(req.RequestID, frame)
	c.addCreatedTerminal(t.ID)
	c.enqueue(frame)
	m.NotifyTerminalListChanged()
}

func (m *Manager) handleAttach(c *Conn, req *protocol.TerminalAttach) {
	t := m.registry.Get(req.TerminalID)
	if t == nil {
		c.send(protocol.NewTerminalError(protocol.CodeInvalidTerminalID, "no such terminal", req.TerminalID))
		return
	}

	a := newAttachment(c, req.TerminalID)
	c.setAttachment(req.TerminalID, a)
	res, err := m.registry.Attach(req.TerminalID, c.ID, a, req.SinceSequence)
	if err != nil {
		c.removeAttachment(req.TerminalID)
		c.send(protocol.NewTerminalError(protocol.CodeInvalidTerminalID, "no such terminal", req.TerminalID))
		return
	}

	if res.CatchUp {
		// The scrollback still covers the client's cursor: one small output
		// frame instead of a full snapshot.
		if len(res.Snapshot) > 0 {
			c.enqueueBlocking(protocol.Marshal(protocol.NewOutput(req.TerminalID, string(res.Snapshot), res.Sequence)))
		}
		a.release(res.Sequence)
	} else {
		if !sendChunkedSnapshot(c, req.TerminalID, res.Snapshot, res.Sequence, m.cfg.ChunkBytes) {
			return
		}
		a.release(res.Sequence)
	}

	// A terminal that exited before the attach still delivers its snapshot;
	// follow with the exit event the subscriber would otherwise never see.
	if t.Status() == terminal.StatusExited {
		c.enqueueBlocking(protocol.Marshal(protocol.NewExit(t.ID, t.ExitCode())))
	}
}

func (m *Manager) handleInput(c *Conn, req *protocol.TerminalInput) {
	if len(req.Data) > terminal.MaxInputBytes {
		c.send(protocol.NewTerminalError(protocol.CodeInvalidMessage, "input too large", req.TerminalID))
		return
	}
	if err := m.registry.Input(req.TerminalID, []byte(req.Data)); err != nil {
		c.send(protocol.NewTerminalError(protocol.CodeInvalidTerminalID, "no such terminal", req.TerminalID))
	}
}

func (m *Manager) handleResize(c *Conn, req *protocol.TerminalResize) {
	if err := m.registry.Resize(req.TerminalID, req.Cols, req.Rows); err != nil {
		c.send(protocol.NewTerminalError(protocol.CodeInvalidTerminalID, "no such terminal", req.TerminalID))
	}
}

func (m *Manager) handleKill(c *Conn, req *protocol.TerminalKill) {
	if err := m.registry.Kill(req.TerminalID); err != nil {
		c.send(protocol.NewTerminalError(protocol.CodeInvalidTerminalID, "no such terminal", req.TerminalID))
		return
	}
	m.NotifyTerminalListChanged()
}

func (m *Manager) handleSDK(c *Conn, req *protocol.SDKRequest) {
	if m.sdk == nil {
		c.send(protocol.NewRequestError(protocol.CodeInternalError, "sdk bridge unavailable", req.RequestID))
		return
	}
	if req.SessionID != "" && !c.ownsSession(req.SessionID) {
		log.Printf("[session] conn %s denied %s on session %s", c.ID,
			logutil.SanitizeForLog(req.Type), logutil.Truncate(logutil.SanitizeForLog(req.SessionID), 64))
		c.send(protocol.NewRequestError(protocol.CodeUnauthorized, "session not owned by this connection", req.RequestID))
		return
	}

	created, err := m.sdk.Handle(c.ctx, req, func(frame any) { c.send(frame) })
	if err != nil {
		c.send(protocol.NewRequestError(protocol.CodeInvalidSessionID, err.Error(), req.RequestID))
		return
	}
	if created != "" {
		c.addOwnedSession(created)
	}
}

// dropSlowConsumer detaches one terminal attachment from a connection that
// cannot keep up, leaving the PTY and every other subscriber untouched.
func (m *Manager) dropSlowConsumer(c *Conn, terminalID string) {
	if c.removeAttachment(terminalID) == nil {
		return
	}
	m.registry.Detach(terminalID, c.ID)
	log.Printf("[session] conn %s dropped from terminal %s: slow consumer", c.ID, terminalID)
	c.send(protocol.NewTerminalError(protocol.CodeSlowConsumer, "subscriber too slow, detached", terminalID))
}

// ConnCount returns the number of open connections.
func (m *Manager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}
