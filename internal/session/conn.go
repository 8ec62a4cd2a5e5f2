package session

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/freshell/freshell/internal/protocol"
	"github.com/google/uuid"
)

// Conn is the server-side state of one WebSocket connection. All outbound
// frames pass through a single send loop so that, per terminal, a subscriber
// observes attached.start, chunks in index order, attached.end, then output
// frames in strict sequence order.
type Conn struct {
	ID  string
	ws  *websocket.Conn
	mgr *Manager

	sendCh chan []byte
	queued atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	authenticated bool
	isMobile      bool
	// owned holds SDK session IDs created via this connection; destructive
	// sdk.* operations require membership.
	owned map[string]bool
	// createdTerminals holds terminal IDs created via this connection.
	createdTerminals map[string]bool
	// attachments maps terminal ID to the live attachment record.
	attachments map[string]*attachment

	limiter *createLimiter
	replays *replayCache

	closeOnce sync.Once
}

// sendQueueCap leaves headroom above the slow-consumer threshold so control
// frames and chunked snapshots are never dropped by the queue itself.
const sendQueueCap = 1024

func newConn(ctx context.Context, mgr *Manager, ws *websocket.Conn, userAgent string) *Conn {
	cctx, cancel := context.WithCancel(ctx)
	return &Conn{
		ID:               uuid.New().String(),
		ws:               ws,
		mgr:              mgr,
		sendCh:           make(chan []byte, sendQueueCap),
		ctx:              cctx,
		cancel:           cancel,
		isMobile:         classifyMobile(userAgent),
		owned:            make(map[string]bool),
		createdTerminals: make(map[string]bool),
		attachments:      make(map[string]*attachment),
		limiter:          newCreateLimiter(mgr.cfg.RateLimit, mgr.cfg.RateWindow),
		replays:          newReplayCache(),
	}
}

func classifyMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone")
}

// sendLoop is the only writer on the WebSocket. Frames are UTF-8 JSON text.
func (c *Conn) sendLoop() {
	for {
		select {
		case frame := <-c.sendCh:
			c.queued.Add(-1)
			if err := c.ws.Write(c.ctx, websocket.MessageText, frame); err != nil {
				c.teardown()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// enqueue queues a frame without blocking. A full queue means the connection
// is beyond saving; it is torn down.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case c.sendCh <- frame:
		c.queued.Add(1)
		return true
	default:
		log.Printf("[session] conn %s send queue overflow, closing", c.ID)
		c.teardown()
		return false
	}
}

// enqueueBlocking queues a frame, waiting for room. Used by the chunked
// snapshot sender, which runs on this connection's own read goroutine: a
// slow client stalls only its own attach, never the PTY reader or other
// connections. Returns false when the connection closed while waiting.
func (c *Conn) enqueueBlocking(frame []byte) bool {
	select {
	case c.sendCh <- frame:
		c.queued.Add(1)
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Conn) send(frame any) bool {
	return c.enqueue(protocol.Marshal(frame))
}

func (c *Conn) queueLen() int {
	return int(c.queued.Load())
}

func (c *Conn) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *Conn) setAuthenticated(mobileOverride *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	if mobileOverride != nil {
		c.isMobile = *mobileOverride
	}
}

// IsMobile reports the connection's device classification (user-agent
// derived, overridable by the hello frame).
func (c *Conn) IsMobile() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isMobile
}

func (c *Conn) ownsSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owned[id]
}

func (c *Conn) addOwnedSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned[id] = true
}

func (c *Conn) addCreatedTerminal(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createdTerminals[id] = true
}

// setAttachment installs the attachment for a terminal, invalidating any
// prior one (re-attach replaces).
func (c *Conn) setAttachment(terminalID string, a *attachment) {
	c.mu.Lock()
	prev := c.attachments[terminalID]
	c.attachments[terminalID] = a
	c.mu.Unlock()
	if prev != nil {
		prev.invalidate()
	}
}

func (c *Conn) removeAttachment(terminalID string) *attachment {
	c.mu.Lock()
	a := c.attachments[terminalID]
	delete(c.attachments, terminalID)
	c.mu.Unlock()
	if a != nil {
		a.invalidate()
	}
	return a
}

func (c *Conn) allAttachments() []*attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*attachment, 0, len(c.attachments))
	for _, a := range c.attachments {
		out = append(out, a)
	}
	return out
}

// teardown cancels in-flight sends, detaches from every terminal and
// unregisters the connection. Terminals this connection created keep
// running; reconnect-then-attach is the recovery path.
func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.cancel()
		for _, a := range c.allAttachments() {
			a.invalidate()
		}
		c.mgr.registry.DetachAll(c.ID)
		c.mgr.unregister(c)
		c.ws.CloseNow()
	})
}

// closeWithStatus performs a protocol-level close, then tears down.
func (c *Conn) closeWithStatus(code websocket.StatusCode, reason string) {
	c.ws.Close(code, reason)
	c.teardown()
}
