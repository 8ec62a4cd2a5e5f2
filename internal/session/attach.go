package session

import (
	"sync"
	"unicode/utf8"

	"github.com/freshell/freshell/internal/protocol"
)

// attachment is the per-(connection, terminal) subscription record. It is
// the weak handle the terminal's subscriber set points at: invalidating it
// makes subsequent fan-out deliveries no-ops, so a closed connection can
// never be written to through a stale reference.
//
// While the chunked snapshot is in flight the attachment buffers live
// deltas; they are released after attached.end, in sequence order, so the
// client never sees a delta interleaved with its own snapshot.
type attachment struct {
	conn       *Conn
	terminalID string

	mu        sync.Mutex
	invalid   bool
	buffering bool
	buffered  []bufferedFrame
}

// bufferedFrame holds a delta that arrived mid-snapshot. The sequence number
// is kept so release can drop deltas the snapshot already covers.
type bufferedFrame struct {
	seq   uint64
	frame []byte
}

func newAttachment(conn *Conn, terminalID string) *attachment {
	return &attachment{conn: conn, terminalID: terminalID, buffering: true}
}

// Output implements terminal.Sink. Runs on the terminal's PTY reader
// goroutine and never blocks.
func (a *attachment) Output(terminalID string, data []byte, seq uint64) {
	frame := protocol.Marshal(protocol.NewOutput(terminalID, string(data), seq))

	a.mu.Lock()
	if a.invalid {
		a.mu.Unlock()
		return
	}
	if a.buffering {
		a.buffered = append(a.buffered, bufferedFrame{seq: seq, frame: frame})
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.deliver(frame)
}

// Exit implements terminal.Sink.
func (a *attachment) Exit(terminalID string, exitCode int) {
	frame := protocol.Marshal(protocol.NewExit(terminalID, exitCode))

	a.mu.Lock()
	if a.invalid {
		a.mu.Unlock()
		return
	}
	if a.buffering {
		// An exit always survives the boundary filter.
		a.buffered = append(a.buffered, bufferedFrame{seq: ^uint64(0), frame: frame})
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.deliver(frame)
}

// deliver enqueues a live frame, enforcing the slow-consumer policy: when
// the connection's outbound queue is past the limit this attachment is
// dropped rather than blocking the PTY reader.
func (a *attachment) deliver(frame []byte) {
	if a.conn.queueLen() >= a.conn.mgr.cfg.SendQueueLimit {
		a.conn.mgr.dropSlowConsumer(a.conn, a.terminalID)
		return
	}
	a.conn.enqueue(frame)
}

// release ends the buffering phase: flushes buffered deltas past the
// snapshot boundary in order, then switches to direct delivery. Buffering
// stays on until the backlog is fully enqueued, so a delta racing the flush
// queues behind it instead of jumping ahead of it.
func (a *attachment) release(boundary uint64) {
	for {
		a.mu.Lock()
		if a.invalid {
			a.buffered = nil
			a.mu.Unlock()
			return
		}
		if len(a.buffered) == 0 {
			a.buffering = false
			a.mu.Unlock()
			return
		}
		pending := a.buffered
		a.buffered = nil
		a.mu.Unlock()

		for _, bf := range pending {
			if bf.seq > boundary {
				a.conn.enqueueBlocking(bf.frame)
			}
		}
	}
}

func (a *attachment) invalidate() {
	a.mu.Lock()
	a.invalid = true
	a.buffered = nil
	a.mu.Unlock()
}

// chunkSnapshot splits a snapshot into chunks of at most chunkBytes, never
// splitting inside a UTF-8 rune so each chunk stays a valid code-unit
// string. An empty snapshot yields zero chunks.
func chunkSnapshot(snapshot []byte, chunkBytes int) []string {
	if len(snapshot) == 0 {
		return nil
	}
	if chunkBytes <= 0 {
		return []string{string(snapshot)}
	}

	var chunks []string
	for len(snapshot) > 0 {
		if len(snapshot) <= chunkBytes {
			chunks = append(chunks, string(snapshot))
			break
		}
		cut := chunkBytes
		// Back up to a rune boundary; a rune is at most 4 bytes.
		for cut > 0 && cut > chunkBytes-utf8.UTFMax && !utf8.RuneStart(snapshot[cut]) {
			cut--
		}
		if cut == 0 {
			cut = chunkBytes
		}
		chunks = append(chunks, string(snapshot[:cut]))
		snapshot = snapshot[cut:]
	}
	return chunks
}

// sendChunkedSnapshot emits attached.start, every attached.chunk in index
// order and attached.end on the connection's queue. The attachment keeps
// buffering live deltas until release(boundary) is called afterwards.
// Returns false if the connection closed mid-send.
func sendChunkedSnapshot(c *Conn, terminalID string, snapshot []byte, boundary uint64, chunkBytes int) bool {
	chunks := chunkSnapshot(snapshot, chunkBytes)
	total := len(snapshot)

	if !c.enqueueBlocking(protocol.Marshal(protocol.NewAttachedStart(terminalID, total, len(chunks), boundary))) {
		return false
	}
	for i, chunk := range chunks {
		if !c.enqueueBlocking(protocol.Marshal(protocol.NewAttachedChunk(terminalID, chunk, i))) {
			return false
		}
	}
	return c.enqueueBlocking(protocol.Marshal(protocol.NewAttachedEnd(terminalID, total, len(chunks))))
}
