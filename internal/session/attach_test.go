package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/freshell/freshell/internal/terminal"
)

func TestChunkSnapshotSizes(t *testing.T) {
	snapshot := []byte(strings.Repeat("x", 12000))
	chunks := chunkSnapshot(snapshot, 500)

	if len(chunks) != 24 {
		t.Fatalf("chunk count = %d, want 24", len(chunks))
	}
	var total int
	for i, c := range chunks {
		if len(c) > 500 {
			t.Errorf("chunk %d is %d bytes, limit 500", i, len(c))
		}
		total += len(c)
	}
	if total != len(snapshot) {
		t.Errorf("chunks cover %d bytes, want %d", total, len(snapshot))
	}
	if strings.Join(chunks, "") != string(snapshot) {
		t.Error("reassembled chunks differ from the snapshot")
	}
}

func TestChunkSnapshotEmpty(t *testing.T) {
	if chunks := chunkSnapshot(nil, 500); chunks != nil {
		t.Errorf("empty snapshot produced %d chunks", len(chunks))
	}
	if chunks := chunkSnapshot([]byte{}, 500); chunks != nil {
		t.Errorf("empty snapshot produced %d chunks", len(chunks))
	}
}

func TestChunkSnapshotUnlimited(t *testing.T) {
	chunks := chunkSnapshot([]byte("abc"), 0)
	if len(chunks) != 1 || chunks[0] != "abc" {
		t.Errorf("chunkBytes<=0: got %v", chunks)
	}
}

func TestChunkSnapshotRuneBoundaries(t *testing.T) {
	// Two-byte runes with an odd chunk limit force every naive cut to land
	// mid-rune.
	snapshot := []byte(strings.Repeat("é", 100))
	chunks := chunkSnapshot(snapshot, 5)

	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
		if len(c) > 5 {
			t.Errorf("chunk %d is %d bytes, limit 5", i, len(c))
		}
	}
	if strings.Join(chunks, "") != string(snapshot) {
		t.Error("reassembled chunks differ from the snapshot")
	}
}

func TestChunkSnapshotLastPartialChunk(t *testing.T) {
	chunks := chunkSnapshot([]byte(strings.Repeat("y", 1001)), 500)
	if len(chunks) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(chunks))
	}
	if len(chunks[2]) != 1 {
		t.Errorf("last chunk = %d bytes, want 1", len(chunks[2]))
	}
}

func TestSlowConsumerDropped(t *testing.T) {
	mgr := NewManager(Config{SendQueueLimit: 2}, terminal.NewRegistry(terminal.Config{}), nil)
	c := newConn(context.Background(), mgr, nil, "")
	a := newAttachment(c, "t1")
	c.setAttachment("t1", a)
	a.release(0)

	// Back up the outbound queue past the limit; the send loop is not
	// running, so nothing drains.
	c.enqueue([]byte("{}"))
	c.enqueue([]byte("{}"))

	a.Output("t1", []byte("overflow"), 1)

	// The attachment was dropped, not the connection: the queued frames plus
	// one SLOW_CONSUMER error remain, and no output frame was delivered.
	if got := c.removeAttachment("t1"); got != nil {
		t.Error("attachment still registered after slow-consumer drop")
	}
	if n := c.queueLen(); n != 3 {
		t.Fatalf("queue length = %d, want 2 backlog + 1 error", n)
	}
	<-c.sendCh
	<-c.sendCh
	var frame map[string]any
	if err := json.Unmarshal(<-c.sendCh, &frame); err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if frame["type"] != "error" || frame["code"] != "SLOW_CONSUMER" || frame["terminalId"] != "t1" {
		t.Errorf("frame = %v", frame)
	}

	// Further output through the invalidated attachment is a no-op.
	a.Output("t1", []byte("more"), 2)
	if n := c.queueLen(); n != 3 {
		t.Errorf("invalidated attachment still delivering: queue = %d", n)
	}
}

func TestAttachmentBuffersUntilRelease(t *testing.T) {
	mgr := NewManager(Config{SendQueueLimit: 100}, terminal.NewRegistry(terminal.Config{}), nil)
	c := newConn(context.Background(), mgr, nil, "")
	a := newAttachment(c, "t1")
	c.setAttachment("t1", a)

	// Deltas racing the snapshot: one already covered by it, one beyond.
	a.Output("t1", []byte("covered"), 3)
	a.Output("t1", []byte("fresh"), 4)
	if n := c.queueLen(); n != 0 {
		t.Fatalf("delivered %d frames while buffering", n)
	}

	a.release(3)
	if n := c.queueLen(); n != 1 {
		t.Fatalf("released %d frames, want only the one past the boundary", n)
	}
	var frame map[string]any
	json.Unmarshal(<-c.sendCh, &frame)
	if frame["data"] != "fresh" || frame["sequenceNumber"] != float64(4) {
		t.Errorf("released frame = %v", frame)
	}

	// After release, delivery is direct. The queue counter only drains in
	// the send loop, so it counts every frame enqueued so far.
	a.Output("t1", []byte("live"), 5)
	if n := c.queueLen(); n != 2 {
		t.Errorf("post-release delivery: queue counter = %d, want 2", n)
	}
}

func TestReleaseRaceKeepsSequenceOrder(t *testing.T) {
	mgr := NewManager(Config{SendQueueLimit: 1000}, terminal.NewRegistry(terminal.Config{}), nil)

	// A delta produced on the PTY reader while release is flushing must queue
	// behind the buffered backlog, never ahead of it.
	for i := 0; i < 500; i++ {
		c := newConn(context.Background(), mgr, nil, "")
		a := newAttachment(c, "t1")
		c.setAttachment("t1", a)
		a.Output("t1", []byte("first"), 1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.release(0)
		}()
		go func() {
			defer wg.Done()
			a.Output("t1", []byte("second"), 2)
		}()
		wg.Wait()

		var seqs []uint64
		for len(c.sendCh) > 0 {
			var frame map[string]any
			if err := json.Unmarshal(<-c.sendCh, &frame); err != nil {
				t.Fatalf("iteration %d: bad frame: %v", i, err)
			}
			seqs = append(seqs, uint64(frame["sequenceNumber"].(float64)))
		}
		if len(seqs) != 2 {
			t.Fatalf("iteration %d delivered %d frames, want 2", i, len(seqs))
		}
		if seqs[0] != 1 || seqs[1] != 2 {
			t.Fatalf("iteration %d delivered out of order: %v", i, seqs)
		}
	}
}

func TestClassifyMobile(t *testing.T) {
	cases := []struct {
		ua   string
		want bool
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", true},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile", true},
		{"Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0", false},
		{"", false},
	}
	for _, c := range cases {
		if got := classifyMobile(c.ua); got != c.want {
			t.Errorf("classifyMobile(%q) = %v, want %v", c.ua, got, c.want)
		}
	}
}
