package terminal

import (
	"bytes"
	"testing"
)

func TestScrollbackAppendSequence(t *testing.T) {
	s := NewScrollback(1024)

	if seq := s.Append(nil); seq != 0 {
		t.Errorf("empty append consumed a sequence number: got %d", seq)
	}
	if seq := s.Append([]byte("a")); seq != 1 {
		t.Errorf("first append: got seq %d, want 1", seq)
	}
	if seq := s.Append([]byte("bc")); seq != 2 {
		t.Errorf("second append: got seq %d, want 2", seq)
	}
	if seq := s.Append([]byte{}); seq != 2 {
		t.Errorf("empty append bumped sequence: got %d", seq)
	}

	data, seq := s.Snapshot()
	if string(data) != "abc" || seq != 2 {
		t.Errorf("Snapshot() = %q, %d; want \"abc\", 2", data, seq)
	}
}

func TestScrollbackTrimsFront(t *testing.T) {
	s := NewScrollback(10)
	s.Append([]byte("aaaaa"))
	s.Append([]byte("bbbbb"))
	s.Append([]byte("ccccc"))

	data, seq := s.Snapshot()
	if string(data) != "bbbbbccccc" {
		t.Errorf("after trim: got %q, want %q", data, "bbbbbccccc")
	}
	if seq != 3 {
		t.Errorf("trim changed the sequence counter: got %d, want 3", seq)
	}
	if s.Len() != 10 {
		t.Errorf("Len() = %d, want 10", s.Len())
	}
}

func TestScrollbackSince(t *testing.T) {
	s := NewScrollback(1024)
	s.Append([]byte("one"))
	s.Append([]byte("two"))
	s.Append([]byte("three"))

	data, seq, ok := s.Since(1)
	if !ok || string(data) != "twothree" || seq != 3 {
		t.Errorf("Since(1) = %q, %d, %v; want \"twothree\", 3, true", data, seq, ok)
	}

	// The virtual pre-output event: everything since the beginning.
	data, _, ok = s.Since(0)
	if !ok || string(data) != "onetwothree" {
		t.Errorf("Since(0) = %q, %v; want full buffer, true", data, ok)
	}

	// Current sequence: nothing new, still covered.
	data, seq, ok = s.Since(3)
	if !ok || len(data) != 0 || seq != 3 {
		t.Errorf("Since(current) = %q, %d, %v; want empty, 3, true", data, seq, ok)
	}

	// A sequence from the future is not covered.
	if _, _, ok := s.Since(99); ok {
		t.Error("Since(future) reported coverage")
	}
}

func TestScrollbackSinceAfterTrim(t *testing.T) {
	s := NewScrollback(10)
	s.Append([]byte("aaaaa")) // seq 1
	s.Append([]byte("bbbbb")) // seq 2
	s.Append([]byte("ccccc")) // seq 3, trims the a's

	// Event 2's end offset is still inside the buffer.
	data, _, ok := s.Since(2)
	if !ok || string(data) != "ccccc" {
		t.Errorf("Since(2) = %q, %v; want \"ccccc\", true", data, ok)
	}

	s.Append([]byte("ddddd")) // seq 4, trims the b's

	// Event 1 has been trimmed out; the caller must take a full snapshot.
	if _, _, ok := s.Since(1); ok {
		t.Error("Since(1) reported coverage after its bytes were trimmed")
	}
	data, seq, ok := s.Since(3)
	if !ok || string(data) != "ddddd" || seq != 4 {
		t.Errorf("Since(3) = %q, %d, %v; want \"ddddd\", 4, true", data, seq, ok)
	}

	// Since(0) needs the whole stream, which a trimmed buffer no longer has.
	if _, _, ok := s.Since(0); ok {
		t.Error("Since(0) reported coverage on a trimmed buffer")
	}
}

func TestScrollbackSnapshotIsCopy(t *testing.T) {
	s := NewScrollback(1024)
	s.Append([]byte("hello"))

	data, _ := s.Snapshot()
	data[0] = 'X'

	again, _ := s.Snapshot()
	if !bytes.Equal(again, []byte("hello")) {
		t.Errorf("snapshot aliases the internal buffer: got %q", again)
	}
}

func TestScrollbackDefaultCap(t *testing.T) {
	s := NewScrollback(0)
	if s.maxLen != defaultScrollbackBytes {
		t.Errorf("maxLen = %d, want %d", s.maxLen, defaultScrollbackBytes)
	}
}
