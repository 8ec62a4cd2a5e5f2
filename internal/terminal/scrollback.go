package terminal

import (
	"sync"
)

// defaultScrollbackBytes is the default maximum scrollback size (2 MiB).
const defaultScrollbackBytes = 2 * 1024 * 1024

// Scrollback is a thread-safe buffer of terminal output. When the buffer
// exceeds maxLen, older bytes are trimmed from the front (byte-aligned; a
// snapshot of a long-lived terminal stays self-consistent but may not reach
// back to its first output).
//
// Alongside the bytes it keeps the terminal's sequence counter: every
// non-empty append is one output event and bumps the counter. Event end
// offsets are retained for the buffered window so a reconnecting subscriber
// can be served a catch-up delta from a prior sequence number instead of a
// full snapshot.
type Scrollback struct {
	mu     sync.Mutex
	data   []byte
	maxLen int

	// head is the absolute stream offset just past the end of data. The
	// buffer holds offsets [head-len(data), head).
	head uint64
	seq  uint64

	// marks records the absolute end offset of each retained output event,
	// in ascending sequence order. Pruned as the front of the buffer trims.
	marks []eventMark
}

type eventMark struct {
	seq uint64
	end uint64
}

// NewScrollback creates a scrollback buffer capped at maxLen bytes.
// If maxLen <= 0, defaultScrollbackBytes is used.
func NewScrollback(maxLen int) *Scrollback {
	if maxLen <= 0 {
		maxLen = defaultScrollbackBytes
	}
	return &Scrollback{maxLen: maxLen}
}

// Append records one output event and returns its sequence number.
// Empty appends do not consume a sequence number.
func (s *Scrollback) Append(p []byte) uint64 {
	if len(p) == 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.seq
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = append(s.data, p...)
	s.head += uint64(len(p))
	s.seq++
	s.marks = append(s.marks, eventMark{seq: s.seq, end: s.head})

	if len(s.data) > s.maxLen {
		s.data = s.data[len(s.data)-s.maxLen:]
	}
	s.pruneMarks()

	return s.seq
}

// pruneMarks drops event marks whose bytes have been trimmed away. The mark
// of the most recent event is always kept so Since(currentSeq) stays valid.
// Caller holds s.mu.
func (s *Scrollback) pruneMarks() {
	start := s.head - uint64(len(s.data))
	i := 0
	for i < len(s.marks)-1 && s.marks[i].end < start {
		i++
	}
	if i > 0 {
		s.marks = s.marks[i:]
	}
}

// Snapshot returns a copy of the buffered output and the sequence number of
// the last event it contains.
func (s *Scrollback) Snapshot() ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, s.seq
}

// Sequence returns the current sequence number.
func (s *Scrollback) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Since returns the bytes produced after event seq, if the buffer still
// covers that point. The second return is the current sequence number. The
// bool reports coverage: false means the caller must fall back to a full
// snapshot.
func (s *Scrollback) Since(seq uint64) ([]byte, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq > s.seq {
		return nil, s.seq, false
	}
	if seq == s.seq {
		return nil, s.seq, true
	}

	start := s.head - uint64(len(s.data))

	// seq 0 is the virtual pre-output event at offset 0.
	var end uint64
	if seq == 0 {
		end = 0
	} else {
		found := false
		for _, m := range s.marks {
			if m.seq == seq {
				end = m.end
				found = true
				break
			}
		}
		if !found {
			return nil, s.seq, false
		}
	}
	if end < start {
		return nil, s.seq, false
	}

	tail := s.data[end-start:]
	out := make([]byte, len(tail))
	copy(out, tail)
	return out, s.seq, true
}

// Len returns the current buffered length in bytes.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
