package session

import (
	"sync"
	"time"
)

// createLimiter is a sliding-window rate limiter for terminal.create
// requests. It records the timestamps of recent charged creates; a request
// is allowed while fewer than limit timestamps fall inside the window.
//
// Idempotent replays and restore-flagged creates are never charged, so they
// can not exhaust the bucket.
type createLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time // swappable for tests
}

func newCreateLimiter(limit int, window time.Duration) *createLimiter {
	return &createLimiter{limit: limit, window: window, now: time.Now}
}

// allow charges one create if the window has room and reports whether the
// request may proceed. A rejected request is not charged.
func (l *createLimiter) allow() bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	live := l.stamps[:0]
	for _, ts := range l.stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}
	l.stamps = live

	if len(l.stamps) >= l.limit {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// replayCache remembers completed terminal.create responses by client
// requestId for the life of the connection, so a retried request is answered
// with the original frame verbatim.
type replayCache struct {
	mu        sync.Mutex
	responses map[string][]byte
}

func newReplayCache() *replayCache {
	return &replayCache{responses: make(map[string][]byte)}
}

func (c *replayCache) get(requestID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame, ok := c.responses[requestID]
	return frame, ok
}

func (c *replayCache) put(requestID string, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[requestID] = frame
}
