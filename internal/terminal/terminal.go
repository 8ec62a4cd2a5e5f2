package terminal

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Status is the lifecycle state of a terminal. The "creating" state from the
// wire protocol never appears here: Create returns only after the spawn has
// succeeded or failed, so server-side a terminal is born running.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusError   Status = "error"
)

// Sink receives the ordered event stream of one attachment. Implementations
// must not block: the fan-out runs on the terminal's single PTY reader
// goroutine and a stalled sink would stall every subscriber.
type Sink interface {
	Output(terminalID string, data []byte, seq uint64)
	Exit(terminalID string, exitCode int)
}

// Terminal owns one PTY child process, its scrollback, and its subscribers.
type Terminal struct {
	ID        string
	Mode      string
	Shell     string
	Cwd       string
	CreatedAt time.Time

	scrollback *Scrollback

	mu           sync.Mutex
	ptmx         *os.File
	cmd          *exec.Cmd
	status       Status
	exitCode     int
	cols         int
	rows         int
	lastActivity time.Time
	// subscribers maps an attachment key (the connection ID) to its sink.
	// Re-attaching under the same key replaces the previous attachment.
	subscribers map[string]Sink
	done        chan struct{}
}

// readLoop copies PTY output into the scrollback and fans it out to the
// current subscribers. It is the only goroutine that reads the PTY, which is
// what gives every subscriber the same sequence-number series.
func (t *Terminal) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			// Append and snapshot the subscriber set under one lock so an
			// attach observes either (snapshot without event N, sink gets N)
			// or (snapshot with event N, sink skipped for N) but never both.
			t.mu.Lock()
			seq := t.scrollback.Append(data)
			t.lastActivity = time.Now()
			sinks := t.sinksLocked()
			t.mu.Unlock()

			for _, s := range sinks {
				s.Output(t.ID, data, seq)
			}
		}
		if err != nil {
			t.finish()
			return
		}
	}
}

// sinksLocked returns the current subscriber sinks. Caller holds t.mu.
func (t *Terminal) sinksLocked() []Sink {
	sinks := make([]Sink, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		sinks = append(sinks, s)
	}
	return sinks
}

// finish reaps the child after PTY EOF: records the exit code, flips status,
// notifies every subscriber with an exit event and drops them all.
func (t *Terminal) finish() {
	exitCode := 0
	if err := t.cmd.Wait(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			exitCode = -1
		}
	}

	t.mu.Lock()
	if t.status != StatusRunning {
		t.mu.Unlock()
		return
	}
	t.status = StatusExited
	t.exitCode = exitCode
	t.lastActivity = time.Now()
	sinks := t.sinksLocked()
	t.subscribers = make(map[string]Sink)
	t.mu.Unlock()

	for _, s := range sinks {
		s.Exit(t.ID, exitCode)
	}
	close(t.done)
}

// attach registers a sink under key and returns the scrollback snapshot plus
// the sequence number it ends at. Deltas delivered to the sink start at the
// returned sequence plus one.
func (t *Terminal) attach(key string, sink Sink) ([]byte, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot, seq := t.scrollback.Snapshot()
	if t.status == StatusRunning {
		t.subscribers[key] = sink
	}
	return snapshot, seq
}

// attachSince is attach with a catch-up attempt: when the scrollback still
// covers sinceSeq only the bytes after it are returned and catchUp is true.
func (t *Terminal) attachSince(key string, sink Sink, sinceSeq uint64) (data []byte, seq uint64, catchUp bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, seq, catchUp = t.scrollback.Since(sinceSeq)
	if !catchUp {
		data, seq = t.scrollback.Snapshot()
	}
	if t.status == StatusRunning {
		t.subscribers[key] = sink
	}
	return data, seq, catchUp
}

func (t *Terminal) detach(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.subscribers[key]
	delete(t.subscribers, key)
	return ok
}

func (t *Terminal) input(data []byte) error {
	t.mu.Lock()
	ptmx := t.ptmx
	running := t.status == StatusRunning
	t.lastActivity = time.Now()
	t.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	_, err := ptmx.Write(data)
	return err
}

func (t *Terminal) resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return ErrBadSize
	}
	if cols > maxCols {
		cols = maxCols
	}
	if rows > maxRows {
		rows = maxRows
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return ErrNotRunning
	}
	t.cols = cols
	t.rows = rows
	return pty.Setsize(t.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// kill signals the child and closes the PTY. The read loop sees EOF, reaps
// the process and broadcasts the exit event; Done unblocks when that is over.
func (t *Terminal) kill() {
	t.mu.Lock()
	running := t.status == StatusRunning
	cmd := t.cmd
	ptmx := t.ptmx
	t.mu.Unlock()
	if !running {
		return
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
	ptmx.Close()
}

// Done is closed once the child has been reaped and exit events delivered.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

// Status returns the current lifecycle state.
func (t *Terminal) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// ExitCode returns the child's exit code; valid once Status is exited.
func (t *Terminal) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Sequence returns the terminal's current output sequence number.
func (t *Terminal) Sequence() uint64 {
	return t.scrollback.Sequence()
}

// Snapshot returns a copy of the scrollback and its end sequence number.
func (t *Terminal) Snapshot() ([]byte, uint64) {
	return t.scrollback.Snapshot()
}

// SubscriberCount returns the number of live attachments.
func (t *Terminal) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Size returns the current PTY dimensions.
func (t *Terminal) Size() (cols, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols, t.rows
}

// LastActivity returns the time of the last input or output.
func (t *Terminal) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}
