package testutil

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// LogCapture is an io.Writer for slog handlers under test. Each complete
// line is queued for WaitFor; partial writes are buffered until their
// newline arrives.
type LogCapture struct {
	mu      sync.Mutex
	partial []byte
	lines   chan string
}

// NewLogCapture returns a capture queueing up to 256 lines. Lines written
// while the queue is full are dropped.
func NewLogCapture() *LogCapture {
	return &LogCapture{lines: make(chan string, 256)}
}

func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partial = append(c.partial, p...)
	for {
		line, rest, ok := bytes.Cut(c.partial, []byte{'\n'})
		if !ok {
			break
		}
		c.partial = rest
		if len(line) == 0 {
			continue
		}
		select {
		case c.lines <- string(line):
		default:
		}
	}
	return len(p), nil
}

// WaitFor consumes lines until one contains substr and returns it. Lines
// before the match are discarded. Fails the test after timeout.
func (c *LogCapture) WaitFor(t testing.TB, substr string, timeout time.Duration) string {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case line := <-c.lines:
			if strings.Contains(line, substr) {
				return line
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a log line containing %q", substr)
			return ""
		}
	}
}
