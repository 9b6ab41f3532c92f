package channel

import (
	"fmt"
	"sync"
)

// Channel is an unbounded FIFO mailbox of text lines. Any number of
// goroutines may write to it, a single poller drains it.
type Channel struct {
	mu    sync.Mutex
	lines []string
}

func New() *Channel {
	return &Channel{}
}

// Put appends a line to the channel. Put never blocks on the reader.
func (c *Channel) Put(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = append(c.lines, line)
}

// Putf formats a line and appends it to the channel.
func (c *Channel) Putf(format string, args ...any) {
	c.Put(fmt.Sprintf(format, args...))
}

// Drain removes and returns every line currently queued, in the order they
// were written. If nothing is queued, Drain returns an empty, non-nil slice.
func (c *Channel) Drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return []string{}
	}

	lines := c.lines
	c.lines = nil

	return lines
}

// Len returns the number of queued lines.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.lines)
}
