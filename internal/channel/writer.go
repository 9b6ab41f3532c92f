package channel

import (
	"bytes"
	"strings"
	"sync"
)

// LineWriter is an io.Writer that splits the byte stream written to it into
// lines and puts every complete line into a Channel. Trailing carriage
// returns are stripped, so output of a pseudo-terminal reads the same as
// output of a pipe.
type LineWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	ch  *Channel

	// filter is called for every complete line. If it returns false,
	// the line is swallowed.
	filter func(string) bool
}

func NewLineWriter(ch *Channel) *LineWriter {
	return &LineWriter{ch: ch}
}

// WithFilter installs a line filter, see LineWriter.filter.
func (w *LineWriter) WithFilter(filter func(string) bool) *LineWriter {
	w.filter = filter
	return w
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)

	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}

		line := string(w.buf.Next(idx + 1))
		w.emit(line[:len(line)-1])
	}

	return len(p), nil
}

// Flush puts a trailing partial line, if any, into the channel.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return
	}

	line := w.buf.String()
	w.buf.Reset()
	w.emit(line)
}

func (w *LineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")

	if w.filter != nil && !w.filter(line) {
		return
	}

	w.ch.Put(line)
}
