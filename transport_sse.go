package linerpc

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// sseTransport writes lines as server-sent events and reads lines posted to
// the companion endpoint.
type sseTransport struct {
	w       http.ResponseWriter
	flusher http.Flusher
	in      chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{} // closed when the event stream ends
}

func newSSETransport(w http.ResponseWriter, flusher http.Flusher) *sseTransport {
	return &sseTransport{
		w:       w,
		flusher: flusher,
		in:      make(chan []byte),
		done:    make(chan struct{}),
	}
}

func (t *sseTransport) ReadLine() ([]byte, error) {
	select {
	case line := <-t.in:
		return line, nil
	case <-t.done:
		return nil, io.EOF
	}
}

// deliver hands a posted line to the reader. It fails once the stream has
// ended.
func (t *sseTransport) deliver(line []byte) error {
	select {
	case t.in <- line:
		return nil
	case <-t.done:
		return ErrSessionClosed
	}
}

func (t *sseTransport) WriteLine(line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrSessionClosed
	}
	if _, err := fmt.Fprintf(t.w, "data: %s\n\n", line); err != nil {
		return err
	}
	t.flusher.Flush()
	return nil
}

func (t *sseTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// sendEvent writes a named event outside the line stream.
func (t *sseTransport) sendEvent(event string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	fmt.Fprintf(t.w, "event: %s\n", event)
	fmt.Fprintf(t.w, "data: %s\n\n", data)
	t.flusher.Flush()
}

// sendComment writes an SSE comment (used for keep-alive).
func (t *sseTransport) sendComment(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	fmt.Fprintf(t.w, ": %s\n\n", text)
	t.flusher.Flush()
}
