package linerpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/go-json-experiment/json"
)

// sseEvent represents a parsed SSE event.
type sseEvent struct {
	Event string
	Data  string
}

// sseReader reads SSE events from an HTTP response body.
type sseReader struct {
	scanner  *bufio.Scanner
	comments int
}

func newSSEReader(resp *http.Response) *sseReader {
	return &sseReader{scanner: bufio.NewScanner(resp.Body)}
}

// readEvent reads the next SSE event, counting comments and skipping blank
// lines.
func (r *sseReader) readEvent() (*sseEvent, error) {
	var event sseEvent
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			r.comments++
		case strings.HasPrefix(line, "event: "):
			event.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			event.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && event.Data != "":
			return &event, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("SSE stream ended")
}

func (r *sseReader) readMessage(t *testing.T) *Message {
	t.Helper()
	ev, err := r.readEvent()
	if err != nil {
		t.Fatalf("readEvent failed: %v", err)
	}
	if ev.Event != "" {
		t.Fatalf("Expected a data event, got %q", ev.Event)
	}
	var msg Message
	if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
		t.Fatalf("Unmarshal %q failed: %v", ev.Data, err)
	}
	return &msg
}

// connectSSE opens the event stream and returns the reader and session id.
// Cleanups run in reverse order, so callers register ts.Close first and the
// stream is dropped before the server waits for its handlers.
func connectSSE(t *testing.T, ts *httptest.Server) (*http.Response, *sseReader, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to connect SSE: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	reader := newSSEReader(resp)
	ev, err := reader.readEvent()
	if err != nil {
		t.Fatalf("Failed to read connected event: %v", err)
	}
	if ev.Event != "connected" {
		t.Fatalf("Expected 'connected' event, got '%s'", ev.Event)
	}
	var connected sseConnected
	if err := json.Unmarshal([]byte(ev.Data), &connected); err != nil {
		t.Fatalf("Failed to parse connected event: %v", err)
	}
	return resp, reader, connected.SessionID
}

func postLines(t *testing.T, ts *httptest.Server, sessionID string, lines ...string) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/rpc", strings.NewReader(strings.Join(lines, "\n")))
	req.Header.Set(SSEHeaderSessionID, sessionID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /rpc failed: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestSSEEcho(t *testing.T) {
	ts := httptest.NewServer(SSEHandler(echoServer()))
	t.Cleanup(ts.Close)
	_, reader, id := connectSSE(t, ts)

	status := postLines(t, ts, id,
		`{"jsonrpc":"2.0","id":1,"method":"echo","params":{"message":"a"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"nope"}`,
	)
	if status != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", status)
	}
	expectResult(t, reader.readMessage(t), IntID(1), "a")
	expectError(t, reader.readMessage(t), IntID(2), CodeMethodNotFound)
}

func TestSSEUnknownSession(t *testing.T) {
	ts := httptest.NewServer(SSEHandler(echoServer()))
	t.Cleanup(ts.Close)
	if status := postLines(t, ts, "nope", `{"jsonrpc":"2.0","id":1,"method":"echo"}`); status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}

	resp, err := http.Get(ts.URL + "/other")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestSSEBrokenBody(t *testing.T) {
	h := SSEHandler(echoServer()).(*sseHandler)
	stream := httptest.NewRecorder()
	peer := newSSETransport(stream, stream)
	h.sessions["s1"] = peer

	delivered := make(chan []byte, 1)
	go func() { delivered <- <-peer.in }()

	body := io.MultiReader(
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"echo"}`+"\n"),
		iotest.ErrReader(errors.New("connection reset")),
	)
	req := httptest.NewRequest(http.MethodPost, "/rpc", body)
	req.Header.Set(SSEHeaderSessionID, "s1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	select {
	case line := <-delivered:
		if string(line) != `{"jsonrpc":"2.0","id":1,"method":"echo"}` {
			t.Errorf("Unexpected line %q", line)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Complete line was not delivered")
	}
}

func TestSSESinglePeer(t *testing.T) {
	ts := httptest.NewServer(SSEHandler(echoServer()))
	t.Cleanup(ts.Close)
	connectSSE(t, ts)

	resp, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}
}

func TestSSEPushesAndDisconnect(t *testing.T) {
	s := tickerServer(t)
	ts := httptest.NewServer(SSEHandler(s))
	t.Cleanup(ts.Close)
	resp, reader, id := connectSSE(t, ts)

	postLines(t, ts, id, `{"jsonrpc":"2.0","id":1,"method":"watch","params":{"task_id":"T"}}`)
	var pushes int
	for pushes < 2 {
		msg := reader.readMessage(t)
		if msg.ID == StringID("T") {
			pushes++
		}
	}

	// Dropping the stream ends the session and its tasks.
	resp.Body.Close()
	deadline := time.After(waitTimeout)
	for s.Tasks().Len() > 0 {
		select {
		case <-deadline:
			t.Fatalf("Tasks still running: %v", s.Tasks().IDs())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSSEKeepAlive(t *testing.T) {
	old := sseKeepAlive
	sseKeepAlive = 5 * time.Millisecond
	defer func() { sseKeepAlive = old }()

	ts := httptest.NewServer(SSEHandler(echoServer()))
	t.Cleanup(ts.Close)
	_, reader, id := connectSSE(t, ts)

	time.Sleep(30 * time.Millisecond)
	postLines(t, ts, id, `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"message":"x"}}`)
	expectResult(t, reader.readMessage(t), IntID(1), "x")
	if reader.comments == 0 {
		t.Error("Expected keep-alive comments")
	}
}
