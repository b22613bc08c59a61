package linerpc

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
)

// sseKeepAlive is the interval between keep-alive comments.
var sseKeepAlive = 15 * time.Second

// SSEHeaderSessionID names the header that carries the session id on posts.
const SSEHeaderSessionID = "Linerpc-Session"

// sseHandler serves one peer over server-sent events plus HTTP posts.
type sseHandler struct {
	server *Server
	busy   chan struct{}

	mu       sync.Mutex
	sessions map[string]*sseTransport
}

// SSEHandler returns an http.Handler for peers that cannot hold a
// WebSocket:
//
//	GET  /events  opens the session; outgoing lines arrive as "data:" events
//	POST /rpc     sends the request lines in the body
//
// The first event, named "connected", carries {"session_id": ...}; every
// post must repeat it in the Linerpc-Session header. One peer is served at
// a time; a second GET is answered with 409 Conflict.
func SSEHandler(s *Server) http.Handler {
	return &sseHandler{
		server:   s,
		busy:     make(chan struct{}, 1),
		sessions: make(map[string]*sseTransport),
	}
}

func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/events":
		h.handleEvents(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/rpc":
		h.handleRPC(w, r)
	default:
		http.NotFound(w, r)
	}
}

type sseConnected struct {
	SessionID string `json:"session_id"`
}

func (h *sseHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	select {
	case h.busy <- struct{}{}:
		defer func() { <-h.busy }()
	default:
		http.Error(w, "a peer is already connected", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := uuid.NewString()
	t := newSSETransport(w, flusher)
	h.mu.Lock()
	h.sessions[id] = t
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
	}()

	data, _ := json.Marshal(sseConnected{SessionID: id})
	t.sendEvent("connected", data)

	stopKeepAlive := make(chan struct{})
	keepAliveDone := make(chan struct{})
	go func() {
		defer close(keepAliveDone)
		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-stopKeepAlive:
				return
			case <-ticker.C:
				t.sendComment("keep-alive")
			}
		}
	}()

	err := h.server.Serve(r.Context(), t)
	close(stopKeepAlive)
	<-keepAliveDone
	// The response writer must not be touched after the handler returns.
	t.Close()
	if err != nil && !errors.Is(err, r.Context().Err()) {
		h.server.logger.Error("sse session ended", slog.String("remote", r.RemoteAddr), slog.Any("error", err))
	}
}

func (h *sseHandler) handleRPC(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	t, ok := h.sessions[r.Header.Get(SSEHeaderSessionID)]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	body := NewLineTransport(r.Body, nil)
	for {
		line, err := body.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Lines already delivered stay delivered.
			http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := t.deliver(line); err != nil {
			http.Error(w, "session closed", http.StatusGone)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}
