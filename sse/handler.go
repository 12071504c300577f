// Package sse writes Server-Sent Events to HTTP clients.
//
// Each message is written as
//
//	id: {seq}
//	event: {name}   (omitted for unnamed messages)
//	data: {json}
//
// followed by a blank line. A heartbeat comment ": ping" keeps idle
// connections open through proxies.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// ErrStreamingUnsupported is returned when the response cannot be flushed
// incrementally.
var ErrStreamingUnsupported = errors.New("sse: streaming not supported")

// Writer emits SSE messages on one response. It is safe for concurrent use
// so a heartbeat can share the connection with the producer.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	seq     uint64
}

// Open writes the SSE response headers and returns a Writer for the body.
func Open(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// Message writes an unnamed message, which browsers deliver to onmessage.
func (s *Writer) Message(payload any) error {
	return s.Event("", payload)
}

// Event writes a message with the given event name and a JSON payload.
func (s *Writer) Event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: encode payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if name != "" {
		_, err = fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, name, data)
	} else {
		_, err = fmt.Fprintf(s.w, "id: %d\ndata: %s\n\n", s.seq, data)
	}
	if err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Ping writes a heartbeat comment.
func (s *Writer) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
