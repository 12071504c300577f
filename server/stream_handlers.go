package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/petal-labs/obridge/sse"
	"github.com/petal-labs/obridge/status"
)

// handleStreamTool delivers a streamed invocation as SSE messages, one per
// stream event. The stream stops as soon as the client goes away.
func (s *Server) handleStreamTool(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCall(w, r)
	if !ok {
		return
	}

	writer, err := sse.Open(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", err.Error())
		return
	}

	ctx := r.Context()
	stop := s.startHeartbeat(ctx, writer)
	defer stop()

	connID := s.connID(r)
	for event := range s.coordinator.Open(ctx, connID, req) {
		if err := writer.Message(event); err != nil {
			s.logger.Debug("stream client went away", "conn_id", connID, "error", err)
			return
		}
	}
}

// statusEvent is one message of GET /status/stream.
type statusEvent struct {
	Type string `json:"type"`
	status.Snapshot
}

// handleStatusStream pushes a status snapshot immediately and then on every
// activation of the status schedule until the client disconnects.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	writer, err := sse.Open(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", err.Error())
		return
	}

	ctx := r.Context()
	stop := s.startHeartbeat(ctx, writer)
	defer stop()

	for {
		if err := writer.Message(statusEvent{Type: "status", Snapshot: s.status.Snapshot()}); err != nil {
			return
		}
		if !waitNext(ctx, s.statusSchedule, time.Now()) {
			return
		}
	}
}

// startHeartbeat pings the client until ctx ends or the returned stop func is
// called. stop waits for the pinger so nothing writes after the handler
// returns.
func (s *Server) startHeartbeat(ctx context.Context, writer *sse.Writer) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := writer.Ping(); err != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
