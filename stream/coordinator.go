// Package stream delivers incremental tool results as an ordered sequence of
// events with a start/end lifecycle.
//
// A stream always begins with a start event, continues with chunk events whose
// indices run contiguously from 0, and finishes with exactly one end or error
// event. When the consumer stops iterating or its context is cancelled, no
// further events are produced and the connection's active stream is released.
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/obridge/tool"
)

// DefaultDelay paces chunk delivery when Config.Delay is zero.
const DefaultDelay = 500 * time.Millisecond

const (
	startMessage = "Starting stream..."
	endMessage   = "Stream completed"
)

// ErrStreamActive is reported when a connection opens a second stream while
// its first is still running.
var ErrStreamActive = errors.New("stream: connection already has an active stream")

// Config configures a Coordinator.
type Config struct {
	Invoker *tool.Invoker
	// Delay is the pause before each chunk. Zero uses DefaultDelay and a
	// negative value disables pacing.
	Delay    time.Duration
	Clock    func() time.Time
	NewID    func() string
	Observer Observer
	Logger   *slog.Logger
}

// Coordinator opens streams and tracks at most one active stream per
// connection.
type Coordinator struct {
	invoker  *tool.Invoker
	delay    time.Duration
	clock    func() time.Time
	newID    func() string
	observer Observer
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*activeStream
}

type activeStream struct {
	streamID  string
	cursor    int
	cancelled bool
	cancel    context.CancelFunc
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Invoker == nil {
		return nil, errors.New("stream: coordinator requires an invoker")
	}
	delay := cfg.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		invoker:  cfg.Invoker,
		delay:    delay,
		clock:    clock,
		newID:    newID,
		observer: observer,
		logger:   logger,
		active:   make(map[string]*activeStream),
	}, nil
}

// Open returns the event sequence for one streamed invocation on connection
// connID. Nothing runs until the sequence is iterated, and it may be iterated
// only once.
func (c *Coordinator) Open(ctx context.Context, connID string, req tool.Request) iter.Seq[Event] {
	var used bool
	return func(yield func(Event) bool) {
		if used {
			return
		}
		used = true
		c.run(ctx, connID, req, yield)
	}
}

// ActiveCount returns the number of connections with a running stream.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Cursor returns the number of chunks delivered so far on connID's active
// stream.
func (c *Coordinator) Cursor(connID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[connID]
	if !ok {
		return 0, false
	}
	return s.cursor, true
}

// Cancel stops connID's active stream. It reports whether one was running.
func (c *Coordinator) Cancel(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[connID]
	if !ok {
		return false
	}
	s.cancelled = true
	s.cancel()
	return true
}

// CancelAll stops every active stream.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.active {
		s.cancelled = true
		s.cancel()
	}
}

func (c *Coordinator) acquire(connID, streamID string, cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[connID]; busy {
		return false
	}
	c.active[connID] = &activeStream{streamID: streamID, cancel: cancel}
	return true
}

func (c *Coordinator) release(connID, streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[connID]
	if !ok || s.streamID != streamID {
		return
	}
	delete(c.active, connID)
	if s.cancelled {
		c.logger.Debug("stream cancelled", "conn_id", connID, "stream_id", streamID, "cursor", s.cursor)
	}
}

func (c *Coordinator) advance(connID, streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.active[connID]; ok && s.streamID == streamID {
		s.cursor++
	}
}

// streamRun is the state of one iteration of an opened stream.
type streamRun struct {
	c        *Coordinator
	connID   string
	streamID string
	req      tool.Request
	yield    func(Event) bool

	chunks   int
	yielding bool
}

func (r *streamRun) emit(e Event) bool {
	e.StreamID = r.streamID
	e.Timestamp = r.c.clock().UTC()
	r.yielding = true
	ok := r.yield(e)
	r.yielding = false
	return ok
}

func (r *streamRun) fail(err error) {
	r.emit(Event{Kind: KindError, Message: tool.ErrorMessage(err)})
}

func (c *Coordinator) run(parent context.Context, connID string, req tool.Request, yield func(Event) bool) {
	start := time.Now()
	r := &streamRun{
		c:        c,
		connID:   connID,
		streamID: c.newID(),
		req:      req,
		yield:    yield,
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if !c.acquire(connID, r.streamID, cancel) {
		if r.emit(Event{Kind: KindStart, Message: startMessage}) {
			r.fail(fmt.Errorf("%w: %s", ErrStreamActive, connID))
		}
		c.finish(r, start, OutcomeRejected, "")
		return
	}
	defer c.release(connID, r.streamID)

	outcome, code := c.produce(ctx, r)
	c.finish(r, start, outcome, code)
}

func (c *Coordinator) produce(ctx context.Context, r *streamRun) (outcome Outcome, code string) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if r.yielding {
			panic(rec)
		}
		err := tool.HandlerFault(r.req.ToolName, fmt.Errorf("tool panicked: %v", rec))
		c.logger.Error("stream producer panicked", "tool", r.req.ToolName, "stream_id", r.streamID, "panic", rec)
		r.fail(err)
		outcome, code = OutcomeFailed, err.Code
	}()

	if !r.emit(Event{Kind: KindStart, Message: startMessage}) {
		return OutcomeCancelled, tool.ErrorCodeTransportFault
	}

	call, err := c.invoker.Bind(r.req)
	if err != nil {
		r.fail(err)
		return OutcomeFailed, tool.ErrorCode(err)
	}

	chunked, ok := call.(tool.ChunkedCall)
	if !ok {
		return c.produceSingle(ctx, r, call)
	}

	for payload, err := range chunked.Chunks(ctx) {
		if ctx.Err() != nil {
			return OutcomeCancelled, tool.ErrorCodeTransportFault
		}
		if err != nil {
			fault := tool.HandlerFault(r.req.ToolName, err)
			r.fail(fault)
			return OutcomeFailed, fault.Code
		}
		if !c.pause(ctx) {
			return OutcomeCancelled, tool.ErrorCodeTransportFault
		}
		if !r.emit(Event{Kind: KindChunk, Index: r.chunks, Payload: payload}) {
			return OutcomeCancelled, tool.ErrorCodeTransportFault
		}
		r.chunks++
		c.advance(r.connID, r.streamID)
	}
	if ctx.Err() != nil {
		return OutcomeCancelled, tool.ErrorCodeTransportFault
	}

	r.emit(Event{Kind: KindEnd, TotalChunks: r.chunks, Message: endMessage})
	return OutcomeCompleted, ""
}

// produceSingle delivers a non-chunked tool's synchronous result as one chunk.
func (c *Coordinator) produceSingle(ctx context.Context, r *streamRun, call tool.Call) (Outcome, string) {
	env := c.invoker.Execute(ctx, r.req, call)
	if ctx.Err() != nil {
		return OutcomeCancelled, tool.ErrorCodeTransportFault
	}
	if env.IsError {
		r.emit(Event{Kind: KindError, Message: env.Text()})
		return OutcomeFailed, tool.ErrorCodeHandlerFault
	}
	if !r.emit(Event{Kind: KindChunk, Index: 0, Payload: env.Text()}) {
		return OutcomeCancelled, tool.ErrorCodeTransportFault
	}
	r.chunks = 1
	c.advance(r.connID, r.streamID)
	r.emit(Event{Kind: KindEnd, TotalChunks: 1, Message: endMessage})
	return OutcomeCompleted, ""
}

func (c *Coordinator) pause(ctx context.Context) bool {
	if c.delay < 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Coordinator) finish(r *streamRun, start time.Time, outcome Outcome, code string) {
	c.observer.ObserveStream(Observation{
		ToolName:   r.req.ToolName,
		ConnID:     r.connID,
		StreamID:   r.streamID,
		Chunks:     r.chunks,
		DurationMS: time.Since(start).Milliseconds(),
		Outcome:    outcome,
		ErrorCode:  code,
	})
}
