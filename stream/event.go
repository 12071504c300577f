package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags a stream event.
type Kind string

const (
	KindStart Kind = "start"
	KindChunk Kind = "chunk"
	KindEnd   Kind = "end"
	KindError Kind = "error"
)

// Terminal reports whether no event may follow one of this kind.
func (k Kind) Terminal() bool {
	return k == KindEnd || k == KindError
}

// Event is one push in an ordered, terminated stream. Index and Payload are
// set on chunks, TotalChunks on end, and Message on start, end, and error.
type Event struct {
	Kind        Kind
	StreamID    string
	Index       int
	Payload     string
	TotalChunks int
	Message     string
	Timestamp   time.Time
}

type wireEvent struct {
	Type        Kind      `json:"type"`
	StreamID    string    `json:"streamId,omitempty"`
	Index       *int      `json:"index,omitempty"`
	Chunk       *string   `json:"chunk,omitempty"`
	TotalChunks *int      `json:"totalChunks,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// MarshalJSON writes only the fields meaningful for the event kind.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Type:      e.Kind,
		StreamID:  e.StreamID,
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
	switch e.Kind {
	case KindChunk:
		index, payload := e.Index, e.Payload
		w.Index, w.Chunk = &index, &payload
	case KindEnd:
		total := e.TotalChunks
		w.TotalChunks = &total
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the wire form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case KindStart, KindChunk, KindEnd, KindError:
	default:
		return fmt.Errorf("stream: unknown event type %q", w.Type)
	}
	*e = Event{
		Kind:      w.Type,
		StreamID:  w.StreamID,
		Message:   w.Message,
		Timestamp: w.Timestamp,
	}
	if w.Index != nil {
		e.Index = *w.Index
	}
	if w.Chunk != nil {
		e.Payload = *w.Chunk
	}
	if w.TotalChunks != nil {
		e.TotalChunks = *w.TotalChunks
	}
	return nil
}
