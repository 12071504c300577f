package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrTransportClosed is returned by Send and Receive after Close.
	ErrTransportClosed = errors.New("mcp: transport is closed")
	// ErrFrameTooLarge is wrapped in a *FrameError for lines over MaxFrameSize.
	ErrFrameTooLarge = errors.New("mcp: frame exceeds size limit")
)

// MaxFrameSize bounds a single newline-delimited message.
const MaxFrameSize = 4 << 20

// FrameError reports a line that could not be decoded as a JSON-RPC message.
// The transport stays usable after one.
type FrameError struct {
	Line []byte
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("mcp: decode frame: %v", e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

type frame struct {
	message Message
	err     error
}

// StreamTransport frames messages as newline-delimited JSON over a reader and
// a writer, such as a process's stdin and stdout. A background goroutine
// reads ahead so Receive can honor context cancellation.
type StreamTransport struct {
	reader io.Reader

	writeMu sync.Mutex
	writer  io.Writer

	startOnce sync.Once
	frames    chan frame
	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamTransport creates a transport reading from r and writing to w.
func NewStreamTransport(r io.Reader, w io.Writer) *StreamTransport {
	return &StreamTransport{
		reader: r,
		writer: w,
		frames: make(chan frame),
		done:   make(chan struct{}),
	}
}

func (t *StreamTransport) readLoop() {
	reader := bufio.NewReader(t.reader)
	for {
		line, tooLong, err := readFrame(reader, MaxFrameSize)
		if tooLong {
			if !t.deliver(frame{err: &FrameError{Err: ErrFrameTooLarge}}) {
				return
			}
		} else if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var message Message
			var f frame
			if decodeErr := json.Unmarshal(trimmed, &message); decodeErr != nil {
				f.err = &FrameError{Line: trimmed, Err: decodeErr}
			} else {
				f.message = message
			}
			if !t.deliver(f) {
				return
			}
		}
		if err != nil {
			t.deliver(frame{err: err})
			return
		}
	}
}

// readFrame reads through the next newline. Bytes past limit are discarded
// and reported through tooLong.
func readFrame(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, tooLong, err
		}
	}
}

func (t *StreamTransport) deliver(f frame) bool {
	select {
	case t.frames <- f:
		return true
	case <-t.done:
		return false
	}
}

// Receive returns the next message. Undecodable lines surface as *FrameError
// and end of input as io.EOF.
func (t *StreamTransport) Receive(ctx context.Context) (Message, error) {
	select {
	case <-t.done:
		return Message{}, ErrTransportClosed
	default:
	}
	t.startOnce.Do(func() { go t.readLoop() })
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.done:
		return Message{}, ErrTransportClosed
	case f := <-t.frames:
		if f.err != nil {
			return Message{}, f.err
		}
		return f.message, nil
	}
}

// Send writes one message followed by a newline.
func (t *StreamTransport) Send(_ context.Context, message Message) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("mcp: encode message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("mcp: write message: %w", err)
	}
	return nil
}

// Close stops the transport and closes the reader and writer when they are
// io.Closers.
func (t *StreamTransport) Close(context.Context) error {
	var errs []error
	t.closeOnce.Do(func() {
		close(t.done)
		if c, ok := t.writer.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := t.reader.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}

var _ Transport = (*StreamTransport)(nil)
