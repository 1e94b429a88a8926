package transport

import (
	"bufio"
	"io"
	"sync"

	"github.com/richard-senior/mcp/internal/logger"
)

// maxMessageBytes bounds a single newline-delimited message. MCP
// messages are small RPC envelopes; this is generous headroom for a
// large tools/call result (e.g. a full widget tree dump).
const maxMessageBytes = 32 * 1024 * 1024

// StdioTransport implements Transport as newline-delimited JSON over a
// pair of byte streams, stdin/stdout in the reference deployment, but
// any io.Reader/io.Writer pair works (tests wire up an in-memory pipe).
//
// A background goroutine owns the reader; ReadMessage blocks on a
// channel fed by that goroutine rather than reading directly. The
// channel is closed only when the reader reaches EOF or fails; Close
// does not close it, so Close by itself does not unblock a pending
// ReadMessage.
type StdioTransport struct {
	writer   *bufio.Writer
	writeMu  sync.Mutex
	messages chan []byte
	readErr  chan error
	closeMu  sync.Mutex
	closed   bool
	closer   io.Closer
}

// NewStdioTransport creates a transport over the given reader/writer
// pair and starts its background receive loop. closer, if non-nil, is
// invoked on Close (typically the reader side of the underlying stream).
func NewStdioTransport(r io.Reader, w io.Writer, closer io.Closer) *StdioTransport {
	t := &StdioTransport{
		writer:   bufio.NewWriter(w),
		messages: make(chan []byte),
		readErr:  make(chan error, 1),
		closer:   closer,
	}
	go t.receiveLoop(r)
	return t
}

func (t *StdioTransport) receiveLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := make([]byte, len(line))
		copy(msg, line)
		t.messages <- msg
	}
	if err := scanner.Err(); err != nil {
		t.readErr <- err
	} else {
		t.readErr <- io.EOF
	}
	close(t.messages)
}

// ReadMessage returns the next newline-delimited message, or io.EOF once
// the underlying stream is exhausted. After Close it returns io.EOF only
// if the closer ended the reader side; otherwise it keeps blocking.
func (t *StdioTransport) ReadMessage() ([]byte, error) {
	msg, ok := <-t.messages
	if ok {
		return msg, nil
	}
	select {
	case err := <-t.readErr:
		return nil, err
	default:
		return nil, io.EOF
	}
}

// WriteMessage writes one message followed by a newline and flushes.
func (t *StdioTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		logger.Error("failed to write message:", err)
		return err
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return err
	}
	return t.writer.Flush()
}

// Close releases the underlying stream. A receive loop blocked in
// scanner.Scan() is unblocked by the caller closing the reader side
// (e.g. os.Stdin cannot be closed portably, but a pipe or socket can);
// for os.Stdin specifically, relying on process exit/EOF is standard.
func (t *StdioTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}
