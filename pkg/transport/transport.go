// Package transport provides the byte-stream framing the MCP dispatcher
// runs on. The only implementation shipped here is newline-delimited
// JSON over stdio; the interface is the contract a different framing
// (e.g. a socket) would have to satisfy.
package transport

// Transport is a bidirectional, message-oriented byte stream.
// ReadMessage blocks until a full message (one line, newline stripped)
// is available, returns io.EOF once the stream closes, or returns a
// read error. WriteMessage writes one message followed by a newline and
// flushes.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}
