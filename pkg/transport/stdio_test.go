package transport

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioTransportReadMessageSplitsOnNewline(t *testing.T) {
	r, w := io.Pipe()
	var out bytes.Buffer
	tr := NewStdioTransport(r, &out, nil)

	go func() {
		_, _ = w.Write([]byte("{\"a\":1}\n{\"b\":2}\n"))
	}()

	first, err := tr.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(first))

	second, err := tr.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(second))
}

func TestStdioTransportReadMessageEOF(t *testing.T) {
	r, w := io.Pipe()
	var out bytes.Buffer
	tr := NewStdioTransport(r, &out, nil)

	go func() {
		_, _ = w.Write([]byte("{\"a\":1}\n"))
		_ = w.Close()
	}()

	_, err := tr.ReadMessage()
	require.NoError(t, err)

	_, err = tr.ReadMessage()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStdioTransportWriteMessageAppendsNewline(t *testing.T) {
	r, _ := io.Pipe()
	var out bytes.Buffer
	tr := NewStdioTransport(r, &out, nil)

	require.NoError(t, tr.WriteMessage([]byte(`{"ok":true}`)))
	assert.Equal(t, "{\"ok\":true}\n", out.String())
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestStdioTransportCloseIsIdempotent(t *testing.T) {
	r, _ := io.Pipe()
	var out bytes.Buffer
	var closeCount int
	closer := closerFunc(func() error {
		closeCount++
		return nil
	})
	tr := NewStdioTransport(r, &out, closer)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, closeCount)
}

func TestStdioTransportConcurrentWrites(t *testing.T) {
	r, _ := io.Pipe()
	var out bytes.Buffer
	tr := NewStdioTransport(r, &out, nil)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			_ = tr.WriteMessage([]byte(`{"x":1}`))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent writes")
		}
	}
}
