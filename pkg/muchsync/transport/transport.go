// Package transport turns a pair of byte streams into a line-delimited
// JSON Payload stream and sink. It is oblivious to operation
// semantics: it only frames bytes, one buffered line read per Payload
// in and one write_all-style write per Payload out, the same
// stdio-transport idiom used throughout the MCP example servers this
// module draws on.
package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/beyermatthias/muchsyncd/pkg/muchsync/protocol"
)

// Transport frames Payloads over a duplex byte stream: any pair of an
// io.Reader and io.Writer, including a stdio pipe, a net.Conn socket,
// or a pty.
type Transport struct {
	logger *zap.Logger

	reader *bufio.Reader
	closer io.Closer // closes the read side to unblock a pending Recv

	writeMu sync.Mutex
	writer  *bufio.Writer
}

// New wraps r and w. If r also implements io.Closer, Close unblocks a
// Recv call that is blocked on a read by closing the underlying
// stream — the standard way to cancel a blocking read in Go.
func New(logger *zap.Logger, r io.Reader, w io.Writer) *Transport {
	t := &Transport{
		logger: logger,
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
	}
	if c, ok := r.(io.Closer); ok {
		t.closer = c
	}
	return t
}

// Close unblocks any in-flight Recv by closing the underlying read
// side, if it is closable. It does not flush or close the write side:
// callers that own a net.Conn should close that directly once both
// Send and Recv have returned.
func (t *Transport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// Recv reads and decodes the next line-delimited Payload. It returns
// io.EOF when the stream ends cleanly, a *DeserializationError when a
// line is not well-formed Payload JSON, and a *ReadError on any other
// I/O failure.
func (t *Transport) Recv() (protocol.Payload, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			if strings.TrimSpace(line) == "" {
				return protocol.Payload{}, io.EOF
			}
			// Final line with no trailing newline: still try to parse it.
		} else {
			return protocol.Payload{}, &ReadError{Err: err}
		}
	}

	trimmed := strings.TrimRight(line, "\n")
	if strings.TrimSpace(trimmed) == "" {
		return protocol.Payload{}, io.EOF
	}

	var payload protocol.Payload
	if decErr := json.Unmarshal([]byte(trimmed), &payload); decErr != nil {
		return protocol.Payload{}, &DeserializationError{Err: decErr}
	}
	return payload, nil
}

// Send serializes payload to UTF-8 JSON and appends the framing
// newline. Serialization failures never reach the wire; I/O failures
// are reported as *WriteError.
func (t *Transport) Send(payload protocol.Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return &SerializationError{Err: err}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		return &WriteError{Err: err}
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return &WriteError{Err: err}
	}
	if err := t.writer.Flush(); err != nil {
		return &WriteError{Err: err}
	}

	t.logger.Debug("sent payload", zap.Uint64("op_id", payload.OpID), zap.String("command", payload.Operation.Name()))
	return nil
}

// DeserializationError wraps a malformed-JSON failure at the
// Transport layer.
type DeserializationError struct{ Err error }

func (e *DeserializationError) Error() string { return fmt.Sprintf("transport: deserialization: %v", e.Err) }
func (e *DeserializationError) Unwrap() error { return e.Err }

// SerializationError wraps a failure to encode a Payload to JSON.
type SerializationError struct{ Err error }

func (e *SerializationError) Error() string { return fmt.Sprintf("transport: serialization: %v", e.Err) }
func (e *SerializationError) Unwrap() error { return e.Err }

// ReadError wraps an I/O failure while reading a line.
type ReadError struct{ Err error }

func (e *ReadError) Error() string { return fmt.Sprintf("transport: read: %v", e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps an I/O failure while writing a line.
type WriteError struct{ Err error }

func (e *WriteError) Error() string { return fmt.Sprintf("transport: write: %v", e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }
