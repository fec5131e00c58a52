package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
)

// maxFrameSize is the maximum allowed completion frame payload (16 MiB).
const maxFrameSize = 16 << 20

// NotifyFrame is the completion signal a container sends over the
// bind-mounted unix socket when its command finishes. It is the only
// progress channel the container worker trusts; exec output is captured
// but never parsed as protocol.
type NotifyFrame struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output"`
	Error    string `json:"error,omitempty"`
}

// WriteFrame writes a length-prefixed JSON frame to w.
// The format is a 4-byte big-endian length prefix followed by the payload.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	length := uint32(len(data))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// ReadFrame reads a length-prefixed JSON frame from r and decodes it into v.
func ReadFrame(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > maxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", length, maxFrameSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}

	return nil
}

// NotifyListener accepts a single completion frame on a unix socket.
// One listener serves one execution; the socket file is removed on Close.
type NotifyListener struct {
	path string
	ln   net.Listener
}

// NewNotifyListener creates a unix socket listener at path. Any stale
// socket file from a previous run is removed first.
func NewNotifyListener(path string) (*NotifyListener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}

	return &NotifyListener{path: path, ln: ln}, nil
}

// Path returns the socket path on the host filesystem.
func (l *NotifyListener) Path() string {
	return l.path
}

// Await blocks until a completion frame arrives or ctx is done.
// The listener is single-shot; the accepted connection is closed after
// the frame is read.
func (l *NotifyListener) Await(ctx context.Context) (*NotifyFrame, error) {
	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- accepted{conn, err}
	}()

	select {
	case <-ctx.Done():
		// Unblock the pending Accept.
		l.ln.Close()
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return nil, fmt.Errorf("accept notify connection: %w", a.err)
		}
		defer a.conn.Close()

		if deadline, ok := ctx.Deadline(); ok {
			if err := a.conn.SetReadDeadline(deadline); err != nil {
				return nil, fmt.Errorf("set read deadline: %w", err)
			}
		}

		var frame NotifyFrame
		if err := ReadFrame(a.conn, &frame); err != nil {
			return nil, err
		}
		return &frame, nil
	}
}

// Close shuts the listener and removes the socket file.
func (l *NotifyListener) Close() error {
	err := l.ln.Close()
	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}
