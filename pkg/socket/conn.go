package socket

import (
	"bufio"
	"errors"
	"net"
	"os"
	"time"
)

// connTransport adapts a net.Conn (TCP or WebSocket-wrapped) into a
// Transport. Select is implemented as a non-consuming Peek on a buffered
// reader with a read deadline, giving true select()-like readiness
// checking without an OS-level poll syscall.
type connTransport struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewConnTransport wraps conn as a Transport suitable for socket.New.
func NewConnTransport(conn net.Conn) Transport {
	return &connTransport{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, outBufferSize),
	}
}

func (t *connTransport) Read(buf []byte) (int, error) {
	n, err := t.reader.Read(buf)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		// Select should have been used to avoid this, but treat a
		// deadline-during-Read as "no data yet" rather than an error.
		return n, nil
	}
	return n, err
}

func (t *connTransport) Write(buf []byte) (int, error) {
	return t.conn.Write(buf)
}

func (t *connTransport) Select(timeout time.Duration) (bool, error) {
	if t.reader.Buffered() > 0 {
		return true, nil
	}

	if timeout == Indefinite {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return false, err
		}
	} else {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return false, err
		}
	}

	_, err := t.reader.Peek(1)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return false, nil
	}
	return false, err
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}
