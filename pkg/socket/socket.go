// Package socket implements the buffered, bidirectional byte channel each
// connection communicates through: an 8 KiB outbound write buffer with
// base64 staging, and timed instruction reads driven by an embedded
// parser.Parser.
// Concrete transports (a TCP/net.Conn backend, an in-memory test double)
// plug in behind the Transport interface so the same buffering and framing
// logic serves production and tests alike.
package socket

import (
	"time"

	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/wire"
)

// Indefinite, passed as a timeout, means block until data arrives or the
// transport errors.
const Indefinite time.Duration = -1

// outBufferSize is the outbound byte buffer size; writes flush whenever
// fewer than flushReserve bytes remain free.
const outBufferSize = 8 * 1024

// flushReserve is the number of bytes that must remain free in the output
// buffer, reserving room for one atomic base64 quartet.
const flushReserve = 4

// Transport is the pluggable read/write/select/close handler a Socket is
// built on: a file-descriptor, in-memory, or test-double implementation.
type Transport interface {
	// Read reads into buf, returning the number of bytes read. Zero bytes
	// with a nil error means end-of-stream.
	Read(buf []byte) (int, error)
	// Write writes buf, returning the number of bytes written.
	Write(buf []byte) (int, error)
	// Select blocks (up to timeout, or indefinitely for Indefinite) until
	// data is available to Read without consuming it. It returns true if
	// readable, false on timeout.
	Select(timeout time.Duration) (bool, error)
	// Close releases the transport.
	Close() error
}

// Socket is the buffered, bidirectional channel every connection reads
// instructions from and writes instructions through.
type Socket interface {
	// ReadInstruction blocks (up to timeout) for the next complete
	// instruction.
	ReadInstruction(timeout time.Duration) (wire.Instruction, *guacerr.Error)

	// WriteInstruction encodes and writes a complete instruction, first
	// flushing any staged base64 output: a base64 flush must precede any
	// non-base64 write.
	WriteInstruction(instr wire.Instruction) *guacerr.Error

	// WriteString copies bytes into the outbound buffer, after first
	// encoding any staged base64 triplet, flushing when fewer than
	// flushReserve bytes remain free.
	WriteString(s string) *guacerr.Error

	// WriteInt formats i as ASCII decimal and writes it.
	WriteInt(i int64) *guacerr.Error

	// WriteBase64 stages bytes three at a time, emitting a base64 quartet
	// to the outbound buffer for every full triplet.
	WriteBase64(data []byte) *guacerr.Error

	// FlushBase64 encodes any partial triplet, padding with '=', and must
	// be called before any subsequent non-base64 write or on Close.
	FlushBase64() *guacerr.Error

	// Flush delivers all buffered bytes through the transport's Write.
	Flush() *guacerr.Error

	// Close flushes (including base64 staging) and releases the
	// transport.
	Close() *guacerr.Error
}
