package socket

import (
	"strconv"
	"sync"
	"time"

	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/parser"
	"github.com/apache/guacamole-server-sub008/pkg/wire"
)

// buffered is the standard Socket implementation: an 8 KiB write buffer
// with base64 staging in front of any Transport, and a persistent
// parser.Parser driving instruction reads.
//
// Unlike the original C implementation, the embedded parser never aliases
// raw bytes read from the transport — it copies each element's content
// into parser-owned storage as it is recognized (see pkg/parser's doc
// comment) — so there is no need for a growable inbound buffer with
// compaction; a single "pending" byte slice left over from the last
// Transport.Read after an instruction completed serves the same
// restartability purpose with far less bookkeeping.
type buffered struct {
	transport Transport

	p       *parser.Parser
	pending []byte

	writeMu  sync.Mutex
	outBuf   []byte
	b64      [3]byte
	b64n     int
	writeErr *guacerr.Error // sticky: once set, all writes fail with it
	closed   bool
}

// New wraps transport in the standard buffered Socket implementation.
func New(transport Transport) Socket {
	return &buffered{
		transport: transport,
		p:         parser.New(),
		outBuf:    make([]byte, 0, outBufferSize),
	}
}

func (s *buffered) ReadInstruction(timeout time.Duration) (wire.Instruction, *guacerr.Error) {
	for {
		switch s.p.State() {
		case parser.ParseComplete:
			instr := s.p.Instruction()
			s.p.Reset()
			return instr, nil
		case parser.ParseError:
			err := s.p.Err()
			s.p.Reset()
			return wire.Instruction{}, err
		}

		if len(s.pending) > 0 {
			n := s.p.Append(s.pending)
			s.pending = s.pending[n:]
			if n > 0 {
				continue
			}
			// No progress: pending ends in an incomplete codepoint, so
			// read more and append it rather than re-feeding the same bytes.
		}

		readable, err := s.transport.Select(timeout)
		if err != nil {
			return wire.Instruction{}, guacerr.New(guacerr.SeeErrno, "select failed: %v", err)
		}
		if !readable {
			return wire.Instruction{}, guacerr.New(guacerr.Timeout, "timed out waiting for instruction")
		}

		buf := make([]byte, outBufferSize)
		n, rerr := s.transport.Read(buf)
		if rerr != nil {
			return wire.Instruction{}, guacerr.New(guacerr.SeeErrno, "read failed: %v", rerr)
		}
		if n == 0 {
			return wire.Instruction{}, guacerr.New(guacerr.Closed, "connection closed")
		}
		s.pending = append(s.pending, buf[:n]...)
	}
}

func (s *buffered) WriteInstruction(instr wire.Instruction) *guacerr.Error {
	if err := s.FlushBase64(); err != nil {
		return err
	}
	return s.WriteString(string(wire.Format(instr)))
}

func (s *buffered) WriteString(str string) *guacerr.Error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.flushBase64Locked(); err != nil {
		return err
	}
	return s.writeLocked([]byte(str))
}

func (s *buffered) WriteInt(i int64) *guacerr.Error {
	return s.WriteString(strconv.FormatInt(i, 10))
}

// writeLocked copies data into outBuf, flushing whenever fewer than
// flushReserve bytes would remain free. Must be called with writeMu held.
func (s *buffered) writeLocked(data []byte) *guacerr.Error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.closed {
		return guacerr.New(guacerr.Closed, "write to closed socket")
	}

	for len(data) > 0 {
		free := cap(s.outBuf) - len(s.outBuf)
		if free < flushReserve {
			if err := s.flushLocked(); err != nil {
				return err
			}
			free = cap(s.outBuf) - len(s.outBuf)
		}

		n := len(data)
		if n > free {
			n = free
		}
		s.outBuf = append(s.outBuf, data[:n]...)
		data = data[n:]

		if cap(s.outBuf)-len(s.outBuf) < flushReserve {
			if err := s.flushLocked(); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *buffered) WriteBase64(data []byte) *guacerr.Error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, b := range data {
		s.b64[s.b64n] = b
		s.b64n++
		if s.b64n == 3 {
			quartet := wire.EncodeTriplet(s.b64, 3)
			if err := s.writeLocked(quartet[:]); err != nil {
				return err
			}
			s.b64n = 0
		}
	}
	return nil
}

func (s *buffered) FlushBase64() *guacerr.Error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.flushBase64Locked()
}

// flushBase64Locked encodes any staged partial triplet into the outbound
// buffer. Must be called with writeMu held.
func (s *buffered) flushBase64Locked() *guacerr.Error {
	if s.b64n == 0 {
		return nil
	}
	quartet := wire.EncodeTriplet(s.b64, s.b64n)
	s.b64n = 0
	return s.writeLocked(quartet[:])
}

func (s *buffered) Flush() *guacerr.Error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.flushLocked()
}

// flushLocked delivers all buffered bytes through the transport, retrying
// partial writes until everything is delivered or the transport errors.
// Write errors are sticky: once one occurs, every later write fails fast.
func (s *buffered) flushLocked() *guacerr.Error {
	if s.writeErr != nil {
		return s.writeErr
	}

	buf := s.outBuf
	for len(buf) > 0 {
		n, err := s.transport.Write(buf)
		if err != nil {
			s.writeErr = guacerr.New(guacerr.SeeErrno, "write failed: %v", err)
			s.outBuf = s.outBuf[:0]
			return s.writeErr
		}
		buf = buf[n:]
	}

	s.outBuf = s.outBuf[:0]
	return nil
}

func (s *buffered) Close() *guacerr.Error {
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	flushErr := s.flushBase64Locked()
	if flushErr == nil {
		flushErr = s.flushLocked()
	}
	s.closed = true
	s.writeMu.Unlock()

	if err := s.transport.Close(); err != nil && flushErr == nil {
		return guacerr.New(guacerr.SeeErrno, "close failed: %v", err)
	}
	return flushErr
}
