// Package parser implements a restartable instruction-recognizing
// automaton: it consumes bytes incrementally and produces a
// wire.Instruction once a full instruction has been scanned, preserving
// partial state across calls so a slow peer never blocks the core.
package parser

import (
	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/wire"
)

// State is one of the parser's four automaton states.
type State int

const (
	// ParseLength accumulates the decimal codepoint-length prefix of the
	// next element.
	ParseLength State = iota
	// ParseContent copies the declared number of codepoints.
	ParseContent
	// ParseComplete means a full instruction has been recognized; call
	// Instruction() to retrieve it, then Reset() before reusing the Parser.
	ParseComplete
	// ParseError means the byte stream violated the wire format; Err()
	// describes why.
	ParseError
)

// Parser does not reference the caller's buffer across calls: each
// element's content is copied into parser-owned storage as it is
// recognized. This sidesteps the pointer-rewriting-on-compaction problem a
// scheme based on offsets into a shared backing store would have; owning
// the bytes outright is the simplest Go-idiomatic alternative, at the cost
// of one copy per element, which is negligible next to wire I/O.
type Parser struct {
	state State

	lengthAcc int // decimal accumulator while in ParseLength
	remaining int // codepoints still to copy for the current element

	current  []byte   // bytes accumulated for the current element
	elements []string // elements completed so far in this instruction

	instr Instruction
	err   *guacerr.Error
}

// Instruction is the parser's completed-instruction result.
type Instruction = wire.Instruction

// New returns a Parser ready to scan the start of an instruction.
func New() *Parser {
	return &Parser{}
}

// State returns the parser's current automaton state.
func (p *Parser) State() State { return p.state }

// Err returns the error that put the parser into ParseError, or nil.
func (p *Parser) Err() *guacerr.Error { return p.err }

// Instruction returns the completed instruction. Only valid when
// State() == ParseComplete.
func (p *Parser) Instruction() wire.Instruction { return p.instr }

// Reset returns the parser to its initial state so it can scan the next
// instruction. Safe to call at any time, including after ParseError.
func (p *Parser) Reset() {
	p.state = ParseLength
	p.lengthAcc = 0
	p.remaining = 0
	p.current = nil
	p.elements = nil
	p.instr = wire.Instruction{}
	p.err = nil
}

func (p *Parser) fail(status guacerr.Status, format string, args ...any) {
	p.state = ParseError
	p.err = guacerr.New(status, format, args...)
}

// utf8SeqLen returns the number of bytes the codepoint starting with
// leading byte b occupies (1-4), or 0 if b cannot begin a valid UTF-8
// sequence.
func utf8SeqLen(b byte) int {
	switch {
	case b&0x80 == 0x00:
		return 1
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}

// Append feeds data to the parser and returns the number of bytes
// consumed, which is always <= len(data). Consuming fewer bytes than were
// given means the parser is waiting for more data to complete a codepoint,
// an element, or the instruction; the next Append call resumes exactly
// where this one left off. Append is a no-op once the parser has reached
// ParseComplete or ParseError — call Reset() first.
func (p *Parser) Append(data []byte) int {
	if p.state == ParseComplete || p.state == ParseError {
		return 0
	}

	cursor := 0
	n := len(data)

	for cursor < n {
		switch p.state {

		case ParseLength:
			b := data[cursor]
			switch {
			case b >= '0' && b <= '9':
				p.lengthAcc = p.lengthAcc*10 + int(b-'0')
				if p.lengthAcc > wire.MaxElementLength {
					p.fail(guacerr.InputTooLarge, "element length %d exceeds maximum of %d codepoints", p.lengthAcc, wire.MaxElementLength)
					return cursor + 1
				}
				cursor++
			case b == '.':
				cursor++
				p.remaining = p.lengthAcc
				p.lengthAcc = 0
				p.current = make([]byte, 0, p.remaining)
				p.state = ParseContent
			default:
				p.fail(guacerr.ProtocolError, "expected decimal length prefix, got %q", b)
				return cursor + 1
			}

		case ParseContent:
			if p.remaining > 0 {
				size := utf8SeqLen(data[cursor])
				if size == 0 {
					p.fail(guacerr.ProtocolError, "invalid UTF-8 leading byte %#x", data[cursor])
					return cursor + 1
				}
				if cursor+size > n {
					// Full codepoint not yet available; wait for more data.
					return cursor
				}
				p.current = append(p.current, data[cursor:cursor+size]...)
				cursor += size
				p.remaining--
				continue
			}

			// remaining == 0: next byte must be a ',' or ';' separator.
			b := data[cursor]
			cursor++
			switch b {
			case ',':
				p.elements = append(p.elements, string(p.current))
				p.current = nil
				if len(p.elements) >= wire.MaxElements {
					p.fail(guacerr.InputTooLarge, "instruction exceeds maximum of %d elements", wire.MaxElements)
					return cursor
				}
				p.state = ParseLength
			case ';':
				p.elements = append(p.elements, string(p.current))
				p.current = nil
				p.completeWith(p.elements)
				return cursor
			default:
				p.fail(guacerr.ProtocolError, "expected ',' or ';' after element, got %q", b)
				return cursor
			}
		}
	}

	return cursor
}

func (p *Parser) completeWith(elements []string) {
	opcode := elements[0]
	var args []string
	if len(elements) > 1 {
		args = elements[1:]
	}
	p.instr = wire.Instruction{Opcode: opcode, Args: args}
	p.state = ParseComplete
}
