// Package wire implements the Guacamole protocol's text wire format: the
// length-prefixed, comma-separated, semicolon-terminated instruction
// elements and the base64 triplet encoding primitive. The buffered
// writer/reader that carries them over a connection lives in pkg/socket.
package wire

// MaxElements is the maximum number of elements (opcode plus arguments) a
// single instruction may contain.
const MaxElements = 64

// MaxElementLength is the maximum number of Unicode codepoints a single
// element may contain.
const MaxElementLength = 1024 * 1024

// Instruction is a parsed wire element: an opcode and its ordered
// arguments. Instructions are immutable once constructed.
type Instruction struct {
	Opcode string
	Args   []string
}

// New builds an Instruction from an opcode and arguments.
func New(opcode string, args ...string) Instruction {
	return Instruction{Opcode: opcode, Args: args}
}
