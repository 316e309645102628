package wire

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Format renders an Instruction in its wire form: a comma-separated
// sequence of `<codepoint-length>.<utf8-bytes>` elements terminated by a
// semicolon. The length prefix counts Unicode codepoints, not bytes.
func Format(i Instruction) []byte {
	elements := make([]string, 0, len(i.Args)+1)
	elements = append(elements, i.Opcode)
	elements = append(elements, i.Args...)

	var b strings.Builder
	for idx, element := range elements {
		if idx > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(utf8.RuneCountInString(element)))
		b.WriteByte('.')
		b.WriteString(element)
	}
	b.WriteByte(';')
	return []byte(b.String())
}

// base64Chars is the standard alphabet used for inline binary arguments.
const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// EncodeTriplet encodes up to 3 input bytes (n of which are valid) into 4
// base64 characters, padding with '=' when n < 3. This is the pure
// primitive behind socket.Socket's base64 staging triplet.
func EncodeTriplet(triplet [3]byte, n int) [4]byte {
	var out [4]byte

	out[0] = base64Chars[triplet[0]>>2]
	out[1] = base64Chars[((triplet[0]&0x03)<<4)|(triplet[1]>>4)]

	switch n {
	case 1:
		out[2] = '='
		out[3] = '='
	case 2:
		out[2] = base64Chars[(triplet[1]&0x0f)<<2]
		out[3] = '='
	default:
		out[2] = base64Chars[(triplet[1]&0x0f)<<2|(triplet[2]>>6)]
		out[3] = base64Chars[triplet[2]&0x3f]
	}

	return out
}
