package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/guacamole-server-sub008/pkg/wire"
)

func feedAll(t *testing.T, p *Parser, chunks ...string) {
	t.Helper()
	for _, chunk := range chunks {
		data := []byte(chunk)
		consumed := 0
		for consumed < len(data) {
			n := p.Append(data[consumed:])
			if n == 0 {
				break
			}
			consumed += n
		}
		require.Equal(t, len(data), consumed, "chunk %q not fully consumed", chunk)
	}
}

func TestSingleFeedMouseInstruction(t *testing.T) {
	p := New()
	feedAll(t, p, "5.mouse,3.100,3.200,1.1;")
	require.Equal(t, ParseComplete, p.State())
	assert.Equal(t, wire.New("mouse", "100", "200", "1"), p.Instruction())
}

func TestParserRestartAcrossSplits(t *testing.T) {
	p := New()
	feedAll(t, p, "5.mou")
	assert.Equal(t, ParseContent, p.State())
	feedAll(t, p, "se,3.1")
	assert.Equal(t, ParseContent, p.State())
	feedAll(t, p, "00,3.100,1.0;")

	require.Equal(t, ParseComplete, p.State())
	assert.Equal(t, wire.New("mouse", "100", "100", "0"), p.Instruction())
}

// Feeding one byte at a time must yield the same instruction as a single
// feed, and Append must never consume more than it was given.
func TestOneByteAtATimeMatchesSingleFeed(t *testing.T) {
	input := []byte("7.connect,9.localhost,4.5900,8.secret01;")

	p := New()
	for i := 0; i < len(input); i++ {
		n := p.Append(input[i : i+1])
		require.LessOrEqual(t, n, 1)
		if n == 0 {
			// Shouldn't happen for single ASCII bytes mid-stream here.
			require.Fail(t, "unexpected zero consumption")
		}
	}

	require.Equal(t, ParseComplete, p.State())
	assert.Equal(t, wire.New("connect", "localhost", "5900", "secret01"), p.Instruction())
}

// The length prefix declares *codepoints*, so "éa" (1 codepoint for "é"
// despite its 2-byte encoding, plus 1 for "a") is declared as length 2,
// not the byte count 3. The parser consumes 6 bytes total (2 for "2.", 3
// for the UTF-8 bytes of "éa", 1 for ";").
func TestMultiByteCodepointCounting(t *testing.T) {
	p := New()
	input := []byte("2.éa;")
	require.Equal(t, 6, len(input))

	consumed := p.Append(input)
	require.Equal(t, 6, consumed)
	require.Equal(t, ParseComplete, p.State())
	assert.Equal(t, wire.New("éa"), p.Instruction())
}

func TestPartialCodepointWaitsForMoreData(t *testing.T) {
	p := New()
	// "é" is 0xC3 0xA9; split right after the leading byte.
	first := []byte{'2', '.', 0xC3}
	consumed := p.Append(first)
	assert.Equal(t, 2, consumed, "should stop before the incomplete codepoint")
	assert.Equal(t, ParseContent, p.State())

	// The unconsumed leading byte is fed again together with the rest.
	rest := []byte{0xC3, 0xA9, 'a', ';'}
	consumed = p.Append(rest)
	assert.Equal(t, 4, consumed)
	assert.Equal(t, ParseComplete, p.State())
	assert.Equal(t, wire.New("éa"), p.Instruction())
}

func TestElementExceedingMaxLengthIsInputTooLarge(t *testing.T) {
	p := New()
	huge := "1048577."
	consumed := p.Append([]byte(huge))
	assert.Equal(t, len(huge)-1, consumed, "parser fails as soon as the accumulating length exceeds the max, before the '.' is seen")
	assert.Equal(t, ParseError, p.State())
	require.NotNil(t, p.Err())
	assert.Equal(t, "input-too-large", p.Err().Status.String())
}

func TestTooManyElementsIsError(t *testing.T) {
	p := New()
	var instr string
	for i := 0; i < 65; i++ {
		instr += "1.a,"
	}
	instr += "1.a;"

	feedUntilStuck := func() {
		data := []byte(instr)
		consumed := 0
		for consumed < len(data) && p.State() != ParseError && p.State() != ParseComplete {
			n := p.Append(data[consumed:])
			if n == 0 {
				break
			}
			consumed += n
		}
	}
	feedUntilStuck()
	assert.Equal(t, ParseError, p.State())
	assert.Equal(t, "input-too-large", p.Err().Status.String())
}

func TestBadSeparatorIsProtocolError(t *testing.T) {
	p := New()
	consumed := p.Append([]byte("4.sync#"))
	assert.Equal(t, 7, consumed)
	assert.Equal(t, ParseError, p.State())
	assert.Equal(t, "protocol-error", p.Err().Status.String())
}

func TestResetAllowsReuse(t *testing.T) {
	p := New()
	feedAll(t, p, "4.sync,4.1000;")
	require.Equal(t, ParseComplete, p.State())

	p.Reset()
	assert.Equal(t, ParseLength, p.State())

	feedAll(t, p, "4.sync,4.2000;")
	assert.Equal(t, ParseComplete, p.State())
	assert.Equal(t, wire.New("sync", "2000"), p.Instruction())
}
