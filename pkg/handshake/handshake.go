// Package handshake implements the fixed-sequence exchange preceding
// steady-state dispatch: select → size → audio → video
// → image → connect → ready, each step bounded by a per-step timeout.
package handshake

import (
	"strconv"
	"time"

	"github.com/apache/guacamole-server-sub008/pkg/backend"
	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/socket"
	"github.com/apache/guacamole-server-sub008/pkg/wire"
)

// State is one step of the handshake state machine.
type State int

const (
	AwaitSelect State = iota
	AwaitSize
	AwaitAudio
	AwaitVideo
	AwaitImage
	AwaitConnect
	Running
	Closed
)

func (s State) expectedOpcode() string {
	switch s {
	case AwaitSelect:
		return "select"
	case AwaitSize:
		return "size"
	case AwaitAudio:
		return "audio"
	case AwaitVideo:
		return "video"
	case AwaitImage:
		return "image"
	case AwaitConnect:
		return "connect"
	default:
		return ""
	}
}

// Size is the display geometry negotiated in the size step.
type Size struct {
	Width, Height int
	DPI           int // -1 if the client omitted it
}

// Result is everything the handshake produces for the connection that
// follows it.
type Result struct {
	Backend      backend.Backend
	Size         Size
	AudioMime    []string
	VideoMime    []string
	ImageMime    []string
	ConnectionID string
	ErrorState   *guacerr.State
}

// sessionAdapter lets the connection-independent handshake register
// backend handlers without importing pkg/conn.
type sessionAdapter struct {
	handlers *backend.Handlers
	errState *guacerr.State
}

func (s *sessionAdapter) RegisterHandlers(h backend.Handlers) { *s.handlers = h }

func (s *sessionAdapter) ErrorState() *guacerr.State { return s.errState }

// Run drives sock through the fixed handshake sequence, resolving the
// selected protocol against registry. timeout bounds every individual
// step. idGen mints the connection id sent in the ready instruction.
func Run(sock socket.Socket, registry *backend.Registry, timeout time.Duration, idGen func() string) (Result, backend.Handlers, *guacerr.Error) {
	state := AwaitSelect
	var result Result
	var handlers backend.Handlers
	result.ErrorState = &guacerr.State{}

	for state != Running {
		instr, err := sock.ReadInstruction(timeout)
		if err != nil {
			return Result{}, backend.Handlers{}, err
		}

		expected := state.expectedOpcode()
		if instr.Opcode != expected {
			sendErrorBestEffort(sock, "expected "+expected+", got "+instr.Opcode)
			return Result{}, backend.Handlers{}, guacerr.New(guacerr.ProtocolError,
				"handshake expected %q at this step, got %q", expected, instr.Opcode)
		}

		switch state {
		case AwaitSelect:
			protocol := ""
			if len(instr.Args) > 0 {
				protocol = instr.Args[0]
			}
			b, lookupErr := registry.Lookup(protocol)
			if lookupErr != nil {
				sendErrorBestEffort(sock, "unknown protocol: "+protocol)
				return Result{}, backend.Handlers{}, lookupErr
			}
			result.Backend = b

			if werr := sock.WriteInstruction(wire.New("args", b.ClientArgs()...)); werr != nil {
				return Result{}, backend.Handlers{}, werr
			}
			state = AwaitSize

		case AwaitSize:
			sz, perr := parseSize(instr.Args)
			if perr != nil {
				return Result{}, backend.Handlers{}, perr
			}
			result.Size = sz
			state = AwaitAudio

		case AwaitAudio:
			result.AudioMime = instr.Args
			state = AwaitVideo

		case AwaitVideo:
			result.VideoMime = instr.Args
			state = AwaitImage

		case AwaitImage:
			result.ImageMime = instr.Args
			state = AwaitConnect

		case AwaitConnect:
			session := &sessionAdapter{handlers: &handlers, errState: result.ErrorState}
			if initErr := result.Backend.Init(session, instr.Args); initErr != nil {
				sendErrorBestEffort(sock, initErr.Error())
				return Result{}, backend.Handlers{}, initErr
			}

			result.ConnectionID = idGen()
			if werr := sock.WriteInstruction(wire.New("ready", result.ConnectionID)); werr != nil {
				return Result{}, backend.Handlers{}, werr
			}
			state = Running
		}
	}

	return result, handlers, nil
}

func parseSize(args []string) (Size, *guacerr.Error) {
	if len(args) != 2 && len(args) != 3 {
		return Size{}, guacerr.New(guacerr.ProtocolError, "size expects 2 or 3 arguments, got %d", len(args))
	}

	w, err1 := strconv.Atoi(args[0])
	h, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return Size{}, guacerr.New(guacerr.ProtocolError, "size arguments not integers")
	}

	dpi := -1
	if len(args) == 3 {
		parsed, err3 := strconv.Atoi(args[2])
		if err3 != nil {
			return Size{}, guacerr.New(guacerr.ProtocolError, "size dpi not an integer")
		}
		dpi = parsed
	}

	return Size{Width: w, Height: h, DPI: dpi}, nil
}

func sendErrorBestEffort(sock socket.Socket, message string) {
	_ = sock.WriteInstruction(wire.New("error", message, strconv.Itoa(int(guacerr.ProtocolError))))
	_ = sock.Flush()
}
