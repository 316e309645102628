// Package dispatch routes completed instructions to either a core-handled
// opcode or the backend's registered callbacks. It is
// deliberately decoupled from pkg/conn (via the narrow ConnState
// interface) so connection state, dispatch, and the backend contract can
// each live in their own package without an import cycle — the same
// switch-on-message-type shape as ws_input.go's handleWSInput, generalized
// from fixed binary message types to wire opcodes.
package dispatch

import (
	"strconv"

	"github.com/apache/guacamole-server-sub008/pkg/backend"
	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/wire"
)

// Button mask bits for the mouse opcode.
const (
	ButtonLeft       = 1
	ButtonMiddle     = 2
	ButtonRight      = 4
	ButtonScrollUp   = 8
	ButtonScrollDown = 16
)

// ConnState is the slice of connection state the dispatcher reads and
// mutates: the sync timestamps and the STOPPING latch.
type ConnState interface {
	// LastSentTs returns the millisecond timestamp of the last sync this
	// connection sent to the client.
	LastSentTs() int64
	// SetLastReceivedTs records the millisecond timestamp of the most
	// recently received client sync.
	SetLastReceivedTs(int64)
	// Stop transitions the connection to STOPPING. A nil err means a
	// clean disconnect; a non-nil err is the cause to report/log.
	Stop(err *guacerr.Error)
}

// Dispatcher routes one connection's instructions against the core opcode
// table, falling through to the backend's registered handlers.
type Dispatcher struct {
	state    ConnState
	handlers backend.Handlers
}

// New returns a Dispatcher bound to state and the backend's handlers.
// handlers may be the zero value before a backend has finished Init; all
// backend-forwarded opcodes are then silently dropped.
func New(state ConnState, handlers backend.Handlers) *Dispatcher {
	return &Dispatcher{state: state, handlers: handlers}
}

// SetHandlers replaces the backend callback set, e.g. once Init completes.
func (d *Dispatcher) SetHandlers(h backend.Handlers) {
	d.handlers = h
}

// Dispatch routes one instruction and returns the error its handling
// produced, if any. Dispatch itself has already called ConnState.Stop for
// errors of connection severity or above; an operation-severity error
// (e.g. one returned by a backend handler) is returned without stopping.
func (d *Dispatcher) Dispatch(instr wire.Instruction) *guacerr.Error {
	var err *guacerr.Error

	switch instr.Opcode {
	case "sync":
		err = d.dispatchSync(instr.Args)
	case "mouse":
		err = d.dispatchMouse(instr.Args)
	case "key":
		err = d.dispatchKey(instr.Args)
	case "clipboard":
		err = d.dispatchClipboard(instr.Args)
	case "size":
		err = d.dispatchSize(instr.Args)
	case "disconnect":
		d.state.Stop(nil)
		return nil
	default:
		// Unknown opcodes are silently ignored for forward compatibility.
		return nil
	}

	if err != nil && err.Status.Severity() != guacerr.SeverityOperation {
		d.state.Stop(err)
	}
	return err
}

func (d *Dispatcher) dispatchSync(args []string) *guacerr.Error {
	if len(args) != 1 {
		return guacerr.New(guacerr.ProtocolError, "sync expects 1 argument, got %d", len(args))
	}
	ts, convErr := strconv.ParseInt(args[0], 10, 64)
	if convErr != nil {
		return guacerr.New(guacerr.ProtocolError, "sync timestamp not an integer: %v", convErr)
	}

	if ts > d.state.LastSentTs() {
		return guacerr.New(guacerr.ProtocolError, "client sync timestamp %d is ahead of last sent %d", ts, d.state.LastSentTs())
	}

	d.state.SetLastReceivedTs(ts)
	return nil
}

func (d *Dispatcher) dispatchMouse(args []string) *guacerr.Error {
	if len(args) != 3 {
		return guacerr.New(guacerr.ProtocolError, "mouse expects 3 arguments, got %d", len(args))
	}
	if d.handlers.Mouse == nil {
		return nil
	}

	x, err1 := strconv.Atoi(args[0])
	y, err2 := strconv.Atoi(args[1])
	mask, err3 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return guacerr.New(guacerr.ProtocolError, "mouse arguments not integers")
	}

	return d.handlers.Mouse(x, y, mask)
}

func (d *Dispatcher) dispatchKey(args []string) *guacerr.Error {
	if len(args) != 2 {
		return guacerr.New(guacerr.ProtocolError, "key expects 2 arguments, got %d", len(args))
	}
	if d.handlers.Key == nil {
		return nil
	}

	keysym, err1 := strconv.Atoi(args[0])
	pressed, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return guacerr.New(guacerr.ProtocolError, "key arguments not integers")
	}

	return d.handlers.Key(keysym, pressed)
}

func (d *Dispatcher) dispatchClipboard(args []string) *guacerr.Error {
	if len(args) != 1 {
		return guacerr.New(guacerr.ProtocolError, "clipboard expects 1 argument, got %d", len(args))
	}
	if d.handlers.Clipboard == nil {
		return nil
	}
	return d.handlers.Clipboard(args[0])
}

func (d *Dispatcher) dispatchSize(args []string) *guacerr.Error {
	if len(args) != 2 && len(args) != 3 {
		return guacerr.New(guacerr.ProtocolError, "size expects 2 or 3 arguments, got %d", len(args))
	}
	if d.handlers.Size == nil {
		return nil
	}

	width, err1 := strconv.Atoi(args[0])
	height, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return guacerr.New(guacerr.ProtocolError, "size arguments not integers")
	}

	dpi := -1
	if len(args) == 3 {
		parsed, err3 := strconv.Atoi(args[2])
		if err3 != nil {
			return guacerr.New(guacerr.ProtocolError, "size dpi not an integer")
		}
		dpi = parsed
	}

	return d.handlers.Size(width, height, dpi)
}
