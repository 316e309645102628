// Package conn implements the per-connection state and two-fiber I/O loop
// one input fiber reading and dispatching instructions,
// one output fiber pumping the backend and emitting frame/keepalive syncs,
// coordinated through a one-way STOPPING latch rather than preemption.
//
// The source runs input/output as OS threads; here both fibers are
// goroutines supervised by a conc.WaitGroup, the same panic-safe pairing
// api/pkg/agent/agent.go uses for its skill-execution fan-out, generalized
// from N short-lived workers to 2 long-lived ones.
package conn

import (
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/apache/guacamole-server-sub008/pkg/backend"
	"github.com/apache/guacamole-server-sub008/pkg/dispatch"
	"github.com/apache/guacamole-server-sub008/pkg/drawing"
	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/layerpool"
	"github.com/apache/guacamole-server-sub008/pkg/socket"
	"github.com/apache/guacamole-server-sub008/pkg/stream"
)

const (
	// outputTick is the output fiber's pump interval.
	outputTick = 50 * time.Millisecond
	// keepaliveInterval is the maximum gap between outbound syncs.
	keepaliveInterval = 5 * time.Second
	// syncStaleness is how far behind the client's last sync may lag
	// before the output fiber suppresses further message pumping.
	syncStaleness = 500 * time.Millisecond
	// defaultInstructionTimeout bounds one ReadInstruction call while
	// RUNNING.
	defaultInstructionTimeout = 15 * time.Second
)

// Connection is one client session's full state: socket, layer pool,
// stream table, dispatcher, and backend callbacks, plus the timestamps
// and latch the two fibers coordinate through.
type Connection struct {
	ID string

	sock     socket.Socket
	layers   *layerpool.Pool
	streams  *stream.Table
	surface  *drawing.Surface
	handlers backend.Handlers
	disp     *dispatch.Dispatcher
	errState *guacerr.State

	instructionTimeout time.Duration

	stopping atomic.Bool
	stopErr  atomic.Pointer[guacerr.Error]

	lastReceivedTs atomic.Int64
	lastSentTs     atomic.Int64
}

// New builds a RUNNING connection from the result of a completed
// handshake. id is the connection's wire-visible identifier. errState is
// the (status, message) slot the handshake handed to the backend during
// Init; a nil errState allocates a fresh one (tests that skip the
// handshake don't need to thread one through).
func New(id string, sock socket.Socket, handlers backend.Handlers, instructionTimeout time.Duration, errState *guacerr.State) *Connection {
	if instructionTimeout <= 0 {
		instructionTimeout = defaultInstructionTimeout
	}
	if errState == nil {
		errState = &guacerr.State{}
	}

	c := &Connection{
		ID:                 id,
		sock:               sock,
		layers:             layerpool.New(),
		streams:            stream.New(),
		surface:            drawing.New(sock),
		handlers:           handlers,
		instructionTimeout: instructionTimeout,
		errState:           errState,
	}
	c.disp = dispatch.New(c, handlers)
	return c
}

// ErrorState exposes the connection-scoped last-error slot backend
// callbacks were handed at Init, for code outside the backend (logging,
// diagnostics) that needs to inspect it after the fact.
func (c *Connection) ErrorState() *guacerr.State { return c.errState }

// Layers exposes the connection's layer/buffer pool to the backend.
func (c *Connection) Layers() *layerpool.Pool { return c.layers }

// Streams exposes the connection's out-of-band blob channel table.
func (c *Connection) Streams() *stream.Table { return c.streams }

// Surface exposes the drawing command surface bound to this connection's
// socket.
func (c *Connection) Surface() *drawing.Surface { return c.surface }

// SetHandlers replaces the backend callback set on the connection and its
// dispatcher. The handshake runs Init before the Connection is built and
// passes the handlers to New, so it does not call this.
func (c *Connection) SetHandlers(h backend.Handlers) {
	c.handlers = h
	c.disp.SetHandlers(h)
}

// LastSentTs implements dispatch.ConnState.
func (c *Connection) LastSentTs() int64 { return c.lastSentTs.Load() }

// SetLastReceivedTs implements dispatch.ConnState.
func (c *Connection) SetLastReceivedTs(ts int64) { c.lastReceivedTs.Store(ts) }

// Stop implements dispatch.ConnState: a one-way latch.
// Only the first caller's error (if any) is retained.
func (c *Connection) Stop(err *guacerr.Error) {
	if c.stopping.CompareAndSwap(false, true) {
		if err != nil {
			c.stopErr.Store(err)
			c.errState.Set(err)
		}
	}
}

// Stopping reports whether the connection has latched STOPPING.
func (c *Connection) Stopping() bool { return c.stopping.Load() }

// StopErr returns the error that caused STOPPING, or nil for a clean
// disconnect.
func (c *Connection) StopErr() *guacerr.Error { return c.stopErr.Load() }

// Run drives the connection's input and output fibers until both exit,
// then tears down the backend and layer pool. It blocks until
// termination; callers typically invoke it in its own goroutine per
// connection.
func (c *Connection) Run() {
	var wg conc.WaitGroup

	wg.Go(c.runInputFiber)
	wg.Go(c.runOutputFiber)

	wg.Wait()

	if c.handlers.Free != nil {
		c.handlers.Free()
	}
	_ = c.sock.Close()
	c.layers.Teardown()
}

// runInputFiber reads and dispatches instructions until STOPPING, EOF, or
// a dispatch error.
func (c *Connection) runInputFiber() {
	for !c.Stopping() {
		instr, err := c.sock.ReadInstruction(c.instructionTimeout)
		if err != nil {
			if err.Status == guacerr.Timeout {
				// A quiet peer isn't a failure; the read simply didn't
				// produce an instruction within the window. Recheck
				// STOPPING and try again.
				continue
			}
			c.Stop(err)
			return
		}

		if dispatchErr := c.disp.Dispatch(instr); dispatchErr != nil {
			c.emitErrorBeforeClose(dispatchErr)
			return
		}
	}
}

// runOutputFiber pumps the backend for drawing events and emits frame or
// keepalive syncs.
func (c *Connection) runOutputFiber() {
	ticker := time.NewTicker(outputTick)
	defer ticker.Stop()

	for !c.Stopping() {
		<-ticker.C
		if c.Stopping() {
			return
		}

		suppressed := c.clientBehind()

		drew := false
		if !suppressed && c.handlers.HandleMessages != nil {
			var pumpErr *guacerr.Error
			drew, pumpErr = c.handlers.HandleMessages()
			if pumpErr != nil {
				c.Stop(pumpErr)
				c.emitErrorBeforeClose(pumpErr)
				return
			}
		}

		now := nowMillis()
		switch {
		case drew:
			time.Sleep(outputTick) // batch window before the frame-boundary sync
			if err := c.sendSync(now); err != nil {
				c.Stop(err)
				return
			}
		case now-c.lastSentTs.Load() >= keepaliveInterval.Milliseconds():
			if err := c.sendSync(now); err != nil {
				c.Stop(err)
				return
			}
		}
	}
}

// clientBehind reports whether the client's last acknowledged sync is
// stale enough that message pumping should be suppressed this tick. This
// is rechecked every tick, rather than latched for a whole suppression
// cycle, so a sync that arrives mid-suspension lifts it immediately.
func (c *Connection) clientBehind() bool {
	lag := c.lastSentTs.Load() - c.lastReceivedTs.Load()
	return lag >= syncStaleness.Milliseconds()
}

func (c *Connection) sendSync(ts int64) *guacerr.Error {
	if err := c.surface.SendSync(ts); err != nil {
		return err
	}
	c.lastSentTs.Store(ts)
	return c.sock.Flush()
}

// emitErrorBeforeClose latches STOPPING and then, unless err is of fatal
// severity (the socket is presumed unusable), writes and flushes the final
// `error` instruction before the socket is closed.
func (c *Connection) emitErrorBeforeClose(err *guacerr.Error) {
	c.Stop(err)
	if err.Status.Severity() == guacerr.SeverityFatal {
		return
	}
	_ = c.surface.SendError(err.Message, err.Status)
	_ = c.sock.Flush()
}

// nowMillis is the connection's only escape hatch to wall-clock time;
// isolated here so tests can stub timestamps without touching fiber
// logic. Production code always calls time.Now.
var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}
