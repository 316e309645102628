// Package backend defines the plugin contract a protocol backend (RDP,
// VNC, SSH, …) implements, and a process-wide registry of backend
// factories keyed by protocol name.
package backend

import (
	"sync"

	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
)

// MouseHandler receives pointer updates; mask is the bitwise-OR of the
// button bits.
type MouseHandler func(x, y, mask int) *guacerr.Error

// KeyHandler receives key state changes; pressed is 1 for keydown, 0 for
// keyup.
type KeyHandler func(keysym int, pressed int) *guacerr.Error

// ClipboardHandler receives client-pushed clipboard text.
type ClipboardHandler func(text string) *guacerr.Error

// SizeHandler receives a client-requested display resize. dpi is -1 when
// the client omitted it.
type SizeHandler func(width, height, dpi int) *guacerr.Error

// PumpHandler drains whatever backend events are ready and returns
// whether any drawing was emitted, so the output fiber knows whether to
// follow up with a frame sync.
type PumpHandler func() (drewSomething bool, err *guacerr.Error)

// FreeHandler releases backend-owned resources at connection teardown.
type FreeHandler func()

// Handlers holds the callback slots a backend may register from Init.
// Every field is optional; a nil handler means the core takes no action
// for that event (unknown opcodes are already ignored by the dispatcher,
// so a nil Mouse handler simply drops mouse instructions silently).
type Handlers struct {
	Mouse          MouseHandler
	Key            KeyHandler
	Clipboard      ClipboardHandler
	Size           SizeHandler
	HandleMessages PumpHandler
	Free           FreeHandler
}

// Session is the narrow view of a connection a backend's Init receives:
// enough to register handlers and reach the drawing surface without
// depending on the full connection package (avoiding an import cycle
// between pkg/backend and pkg/conn).
type Session interface {
	// RegisterHandlers installs the backend's callback set for the
	// remainder of the connection's lifetime.
	RegisterHandlers(Handlers)

	// ErrorState returns the connection-scoped "last error observed" slot
	// backends read/write in place of the legacy thread-local (status,
	// message) pair. Callbacks capture the returned pointer
	// at Init time and may call Set on it from any later callback.
	ErrorState() *guacerr.State
}

// Backend is a protocol-specific module plugged into the core. ClientArgs
// names the connect-instruction argv in order; Init is invoked once the
// client's connect arguments have arrived.
type Backend interface {
	// ClientArgs lists the parameter names expected in the connect
	// instruction's argv, in order.
	ClientArgs() []string

	// Init is called after connect with argv aligned to ClientArgs. It
	// registers the backend's callbacks on session and returns an error
	// to abort the connection before RUNNING.
	Init(session Session, argv []string) *guacerr.Error
}

// Factory constructs a fresh Backend instance for one connection.
type Factory func() Backend

// Registry is the process-wide, read-only-after-init map from protocol
// name (as named in the handshake's select instruction) to backend
// factory, a backend-factory registry kept read-only
// after init)".
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs factory under protocol. Intended to be called during
// process startup, before any connection is accepted.
func (r *Registry) Register(protocol string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[protocol] = factory
}

// Lookup resolves protocol to a fresh Backend instance, or reports
// guacerr.NotFound if no factory is registered under that name.
func (r *Registry) Lookup(protocol string) (Backend, *guacerr.Error) {
	r.mu.RLock()
	factory, ok := r.factories[protocol]
	r.mu.RUnlock()

	if !ok {
		return nil, guacerr.New(guacerr.NotFound, "unknown protocol %q", protocol)
	}
	return factory(), nil
}
