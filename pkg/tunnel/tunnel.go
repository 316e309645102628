// Package tunnel adapts a browser-facing WebSocket connection into a
// socket.Transport, so the same buffered Socket and parser that serve raw
// TCP connections also serve browsers that cannot open arbitrary TCP
// sockets. Grounded on api/pkg/desktop/ws_input.go's gorilla/websocket
// upgrade pattern, generalized from a fixed binary input protocol to a
// bidirectional text byte stream.
package tunnel

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8 * 1024,
	WriteBufferSize: 8 * 1024,
	// Guacamole's browser client is served from a different origin than
	// guacd in most deployments (a web app talking to a proxy daemon),
	// so origin is intentionally not restricted here; callers that need
	// origin checks front this with their own reverse proxy / CheckOrigin
	// override.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Conn adapts one *websocket.Conn into a socket.Transport. The protocol's
// text instructions are carried as WebSocket text frames; Read/Write
// translate between the frame-oriented WebSocket API and the byte-stream
// Transport interface by staging frame contents in a buffer.
type Conn struct {
	ws *websocket.Conn

	mu      sync.Mutex
	readBuf bytes.Buffer
}

// NewConn wraps ws as a socket.Transport.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) Read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readBuf.Len() == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, nil
			}
			return 0, err
		}
		c.readBuf.Write(data)
	}
	return c.readBuf.Read(buf)
}

func (c *Conn) Write(buf []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

func (c *Conn) Select(timeout time.Duration) (bool, error) {
	c.mu.Lock()
	if c.readBuf.Len() > 0 {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	if timeout == 0 {
		return false, nil
	}
	if timeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return false, err
		}
		defer c.ws.SetReadDeadline(time.Time{})
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}

	c.mu.Lock()
	c.readBuf.Write(data)
	c.mu.Unlock()
	return true, nil
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// Handler upgrades incoming HTTP requests to WebSocket and hands the
// resulting Transport to accept, which is expected to run the full
// handshake + connection lifecycle and return once the connection ends.
type Handler struct {
	accept func(*Conn)
}

// NewHandler returns an http.Handler suitable for registration on a
// gorilla/mux router.
func NewHandler(accept func(*Conn)) *Handler {
	return &Handler{accept: accept}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.accept(NewConn(ws))
}

// Mount registers the tunnel's WebSocket endpoint on router at path.
func Mount(router *mux.Router, path string, accept func(*Conn)) {
	router.Handle(path, NewHandler(accept))
}
