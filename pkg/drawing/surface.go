// Package drawing implements the stable outbound command surface backends
// use to emit pixel-level and transport-level updates.
// Every method encodes exactly one protocol instruction through a
// socket.Socket; layer indices are minted by pkg/layerpool and opaque to
// the drawing surface itself.
package drawing

import (
	"encoding/base64"
	"strconv"

	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/layerpool"
	"github.com/apache/guacamole-server-sub008/pkg/socket"
	"github.com/apache/guacamole-server-sub008/pkg/wire"
)

// Composite operation codes: the Porter-Duff set plus RDP raster-op
// extensions, communicated to the client as small integers.
const (
	OpSrc     = 0
	OpOver    = 1
	OpIn      = 2
	OpOut     = 3
	OpAtop    = 4
	OpXor     = 5
	OpRdpAnd  = 6
	OpRdpOr   = 7
	OpRdpXor  = 8
	OpRdpNand = 9
)

// Surface is the drawing command surface bound to one connection's
// socket. Safe for concurrent use: every method funnels through
// socket.Socket's own write mutex, preserving ordering guarantees across
// fiber boundaries.
type Surface struct {
	sock socket.Socket
}

// New returns a Surface that encodes instructions through sock.
func New(sock socket.Socket) *Surface {
	return &Surface{sock: sock}
}

func layerIndex(l *layerpool.Layer) string {
	return strconv.Itoa(l.Index)
}

// SendSize sets a layer's dimensions.
func (s *Surface) SendSize(layer *layerpool.Layer, w, h int) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("size", layerIndex(layer), strconv.Itoa(w), strconv.Itoa(h)))
}

// SendCopy blits a rectangle from src to dst under composite operation op.
func (s *Surface) SendCopy(src *layerpool.Layer, sx, sy, w, h, op int, dst *layerpool.Layer, dx, dy int) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("copy",
		layerIndex(src), strconv.Itoa(sx), strconv.Itoa(sy), strconv.Itoa(w), strconv.Itoa(h),
		strconv.Itoa(op), layerIndex(dst), strconv.Itoa(dx), strconv.Itoa(dy)))
}

// SendRect fills a rectangle with the color set by a preceding SendCfill.
func (s *Surface) SendRect(layer *layerpool.Layer, x, y, w, h int) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("rect",
		layerIndex(layer), strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(w), strconv.Itoa(h)))
}

// SendCfill sets the fill color used by the next SendRect on layer.
func (s *Surface) SendCfill(op int, layer *layerpool.Layer, r, g, b, a int) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("cfill",
		strconv.Itoa(op), layerIndex(layer), strconv.Itoa(r), strconv.Itoa(g), strconv.Itoa(b), strconv.Itoa(a)))
}

// SendClip installs a clip region on layer.
func (s *Surface) SendClip(layer *layerpool.Layer, x, y, w, h int) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("clip",
		layerIndex(layer), strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(w), strconv.Itoa(h)))
}

// SendPng paints png (raw PNG bytes, base64-encoded inline) at (x, y) on
// layer under composite operation op.
func (s *Surface) SendPng(op int, layer *layerpool.Layer, x, y int, png []byte) *guacerr.Error {
	encoded := base64.StdEncoding.EncodeToString(png)
	return s.sock.WriteInstruction(wire.New("png",
		strconv.Itoa(op), layerIndex(layer), strconv.Itoa(x), strconv.Itoa(y), encoded))
}

// SendCursor sets the client cursor to a rectangle of src with the given
// hotspot.
func (s *Surface) SendCursor(hx, hy int, src *layerpool.Layer, sx, sy, w, h int) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("cursor",
		strconv.Itoa(hx), strconv.Itoa(hy), layerIndex(src),
		strconv.Itoa(sx), strconv.Itoa(sy), strconv.Itoa(w), strconv.Itoa(h)))
}

// SendBlob delivers a chunk of data on stream, base64-encoded inline.
func (s *Surface) SendBlob(stream int, data []byte) *guacerr.Error {
	encoded := base64.StdEncoding.EncodeToString(data)
	return s.sock.WriteInstruction(wire.New("blob", strconv.Itoa(stream), encoded))
}

// SendEnd closes stream.
func (s *Surface) SendEnd(stream int) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("end", strconv.Itoa(stream)))
}

// SendClipboard pushes clipboard text from server to client.
func (s *Surface) SendClipboard(text string) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("clipboard", text))
}

// SendSync emits a frame-boundary or keepalive sync carrying ts
// (milliseconds since an unspecified epoch).
func (s *Surface) SendSync(ts int64) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("sync", strconv.FormatInt(ts, 10)))
}

// SendError emits the final, human-readable error instruction a client
// renders before the connection closes.
func (s *Surface) SendError(message string, status guacerr.Status) *guacerr.Error {
	return s.sock.WriteInstruction(wire.New("error", message, strconv.Itoa(int(status))))
}
