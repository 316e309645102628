package handshake_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/guacamole-server-sub008/pkg/backend"
	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/handshake"
	"github.com/apache/guacamole-server-sub008/pkg/socket"
)

type fakeVNCBackend struct {
	seenArgv []string
}

func (b *fakeVNCBackend) ClientArgs() []string { return []string{"hostname", "port", "password"} }

func (b *fakeVNCBackend) Init(session backend.Session, argv []string) *guacerr.Error {
	b.seenArgv = argv
	session.RegisterHandlers(backend.Handlers{})
	return nil
}

// The full handshake sequence, end to end.
func TestHandshakeFullSequence(t *testing.T) {
	tr := socket.NewMemory()
	sock := socket.New(tr)

	registry := backend.NewRegistry()
	vnc := &fakeVNCBackend{}
	registry.Register("vnc", func() backend.Backend { return vnc })

	tr.Feed([]byte("7.select,3.vnc;"))
	tr.Feed([]byte("4.size,4.1024,3.768,2.96;"))
	tr.Feed([]byte("5.audio;"))
	tr.Feed([]byte("5.video;"))
	tr.Feed([]byte("5.image,9.image/png;"))
	tr.Feed([]byte("7.connect,9.localhost,4.5900,8.secret01;"))

	result, _, err := handshake.Run(sock, registry, 5*time.Second, func() string { return "$00000001ABCD" })
	require.Nil(t, err)

	require.Nil(t, sock.Flush())

	assert.Equal(t, []string{"localhost", "5900", "secret01"}, vnc.seenArgv)
	assert.Equal(t, 1024, result.Size.Width)
	assert.Equal(t, 768, result.Size.Height)
	assert.Equal(t, 96, result.Size.DPI)
	assert.Equal(t, []string{"image/png"}, result.ImageMime)
	assert.Equal(t, "$00000001ABCD", result.ConnectionID)

	out := string(tr.Written())
	assert.Contains(t, out, "4.args,8.hostname,4.port,8.password;")
	assert.Contains(t, out, "5.ready,13.$00000001ABCD;")
}

func TestHandshakeUnknownProtocolFails(t *testing.T) {
	tr := socket.NewMemory()
	sock := socket.New(tr)
	registry := backend.NewRegistry()

	tr.Feed([]byte("7.select,3.rdp;"))

	_, _, err := handshake.Run(sock, registry, 5*time.Second, func() string { return "x" })
	require.NotNil(t, err)
	assert.Equal(t, guacerr.NotFound, err.Status)
}

func TestHandshakeWrongOpcodeAtStepIsProtocolError(t *testing.T) {
	tr := socket.NewMemory()
	sock := socket.New(tr)
	registry := backend.NewRegistry()
	registry.Register("vnc", func() backend.Backend { return &fakeVNCBackend{} })

	tr.Feed([]byte("7.select,3.vnc;"))
	tr.Feed([]byte("5.audio;")) // size expected, not audio

	_, _, err := handshake.Run(sock, registry, 5*time.Second, func() string { return "x" })
	require.NotNil(t, err)
	assert.Equal(t, guacerr.ProtocolError, err.Status)
}

func TestHandshakeTimesOutOnSlowClient(t *testing.T) {
	tr := socket.NewMemory()
	sock := socket.New(tr)
	registry := backend.NewRegistry()

	_, _, err := handshake.Run(sock, registry, 10*time.Millisecond, func() string { return "x" })
	require.NotNil(t, err)
	assert.Equal(t, guacerr.Timeout, err.Status)
}
