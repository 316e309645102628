package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apache/guacamole-server-sub008/pkg/backend"
	"github.com/apache/guacamole-server-sub008/pkg/guacerr"
	"github.com/apache/guacamole-server-sub008/pkg/socket"
	"github.com/apache/guacamole-server-sub008/pkg/wire"
)

func TestStopIsOneWayLatchKeepingFirstError(t *testing.T) {
	tr := socket.NewMemory()
	c := New("$TEST", socket.New(tr), backend.Handlers{}, 0, nil)

	first := guacerr.New(guacerr.ProtocolError, "first")
	second := guacerr.New(guacerr.InternalError, "second")

	c.Stop(first)
	c.Stop(second)

	assert.True(t, c.Stopping())
	assert.Same(t, first, c.StopErr())
	assert.Same(t, first, c.ErrorState().Last())
}

func TestStopWithNilErrIsCleanDisconnect(t *testing.T) {
	tr := socket.NewMemory()
	c := New("$TEST", socket.New(tr), backend.Handlers{}, 0, nil)

	c.Stop(nil)

	assert.True(t, c.Stopping())
	assert.Nil(t, c.StopErr())
}

// last_received_ts must never exceed last_sent_ts.
func TestSyncOrderingHoldsThroughDispatch(t *testing.T) {
	tr := socket.NewMemory()
	c := New("$TEST", socket.New(tr), backend.Handlers{}, 0, nil)
	c.lastSentTs.Store(1000)

	err := c.disp.Dispatch(wire.New("sync", "900"))
	require.Nil(t, err)
	assert.LessOrEqual(t, c.lastReceivedTs.Load(), c.lastSentTs.Load())

	// Client claims a sync timestamp the server never sent.
	err = c.disp.Dispatch(wire.New("sync", "2000"))
	require.NotNil(t, err)
	assert.Equal(t, guacerr.ProtocolError, err.Status)
	assert.True(t, c.Stopping())
}

func TestInputFiberDispatchesUntilDisconnect(t *testing.T) {
	tr := socket.NewMemory()
	sock := socket.New(tr)
	c := New("$TEST", sock, backend.Handlers{}, 50*time.Millisecond, nil)

	tr.Feed([]byte("4.sync,1.0;10.disconnect;"))

	done := make(chan struct{})
	go func() {
		c.runInputFiber()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("input fiber did not exit after disconnect")
	}

	assert.True(t, c.Stopping())
	assert.Nil(t, c.StopErr())
}

func TestClientBehindSuppressesPump(t *testing.T) {
	tr := socket.NewMemory()
	c := New("$TEST", socket.New(tr), backend.Handlers{}, 0, nil)

	c.lastSentTs.Store(10000)
	c.lastReceivedTs.Store(9000) // 1s behind, over the 500ms threshold

	assert.True(t, c.clientBehind())

	c.lastReceivedTs.Store(9600) // 400ms behind, under threshold
	assert.False(t, c.clientBehind())
}
