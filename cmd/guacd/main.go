// guacd is the proxy-framing daemon: it accepts client-protocol
// connections (raw TCP and, optionally, browser WebSocket), runs the
// handshake, resolves the requested backend, and drives each connection's
// two I/O fibers until it ends.
package main

import (
	"context"
	"encoding/base32"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apache/guacamole-server-sub008/pkg/backend"
	"github.com/apache/guacamole-server-sub008/pkg/conn"
	"github.com/apache/guacamole-server-sub008/pkg/config"
	"github.com/apache/guacamole-server-sub008/pkg/handshake"
	"github.com/apache/guacamole-server-sub008/pkg/socket"
	"github.com/apache/guacamole-server-sub008/pkg/tunnel"
)

// connIDEncoding renders a connection id's raw bytes as unpadded,
// uppercase base32, in the id shape documented on newConnectionID.
var connIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Real backend modules (RDP, VNC, SSH, …) register themselves here at
	// startup; the core itself ships with none built in.
	registry := backend.NewRegistry()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d := &daemon{cfg: cfg, registry: registry}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.serveTCP(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("TCP listener stopped")
		}
	}()

	if cfg.WSListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.serveWebSocket(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("WebSocket listener stopped")
			}
		}()
	}

	log.Info().Str("listen", cfg.Listen).Str("ws_listen", cfg.WSListen).Msg("guacd started")

	wg.Wait()
	log.Info().Msg("guacd shutdown complete")
}

type daemon struct {
	cfg      config.Config
	registry *backend.Registry
}

// serveTCP runs the raw-TCP accept loop. Accept errors are retried with
// backoff, in the style of gptscript/runner.go's retry.Do-wrapped dial
// loop, rather than the whole listener dying on one transient error.
func (d *daemon) serveTCP(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", d.cfg.Listen)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	var connWG sync.WaitGroup
	defer connWG.Wait()

	for {
		var nc net.Conn
		acceptErr := retry.Do(func() error {
			var err error
			nc, err = listener.Accept()
			return err
		},
			retry.Attempts(5),
			retry.Delay(100*time.Millisecond),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, err error) {
				log.Warn().Err(err).Uint("attempt", n).Msg("retrying TCP accept")
			}),
		)
		if acceptErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return acceptErr
		}

		connWG.Add(1)
		go func() {
			defer connWG.Done()
			d.handleTransport(socket.NewConnTransport(nc))
		}()
	}
}

// serveWebSocket runs the optional browser-facing WebSocket front door.
func (d *daemon) serveWebSocket(ctx context.Context) error {
	router := mux.NewRouter()
	tunnel.Mount(router, "/", func(wsConn *tunnel.Conn) {
		d.handleTransport(wsConn)
	})

	srv := &http.Server{Addr: d.cfg.WSListen, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv.ListenAndServe()
}

// handleTransport runs one connection's full lifecycle: handshake, then
// the two-fiber steady-state loop.
func (d *daemon) handleTransport(transport socket.Transport) {
	sock := socket.New(transport)

	result, handlers, err := handshake.Run(sock, d.registry, d.cfg.HandshakeTimeout, newConnectionID)
	if err != nil {
		log.Warn().Err(err).Msg("handshake failed")
		_ = sock.Close()
		return
	}

	c := conn.New(result.ConnectionID, sock, handlers, d.cfg.InstructionTimeout, result.ErrorState)
	log.Info().Str("connection_id", result.ConnectionID).Msg("connection established")

	c.Run()

	if stopErr := c.StopErr(); stopErr != nil {
		log.Warn().Err(stopErr).Str("connection_id", result.ConnectionID).Msg("connection ended with error")
	} else {
		log.Info().Str("connection_id", result.ConnectionID).Msg("connection closed")
	}
}

// newConnectionID mints the opaque, wire-visible connection identifier
// sent in the handshake's `ready` instruction: '$' followed by the
// uppercase, unpadded base32 encoding of a UUID's first 8 bytes (13
// characters after the '$', 14 in total), matching the legacy '$'-prefixed opaque-token
// convention without depending on its exact alphabet.
func newConnectionID() string {
	id := uuid.New()
	return "$" + connIDEncoding.EncodeToString(id[:8])
}
