// Package config loads the daemon's runtime configuration from the
// environment, in the style of api/pkg/config's envconfig.Process pattern:
// a struct of typed fields tagged with their environment variable name
// and default, processed in one call.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the guacd daemon's complete runtime configuration. The core
// itself takes no configuration of its own — these are the daemon-level
// knobs around it (listen addresses, timeouts, logging).
type Config struct {
	// Listen is the TCP address the daemon accepts proxy-framing
	// connections on.
	Listen string `envconfig:"GUACD_LISTEN" default:"0.0.0.0:4822"`

	// WSListen is the address the optional browser-facing WebSocket
	// tunnel listens on. Empty disables the tunnel.
	WSListen string `envconfig:"GUACD_WS_LISTEN"`

	// InstructionTimeout bounds a single ReadInstruction call once
	// RUNNING.
	InstructionTimeout time.Duration `envconfig:"GUACD_INSTRUCTION_TIMEOUT" default:"15s"`

	// HandshakeTimeout bounds each step of the handshake state machine,
	// before giving up on a client.
	HandshakeTimeout time.Duration `envconfig:"GUACD_HANDSHAKE_TIMEOUT" default:"15s"`

	// LogLevel is a zerolog level name: trace, debug, info, warn, error.
	LogLevel string `envconfig:"GUACD_LOG_LEVEL" default:"info"`
}

// Load reads Config from the environment, applying defaults for anything
// unset.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
