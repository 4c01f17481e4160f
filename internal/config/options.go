// Package config holds the explicit options record for a cluster node,
// replacing the process-wide property lookups of the system this overlay
// is modeled on with a single normalized struct read once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// publicHostOverrideEnv and publicPortOverrideEnv are retained for
// backward-compatibility with deployments that set them as process
// environment, mirroring the legacy system-property override. They take
// precedence over Options.PublicHost/PublicPort.
const (
	publicHostOverrideEnv = "CLUSTERBUS_PUBLIC_HOST"
	publicPortOverrideEnv = "CLUSTERBUS_PUBLIC_PORT"
)

const (
	// DefaultPingInterval is the keepalive period for outbound connections.
	DefaultPingInterval = 20 * time.Second
	// DefaultConnectTimeout bounds an outbound TCP connect attempt.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultPendingQueueSize bounds a connection holder's write-ahead queue.
	DefaultPendingQueueSize = 1024
)

// Options configures a cluster node's bind/public address and transport
// tuning. PublicPort == -1 means "use the actual bound port" (wildcard bind).
type Options struct {
	BindHost string
	BindPort int

	PublicHost string
	PublicPort int

	PingInterval     time.Duration
	ConnectTimeout   time.Duration
	PendingQueueSize int

	// AdminBindAddr binds the local status/subs admin listener
	// (host:port). Empty disables the admin surface entirely.
	AdminBindAddr string
}

// Normalize fills defaults and validates o, returning the options a Node
// should actually run with. It never mutates the argument.
func Normalize(o Options) (Options, error) {
	out := o

	if strings.TrimSpace(out.BindHost) == "" {
		out.BindHost = "0.0.0.0"
	}
	if out.BindPort < 0 {
		return Options{}, fmt.Errorf("bind port must be >= 0, got %d", out.BindPort)
	}

	if out.PingInterval <= 0 {
		out.PingInterval = DefaultPingInterval
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.PendingQueueSize <= 0 {
		out.PendingQueueSize = DefaultPendingQueueSize
	}

	if out.PublicHost == "" {
		out.PublicHost = out.BindHost
	}
	if out.PublicPort == 0 {
		out.PublicPort = out.BindPort
	}

	return out, nil
}

// ResolvePublic computes the advertised NodeAddress given the actual bound
// port (relevant when BindPort == 0, a wildcard bind). Process-level
// overrides, kept for backward compatibility, take precedence over o.
func ResolvePublic(o Options, actualBoundPort int) (host string, port int) {
	host = o.PublicHost
	if host == "" {
		host = o.BindHost
	}

	port = o.PublicPort
	if port <= 0 {
		port = actualBoundPort
	}

	if v := strings.TrimSpace(os.Getenv(publicHostOverrideEnv)); v != "" {
		host = v
	}
	if v := strings.TrimSpace(os.Getenv(publicPortOverrideEnv)); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	return host, port
}
