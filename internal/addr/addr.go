// Package addr defines NodeAddress, the structural identity of a peer's
// inbound listener, shared by every package that needs to name a node.
package addr

import "fmt"

// NodeAddress is a (host, port) pair identifying a peer's inbound listener.
// Equality is structural and stable for the lifetime of a node's process.
type NodeAddress struct {
	Host string
	Port int
}

// String renders "host:port", the form outbound holders dial and the form
// used in logs and admin responses.
func (n NodeAddress) String() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// IsZero reports whether n is the unset NodeAddress.
func (n NodeAddress) IsZero() bool {
	return n.Host == "" && n.Port == 0
}
