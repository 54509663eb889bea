// Package transport provides the network endpoint a provider session serves
// on and the dialer a receiver fetches through. The endpoint's reachable
// address is discovered asynchronously after binding and must be polled.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/cascadelab/sendme/pkg/identity"
)

// ErrClosed is returned from Accept once no further connections will ever
// arrive.
var ErrClosed = errors.New("endpoint closed")

// Addr is the resolved reachable address of an endpoint: the node's identity
// plus the host:port pairs it listens on.
type Addr struct {
	NodeID identity.NodeID
	Hosts  []string
}

func (a Addr) String() string {
	return a.NodeID.String() + "@" + strings.Join(a.Hosts, ",")
}

// Conn is a single bidirectional connection with a peer.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	RemoteAddr() net.Addr
}

// Endpoint accepts inbound connections from peers.
type Endpoint interface {
	// ResolvedAddr returns the endpoint's reachable address once discovery
	// has completed. Callers poll until ok is true.
	ResolvedAddr() (addr Addr, ok bool)
	// Accept blocks until an inbound connection arrives. It returns ErrClosed
	// when no further connections will ever arrive.
	Accept(ctx context.Context) (Conn, error)
	// Close stops accepting connections.
	Close() error
}
