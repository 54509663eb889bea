package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/cascadelab/sendme/pkg/identity"
)

var log = logging.Logger("transport")

// TCPEndpoint is an Endpoint over a plain TCP listener. Address discovery
// enumerates the host's non-loopback interface addresses in the background
// after the listener is bound.
type TCPEndpoint struct {
	key identity.Key
	ln  net.Listener

	mu       sync.Mutex
	addr     Addr
	resolved bool
}

var _ Endpoint = (*TCPEndpoint)(nil)

// Bind listens on the given port (0 for an ephemeral port) and starts address
// discovery.
func Bind(key identity.Key, port uint16) (*TCPEndpoint, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding port %d: %w", port, err)
	}
	e := &TCPEndpoint{key: key, ln: ln}
	go e.resolve()
	return e, nil
}

// resolve discovers the endpoint's reachable addresses. Runs once, in the
// background.
func (e *TCPEndpoint) resolve() {
	port := e.ln.Addr().(*net.TCPAddr).Port
	var hosts []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		log.Errorf("enumerating interface addresses: %s", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			hosts = append(hosts, net.JoinHostPort(ip4.String(), fmt.Sprintf("%d", port)))
		}
	}
	if len(hosts) == 0 {
		// No routable interface; still reachable on the local host.
		hosts = append(hosts, net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", port)))
	}
	e.mu.Lock()
	e.addr = Addr{NodeID: e.key.NodeID(), Hosts: hosts}
	e.resolved = true
	e.mu.Unlock()
	log.Debugf("endpoint resolved: %s", e.addr)
}

// ResolvedAddr returns the endpoint's reachable address once discovery has
// completed.
func (e *TCPEndpoint) ResolvedAddr() (Addr, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr, e.resolved
}

// Accept blocks until an inbound connection arrives, the endpoint is closed,
// or ctx is cancelled.
func (e *TCPEndpoint) Accept(ctx context.Context) (Conn, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.ln.Close()
		case <-done:
		}
	}()
	conn, err := e.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("accepting connection: %w", err)
	}
	return conn, nil
}

// Close stops accepting connections. In-flight connections are unaffected.
func (e *TCPEndpoint) Close() error {
	return e.ln.Close()
}

// Dial connects to any of the hosts in addr, trying them in order.
func Dial(ctx context.Context, addr Addr) (Conn, error) {
	var d net.Dialer
	var firstErr error
	for _, host := range addr.Hosts {
		conn, err := d.DialContext(ctx, "tcp", host)
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		log.Debugf("dialing %s failed: %s", host, err)
	}
	if firstErr == nil {
		return nil, fmt.Errorf("address %s has no hosts", addr)
	}
	return nil, fmt.Errorf("dialing %s: %w", addr, firstErr)
}
