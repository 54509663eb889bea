// Package provider owns the lifecycle of one sharing session: the ephemeral
// working directory, the import, the minted ticket, and the accept loop that
// serves the collection until the transport closes.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/cascadelab/sendme/pkg/collection"
	"github.com/cascadelab/sendme/pkg/identity"
	"github.com/cascadelab/sendme/pkg/importer"
	"github.com/cascadelab/sendme/pkg/provider/events"
	"github.com/cascadelab/sendme/pkg/provider/pool"
	"github.com/cascadelab/sendme/pkg/store"
	"github.com/cascadelab/sendme/pkg/ticket"
	"github.com/cascadelab/sendme/pkg/transport"
	"github.com/cascadelab/sendme/pkg/transport/wire"
)

var log = logging.Logger("provider")

// WorkingDirPrefix prefixes every ephemeral provider working directory,
// composed as <parent-of-source>/<prefix><32 hex chars>.
const WorkingDirPrefix = ".sendme-provide-"

// ErrDirCollision indicates an ephemeral working directory that already
// exists. Distinct sessions must never share a working directory; the caller
// decides whether to retry or surface the error.
type ErrDirCollision struct {
	Dir string
}

func (e ErrDirCollision) Error() string {
	return fmt.Sprintf("working directory %s already exists", e.Dir)
}

// State is the lifecycle state of a session.
type State int

const (
	StateCreated State = iota
	StateDirectoryAllocated
	StateImporting
	StateReady
	StateServing
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateDirectoryAllocated:
		return "directory allocated"
	case StateImporting:
		return "importing"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type config struct {
	port         uint16
	key          *identity.Key
	sink         events.Sink
	pollInterval time.Duration
	suffix       func() (string, error)
}

// Option configures a session.
type Option func(*config)

// WithPort sets the port the endpoint binds (0 for an ephemeral port).
func WithPort(port uint16) Option {
	return func(c *config) {
		c.port = port
	}
}

// WithKey supplies the node identity key instead of reading the environment.
func WithKey(key identity.Key) Option {
	return func(c *config) {
		c.key = &key
	}
}

// WithEventSink injects the sink observing serving events.
func WithEventSink(sink events.Sink) Option {
	return func(c *config) {
		c.sink = sink
	}
}

// WithPollInterval sets the backoff between address resolution polls while
// minting the ticket.
func WithPollInterval(d time.Duration) Option {
	return func(c *config) {
		c.pollInterval = d
	}
}

// WithDirSuffix overrides the random working directory suffix, for callers
// needing deterministic directory names.
func WithDirSuffix(suffix func() (string, error)) Option {
	return func(c *config) {
		c.suffix = suffix
	}
}

func randomSuffix() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating directory suffix: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// Session is one sharing session. It owns its working directory and store;
// neither may be touched by other components while the session is serving.
type Session struct {
	dir      string
	store    *store.FSStore
	endpoint transport.Endpoint
	ticket   ticket.Ticket
	tag      *store.Tag
	coll     *collection.Collection
	size     uint64
	sink     events.Sink
	pool     *pool.Pool

	mu    sync.Mutex
	state State
	done  chan struct{}
}

// Start imports the file or directory at path into a fresh ephemeral store
// and mints a ticket for it. On return the session is ready; call Serve to
// begin accepting peers.
func Start(ctx context.Context, path string, options ...Option) (*Session, error) {
	cfg := config{
		sink:         events.LogSink{},
		pollInterval: ticket.DefaultPollInterval,
		suffix:       randomSuffix,
	}
	for _, opt := range options {
		opt(&cfg)
	}

	s := &Session{
		sink:  cfg.sink,
		state: StateCreated,
		done:  make(chan struct{}),
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	suffix, err := cfg.suffix()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(filepath.Dir(abs), WorkingDirPrefix+suffix)
	if _, err := os.Stat(dir); err == nil {
		return nil, ErrDirCollision{Dir: dir}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("checking working directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating working directory %s: %w", dir, err)
	}
	s.dir = dir
	s.setState(StateDirectoryAllocated)

	st, err := store.Open(dir)
	if err != nil {
		s.removeDir()
		return nil, err
	}
	s.store = st

	s.setState(StateImporting)
	tag, size, coll, err := importer.Import(ctx, st, abs)
	if err != nil {
		st.Close()
		s.removeDir()
		return nil, err
	}
	s.tag = tag
	s.size = size
	s.coll = coll

	key := identity.Key{}
	if cfg.key != nil {
		key = *cfg.key
	} else {
		key, err = identity.LoadOrGenerate()
		if err != nil {
			s.abortReady()
			return nil, err
		}
	}
	ep, err := transport.Bind(key, cfg.port)
	if err != nil {
		s.abortReady()
		return nil, err
	}
	s.endpoint = ep

	tkt, err := ticket.Mint(ctx, ep, tag.ID(), ticket.WithPollInterval(cfg.pollInterval))
	if err != nil {
		ep.Close()
		s.abortReady()
		return nil, err
	}
	s.ticket = tkt
	s.pool = pool.New(1)
	s.setState(StateReady)
	return s, nil
}

// abortReady unwinds a partially started session before Serve was reachable.
func (s *Session) abortReady() {
	if s.tag != nil {
		s.tag.Release()
	}
	if s.store != nil {
		s.store.Close()
	}
	s.removeDir()
}

// Serve runs the accept loop until the endpoint is closed or ctx is
// cancelled, then tears the session down. Each accepted connection is served
// on its own goroutine; handler failures are isolated per connection and
// never stop the loop.
func (s *Session) Serve(ctx context.Context) error {
	s.setState(StateServing)
	defer s.teardown()
	for {
		conn, err := s.endpoint.Accept(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		go func() {
			if err := wire.HandleConnection(ctx, conn, s.store, s.sink, s.pool); err != nil {
				log.Debugf("connection from %s failed: %s", conn.RemoteAddr(), err)
			}
		}()
	}
}

// teardown drops the collection's protection and reclaims the working
// directory. Removal failures are logged, not escalated.
func (s *Session) teardown() {
	s.setState(StateDraining)
	s.tag.Release()
	s.pool.Close()
	if err := s.store.Close(); err != nil {
		log.Errorf("closing store: %s", err)
	}
	s.removeDir()
	s.setState(StateClosed)
	close(s.done)
}

func (s *Session) removeDir() {
	if s.dir == "" {
		return
	}
	if err := os.RemoveAll(s.dir); err != nil {
		log.Errorf("removing working directory %s: %s", s.dir, err)
	}
}

// Close stops the accept loop. Serve performs the actual teardown; callers
// wait on Done for it to finish.
func (s *Session) Close() error {
	return s.endpoint.Close()
}

// Done is closed once the session is fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	log.Debugf("session state: %s", state)
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticket returns the minted locator for the shared collection.
func (s *Session) Ticket() ticket.Ticket {
	return s.ticket
}

// Collection returns the shared collection.
func (s *Session) Collection() *collection.Collection {
	return s.coll
}

// TotalSize returns the sum of all imported file sizes in bytes.
func (s *Session) TotalSize() uint64 {
	return s.size
}

// Dir returns the session's ephemeral working directory.
func (s *Session) Dir() string {
	return s.dir
}
