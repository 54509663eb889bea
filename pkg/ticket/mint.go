package ticket

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/cascadelab/sendme/pkg/transport"
)

// DefaultPollInterval is the backoff between address resolution polls.
const DefaultPollInterval = 100 * time.Millisecond

type mintConfig struct {
	pollInterval time.Duration
}

// MintOption configures minting.
type MintOption func(*mintConfig)

// WithPollInterval sets the backoff between address resolution polls.
func WithPollInterval(d time.Duration) MintOption {
	return func(c *mintConfig) {
		c.pollInterval = d
	}
}

// Mint waits for the endpoint to resolve its reachable address, then binds
// that address to the collection root to produce a ticket. No deadline is
// enforced here; callers needing a bounded wait cancel ctx.
func Mint(ctx context.Context, ep transport.Endpoint, root cid.Cid, options ...MintOption) (Ticket, error) {
	cfg := mintConfig{pollInterval: DefaultPollInterval}
	for _, opt := range options {
		opt(&cfg)
	}
	for {
		if addr, ok := ep.ResolvedAddr(); ok {
			return Ticket{Addr: addr, Root: root, Format: FormatCollection}, nil
		}
		select {
		case <-ctx.Done():
			return Ticket{}, ctx.Err()
		case <-time.After(cfg.pollInterval):
		}
	}
}
