// Package fetch retrieves a shared collection named by a ticket and
// reconstructs it on disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"

	"github.com/cascadelab/sendme/pkg/collection"
	"github.com/cascadelab/sendme/pkg/exporter"
	"github.com/cascadelab/sendme/pkg/provider"
	"github.com/cascadelab/sendme/pkg/store"
	"github.com/cascadelab/sendme/pkg/ticket"
	"github.com/cascadelab/sendme/pkg/transport"
	"github.com/cascadelab/sendme/pkg/transport/wire"
)

var log = logging.Logger("fetch")

// workingDirPrefix prefixes the ephemeral receive-side working directory.
const workingDirPrefix = ".sendme-get-"

// Fetch dials the ticket's address, retrieves the collection it names into
// an ephemeral store under destDir, and exports every entry beneath destDir.
// It returns the fetched collection and the payload bytes received.
func Fetch(ctx context.Context, t ticket.Ticket, destDir string) (*collection.Collection, uint64, error) {
	if t.Format != ticket.FormatCollection {
		return nil, 0, fmt.Errorf("ticket names a %s, not a collection", t.Format)
	}
	dest, err := filepath.Abs(destDir)
	if err != nil {
		return nil, 0, fmt.Errorf("resolving %s: %w", destDir, err)
	}

	dir := filepath.Join(dest, workingDirPrefix+t.Root.String())
	if _, err := os.Stat(dir); err == nil {
		return nil, 0, provider.ErrDirCollision{Dir: dir}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("checking working directory %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, 0, fmt.Errorf("creating working directory %s: %w", dir, err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Errorf("removing working directory %s: %s", dir, err)
		}
	}()

	st, err := store.Open(dir)
	if err != nil {
		return nil, 0, err
	}
	defer st.Close()

	conn, err := transport.Dial(ctx, t.Addr)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	tags, total, err := wire.Request(ctx, conn, t.Root, st)
	if err != nil {
		return nil, 0, err
	}
	// The block tags protect everything until export completes.
	defer func() {
		for _, tag := range tags {
			tag.Release()
		}
	}()

	coll, err := collection.Load(ctx, st, t.Root)
	if err != nil {
		return nil, 0, err
	}
	log.Debugf("fetched collection %s: %d entries, %d bytes", t.Root, coll.Len(), total)

	if err := exporter.Export(ctx, st, dest, coll); err != nil {
		return nil, 0, err
	}
	return coll, total, nil
}
