package wire

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/cascadelab/sendme/pkg/collection"
	"github.com/cascadelab/sendme/pkg/provider/events"
	"github.com/cascadelab/sendme/pkg/provider/pool"
	"github.com/cascadelab/sendme/pkg/store"
	"github.com/cascadelab/sendme/pkg/transport"
)

var log = logging.Logger("wire")

// HandleConnection serves a single peer connection to completion: it reads
// the peer's request, loads the named collection, and streams the response.
// Local (non-streaming) work runs on the shared pool; the byte streaming
// stays on the caller's goroutine so a slow pool never stalls other peers'
// transfers.
func HandleConnection(ctx context.Context, conn transport.Conn, s store.Store, sink events.Sink, lp *pool.Pool) error {
	connID := uuid.New()
	defer conn.Close()
	sink.Observe(events.Event{Kind: events.ConnectionAccepted, Conn: connID, At: time.Now()})
	log.Debugf("serving connection %s from %s", connID, conn.RemoteAddr())

	root, err := ReadRequest(conn)
	if err != nil {
		sink.Observe(events.Event{Kind: events.TransferFailed, Conn: connID, Err: err, At: time.Now()})
		return err
	}
	sink.Observe(events.Event{Kind: events.RequestReceived, Conn: connID, Root: root, At: time.Now()})

	var rootData []byte
	var coll *collection.Collection
	err = lp.Run(func() error {
		var err error
		rootData, err = s.Get(ctx, root)
		if err != nil {
			return fmt.Errorf("loading requested root %s: %w", root, err)
		}
		coll, err = collection.Decode(rootData)
		if err != nil {
			return fmt.Errorf("decoding requested collection %s: %w", root, err)
		}
		return nil
	})
	if err != nil {
		sink.Observe(events.Event{Kind: events.TransferFailed, Conn: connID, Root: root, Err: err, At: time.Now()})
		return err
	}

	if err := WriteResponse(ctx, conn, s, root, rootData, coll); err != nil {
		sink.Observe(events.Event{Kind: events.TransferFailed, Conn: connID, Root: root, Err: err, At: time.Now()})
		return err
	}
	sink.Observe(events.Event{Kind: events.TransferCompleted, Conn: connID, Root: root, At: time.Now()})
	return nil
}

// Request dials nothing and owns nothing: it performs the client half of the
// protocol over an established connection, returning the verified root, the
// block protection tags, and the payload byte count.
func Request(ctx context.Context, conn transport.Conn, root cid.Cid, s store.Store) ([]*store.Tag, uint64, error) {
	if err := WriteRequest(conn, root); err != nil {
		return nil, 0, err
	}
	got, tags, total, err := ReadResponse(ctx, conn, s)
	if err != nil {
		return nil, 0, err
	}
	if !got.Equals(root) {
		releaseAll(tags)
		return nil, 0, fmt.Errorf("peer sent root %s, wanted %s", got, root)
	}
	return tags, total, nil
}
