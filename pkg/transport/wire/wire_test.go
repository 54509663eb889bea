package wire_test

import (
	"bytes"
	"net"
	"testing"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	"github.com/multiformats/go-multicodec"
	"github.com/stretchr/testify/require"

	"github.com/cascadelab/sendme/pkg/blob"
	"github.com/cascadelab/sendme/pkg/collection"
	"github.com/cascadelab/sendme/pkg/provider/events"
	"github.com/cascadelab/sendme/pkg/provider/pool"
	"github.com/cascadelab/sendme/pkg/store"
	"github.com/cascadelab/sendme/pkg/store/storetest"
	"github.com/cascadelab/sendme/pkg/transport/wire"
)

func TestRequestFraming(t *testing.T) {
	id, err := blob.Sum([]byte("wanted"), multicodec.DagCbor)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, wire.WriteRequest(&buf, id))

	got, err := wire.ReadRequest(&buf)
	require.NoError(t, err)
	require.True(t, id.Equals(got))

	t.Run("rejects oversized frames", func(t *testing.T) {
		var big bytes.Buffer
		big.Write([]byte{0xff, 0xff, 0x03}) // uvarint 65535
		_, err := wire.ReadRequest(&big)
		require.ErrorContains(t, err, "too large")
	})
}

// seedStore fills a store with a small collection and returns its root.
func seedStore(t *testing.T, st store.Store, files map[string][]byte) *store.Tag {
	t.Helper()
	coll := &collection.Collection{}
	for name, data := range files {
		_, id, err := st.Put(t.Context(), data, multicodec.Raw)
		require.NoError(t, err)
		coll.Push(name, id)
	}
	tag, _, err := coll.Store(t.Context(), st)
	require.NoError(t, err)
	return tag
}

func TestResponseStream(t *testing.T) {
	files := map[string][]byte{
		"a.txt": []byte("file a"),
		"b.txt": []byte("file b, longer"),
	}
	providerStore := storetest.NewMemStore(t)
	rootTag := seedStore(t, providerStore, files)
	root := rootTag.ID()

	rootData, err := providerStore.Get(t.Context(), root)
	require.NoError(t, err)
	coll, err := collection.Decode(rootData)
	require.NoError(t, err)

	var stream bytes.Buffer
	require.NoError(t, wire.WriteResponse(t.Context(), &stream, providerStore, root, rootData, coll))

	receiverStore := storetest.NewMemStore(t)
	got, tags, total, err := wire.ReadResponse(t.Context(), &stream, receiverStore)
	require.NoError(t, err)
	require.True(t, root.Equals(got))
	require.Len(t, tags, len(files)+1)
	require.Equal(t, uint64(len("file a")+len("file b, longer")), total)

	for _, e := range coll.Entries() {
		data, err := receiverStore.Get(t.Context(), e.Identity)
		require.NoError(t, err)
		require.Equal(t, files[e.Name], data, "content of %s", e.Name)
	}
}

func TestReadResponseRejectsTamperedBlocks(t *testing.T) {
	data := []byte("the real payload")
	claimed, err := blob.Sum(data, multicodec.Raw)
	require.NoError(t, err)
	tampered, err := blocks.NewBlockWithCid([]byte("not the real payload"), claimed)
	require.NoError(t, err)

	var stream bytes.Buffer
	require.NoError(t, car.WriteHeader(&car.CarHeader{Roots: []cid.Cid{claimed}, Version: 1}, &stream))
	require.NoError(t, carutil.LdWrite(&stream, tampered.Cid().Bytes(), tampered.RawData()))

	st := storetest.NewMemStore(t)
	_, _, _, err = wire.ReadResponse(t.Context(), &stream, st)
	require.ErrorAs(t, err, &blob.ErrIdentityMismatch{})

	// Nothing from the poisoned stream may remain addressable.
	ok, err := st.Has(t.Context(), claimed)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHandleConnection(t *testing.T) {
	files := map[string][]byte{
		"x.bin": []byte("xxxx"),
		"y.bin": []byte("yyyyyyyy"),
	}
	providerStore := storetest.NewMemStore(t)
	rootTag := seedStore(t, providerStore, files)
	root := rootTag.ID()

	lp := pool.New(1)
	defer lp.Close()

	server, client := net.Pipe()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- wire.HandleConnection(t.Context(), server, providerStore, events.Discard{}, lp)
	}()

	receiverStore := storetest.NewMemStore(t)
	tags, total, err := wire.Request(t.Context(), client, root, receiverStore)
	require.NoError(t, err)
	require.NoError(t, <-serveErr)
	require.Equal(t, uint64(len("xxxx")+len("yyyyyyyy")), total)
	for _, tag := range tags {
		require.True(t, receiverStore.Protected(tag.ID()))
	}

	loaded, err := collection.Load(t.Context(), receiverStore, root)
	require.NoError(t, err)
	require.Equal(t, len(files), loaded.Len())
}

func TestHandleConnectionUnknownRoot(t *testing.T) {
	providerStore := storetest.NewMemStore(t)
	lp := pool.New(1)
	defer lp.Close()

	server, client := net.Pipe()
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- wire.HandleConnection(t.Context(), server, providerStore, events.Discard{}, lp)
	}()

	missing, err := blob.Sum([]byte("never shared"), multicodec.DagCbor)
	require.NoError(t, err)
	receiverStore := storetest.NewMemStore(t)
	_, _, err = wire.Request(t.Context(), client, missing, receiverStore)
	require.Error(t, err)
	require.Error(t, <-serveErr)
}
