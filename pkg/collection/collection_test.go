package collection_test

import (
	"fmt"
	"testing"

	"github.com/multiformats/go-multicodec"
	"github.com/stretchr/testify/require"

	"github.com/cascadelab/sendme/pkg/blob"
	"github.com/cascadelab/sendme/pkg/collection"
	"github.com/cascadelab/sendme/pkg/store/storetest"
)

func buildCollection(t *testing.T, names ...string) *collection.Collection {
	t.Helper()
	c := &collection.Collection{}
	for _, name := range names {
		id, err := blob.Sum([]byte("content of "+name), multicodec.Raw)
		require.NoError(t, err)
		c.Push(name, id)
	}
	return c
}

func TestEncodeDecode(t *testing.T) {
	t.Run("round-trips entries in order", func(t *testing.T) {
		c := buildCollection(t, "album/a.txt", "album/sub/b.txt", "album/z.txt")

		data, err := c.Encode()
		require.NoError(t, err)
		decoded, err := collection.Decode(data)
		require.NoError(t, err)

		require.Equal(t, c.Entries(), decoded.Entries())
	})

	t.Run("identical input yields identical bytes", func(t *testing.T) {
		a := buildCollection(t, "x", "y")
		b := buildCollection(t, "x", "y")

		aData, err := a.Encode()
		require.NoError(t, err)
		bData, err := b.Encode()
		require.NoError(t, err)
		require.Equal(t, aData, bData)
	})

	t.Run("with malformed bytes", func(t *testing.T) {
		_, err := collection.Decode([]byte{0xff, 0x00})
		require.Error(t, err)
	})
}

func TestStore(t *testing.T) {
	t.Run("persists and loads", func(t *testing.T) {
		st := storetest.NewMemStore(t)
		c := buildCollection(t, "a", "b", "c")

		tag, root, err := c.Store(t.Context(), st)
		require.NoError(t, err)
		require.True(t, st.Protected(root))
		require.True(t, root.Equals(tag.ID()))

		loaded, err := collection.Load(t.Context(), st, root)
		require.NoError(t, err)
		require.Equal(t, c.Entries(), loaded.Entries())
	})

	t.Run("rejects duplicate names", func(t *testing.T) {
		st := storetest.NewMemStore(t)
		c := buildCollection(t, "same", "other")
		c.Push("same", c.Entries()[1].Identity)

		_, _, err := c.Store(t.Context(), st)
		require.ErrorAs(t, err, &collection.ErrDuplicateName{})
		require.ErrorContains(t, err, fmt.Sprintf("%q", "same"))
	})
}
