package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/multiformats/go-multicodec"
	"github.com/stretchr/testify/require"

	"github.com/cascadelab/sendme/pkg/blob"
	"github.com/cascadelab/sendme/pkg/store"
	"github.com/cascadelab/sendme/pkg/store/storetest"
)

func writeSourceFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestImportFile(t *testing.T) {
	data := []byte("file contents")
	wantID, err := blob.Sum(data, multicodec.Raw)
	require.NoError(t, err)

	t.Run("by reference", func(t *testing.T) {
		st := storetest.NewMemStore(t)
		path := writeSourceFile(t, "a.txt", data)

		tag, id, size, err := st.ImportFile(t.Context(), path, store.ImportTryReference)
		require.NoError(t, err)
		require.True(t, wantID.Equals(id))
		require.Equal(t, uint64(len(data)), size)
		require.True(t, st.Protected(id))

		got, err := st.Get(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, data, got)

		tag.Release()
		require.False(t, st.Protected(id))
	})

	t.Run("by copy", func(t *testing.T) {
		st := storetest.NewMemStore(t)
		path := writeSourceFile(t, "a.txt", data)

		_, id, size, err := st.ImportFile(t.Context(), path, store.ImportCopy)
		require.NoError(t, err)
		require.True(t, wantID.Equals(id))
		require.Equal(t, uint64(len(data)), size)

		// The copy must survive removal of the source file.
		require.NoError(t, os.Remove(path))
		got, err := st.Get(t.Context(), id)
		require.NoError(t, err)
		require.Equal(t, data, got)
	})

	t.Run("with a missing source file", func(t *testing.T) {
		st := storetest.NewMemStore(t)
		_, _, _, err := st.ImportFile(t.Context(), filepath.Join(t.TempDir(), "nope"), store.ImportCopy)
		require.Error(t, err)
	})
}

func TestPut(t *testing.T) {
	st := storetest.NewMemStore(t)
	data := []byte("collection bytes")

	tag, id, err := st.Put(t.Context(), data, multicodec.DagCbor)
	require.NoError(t, err)
	require.True(t, st.Protected(id))

	t.Run("is idempotent", func(t *testing.T) {
		tag2, id2, err := st.Put(t.Context(), data, multicodec.DagCbor)
		require.NoError(t, err)
		require.True(t, id.Equals(id2))
		tag2.Release()
		// The first tag still protects the blob.
		require.True(t, st.Protected(id))
	})

	t.Run("release is idempotent", func(t *testing.T) {
		tag.Release()
		tag.Release()
		require.False(t, st.Protected(id))
	})
}

func TestGet(t *testing.T) {
	st := storetest.NewMemStore(t)

	t.Run("with an unknown identity", func(t *testing.T) {
		missing, err := blob.Sum([]byte("never stored"), multicodec.Raw)
		require.NoError(t, err)
		_, err = st.Get(t.Context(), missing)
		require.ErrorAs(t, err, &store.ErrNotFound{})

		ok, err := st.Has(t.Context(), missing)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestOpen(t *testing.T) {
	st := storetest.NewMemStore(t)
	data := []byte("streamable bytes")
	_, id, err := st.Put(t.Context(), data, multicodec.Raw)
	require.NoError(t, err)

	r, size, err := st.Open(t.Context(), id)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, uint64(len(data)), size)

	got := make([]byte, size)
	_, err = r.Read(got)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestExport(t *testing.T) {
	data := []byte("export me")

	t.Run("copies an inline blob", func(t *testing.T) {
		st := storetest.NewMemStore(t)
		_, id, err := st.Put(t.Context(), data, multicodec.Raw)
		require.NoError(t, err)

		dest := filepath.Join(t.TempDir(), "out.bin")
		var lastProgress uint64
		err = st.Export(t.Context(), id, dest, store.ExportCopy, func(n uint64) {
			lastProgress = n
		})
		require.NoError(t, err)
		require.Equal(t, uint64(len(data)), lastProgress)

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, data, got)
	})

	t.Run("places a reference to an imported blob", func(t *testing.T) {
		st := storetest.NewMemStore(t)
		path := writeSourceFile(t, "src.bin", data)
		_, id, _, err := st.ImportFile(t.Context(), path, store.ImportTryReference)
		require.NoError(t, err)

		dest := filepath.Join(t.TempDir(), "out.bin")
		require.NoError(t, st.Export(t.Context(), id, dest, store.ExportTryReference, nil))

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, data, got)
	})

	t.Run("with an unknown identity", func(t *testing.T) {
		st := storetest.NewMemStore(t)
		missing, err := blob.Sum([]byte("never stored"), multicodec.Raw)
		require.NoError(t, err)
		err = st.Export(t.Context(), missing, filepath.Join(t.TempDir(), "out"), store.ExportCopy, nil)
		require.ErrorAs(t, err, &store.ErrNotFound{})
	})
}
