package blob_test

import (
	"bytes"
	"testing"

	"github.com/multiformats/go-multicodec"
	"github.com/stretchr/testify/require"

	"github.com/cascadelab/sendme/pkg/blob"
)

func TestSum(t *testing.T) {
	data := []byte("some content")

	t.Run("is deterministic", func(t *testing.T) {
		a, err := blob.Sum(data, multicodec.Raw)
		require.NoError(t, err)
		b, err := blob.Sum(data, multicodec.Raw)
		require.NoError(t, err)
		require.True(t, a.Equals(b))
	})

	t.Run("distinguishes codecs", func(t *testing.T) {
		raw, err := blob.Sum(data, multicodec.Raw)
		require.NoError(t, err)
		cbor, err := blob.Sum(data, multicodec.DagCbor)
		require.NoError(t, err)
		require.False(t, raw.Equals(cbor))
	})

	t.Run("agrees with SumReader", func(t *testing.T) {
		fromBytes, err := blob.Sum(data, multicodec.Raw)
		require.NoError(t, err)
		fromReader, size, err := blob.SumReader(bytes.NewReader(data), multicodec.Raw)
		require.NoError(t, err)
		require.True(t, fromBytes.Equals(fromReader))
		require.Equal(t, uint64(len(data)), size)
	})
}

func TestVerify(t *testing.T) {
	data := []byte("some content")
	id, err := blob.Sum(data, multicodec.Raw)
	require.NoError(t, err)

	require.NoError(t, blob.Verify(data, id))

	err = blob.Verify([]byte("tampered content"), id)
	require.ErrorAs(t, err, &blob.ErrIdentityMismatch{})
}
