package fetch_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cascadelab/sendme/pkg/fetch"
	"github.com/cascadelab/sendme/pkg/provider"
	"github.com/cascadelab/sendme/pkg/provider/events"
	"github.com/cascadelab/sendme/pkg/ticket"
)

// startProvider shares a small directory tree and returns the serving session
// with the file contents keyed by exported path.
func startProvider(t *testing.T) (*provider.Session, map[string][]byte) {
	t.Helper()
	files := map[string][]byte{
		"album/a.txt":     []byte("first file"),
		"album/sub/b.txt": []byte("second file, a bit longer"),
	}
	parent := t.TempDir()
	for name, data := range files {
		p := filepath.Join(parent, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, data, 0644))
	}

	session, err := provider.Start(t.Context(), filepath.Join(parent, "album"),
		provider.WithEventSink(events.Discard{}))
	require.NoError(t, err)
	go session.Serve(t.Context())
	t.Cleanup(func() {
		session.Close()
		<-session.Done()
	})
	return session, files
}

func TestFetch(t *testing.T) {
	session, files := startProvider(t)

	dest := t.TempDir()
	coll, total, err := fetch.Fetch(t.Context(), session.Ticket(), dest)
	require.NoError(t, err)
	require.Equal(t, len(files), coll.Len())
	require.Equal(t, session.TotalSize(), total)

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err)
		require.Equal(t, want, got, "content of %s", name)
	}

	t.Run("removes its working directory", func(t *testing.T) {
		entries, err := os.ReadDir(dest)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "album", entries[0].Name())
	})

	t.Run("can fetch the same ticket again", func(t *testing.T) {
		again := t.TempDir()
		coll, _, err := fetch.Fetch(t.Context(), session.Ticket(), again)
		require.NoError(t, err)
		require.Equal(t, len(files), coll.Len())
	})
}

func TestFetchRejectsRawTickets(t *testing.T) {
	session, _ := startProvider(t)

	tkt := session.Ticket()
	tkt.Format = ticket.FormatRaw
	_, _, err := fetch.Fetch(t.Context(), tkt, t.TempDir())
	require.ErrorContains(t, err, "not a collection")
}

func TestFetchUnreachableProvider(t *testing.T) {
	session, _ := startProvider(t)

	tkt := session.Ticket()
	session.Close()
	<-session.Done()

	_, _, err := fetch.Fetch(t.Context(), tkt, t.TempDir())
	require.Error(t, err)
}
