// Package storetest provides store construction helpers for tests.
package storetest

import (
	"database/sql"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/cascadelab/sendme/pkg/store"
)

// NewMemStore creates a store over an in-memory filesystem and an in-memory
// SQLite metadata database.
func NewMemStore(t *testing.T) *store.FSStore {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err, "failed to open in-memory SQLite database")
	// Every new connection would see a fresh empty :memory: database.
	db.SetMaxOpenConns(1)

	st, err := store.New(afero.NewMemMapFs(), db)
	require.NoError(t, err, "failed to create store")

	t.Cleanup(func() {
		st.Close()
	})
	return st
}
