// Package store provides the content-addressed blob store backing a sharing
// session. Blobs are protected from reclamation by holding a Tag; the store
// never reclaims bytes while a tag for their identity is held.
package store

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
)

// ImportMode controls how file bytes enter the store.
type ImportMode int

const (
	// ImportCopy copies the file bytes into the store.
	ImportCopy ImportMode = iota
	// ImportTryReference records a reference to the file in place instead of
	// copying, when the store supports it.
	ImportTryReference
)

// ExportMode controls how blob bytes are materialized on disk.
type ExportMode int

const (
	// ExportCopy writes a full copy of the blob at the destination.
	ExportCopy ExportMode = iota
	// ExportTryReference places a reference (hard link) to existing bytes
	// when possible, falling back to a copy.
	ExportTryReference
)

// ProgressFn is called with the cumulative number of bytes materialized
// during an export. May be nil.
type ProgressFn func(bytesWritten uint64)

// ErrNotFound indicates an identity with no entry in the store.
type ErrNotFound struct {
	ID cid.Cid
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("blob %s not found in store", e.ID)
}

// Store is a content-addressed blob store. Implementations must be safe for
// concurrent use from multiple goroutines.
type Store interface {
	// ImportFile ingests the file at path and returns a protection tag, the
	// content identity, and the byte size.
	ImportFile(ctx context.Context, path string, mode ImportMode) (*Tag, cid.Cid, uint64, error)
	// Put stores data under its content identity with the given codec.
	Put(ctx context.Context, data []byte, codec multicodec.Code) (*Tag, cid.Cid, error)
	// Get reads all bytes of the blob with the given identity.
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	// Open returns a reader over the blob's bytes along with its size.
	Open(ctx context.Context, id cid.Cid) (io.ReadCloser, uint64, error)
	// Export materializes the blob's bytes at dest.
	Export(ctx context.Context, id cid.Cid, dest string, mode ExportMode, progress ProgressFn) error
	// Has reports whether the store holds the given identity.
	Has(ctx context.Context, id cid.Cid) (bool, error)
}

// Tag protects the bytes of one identity from reclamation while held.
// Releasing is idempotent.
type Tag struct {
	id      cid.Cid
	release func()
	once    sync.Once
}

// NewTag creates a tag for id whose release callback is invoked exactly once.
func NewTag(id cid.Cid, release func()) *Tag {
	return &Tag{id: id, release: release}
}

// ID returns the identity this tag protects.
func (t *Tag) ID() cid.Cid {
	return t.id
}

// Release drops the protection. Safe to call multiple times.
func (t *Tag) Release() {
	t.once.Do(func() {
		if t.release != nil {
			t.release()
		}
	})
}
