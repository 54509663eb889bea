package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/multiformats/go-multicodec"
	"github.com/spf13/afero"
	_ "modernc.org/sqlite"

	"github.com/cascadelab/sendme/pkg/blob"
)

var log = logging.Logger("store")

// Schema is the SQL schema for the store's metadata index.
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
	identity TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	location TEXT,
	created_at TIMESTAMP NOT NULL
);
`

const (
	blobDir       = "blobs"
	metaCacheSize = 1024
)

// entry is the metadata row for one blob. A blob either lives inline under
// the store's blob directory, or at an external location recorded during a
// reference-mode import.
type entry struct {
	size     uint64
	location string
}

func (e entry) external() bool {
	return e.location != ""
}

// FSStore is a filesystem-backed Store rooted at a single directory, with
// blob metadata kept in a SQLite index. It is safe for concurrent use.
type FSStore struct {
	fs    afero.Fs
	db    *sql.DB
	cache *lru.Cache[string, entry]

	mu   sync.Mutex
	refs map[string]int
}

var _ Store = (*FSStore)(nil)

// Open opens (or initializes) a store rooted at dir. The directory must
// already exist.
func Open(dir string) (*FSStore, error) {
	db, err := sql.Open("sqlite", filepath.Join(dir, "blobs.db"))
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}
	// The sqlite driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent imports.
	db.SetMaxOpenConns(1)
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), db)
}

// New creates a store over an arbitrary filesystem and metadata database.
// Used directly by tests with an in-memory filesystem and database.
func New(fsys afero.Fs, db *sql.DB) (*FSStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("initializing metadata schema: %w", err)
	}
	if err := fsys.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	cache, err := lru.New[string, entry](metaCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating metadata cache: %w", err)
	}
	return &FSStore{
		fs:    fsys,
		db:    db,
		cache: cache,
		refs:  make(map[string]int),
	}, nil
}

// Close closes the metadata database. Blob payloads are left on disk; the
// session owning the store removes its root directory on teardown.
func (s *FSStore) Close() error {
	return s.db.Close()
}

func blobPath(id cid.Cid) string {
	return path.Join(blobDir, id.String())
}

// ImportFile ingests the file at the given path. In reference mode the file
// bytes stay in place and only their location is recorded; in copy mode the
// bytes are staged into the blob directory under their identity.
func (s *FSStore) ImportFile(ctx context.Context, p string, mode ImportMode) (*Tag, cid.Cid, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, cid.Undef, 0, err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, cid.Undef, 0, fmt.Errorf("resolving %s: %w", p, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, cid.Undef, 0, fmt.Errorf("opening %s: %w", abs, err)
	}
	defer f.Close()

	var id cid.Cid
	var size uint64
	location := ""
	switch mode {
	case ImportTryReference:
		id, size, err = blob.SumReader(f, multicodec.Raw)
		if err != nil {
			return nil, cid.Undef, 0, fmt.Errorf("identifying %s: %w", abs, err)
		}
		location = abs
	case ImportCopy:
		id, size, err = s.copyIn(f)
		if err != nil {
			return nil, cid.Undef, 0, fmt.Errorf("copying in %s: %w", abs, err)
		}
	default:
		return nil, cid.Undef, 0, fmt.Errorf("unknown import mode %d", mode)
	}
	if err := ctx.Err(); err != nil {
		return nil, cid.Undef, 0, err
	}
	if err := s.insert(ctx, id, entry{size: size, location: location}); err != nil {
		return nil, cid.Undef, 0, err
	}
	log.Debugf("imported %s as %s (%d bytes)", abs, id, size)
	return s.acquire(id), id, size, nil
}

// copyIn stages the reader's bytes into the blob directory, hashing as it
// copies. The staging file is renamed to its identity once known.
func (s *FSStore) copyIn(r io.Reader) (cid.Cid, uint64, error) {
	tmp, err := afero.TempFile(s.fs, blobDir, ".staging-*")
	if err != nil {
		return cid.Undef, 0, fmt.Errorf("creating staging file: %w", err)
	}
	name := tmp.Name()
	id, size, err := blob.SumReader(io.TeeReader(r, tmp), multicodec.Raw)
	closeErr := tmp.Close()
	if err != nil {
		s.fs.Remove(name)
		return cid.Undef, 0, err
	}
	if closeErr != nil {
		s.fs.Remove(name)
		return cid.Undef, 0, fmt.Errorf("closing staging file: %w", closeErr)
	}
	if err := s.fs.Rename(name, blobPath(id)); err != nil {
		s.fs.Remove(name)
		return cid.Undef, 0, fmt.Errorf("renaming staging file: %w", err)
	}
	return id, size, nil
}

// Put stores data under its content identity with the given codec.
func (s *FSStore) Put(ctx context.Context, data []byte, codec multicodec.Code) (*Tag, cid.Cid, error) {
	id, err := blob.Sum(data, codec)
	if err != nil {
		return nil, cid.Undef, err
	}
	ok, err := s.Has(ctx, id)
	if err != nil {
		return nil, cid.Undef, err
	}
	if !ok {
		if err := afero.WriteFile(s.fs, blobPath(id), data, 0644); err != nil {
			return nil, cid.Undef, fmt.Errorf("writing blob %s: %w", id, err)
		}
		if err := s.insert(ctx, id, entry{size: uint64(len(data))}); err != nil {
			return nil, cid.Undef, err
		}
	}
	return s.acquire(id), id, nil
}

// Get reads all bytes of the blob with the given identity.
func (s *FSStore) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.external() {
		data, err := os.ReadFile(e.location)
		if err != nil {
			return nil, fmt.Errorf("reading referenced blob %s: %w", id, err)
		}
		return data, nil
	}
	data, err := afero.ReadFile(s.fs, blobPath(id))
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", id, err)
	}
	return data, nil
}

// Open returns a reader over the blob's bytes along with its size.
func (s *FSStore) Open(ctx context.Context, id cid.Cid) (io.ReadCloser, uint64, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if e.external() {
		f, err := os.Open(e.location)
		if err != nil {
			return nil, 0, fmt.Errorf("opening referenced blob %s: %w", id, err)
		}
		return f, e.size, nil
	}
	f, err := s.fs.Open(blobPath(id))
	if err != nil {
		return nil, 0, fmt.Errorf("opening blob %s: %w", id, err)
	}
	return f, e.size, nil
}

// Export materializes the blob's bytes at dest. In reference mode a blob
// imported by reference is hard-linked when the filesystem allows it, falling
// back to a copy.
func (s *FSStore) Export(ctx context.Context, id cid.Cid, dest string, mode ExportMode, progress ProgressFn) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if mode == ExportTryReference && e.external() {
		if err := os.Link(e.location, dest); err == nil {
			if progress != nil {
				progress(e.size)
			}
			return nil
		}
		// Cross-device or unsupported; fall through to a copy.
	}
	r, _, err := s.Open(ctx, id)
	if err != nil {
		return err
	}
	defer r.Close()
	w, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	var written uint64
	buf := make([]byte, 128*1024)
	for {
		if err := ctx.Err(); err != nil {
			w.Close()
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				w.Close()
				return fmt.Errorf("writing %s: %w", dest, werr)
			}
			written += uint64(n)
			if progress != nil {
				progress(written)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			w.Close()
			return fmt.Errorf("reading blob %s: %w", id, rerr)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dest, err)
	}
	return nil
}

// Has reports whether the store holds the given identity.
func (s *FSStore) Has(ctx context.Context, id cid.Cid) (bool, error) {
	_, err := s.lookup(ctx, id)
	if err != nil {
		var notFound ErrNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Protected reports whether any tag currently protects the given identity.
func (s *FSStore) Protected(id cid.Cid) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[id.KeyString()] > 0
}

func (s *FSStore) acquire(id cid.Cid) *Tag {
	key := id.KeyString()
	s.mu.Lock()
	s.refs[key]++
	s.mu.Unlock()
	return NewTag(id, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.refs[key]--
		if s.refs[key] <= 0 {
			delete(s.refs, key)
		}
	})
}

func (s *FSStore) insert(ctx context.Context, id cid.Cid, e entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blobs (identity, size, location, created_at) VALUES (?, ?, ?, ?)`,
		id.String(), int64(e.size), NullString(e.location), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording blob %s: %w", id, err)
	}
	s.cache.Add(id.KeyString(), e)
	return nil
}

func (s *FSStore) lookup(ctx context.Context, id cid.Cid) (entry, error) {
	if e, ok := s.cache.Get(id.KeyString()); ok {
		return e, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT size, location FROM blobs WHERE identity = ?`, id.String(),
	)
	var size int64
	var location sql.NullString
	err := row.Scan(&size, &location)
	if errors.Is(err, sql.ErrNoRows) {
		return entry{}, ErrNotFound{ID: id}
	}
	if err != nil {
		return entry{}, fmt.Errorf("looking up blob %s: %w", id, err)
	}
	e := entry{size: uint64(size)}
	if location.Valid {
		e.location = location.String
	}
	s.cache.Add(id.KeyString(), e)
	return e, nil
}

// NullString converts an empty string to a NULL database value.
func NullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
