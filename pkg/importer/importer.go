// Package importer turns a filesystem subtree into a persisted collection.
// File contents are ingested concurrently with a bounded worker count; the
// collection is persisted only after every ingestion succeeds.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cascadelab/sendme/pkg/collection"
	"github.com/cascadelab/sendme/pkg/pathname"
	"github.com/cascadelab/sendme/pkg/store"
)

var log = logging.Logger("importer")

// ErrNotFound indicates a source path that does not exist.
type ErrNotFound struct {
	Path string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("path %s does not exist", e.Path)
}

// source is a discovered regular file awaiting ingestion.
type source struct {
	name string
	path string
}

// discover canonicalizes the root path and enumerates every regular file
// beneath it. Symbolic links are skipped, not followed; directories are
// traversal nodes only. Entry names are relative to the parent of the root,
// so a single file imports under its own name and a directory import
// prefixes entries with the directory name.
func discover(path string) ([]source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound{Path: path}
		}
		return nil, fmt.Errorf("canonicalizing %s: %w", path, err)
	}
	root := filepath.Dir(abs)
	var sources []source
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			// Directories are descended into by WalkDir itself; symlinks and
			// other special files contribute no entries.
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", p, err)
		}
		name, err := pathname.ToPortable(rel, true)
		if err != nil {
			return err
		}
		sources = append(sources, source{name: name, path: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", abs, err)
	}
	return sources, nil
}

// Import ingests the file or directory at path into the store and persists
// the resulting collection. It returns the collection's protection tag, the
// total payload size, and the collection itself.
//
// Per-file protection tags are held until the collection is durably
// persisted, at which point the collection's own tag becomes the protector
// and the per-file tags are released. The returned tag must stay alive until
// serving ends.
func Import(ctx context.Context, s store.Store, path string) (*store.Tag, uint64, *collection.Collection, error) {
	sources, err := discover(path)
	if err != nil {
		return nil, 0, nil, err
	}
	log.Debugf("importing %d files from %s", len(sources), path)

	type imported struct {
		tag  *store.Tag
		id   cid.Cid
		size uint64
	}
	results := make([]imported, len(sources))

	// Fan out ingestion with a bound of one worker per processing unit. The
	// group context cancels in-flight siblings on the first failure.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, src := range sources {
		g.Go(func() error {
			tag, id, size, err := s.ImportFile(gctx, src.path, store.ImportTryReference)
			if err != nil {
				return fmt.Errorf("importing %s: %w", src.path, err)
			}
			results[i] = imported{tag: tag, id: id, size: size}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range results {
			if r.tag != nil {
				r.tag.Release()
			}
		}
		return nil, 0, nil, err
	}

	var total uint64
	coll := &collection.Collection{}
	for i, r := range results {
		total += r.size
		coll.Push(sources[i].name, r.id)
	}

	collTag, root, err := coll.Store(ctx, s)
	if err != nil {
		for _, r := range results {
			r.tag.Release()
		}
		return nil, 0, nil, err
	}
	// The persisted collection now protects the file contents; the per-file
	// tags can go.
	for _, r := range results {
		r.tag.Release()
	}
	log.Debugf("imported %s as collection %s (%d entries, %d bytes)", path, root, coll.Len(), total)
	return collTag, total, coll, nil
}
