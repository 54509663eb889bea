// Package exporter reconstructs a collection on disk, mapping entry names
// back to validated filesystem paths.
package exporter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/cascadelab/sendme/pkg/collection"
	"github.com/cascadelab/sendme/pkg/pathname"
	"github.com/cascadelab/sendme/pkg/store"
)

var log = logging.Logger("exporter")

// TargetPath composes the absolute destination for an entry name under root.
// Every name component is validated; a name that could escape the root fails
// with pathname.ErrInvalidPath.
func TargetPath(root string, name string) (string, error) {
	target := root
	for _, component := range strings.Split(name, "/") {
		if err := pathname.ValidateComponent(component); err != nil {
			return "", err
		}
		target = filepath.Join(target, component)
	}
	return target, nil
}

// Export materializes every collection entry beneath the root directory,
// preferring reference-style placement when the store supports it. The first
// failing entry aborts the whole export.
func Export(ctx context.Context, s store.Store, root string, coll *collection.Collection) error {
	for _, e := range coll.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := TargetPath(root, e.Name)
		if err != nil {
			return fmt.Errorf("resolving export path for %q: %w", e.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating parent directory for %s: %w", target, err)
		}
		if err := s.Export(ctx, e.Identity, target, store.ExportTryReference, nil); err != nil {
			return fmt.Errorf("exporting %q: %w", e.Name, err)
		}
		log.Debugf("exported %s to %s", e.Identity, target)
	}
	return nil
}
