// Package collection assembles ordered (name, content identity) pairs into a
// single addressable unit. A collection is encoded as a dag-cbor list of
// {name, link} maps and stored as a blob with its own root identity.
package collection

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	basicnode "github.com/ipld/go-ipld-prime/node/basic"
	"github.com/multiformats/go-multicodec"

	"github.com/cascadelab/sendme/pkg/store"
)

// ErrDuplicateName indicates two collection entries sharing a name. Export
// assumes one file per name, so duplicates are rejected at build time.
type ErrDuplicateName struct {
	Name string
}

func (e ErrDuplicateName) Error() string {
	return fmt.Sprintf("duplicate collection entry name %q", e.Name)
}

// Entry is one named blob in a collection.
type Entry struct {
	Name     string
	Identity cid.Cid
}

// Collection is an ordered sequence of named content identities. Ordering is
// preserved through encoding so identical inputs produce identical roots.
type Collection struct {
	entries []Entry
}

// Push appends an entry. Name uniqueness is checked at Store time.
func (c *Collection) Push(name string, id cid.Cid) {
	c.entries = append(c.entries, Entry{Name: name, Identity: id})
}

// Len returns the number of entries.
func (c *Collection) Len() int {
	return len(c.entries)
}

// Entries returns the entries in order.
func (c *Collection) Entries() []Entry {
	return c.entries
}

func (c *Collection) checkNames() error {
	seen := make(map[string]struct{}, len(c.entries))
	for _, e := range c.entries {
		if _, ok := seen[e.Name]; ok {
			return ErrDuplicateName{Name: e.Name}
		}
		seen[e.Name] = struct{}{}
	}
	return nil
}

// Encode serializes the collection as dag-cbor.
func (c *Collection) Encode() ([]byte, error) {
	n, err := qp.BuildList(basicnode.Prototype.Any, int64(len(c.entries)), func(la datamodel.ListAssembler) {
		for _, e := range c.entries {
			qp.ListEntry(la, qp.Map(2, func(ma datamodel.MapAssembler) {
				qp.MapEntry(ma, "name", qp.String(e.Name))
				qp.MapEntry(ma, "link", qp.Link(cidlink.Link{Cid: e.Identity}))
			}))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("building collection node: %w", err)
	}
	var buf bytes.Buffer
	if err := dagcbor.Encode(n, &buf); err != nil {
		return nil, fmt.Errorf("encoding collection: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a dag-cbor encoded collection.
func Decode(data []byte) (*Collection, error) {
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decoding collection: %w", err)
	}
	n := nb.Build()
	if n.Kind() != datamodel.Kind_List {
		return nil, fmt.Errorf("decoding collection: expected list, got %s", n.Kind())
	}
	c := &Collection{}
	it := n.ListIterator()
	for !it.Done() {
		_, v, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("iterating collection entries: %w", err)
		}
		nameNode, err := v.LookupByString("name")
		if err != nil {
			return nil, fmt.Errorf("reading entry name: %w", err)
		}
		name, err := nameNode.AsString()
		if err != nil {
			return nil, fmt.Errorf("reading entry name: %w", err)
		}
		linkNode, err := v.LookupByString("link")
		if err != nil {
			return nil, fmt.Errorf("reading entry link: %w", err)
		}
		lnk, err := linkNode.AsLink()
		if err != nil {
			return nil, fmt.Errorf("reading entry link: %w", err)
		}
		cl, ok := lnk.(cidlink.Link)
		if !ok {
			return nil, fmt.Errorf("entry link is not a CID link")
		}
		c.Push(name, cl.Cid)
	}
	return c, nil
}

// Store persists the collection as a single blob and returns a protection tag
// for it plus its root identity. Either the whole collection becomes
// addressable or an error is returned and nothing is stored.
func (c *Collection) Store(ctx context.Context, s store.Store) (*store.Tag, cid.Cid, error) {
	if err := c.checkNames(); err != nil {
		return nil, cid.Undef, err
	}
	data, err := c.Encode()
	if err != nil {
		return nil, cid.Undef, err
	}
	tag, root, err := s.Put(ctx, data, multicodec.DagCbor)
	if err != nil {
		return nil, cid.Undef, fmt.Errorf("persisting collection: %w", err)
	}
	return tag, root, nil
}

// Load reads and decodes the collection stored under root.
func Load(ctx context.Context, s store.Store, root cid.Cid) (*Collection, error) {
	data, err := s.Get(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("loading collection %s: %w", root, err)
	}
	return Decode(data)
}
