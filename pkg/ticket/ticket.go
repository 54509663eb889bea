// Package ticket mints and encodes the portable locator a peer uses to fetch
// a shared collection. A ticket binds a transport address to a root content
// identity and marks whether that identity is a collection or a raw blob.
package ticket

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	basicnode "github.com/ipld/go-ipld-prime/node/basic"
	"github.com/multiformats/go-multibase"

	"github.com/cascadelab/sendme/pkg/identity"
	"github.com/cascadelab/sendme/pkg/transport"
)

// Prefix starts every encoded ticket string.
const Prefix = "sendme"

// Format marks what the root identity of a ticket refers to.
type Format int

const (
	// FormatRaw marks a single raw blob.
	FormatRaw Format = iota
	// FormatCollection marks a collection of named blobs.
	FormatCollection
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatCollection:
		return "collection"
	default:
		return "unknown"
	}
}

func parseFormat(s string) (Format, error) {
	switch s {
	case "raw":
		return FormatRaw, nil
	case "collection":
		return FormatCollection, nil
	default:
		return 0, fmt.Errorf("unknown ticket format %q", s)
	}
}

// Ticket is an immutable locator for shared content. It round-trips through
// String and Parse.
type Ticket struct {
	Addr   transport.Addr
	Root   cid.Cid
	Format Format
}

// String encodes the ticket as a single portable token: the "sendme" prefix
// followed by the multibase base32 encoding of a dag-cbor payload.
func (t Ticket) String() string {
	n, err := qp.BuildMap(basicnode.Prototype.Any, 4, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "addr", qp.List(int64(len(t.Addr.Hosts)), func(la datamodel.ListAssembler) {
			for _, h := range t.Addr.Hosts {
				qp.ListEntry(la, qp.String(h))
			}
		}))
		qp.MapEntry(ma, "node", qp.Bytes(t.Addr.NodeID.Bytes()))
		qp.MapEntry(ma, "root", qp.Link(cidlink.Link{Cid: t.Root}))
		qp.MapEntry(ma, "format", qp.String(t.Format.String()))
	})
	if err != nil {
		// The payload is built from plain strings and bytes; assembly cannot
		// fail with well-formed fields.
		panic(fmt.Sprintf("building ticket payload: %s", err))
	}
	var buf bytes.Buffer
	if err := dagcbor.Encode(n, &buf); err != nil {
		panic(fmt.Sprintf("encoding ticket payload: %s", err))
	}
	encoded, err := multibase.Encode(multibase.Base32, buf.Bytes())
	if err != nil {
		panic(fmt.Sprintf("multibase encoding ticket: %s", err))
	}
	return Prefix + encoded
}

// Parse decodes a ticket from its string form.
func Parse(s string) (Ticket, error) {
	body, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return Ticket{}, fmt.Errorf("ticket must start with %q", Prefix)
	}
	_, payload, err := multibase.Decode(body)
	if err != nil {
		return Ticket{}, fmt.Errorf("decoding ticket: %w", err)
	}
	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(payload)); err != nil {
		return Ticket{}, fmt.Errorf("decoding ticket payload: %w", err)
	}
	n := nb.Build()

	hostsNode, err := n.LookupByString("addr")
	if err != nil {
		return Ticket{}, fmt.Errorf("reading ticket address: %w", err)
	}
	var hosts []string
	it := hostsNode.ListIterator()
	if it == nil {
		return Ticket{}, fmt.Errorf("ticket address is not a list")
	}
	for !it.Done() {
		_, v, err := it.Next()
		if err != nil {
			return Ticket{}, fmt.Errorf("reading ticket address: %w", err)
		}
		h, err := v.AsString()
		if err != nil {
			return Ticket{}, fmt.Errorf("reading ticket address: %w", err)
		}
		hosts = append(hosts, h)
	}

	nodeNode, err := n.LookupByString("node")
	if err != nil {
		return Ticket{}, fmt.Errorf("reading ticket node ID: %w", err)
	}
	nodeBytes, err := nodeNode.AsBytes()
	if err != nil {
		return Ticket{}, fmt.Errorf("reading ticket node ID: %w", err)
	}
	nodeID, err := identity.NodeIDFromBytes(nodeBytes)
	if err != nil {
		return Ticket{}, fmt.Errorf("reading ticket node ID: %w", err)
	}

	rootNode, err := n.LookupByString("root")
	if err != nil {
		return Ticket{}, fmt.Errorf("reading ticket root: %w", err)
	}
	lnk, err := rootNode.AsLink()
	if err != nil {
		return Ticket{}, fmt.Errorf("reading ticket root: %w", err)
	}
	cl, ok := lnk.(cidlink.Link)
	if !ok {
		return Ticket{}, fmt.Errorf("ticket root is not a CID link")
	}

	formatNode, err := n.LookupByString("format")
	if err != nil {
		return Ticket{}, fmt.Errorf("reading ticket format: %w", err)
	}
	formatStr, err := formatNode.AsString()
	if err != nil {
		return Ticket{}, fmt.Errorf("reading ticket format: %w", err)
	}
	format, err := parseFormat(formatStr)
	if err != nil {
		return Ticket{}, err
	}

	return Ticket{
		Addr:   transport.Addr{NodeID: nodeID, Hosts: hosts},
		Root:   cl.Cid,
		Format: format,
	}, nil
}
