// Package wire implements the provider protocol: a peer sends one framed
// request naming the collection root it wants, and the provider answers with
// a CARv1 stream carrying the collection block followed by every entry blob.
package wire

import (
	"context"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	carv2 "github.com/ipld/go-car/v2"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-varint"

	"github.com/cascadelab/sendme/pkg/blob"
	"github.com/cascadelab/sendme/pkg/collection"
	"github.com/cascadelab/sendme/pkg/store"
)

// A request frame carries a single CID; anything larger is malformed.
const maxRequestFrame = 256

// WriteRequest frames the identity of the wanted collection root.
func WriteRequest(w io.Writer, root cid.Cid) error {
	buf := root.Bytes()
	if _, err := w.Write(varint.ToUvarint(uint64(len(buf)))); err != nil {
		return fmt.Errorf("writing request frame length: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing request frame: %w", err)
	}
	return nil
}

// ReadRequest reads one framed request and returns the wanted root identity.
func ReadRequest(r io.Reader) (cid.Cid, error) {
	n, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return cid.Undef, fmt.Errorf("reading request frame length: %w", err)
	}
	if n > maxRequestFrame {
		return cid.Undef, fmt.Errorf("request frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return cid.Undef, fmt.Errorf("reading request frame: %w", err)
	}
	id, err := cid.Cast(buf)
	if err != nil {
		return cid.Undef, fmt.Errorf("parsing requested identity: %w", err)
	}
	return id, nil
}

// WriteResponse streams the collection root block and every entry blob as a
// CARv1 with the root as its single header root. Entry blobs are streamed
// from the store without buffering whole files.
func WriteResponse(ctx context.Context, w io.Writer, s store.Store, root cid.Cid, rootData []byte, coll *collection.Collection) error {
	if err := car.WriteHeader(&car.CarHeader{Roots: []cid.Cid{root}, Version: 1}, w); err != nil {
		return fmt.Errorf("writing stream header: %w", err)
	}
	if err := carutil.LdWrite(w, root.Bytes(), rootData); err != nil {
		return fmt.Errorf("writing collection block: %w", err)
	}
	for _, e := range coll.Entries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeBlobSection(ctx, w, s, e.Identity); err != nil {
			return fmt.Errorf("writing blob %s (%s): %w", e.Identity, e.Name, err)
		}
	}
	return nil
}

// writeBlobSection writes one CAR section (varint length, CID, payload),
// streaming the payload from the store.
func writeBlobSection(ctx context.Context, w io.Writer, s store.Store, id cid.Cid) error {
	r, size, err := s.Open(ctx, id)
	if err != nil {
		return err
	}
	defer r.Close()
	idBytes := id.Bytes()
	if _, err := w.Write(varint.ToUvarint(uint64(len(idBytes)) + size)); err != nil {
		return fmt.Errorf("writing section length: %w", err)
	}
	if _, err := w.Write(idBytes); err != nil {
		return fmt.Errorf("writing section identity: %w", err)
	}
	if _, err := io.CopyN(w, r, int64(size)); err != nil {
		return fmt.Errorf("streaming payload: %w", err)
	}
	return nil
}

// ReadResponse ingests a CARv1 stream into the store, verifying every block
// against its claimed identity. It returns the stream's root, one protection
// tag per ingested block, and the total payload bytes received.
//
// The returned tags must be held until whatever references the blocks (the
// collection) is persisted or exported.
func ReadResponse(ctx context.Context, r io.Reader, s store.Store) (cid.Cid, []*store.Tag, uint64, error) {
	br, err := carv2.NewBlockReader(r)
	if err != nil {
		return cid.Undef, nil, 0, fmt.Errorf("reading stream header: %w", err)
	}
	if len(br.Roots) != 1 {
		return cid.Undef, nil, 0, fmt.Errorf("expected a single stream root, got %d", len(br.Roots))
	}
	root := br.Roots[0]
	var tags []*store.Tag
	var total uint64
	for {
		if err := ctx.Err(); err != nil {
			releaseAll(tags)
			return cid.Undef, nil, 0, err
		}
		blk, err := br.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			releaseAll(tags)
			return cid.Undef, nil, 0, fmt.Errorf("reading block: %w", err)
		}
		if err := blob.Verify(blk.RawData(), blk.Cid()); err != nil {
			releaseAll(tags)
			return cid.Undef, nil, 0, err
		}
		tag, _, err := s.Put(ctx, blk.RawData(), multicodec.Code(blk.Cid().Prefix().Codec))
		if err != nil {
			releaseAll(tags)
			return cid.Undef, nil, 0, fmt.Errorf("storing block %s: %w", blk.Cid(), err)
		}
		tags = append(tags, tag)
		if !blk.Cid().Equals(root) {
			total += uint64(len(blk.RawData()))
		}
	}
	return root, tags, total, nil
}

func releaseAll(tags []*store.Tag) {
	for _, t := range tags {
		t.Release()
	}
}

// byteReader adapts an io.Reader for uvarint decoding without buffering past
// the varint.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
