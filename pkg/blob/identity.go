// Package blob computes content identities for stored bytes. Identities are
// CIDv1 with a BLAKE3 multihash; file payloads use the raw codec and
// collections use dag-cbor.
package blob

import (
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	"github.com/multiformats/go-multihash"

	// Register the BLAKE3 hasher with the multihash registry.
	_ "github.com/multiformats/go-multihash/register/blake3"
)

// ErrIdentityMismatch indicates bytes that do not hash to their claimed
// identity.
type ErrIdentityMismatch struct {
	Expected cid.Cid
	Actual   cid.Cid
}

func (e ErrIdentityMismatch) Error() string {
	return fmt.Sprintf("content identity mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// Sum computes the content identity of data under the given codec.
func Sum(data []byte, codec multicodec.Code) (cid.Cid, error) {
	digest, err := multihash.Sum(data, multihash.BLAKE3, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("hashing content: %w", err)
	}
	return cid.NewCidV1(uint64(codec), digest), nil
}

// SumReader computes the content identity of everything readable from r,
// returning the identity and the number of bytes consumed.
func SumReader(r io.Reader, codec multicodec.Code) (cid.Cid, uint64, error) {
	hasher, err := multihash.GetHasher(multihash.BLAKE3)
	if err != nil {
		return cid.Undef, 0, fmt.Errorf("getting hasher: %w", err)
	}
	n, err := io.Copy(hasher, r)
	if err != nil {
		return cid.Undef, 0, fmt.Errorf("hashing content: %w", err)
	}
	digest, err := multihash.Encode(hasher.Sum(nil), multihash.BLAKE3)
	if err != nil {
		return cid.Undef, 0, fmt.Errorf("encoding multihash: %w", err)
	}
	return cid.NewCidV1(uint64(codec), digest), uint64(n), nil
}

// Verify checks that data hashes to the given identity, using the identity's
// own hash function and codec.
func Verify(data []byte, id cid.Cid) error {
	actual, err := id.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("hashing content: %w", err)
	}
	if !actual.Equals(id) {
		return ErrIdentityMismatch{Expected: id, Actual: actual}
	}
	return nil
}
