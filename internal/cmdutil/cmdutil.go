// Package cmdutil provides utility functions specifically for the sendme CLI.
package cmdutil

import (
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// HashFormat selects how content identities are displayed.
type HashFormat int

const (
	// HashFormatHex displays the bare hash digest as hex.
	HashFormatHex HashFormat = iota
	// HashFormatCid displays the full CID string.
	HashFormatCid
)

func (f HashFormat) String() string {
	switch f {
	case HashFormatHex:
		return "hex"
	case HashFormatCid:
		return "cid"
	default:
		return "unknown"
	}
}

// ParseHashFormat parses "hex" or "cid".
func ParseHashFormat(s string) (HashFormat, error) {
	switch s {
	case "hex":
		return HashFormatHex, nil
	case "cid":
		return HashFormatCid, nil
	default:
		return 0, fmt.Errorf("invalid hash format %q (want hex or cid)", s)
	}
}

// FormatIdentity renders a content identity in the chosen display format.
func FormatIdentity(id cid.Cid, f HashFormat) string {
	if f == HashFormatCid {
		return id.String()
	}
	decoded, err := multihash.Decode(id.Hash())
	if err != nil {
		return id.String()
	}
	return hex.EncodeToString(decoded.Digest)
}
