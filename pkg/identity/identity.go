// Package identity manages the node identity key used by the transport. Keys
// are ed25519; a node is identified by its public key.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// SecretEnvVar is the environment variable consulted for an
// externally-supplied secret key.
const SecretEnvVar = "SENDME_SECRET"

// NodeID is the public half of a node identity key.
type NodeID [ed25519.PublicKeySize]byte

func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// Bytes returns the raw public key bytes.
func (n NodeID) Bytes() []byte {
	return n[:]
}

// NodeIDFromBytes parses a NodeID from raw public key bytes.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var n NodeID
	if len(b) != ed25519.PublicKeySize {
		return n, fmt.Errorf("invalid node ID length: %d", len(b))
	}
	copy(n[:], b)
	return n, nil
}

// Key is a node identity key.
type Key struct {
	priv ed25519.PrivateKey
}

// Generate creates a fresh random key.
func Generate() (Key, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Key{}, fmt.Errorf("generating key: %w", err)
	}
	return Key{priv: priv}, nil
}

// FromString parses a key from the hex encoding of its 32-byte seed.
func FromString(s string) (Key, error) {
	seed, err := hex.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decoding secret key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return Key{}, fmt.Errorf("invalid secret key length: %d", len(seed))
	}
	return Key{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (k Key) String() string {
	return hex.EncodeToString(k.priv.Seed())
}

// NodeID returns the public identity of this key.
func (k Key) NodeID() NodeID {
	var n NodeID
	copy(n[:], k.priv.Public().(ed25519.PublicKey))
	return n
}

// LoadOrGenerate returns the key from SecretEnvVar if set, or generates a
// fresh one. Generated keys are not persisted across sessions.
func LoadOrGenerate() (Key, error) {
	if secret := os.Getenv(SecretEnvVar); secret != "" {
		key, err := FromString(secret)
		if err != nil {
			return Key{}, fmt.Errorf("invalid %s: %w", SecretEnvVar, err)
		}
		return key, nil
	}
	return Generate()
}
