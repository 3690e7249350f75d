package domain

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// PublicKey is a hex-encoded ed25519 public key. Holders of fungible tokens
// are identified by key only, so a party can hold under fresh keys that
// are not linkable to its well-known identity.
type PublicKey string

// PublicKeyFrom encodes an ed25519 public key.
func PublicKeyFrom(k ed25519.PublicKey) PublicKey {
	return PublicKey(hex.EncodeToString(k))
}

// Ed25519 decodes the key.
func (k PublicKey) Ed25519() (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(string(k))
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// Short returns an abbreviated form for logs.
func (k PublicKey) Short() string {
	if len(k) <= 12 {
		return string(k)
	}
	return string(k[:12])
}

// Party is a well-known identity on the network: a display name bound to
// its legal signing key.
type Party struct {
	Name string    `json:"name"`
	Key  PublicKey `json:"key"`
}

func (p Party) String() string {
	return p.Name
}

// IsZero reports whether p is the empty party.
func (p Party) IsZero() bool {
	return p.Name == "" && p.Key == ""
}
