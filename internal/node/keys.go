package node

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

// KeyManager holds a node's legal key and the confidential keys it
// generated for holding states.
type KeyManager struct {
	mu    sync.RWMutex
	legal domain.PublicKey
	keys  map[domain.PublicKey]ed25519.PrivateKey
}

// NewKeyManager generates a legal key.
func NewKeyManager() (*KeyManager, error) {
	km := &KeyManager{keys: make(map[domain.PublicKey]ed25519.PrivateKey)}
	legal, err := km.FreshKey()
	if err != nil {
		return nil, err
	}
	km.legal = legal
	return km, nil
}

// LegalKey returns the key the node's well-known identity is bound to.
func (k *KeyManager) LegalKey() domain.PublicKey {
	return k.legal
}

// FreshKey generates a new key that is not linked to the legal identity.
func (k *KeyManager) FreshKey() (domain.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	key := domain.PublicKeyFrom(pub)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key] = priv
	return key, nil
}

// Owns reports whether the node holds the private half of key.
func (k *KeyManager) Owns(key domain.PublicKey) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	_, ok := k.keys[key]
	return ok
}

// Filter returns the keys among keys that the node owns.
func (k *KeyManager) Filter(keys []domain.PublicKey) []domain.PublicKey {
	var out []domain.PublicKey
	for _, key := range keys {
		if k.Owns(key) {
			out = append(out, key)
		}
	}
	return out
}

// Sign signs id with key.
func (k *KeyManager) Sign(id ledger.SecureHash, key domain.PublicKey) (ledger.TransactionSignature, error) {
	k.mu.RLock()
	priv, ok := k.keys[key]
	k.mu.RUnlock()
	if !ok {
		return ledger.TransactionSignature{}, fmt.Errorf("no private key for %s", key.Short())
	}
	return ledger.TransactionSignature{By: key, Bytes: ed25519.Sign(priv, []byte(id))}, nil
}
