package crypto

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Keyring maps wallet addresses to their secrets. It implements
// domain.Keyring.
type Keyring struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{secrets: make(map[string][]byte)}
}

// Add registers the secret of address, replacing any previous one.
func (k *Keyring) Add(address string, secret []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.secrets[address] = append([]byte(nil), secret...)
}

// Secret returns a copy of the secret of address.
func (k *Keyring) Secret(address string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.secrets[address]
	if !ok {
		return nil, fmt.Errorf("crypto: keyring: %s: %w", address, domain.ErrNotFound)
	}
	return append([]byte(nil), s...), nil
}

// Has reports whether the keyring can sign for address.
func (k *Keyring) Has(address string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.secrets[address]
	return ok
}

var _ domain.Keyring = (*Keyring)(nil)
