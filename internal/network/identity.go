package network

import (
	"sync"

	"github.com/efreitasn/stockshares/internal/domain"
)

// IdentityService maps display names to well-known parties. It is shared
// by every node on the network.
type IdentityService struct {
	mu     sync.RWMutex
	byName map[string]domain.Party
	byKey  map[domain.PublicKey]domain.Party
}

// NewIdentityService creates an empty IdentityService.
func NewIdentityService() *IdentityService {
	return &IdentityService{
		byName: make(map[string]domain.Party),
		byKey:  make(map[domain.PublicKey]domain.Party),
	}
}

// Register adds or replaces a party.
func (s *IdentityService) Register(p domain.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byName[p.Name]; ok {
		delete(s.byKey, old.Key)
	}
	s.byName[p.Name] = p
	s.byKey[p.Key] = p
}

// Resolve returns the party registered under name, or a
// *domain.IdentityResolutionError.
func (s *IdentityService) Resolve(name string) (domain.Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byName[name]
	if !ok {
		return domain.Party{}, &domain.IdentityResolutionError{Name: name}
	}
	return p, nil
}

// PartyFromKey returns the well-known party whose legal key is key.
// Confidential keys are never registered and so never resolve.
func (s *IdentityService) PartyFromKey(key domain.PublicKey) (domain.Party, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byKey[key]
	return p, ok
}

// Parties returns every registered party sorted by name.
func (s *IdentityService) Parties() []domain.Party {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Party, 0, len(s.byName))
	for _, p := range s.byName {
		out = append(out, p)
	}
	sortParties(out)
	return out
}
