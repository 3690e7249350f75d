// Package store keeps off-ledger node data: webhook subscriptions.
package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/stockshares/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhooks.
// Primary index: webhook_id → webhook.
// Secondary index: party → event → webhook.
type WebhookStore struct {
	mu       sync.RWMutex
	webhooks map[string]*domain.Webhook            // webhook_id → webhook
	byParty  map[string]map[string]*domain.Webhook // party → event → webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks: make(map[string]*domain.Webhook),
		byParty:  make(map[string]map[string]*domain.Webhook),
	}
}

// Upsert inserts or updates a subscription keyed by (party, event). An
// existing subscription keeps its id and gets the new URL. Returns true if
// a new subscription was created.
func (s *WebhookStore) Upsert(w *domain.Webhook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byParty[w.Party][w.Event]; ok {
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
		}
		return false
	}

	s.webhooks[w.WebhookID] = w
	if s.byParty[w.Party] == nil {
		s.byParty[w.Party] = make(map[string]*domain.Webhook)
	}
	s.byParty[w.Party][w.Event] = w
	return true
}

// Get retrieves a webhook by ID. It returns domain.ErrWebhookNotFound if
// the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	copied := *w
	return &copied, nil
}

// ListByParty returns a party's webhooks ordered by event.
func (s *WebhookStore) ListByParty(party string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byParty[party]
	result := make([]*domain.Webhook, 0, len(events))
	for _, w := range events {
		copied := *w
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event < result[j].Event })
	return result
}

// Delete removes a party's webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist or belongs to
// another party.
func (s *WebhookStore) Delete(party, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok || w.Party != party {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)
	if events, ok := s.byParty[w.Party]; ok {
		delete(events, w.Event)
		if len(events) == 0 {
			delete(s.byParty, w.Party)
		}
	}
	return nil
}

// GetByPartyEvent returns the webhook for a party and event, or nil.
func (s *WebhookStore) GetByPartyEvent(party, event string) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byParty[party][event]
	if !ok {
		return nil
	}
	copied := *w
	return &copied
}
