package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/store"
)

// Valid webhook event types.
var validWebhookEvents = map[string]bool{
	domain.EventSaleCommitted:   true,
	domain.EventHoldingReceived: true,
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	Party  string
	URL    string
	Events []string
}

// WebhookService handles webhook CRUD and event dispatch. It observes
// every node it is added to and reports holdings they receive.
type WebhookService struct {
	store  *store.WebhookStore
	hosted func(party string) bool
	client *http.Client
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWebhookService creates a new WebhookService. hosted reports whether a
// party runs in this process.
func NewWebhookService(
	webhookStore *store.WebhookStore,
	hosted func(party string) bool,
	webhookTimeout time.Duration,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		store:  webhookStore,
		hosted: hosted,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		logger: logger,
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if !s.hosted(req.Party) {
		return nil, false, fmt.Errorf("%w: %s", domain.ErrUnknownParty, req.Party)
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	deduped := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: sale.committed, holding.received",
			}
		}
		if !seen[event] {
			seen[event] = true
			deduped = append(deduped, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(deduped))
	for _, event := range deduped {
		w := &domain.Webhook{
			WebhookID: uuid.New().String(),
			Party:     req.Party,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if s.store.Upsert(w) {
			anyCreated = true
			webhooks = append(webhooks, w)
		} else if existing := s.store.GetByPartyEvent(req.Party, event); existing != nil {
			webhooks = append(webhooks, existing)
		}
	}
	return webhooks, anyCreated, nil
}

// List returns a party's webhook subscriptions.
func (s *WebhookService) List(party string) ([]*domain.Webhook, error) {
	if !s.hosted(party) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownParty, party)
	}
	return s.store.ListByParty(party), nil
}

// Delete removes a party's webhook subscription by ID.
func (s *WebhookService) Delete(party, webhookID string) error {
	return s.store.Delete(party, webhookID)
}

type eventPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

type saleCommittedData struct {
	Party       string          `json:"party"`
	CompanyCode string          `json:"company_code"`
	TxID        string          `json:"tx_id"`
	Recipients  []SaleRecipient `json:"recipients"`
}

type holdingReceivedData struct {
	Party    string        `json:"party"`
	TxID     string        `json:"tx_id"`
	Holdings []holdingData `json:"holdings"`
}

type holdingData struct {
	Ref      string `json:"ref"`
	Token    string `json:"token"`
	Issuer   string `json:"issuer"`
	Quantity string `json:"quantity"`
}

// DispatchSaleCommitted notifies the seller's subscriber of a committed
// sale. Fire-and-forget.
func (s *WebhookService) DispatchSaleCommitted(party, code string, recipients []SaleRecipient, txID ledger.SecureHash) {
	wh := s.store.GetByPartyEvent(party, domain.EventSaleCommitted)
	if wh == nil {
		return
	}
	s.dispatch(wh, saleCommittedData{
		Party:       party,
		CompanyCode: code,
		TxID:        string(txID),
		Recipients:  recipients,
	})
}

// TransactionRecorded notifies a party's subscriber of the holdings a
// recorded transaction gave it. Fire-and-forget.
func (s *WebhookService) TransactionRecorded(party string, stx *ledger.SignedTransaction, owned []ledger.StateAndRef) {
	wh := s.store.GetByPartyEvent(party, domain.EventHoldingReceived)
	if wh == nil {
		return
	}
	var holdings []holdingData
	for _, sr := range owned {
		h := sr.State.Holding
		if h == nil {
			continue
		}
		holdings = append(holdings, holdingData{
			Ref:      sr.Ref.String(),
			Token:    h.Token.TokenType.String(),
			Issuer:   h.Token.Issuer.Name,
			Quantity: domain.FromMinorUnits(h.Quantity, h.Token.TokenType.FractionDigits).String(),
		})
	}
	if len(holdings) == 0 {
		return
	}
	s.dispatch(wh, holdingReceivedData{Party: party, TxID: string(stx.ID()), Holdings: holdings})
}

// Wait blocks until every in-flight delivery has finished.
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

func (s *WebhookService) dispatch(wh *domain.Webhook, data any) {
	payload := eventPayload{
		Event:     wh.Event,
		Timestamp: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      data,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(wh, payload)
	}()
}

// deliver sends the webhook payload via HTTP POST with the required headers.
// Failures are logged, never returned.
func (s *WebhookService) deliver(wh *domain.Webhook, payload eventPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("encoding webhook payload", slog.String("webhook_id", wh.WebhookID), slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("building webhook request", slog.String("webhook_id", wh.WebhookID), slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", wh.Event)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed", slog.String("webhook_id", wh.WebhookID), slog.String("error", err.Error()))
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.logger.Warn("webhook rejected",
			slog.String("webhook_id", wh.WebhookID),
			slog.Int("status", resp.StatusCode),
		)
	}
}
