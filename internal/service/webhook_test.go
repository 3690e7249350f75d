package service

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/store"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func hostsOnly(parties ...string) func(string) bool {
	return func(p string) bool {
		for _, q := range parties {
			if p == q {
				return true
			}
		}
		return false
	}
}

func newTestWebhookService() *WebhookService {
	return NewWebhookService(store.NewWebhookStore(), hostsOnly("partyA"), 5*time.Second, discardLogger)
}

// capture is an https endpoint recording every delivery.
type capture struct {
	mu       sync.Mutex
	payloads []map[string]any
	headers  []http.Header
	server   *httptest.Server
}

func newCapture(t *testing.T, status int) *capture {
	t.Helper()
	c := &capture{}
	c.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		c.mu.Lock()
		c.payloads = append(c.payloads, payload)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(c.server.Close)
	return c
}

func (c *capture) service(ws *store.WebhookStore) *WebhookService {
	return &WebhookService{
		store:  ws,
		hosted: hostsOnly("partyA"),
		client: c.server.Client(),
		logger: discardLogger,
	}
}

// --- Upsert tests ---

func TestUpsert_Success_NewSubscriptions(t *testing.T) {
	svc := newTestWebhookService()

	webhooks, created, err := svc.Upsert(UpsertWebhookRequest{
		Party:  "partyA",
		URL:    "https://example.com/hooks",
		Events: []string{"sale.committed", "holding.received"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true for new subscriptions")
	}
	if len(webhooks) != 2 {
		t.Fatalf("got %d webhooks, want 2", len(webhooks))
	}
	if webhooks[0].Event != "sale.committed" || webhooks[1].Event != "holding.received" {
		t.Errorf("got events %q, %q", webhooks[0].Event, webhooks[1].Event)
	}
}

func TestUpsert_UpdateAndIdempotent(t *testing.T) {
	svc := newTestWebhookService()

	first, _, err := svc.Upsert(UpsertWebhookRequest{Party: "partyA", URL: "https://example.com/a", Events: []string{"sale.committed"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, created, err := svc.Upsert(UpsertWebhookRequest{Party: "partyA", URL: "https://example.com/b", Events: []string{"sale.committed", "sale.committed"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected created=false when updating")
	}
	if len(again) != 1 {
		t.Fatalf("got %d webhooks, want 1 after deduplication", len(again))
	}
	if again[0].WebhookID != first[0].WebhookID {
		t.Errorf("webhook id changed from %s to %s", first[0].WebhookID, again[0].WebhookID)
	}
	if again[0].URL != "https://example.com/b" {
		t.Errorf("got URL %q, want updated URL", again[0].URL)
	}
}

func TestUpsert_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		req     UpsertWebhookRequest
		wantMsg string
	}{
		{"empty url", UpsertWebhookRequest{Party: "partyA", Events: []string{"sale.committed"}}, "url is required"},
		{"http scheme", UpsertWebhookRequest{Party: "partyA", URL: "http://example.com", Events: []string{"sale.committed"}}, "url must use https scheme"},
		{"relative url", UpsertWebhookRequest{Party: "partyA", URL: "/hooks", Events: []string{"sale.committed"}}, "url must be a valid absolute URL"},
		{"too long", UpsertWebhookRequest{Party: "partyA", URL: "https://example.com/" + strings.Repeat("a", 2048), Events: []string{"sale.committed"}}, "url must be at most 2048 characters"},
		{"no events", UpsertWebhookRequest{Party: "partyA", URL: "https://example.com"}, "events must be a non-empty array"},
		{"unknown event", UpsertWebhookRequest{Party: "partyA", URL: "https://example.com", Events: []string{"trade.executed"}}, "Unknown event type: trade.executed. Must be one of: sale.committed, holding.received"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newTestWebhookService().Upsert(tt.req)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("got %v, want ValidationError", err)
			}
			if verr.Message != tt.wantMsg {
				t.Errorf("got message %q, want %q", verr.Message, tt.wantMsg)
			}
		})
	}
}

func TestUpsert_UnknownParty(t *testing.T) {
	_, _, err := newTestWebhookService().Upsert(UpsertWebhookRequest{
		Party:  "partyZ",
		URL:    "https://example.com",
		Events: []string{"sale.committed"},
	})
	if !errors.Is(err, domain.ErrUnknownParty) {
		t.Fatalf("got %v, want ErrUnknownParty", err)
	}
	if _, err := newTestWebhookService().List("partyZ"); !errors.Is(err, domain.ErrUnknownParty) {
		t.Fatalf("List: got %v, want ErrUnknownParty", err)
	}
}

func TestListAndDelete(t *testing.T) {
	svc := newTestWebhookService()
	webhooks, _, err := svc.Upsert(UpsertWebhookRequest{Party: "partyA", URL: "https://example.com", Events: []string{"sale.committed"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	list, err := svc.List("partyA")
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v; want one webhook", list, err)
	}
	if err := svc.Delete("partyA", webhooks[0].WebhookID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Delete("partyA", webhooks[0].WebhookID); !errors.Is(err, domain.ErrWebhookNotFound) {
		t.Fatalf("got %v, want ErrWebhookNotFound", err)
	}
}

// --- Dispatch tests ---

func TestDispatchSaleCommitted_SendsCorrectPayload(t *testing.T) {
	c := newCapture(t, http.StatusOK)
	ws := store.NewWebhookStore()
	svc := c.service(ws)
	ws.Upsert(&domain.Webhook{
		WebhookID: "wh-1",
		Party:     "partyA",
		Event:     domain.EventSaleCommitted,
		URL:       c.server.URL + "/hooks",
	})

	svc.DispatchSaleCommitted("partyA", "MSFT", []SaleRecipient{{Party: "partyB", Percentage: "30"}}, "abc")
	svc.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) != 1 {
		t.Fatalf("got %d requests, want 1", len(c.payloads))
	}
	payload := c.payloads[0]
	if payload["event"] != "sale.committed" {
		t.Errorf("got event %v, want sale.committed", payload["event"])
	}
	data := payload["data"].(map[string]any)
	if data["company_code"] != "MSFT" || data["tx_id"] != "abc" || data["party"] != "partyA" {
		t.Errorf("unexpected data %v", data)
	}

	h := c.headers[0]
	if h.Get("X-Webhook-Id") != "wh-1" {
		t.Errorf("got X-Webhook-Id %q, want wh-1", h.Get("X-Webhook-Id"))
	}
	if h.Get("X-Event-Type") != "sale.committed" {
		t.Errorf("got X-Event-Type %q", h.Get("X-Event-Type"))
	}
	if h.Get("X-Delivery-Id") == "" {
		t.Error("expected X-Delivery-Id header to be set")
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("got Content-Type %q", h.Get("Content-Type"))
	}
}

func TestTransactionRecorded_ReportsOwnedHoldings(t *testing.T) {
	c := newCapture(t, http.StatusOK)
	ws := store.NewWebhookStore()
	svc := c.service(ws)
	ws.Upsert(&domain.Webhook{
		WebhookID: "wh-2",
		Party:     "partyA",
		Event:     domain.EventHoldingReceived,
		URL:       c.server.URL,
	})

	token := domain.IssuedTokenType{Issuer: domain.Party{Name: "Bank"}, TokenType: domain.FiatCurrency("GBP", 2)}
	stx := &ledger.SignedTransaction{Tx: ledger.WireTransaction{
		Outputs: []ledger.TransactionState{
			ledger.HoldingState(domain.FungibleToken{Token: token, Quantity: 12345, Holder: "k"}, domain.Party{}),
		},
	}}
	svc.TransactionRecorded("partyA", stx, []ledger.StateAndRef{stx.Tx.OutRef(0)})
	svc.TransactionRecorded("partyA", stx, nil)
	svc.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) != 1 {
		t.Fatalf("got %d requests, want 1", len(c.payloads))
	}
	data := c.payloads[0]["data"].(map[string]any)
	holdings := data["holdings"].([]any)
	if len(holdings) != 1 {
		t.Fatalf("got %d holdings, want 1", len(holdings))
	}
	h := holdings[0].(map[string]any)
	if h["quantity"] != "123.45" || h["token"] != "GBP" || h["issuer"] != "Bank" {
		t.Errorf("unexpected holding %v", h)
	}
}

func TestDispatch_NoSubscription_NoRequest(t *testing.T) {
	c := newCapture(t, http.StatusOK)
	svc := c.service(store.NewWebhookStore())

	svc.DispatchSaleCommitted("partyA", "MSFT", nil, "abc")
	svc.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.payloads) != 0 {
		t.Errorf("got %d requests, want 0 (no subscriptions)", len(c.payloads))
	}
}

func TestDispatch_ServerError_Logged(t *testing.T) {
	c := newCapture(t, http.StatusInternalServerError)
	ws := store.NewWebhookStore()
	svc := c.service(ws)
	ws.Upsert(&domain.Webhook{WebhookID: "wh-err", Party: "partyA", Event: domain.EventSaleCommitted, URL: c.server.URL})

	// Should not panic or return error: fire-and-forget.
	svc.DispatchSaleCommitted("partyA", "MSFT", nil, "abc")
	svc.Wait()
}
