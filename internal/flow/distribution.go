package flow

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/network"
)

// DistributionList records, per token, the parties that hold or held it
// and so should receive its new versions. Kept by the token's maintainer.
type DistributionList struct {
	mu      sync.RWMutex
	parties map[domain.LinearID]map[string]struct{}
}

// NewDistributionList creates an empty DistributionList.
func NewDistributionList() *DistributionList {
	return &DistributionList{parties: make(map[domain.LinearID]map[string]struct{})}
}

// Add records parties for token id.
func (d *DistributionList) Add(id domain.LinearID, parties ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.parties[id]
	if !ok {
		set = make(map[string]struct{})
		d.parties[id] = set
	}
	for _, p := range parties {
		set[p] = struct{}{}
	}
}

// Parties returns the parties recorded for id, sorted.
func (d *DistributionList) Parties(id domain.LinearID) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.parties[id]))
	for p := range d.parties[id] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// updateDistributionList tells the maintainer of token about new holders.
func (f *Flows) updateDistributionList(ctx context.Context, token domain.StockShareToken, parties []string) error {
	if token.Maintainer.Key == f.node.Party.Key {
		f.dist.Add(token.LinearID, parties...)
		return nil
	}
	s, err := f.node.Initiate(ctx, token.Maintainer, FlowUpdateDistributionList)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Send(ctx, DistributionUpdate{LinearID: token.LinearID, Parties: parties}); err != nil {
		return err
	}
	var ack DistributionAck
	return s.Receive(ctx, &ack)
}

func (f *Flows) respondDistributionUpdate(ctx context.Context, s *network.Session) error {
	var req DistributionUpdate
	if err := s.Receive(ctx, &req); err != nil {
		return err
	}
	tok, err := f.node.Vault.ResolveToken(ctx, req.LinearID)
	if err != nil {
		return fail(ctx, s, err)
	}
	if tok.State.StockToken.Maintainer.Key != f.node.Party.Key {
		return fail(ctx, s, errors.New("not the maintainer of "+tok.State.StockToken.CompanyCode))
	}
	f.dist.Add(req.LinearID, req.Parties...)
	f.node.Logger.Debug("distribution list updated",
		slog.String("company_code", tok.State.StockToken.CompanyCode),
		slog.Any("parties", req.Parties),
	)
	return s.Send(ctx, DistributionAck{})
}
