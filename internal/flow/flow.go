// Package flow implements the multi-party procedures a node runs: issuing
// currency and stock, evolving stock tokens and selling stock, together
// with the responders its counterparties run.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/network"
	"github.com/efreitasn/stockshares/internal/node"
)

// Flow names, used to route sessions to responders.
const (
	FlowIssueCurrency          = "IssueCurrency"
	FlowIssueStock             = "IssueStock"
	FlowUpdateStock            = "UpdateStock"
	FlowSellStock              = "SellStock"
	FlowNotarise               = "Notarise"
	FlowUpdateDistributionList = "UpdateDistributionList"
)

// Flows runs flows on behalf of one node.
type Flows struct {
	node    *node.Node
	metrics *Metrics
	dist    *DistributionList
}

// New creates the flows of n and registers its responders.
func New(n *node.Node, metrics *Metrics) *Flows {
	if metrics == nil {
		metrics = NopMetrics()
	}
	f := &Flows{node: n, metrics: metrics, dist: NewDistributionList()}

	n.RegisterResponder(FlowIssueCurrency, f.receiveFinality)
	n.RegisterResponder(FlowIssueStock, f.receiveFinality)
	n.RegisterResponder(FlowUpdateStock, f.receiveFinality)
	n.RegisterResponder(FlowSellStock, f.respondSell)
	n.RegisterResponder(FlowUpdateDistributionList, f.respondDistributionUpdate)
	if n.Uniqueness != nil {
		n.RegisterResponder(FlowNotarise, f.respondNotarise)
	}
	return f
}

// Node returns the node the flows run on.
func (f *Flows) Node() *node.Node {
	return f.node
}

// DistributionList returns the parties the node, as maintainer, keeps
// informed of each token's new versions.
func (f *Flows) DistributionList() *DistributionList {
	return f.dist
}

func (f *Flows) runLogger(flow string, runID uuid.UUID) *slog.Logger {
	return f.node.Logger.With("flow", flow, "run_id", runID.String())
}

// dependencies returns the locally stored transactions that produced the
// inputs and references of stx.
func (f *Flows) dependencies(stx *ledger.SignedTransaction) ([]*ledger.SignedTransaction, error) {
	seen := make(map[ledger.SecureHash]bool)
	var out []*ledger.SignedTransaction
	refs := append(append([]ledger.StateRef{}, stx.Tx.Inputs...), stx.Tx.References...)
	for _, ref := range refs {
		if seen[ref.TxID] {
			continue
		}
		seen[ref.TxID] = true
		dep, err := f.node.Txs.Get(ref.TxID)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", ref.TxID, err)
		}
		out = append(out, dep)
	}
	return out, nil
}

// resolveDependencies checks the signatures of transactions received from
// a counterparty and stores them so their outputs can be resolved.
func (f *Flows) resolveDependencies(deps []*ledger.SignedTransaction) error {
	for _, dep := range deps {
		if dep == nil {
			continue
		}
		if err := dep.VerifySignatures(); err != nil {
			return fmt.Errorf("dependency %s: %w", dep.ID(), err)
		}
		if _, err := f.node.Txs.Get(dep.ID()); err == nil {
			continue
		}
		f.node.Txs.Add(dep)
	}
	return nil
}

func mergeDependencies(sets ...[]*ledger.SignedTransaction) []*ledger.SignedTransaction {
	seen := make(map[ledger.SecureHash]bool)
	var out []*ledger.SignedTransaction
	for _, set := range sets {
		for _, dep := range set {
			id := dep.ID()
			if !seen[id] {
				seen[id] = true
				out = append(out, dep)
			}
		}
	}
	return out
}

// fail reports err to the counterparty and returns it.
func fail(ctx context.Context, s *network.Session, err error) error {
	_ = s.Fail(ctx, err)
	return err
}
