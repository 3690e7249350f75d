// Package network connects the nodes of a deployment: identity lookup and
// per-flow sessions between parties, with responders run on the
// receiving side.
package network

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/stockshares/internal/domain"
)

// Responder runs the receiving side of a flow for one session.
type Responder func(ctx context.Context, s *Session) error

type responderKey struct {
	party string
	flow  string
}

// Network routes session requests between the parties of one process.
type Network struct {
	identities *IdentityService
	timeout    time.Duration
	logger     *slog.Logger

	mu         sync.RWMutex
	responders map[responderKey]Responder
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Network whose sessions time out receives after timeout.
func New(identities *IdentityService, timeout time.Duration, logger *slog.Logger) *Network {
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		identities: identities,
		timeout:    timeout,
		logger:     logger,
		responders: make(map[responderKey]Responder),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Identities returns the network's identity service.
func (n *Network) Identities() *IdentityService {
	return n.identities
}

// RegisterResponder installs r as party's handler for sessions of flow.
func (n *Network) RegisterResponder(party domain.Party, flow string, r Responder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responders[responderKey{party: party.Name, flow: flow}] = r
}

// Initiate opens a session from one party to another for flow and starts
// the peer's responder in its own goroutine.
func (n *Network) Initiate(ctx context.Context, from, to domain.Party, flow string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := n.identities.Resolve(to.Name); err != nil {
		return nil, err
	}

	n.mu.RLock()
	r, ok := n.responders[responderKey{party: to.Name, flow: flow}]
	closed := n.closed
	if !closed && ok {
		n.wg.Add(1)
	}
	n.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("network is shut down: %w", ErrSessionClosed)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s has no responder for %s", domain.ErrUnknownParty, to.Name, flow)
	}

	toPeer, fromPeer := newPipe(), newPipe()
	local := &Session{flow: flow, local: from, peer: to, in: fromPeer, out: toPeer, timeout: n.timeout}
	remote := &Session{flow: flow, local: to, peer: from, in: toPeer, out: fromPeer, timeout: n.timeout}

	go func() {
		defer n.wg.Done()
		defer remote.Close()

		if err := r(n.ctx, remote); err != nil {
			n.logger.Warn("responder failed",
				"party", to.Name,
				"flow", flow,
				"counterparty", from.Name,
				"error", err,
			)
		}
	}()
	return local, nil
}

// Close stops accepting sessions, cancels running responders and waits
// for them to return.
func (n *Network) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	n.cancel()
	n.wg.Wait()
}

func sortParties(ps []domain.Party) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
}
