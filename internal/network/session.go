package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/efreitasn/stockshares/internal/domain"
)

var (
	// ErrSessionClosed is returned when the peer, or the local side, has
	// closed the session.
	ErrSessionClosed = errors.New("session_closed")
	// ErrSessionTimeout is returned when a message does not arrive within
	// the session timeout.
	ErrSessionTimeout = errors.New("session_timeout")
)

// PeerError is a failure reported by the counterparty through Session.Fail.
type PeerError struct {
	Party   string
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Party, e.Message)
}

type envelope struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// pipe is one direction of a session.
type pipe struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipe() *pipe {
	const buffer = 16
	return &pipe{msgs: make(chan []byte, buffer), closed: make(chan struct{})}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.closed) })
}

// Session is an ordered, point-to-point channel between two parties for
// one flow run. Messages are JSON-encoded, so the peers share no memory.
// A Session is not safe for concurrent use by multiple goroutines.
type Session struct {
	flow    string
	local   domain.Party
	peer    domain.Party
	in      *pipe
	out     *pipe
	timeout time.Duration
}

// Counterparty returns the party on the other end.
func (s *Session) Counterparty() domain.Party {
	return s.peer
}

// Flow returns the name of the flow the session was opened for.
func (s *Session) Flow() string {
	return s.flow
}

// Send encodes v and delivers it to the peer.
func (s *Session) Send(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", s.peer.Name, err)
	}
	return s.send(ctx, envelope{Payload: payload})
}

// Fail reports err to the peer, whose next Receive returns a *PeerError.
// The session stays open.
func (s *Session) Fail(ctx context.Context, err error) error {
	return s.send(ctx, envelope{Error: err.Error()})
}

func (s *Session) send(ctx context.Context, env envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-s.out.closed:
		return ErrSessionClosed
	case <-s.in.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out.msgs <- b:
		return nil
	case <-s.out.closed:
		return ErrSessionClosed
	case <-s.in.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next message and decodes it into v. Messages
// already delivered are returned even if the peer has since closed.
func (s *Session) Receive(ctx context.Context, v any) error {
	select {
	case b := <-s.in.msgs:
		return s.decode(b, v)
	default:
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case b := <-s.in.msgs:
		return s.decode(b, v)
	case <-s.in.closed:
		select {
		case b := <-s.in.msgs:
			return s.decode(b, v)
		default:
			return ErrSessionClosed
		}
	case <-s.out.closed:
		return ErrSessionClosed
	case <-timer.C:
		return fmt.Errorf("%w: no message from %s after %s", ErrSessionTimeout, s.peer.Name, s.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) decode(b []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decoding envelope from %s: %w", s.peer.Name, err)
	}
	if env.Error != "" {
		return &PeerError{Party: s.peer.Name, Message: env.Error}
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("unexpected message from %s: %w", s.peer.Name, err)
	}
	return nil
}

// Close ends the local side. The peer's pending and future receives
// return ErrSessionClosed once buffered messages are drained. Close is
// idempotent.
func (s *Session) Close() {
	s.out.close()
}
