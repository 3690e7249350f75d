package ledger

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/efreitasn/stockshares/internal/domain"
)

// CommandType is the intent a transaction declares for a group of states.
type CommandType string

const (
	CmdCreateToken CommandType = "token.create"
	CmdUpdateToken CommandType = "token.update"
	CmdIssue       CommandType = "fungible.issue"
	CmdMove        CommandType = "fungible.move"
)

// Command carries an intent and the keys that must sign for it. Fungible
// commands are scoped to one issued token type.
type Command struct {
	Type    CommandType             `json:"type"`
	Token   *domain.IssuedTokenType `json:"token,omitempty"`
	Signers []domain.PublicKey      `json:"signers"`
}

func (c Command) sameGroup(o Command) bool {
	if c.Type != o.Type {
		return false
	}
	if c.Token == nil || o.Token == nil {
		return c.Token == nil && o.Token == nil
	}
	return *c.Token == *o.Token
}

// WireTransaction is the unsigned content of a transaction. Its id is the
// SHA-256 of its JSON encoding, which is deterministic for these types.
type WireTransaction struct {
	Inputs     []StateRef         `json:"inputs"`
	References []StateRef         `json:"references"`
	Outputs    []TransactionState `json:"outputs"`
	Commands   []Command          `json:"commands"`
	Notary     domain.Party       `json:"notary"`
}

// ID computes the transaction id.
func (w WireTransaction) ID() SecureHash {
	b, err := json.Marshal(w)
	if err != nil {
		// Every field is a plain value type; Marshal cannot fail.
		panic(fmt.Sprintf("encoding wire transaction: %v", err))
	}
	sum := sha256.Sum256(b)
	return SecureHash(hex.EncodeToString(sum[:]))
}

// OutRef returns the ref of output i.
func (w WireTransaction) OutRef(i int) StateAndRef {
	return StateAndRef{State: w.Outputs[i], Ref: StateRef{TxID: w.ID(), Index: i}}
}

// RequiredSigningKeys returns the union of command signers, sorted. The
// notary key is not included.
func (w WireTransaction) RequiredSigningKeys() []domain.PublicKey {
	seen := make(map[domain.PublicKey]bool)
	var keys []domain.PublicKey
	for _, c := range w.Commands {
		for _, k := range c.Signers {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// NeedsNotary reports whether the transaction consumes states and so must
// pass the notary's uniqueness check.
func (w WireTransaction) NeedsNotary() bool {
	return len(w.Inputs) > 0
}

// TransactionSignature is an ed25519 signature over a transaction id.
type TransactionSignature struct {
	By    domain.PublicKey `json:"by"`
	Bytes []byte           `json:"bytes"`
}

// Verify checks the signature against id.
func (s TransactionSignature) Verify(id SecureHash) error {
	pub, err := s.By.Ed25519()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, []byte(id), s.Bytes) {
		return fmt.Errorf("invalid signature by %s", s.By.Short())
	}
	return nil
}

// SignedTransaction is a wire transaction plus the signatures gathered so
// far.
type SignedTransaction struct {
	Tx   WireTransaction        `json:"tx"`
	Sigs []TransactionSignature `json:"sigs"`
}

// ID returns the id of the underlying transaction.
func (s *SignedTransaction) ID() SecureHash {
	return s.Tx.ID()
}

// WithSignatures returns a copy with sigs appended. Signatures by keys that
// already signed are dropped.
func (s *SignedTransaction) WithSignatures(sigs ...TransactionSignature) *SignedTransaction {
	out := &SignedTransaction{Tx: s.Tx, Sigs: append([]TransactionSignature(nil), s.Sigs...)}
	have := make(map[domain.PublicKey]bool, len(out.Sigs))
	for _, sig := range out.Sigs {
		have[sig.By] = true
	}
	for _, sig := range sigs {
		if have[sig.By] {
			continue
		}
		have[sig.By] = true
		out.Sigs = append(out.Sigs, sig)
	}
	return out
}

// SignedBy reports whether key has signed.
func (s *SignedTransaction) SignedBy(key domain.PublicKey) bool {
	for _, sig := range s.Sigs {
		if sig.By == key {
			return true
		}
	}
	return false
}

// MissingSigners returns required keys that have not signed yet.
func (s *SignedTransaction) MissingSigners() []domain.PublicKey {
	var missing []domain.PublicKey
	for _, k := range s.Tx.RequiredSigningKeys() {
		if !s.SignedBy(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// ErrMissingSignatures is returned by VerifySignatures when required
// signers have not signed.
var ErrMissingSignatures = errors.New("missing_signatures")

// VerifySignatures checks every attached signature and that all required
// keys, other than those in allowedMissing, have signed. When the
// transaction needs a notary, the notary's signature is required unless
// its key is allowed to be missing.
func (s *SignedTransaction) VerifySignatures(allowedMissing ...domain.PublicKey) error {
	id := s.ID()
	for _, sig := range s.Sigs {
		if err := sig.Verify(id); err != nil {
			return err
		}
	}

	allowed := make(map[domain.PublicKey]bool, len(allowedMissing))
	for _, k := range allowedMissing {
		allowed[k] = true
	}
	required := s.Tx.RequiredSigningKeys()
	if s.Tx.NeedsNotary() {
		required = append(required, s.Tx.Notary.Key)
	}
	var missing []string
	for _, k := range required {
		if !allowed[k] && !s.SignedBy(k) {
			missing = append(missing, k.Short())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingSignatures, missing)
	}
	return nil
}

// LedgerTransaction is a wire transaction with its input and reference
// states resolved. Contracts verify ledger transactions.
type LedgerTransaction struct {
	ID         SecureHash
	Inputs     []StateAndRef
	References []StateAndRef
	Outputs    []TransactionState
	Commands   []Command
	Notary     domain.Party
}

// Resolver looks up the state a ref points at.
type Resolver interface {
	ResolveState(ref StateRef) (TransactionState, error)
}

// ToLedgerTransaction resolves the transaction's inputs and references.
func (w WireTransaction) ToLedgerTransaction(r Resolver) (*LedgerTransaction, error) {
	resolve := func(refs []StateRef) ([]StateAndRef, error) {
		out := make([]StateAndRef, 0, len(refs))
		for _, ref := range refs {
			st, err := r.ResolveState(ref)
			if err != nil {
				return nil, fmt.Errorf("resolving %s: %w", ref, err)
			}
			out = append(out, StateAndRef{State: st, Ref: ref})
		}
		return out, nil
	}
	inputs, err := resolve(w.Inputs)
	if err != nil {
		return nil, err
	}
	refs, err := resolve(w.References)
	if err != nil {
		return nil, err
	}
	return &LedgerTransaction{
		ID:         w.ID(),
		Inputs:     inputs,
		References: refs,
		Outputs:    w.Outputs,
		Commands:   w.Commands,
		Notary:     w.Notary,
	}, nil
}

// InputTokens returns the stock token states among the inputs.
func (l *LedgerTransaction) InputTokens() []domain.StockShareToken {
	var out []domain.StockShareToken
	for _, in := range l.Inputs {
		if in.State.StockToken != nil {
			out = append(out, *in.State.StockToken)
		}
	}
	return out
}

// OutputTokens returns the stock token states among the outputs.
func (l *LedgerTransaction) OutputTokens() []domain.StockShareToken {
	var out []domain.StockShareToken
	for _, o := range l.Outputs {
		if o.StockToken != nil {
			out = append(out, *o.StockToken)
		}
	}
	return out
}

// CommandsOfType returns the commands with type t.
func (l *LedgerTransaction) CommandsOfType(t CommandType) []Command {
	var out []Command
	for _, c := range l.Commands {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}
