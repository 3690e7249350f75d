package ledger

import (
	"sort"

	"github.com/efreitasn/stockshares/internal/domain"
)

// TransactionBuilder accumulates the pieces of a transaction. It is not
// safe for concurrent use; flows that gather pieces in parallel join them
// before adding.
type TransactionBuilder struct {
	notary   domain.Party
	inputs   []StateAndRef
	refs     []StateAndRef
	outputs  []TransactionState
	commands []Command
}

// NewTransactionBuilder starts a transaction for the given notary.
func NewTransactionBuilder(notary domain.Party) *TransactionBuilder {
	return &TransactionBuilder{notary: notary}
}

// AddInputState adds a state to be consumed.
func (b *TransactionBuilder) AddInputState(s StateAndRef) *TransactionBuilder {
	for _, in := range b.inputs {
		if in.Ref == s.Ref {
			return b
		}
	}
	b.inputs = append(b.inputs, s)
	return b
}

// AddReferenceState adds a state that is read but not consumed.
func (b *TransactionBuilder) AddReferenceState(s StateAndRef) *TransactionBuilder {
	for _, r := range b.refs {
		if r.Ref == s.Ref {
			return b
		}
	}
	b.refs = append(b.refs, s)
	return b
}

// AddOutputState adds a state to be created.
func (b *TransactionBuilder) AddOutputState(s TransactionState) *TransactionBuilder {
	b.outputs = append(b.outputs, s)
	return b
}

// AddCommand adds a command. A command for a group that already has one
// is merged into it, with the signer sets unioned.
func (b *TransactionBuilder) AddCommand(c Command) *TransactionBuilder {
	for i := range b.commands {
		if b.commands[i].sameGroup(c) {
			b.commands[i].Signers = unionKeys(b.commands[i].Signers, c.Signers)
			return b
		}
	}
	c.Signers = unionKeys(nil, c.Signers)
	b.commands = append(b.commands, c)
	return b
}

// Inputs returns the input states added so far.
func (b *TransactionBuilder) Inputs() []StateAndRef {
	return append([]StateAndRef(nil), b.inputs...)
}

// Outputs returns the output states added so far.
func (b *TransactionBuilder) Outputs() []TransactionState {
	return append([]TransactionState(nil), b.outputs...)
}

// ToWireTransaction freezes the builder's content.
func (b *TransactionBuilder) ToWireTransaction() WireTransaction {
	w := WireTransaction{
		Inputs:     make([]StateRef, 0, len(b.inputs)),
		References: make([]StateRef, 0, len(b.refs)),
		Outputs:    append([]TransactionState{}, b.outputs...),
		Commands:   append([]Command{}, b.commands...),
		Notary:     b.notary,
	}
	for _, in := range b.inputs {
		w.Inputs = append(w.Inputs, in.Ref)
	}
	for _, r := range b.refs {
		w.References = append(w.References, r.Ref)
	}
	return w
}

func unionKeys(a, b []domain.PublicKey) []domain.PublicKey {
	seen := make(map[domain.PublicKey]bool, len(a)+len(b))
	out := make([]domain.PublicKey, 0, len(a)+len(b))
	for _, k := range append(append([]domain.PublicKey{}, a...), b...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
