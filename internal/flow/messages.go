package flow

import (
	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
)

// PriceNotification tells a buyer what it owes for its part of a sale and
// what it will receive.
type PriceNotification struct {
	Amount        int64                  `json:"amount"`
	Currency      domain.TokenType       `json:"currency"`
	PayTo         domain.PublicKey       `json:"pay_to"`
	Stock         domain.IssuedTokenType `json:"stock"`
	StockQuantity int64                  `json:"stock_quantity"`
}

// PaymentProposal is a buyer's answer to a PriceNotification: the currency
// holdings it will spend, the transactions that produced them and the
// payment and change outputs.
type PaymentProposal struct {
	Inputs       []ledger.StateAndRef        `json:"inputs"`
	Dependencies []*ledger.SignedTransaction `json:"dependencies"`
	Outputs      []ledger.TransactionState   `json:"outputs"`
	Commands     []ledger.Command            `json:"commands"`
}

// SignatureRequest carries a partially signed transaction and everything
// needed to resolve its inputs and references.
type SignatureRequest struct {
	Tx           *ledger.SignedTransaction   `json:"tx"`
	Dependencies []*ledger.SignedTransaction `json:"dependencies"`
}

// SignatureResponse holds a counterparty's signatures.
type SignatureResponse struct {
	Signatures []ledger.TransactionSignature `json:"signatures"`
}

// FinalityMessage delivers a committed transaction. Observers record every
// output, participants only the relevant ones.
type FinalityMessage struct {
	Tx           *ledger.SignedTransaction   `json:"tx"`
	Dependencies []*ledger.SignedTransaction `json:"dependencies"`
	Observer     bool                        `json:"observer"`
}

// FinalityAck confirms a FinalityMessage was recorded.
type FinalityAck struct {
	TxID ledger.SecureHash `json:"tx_id"`
}

// NotariseRequest asks the notary to commit a transaction's inputs.
type NotariseRequest struct {
	Tx           *ledger.SignedTransaction   `json:"tx"`
	Dependencies []*ledger.SignedTransaction `json:"dependencies"`
}

// NotariseResponse carries either the notary's signature or the conflict
// that made it refuse.
type NotariseResponse struct {
	Signature *ledger.TransactionSignature `json:"signature,omitempty"`
	Conflict  *domain.ConflictError        `json:"conflict,omitempty"`
}

// DistributionUpdate asks a token's maintainer to add parties to the
// token's distribution list.
type DistributionUpdate struct {
	LinearID domain.LinearID `json:"linear_id"`
	Parties  []string        `json:"parties"`
}

// DistributionAck confirms a DistributionUpdate.
type DistributionAck struct{}
