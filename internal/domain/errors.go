package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrHoldingNotFound     = errors.New("holding_not_found")
	ErrAmbiguousHolding    = errors.New("ambiguous_holding")
	ErrTokenNotFound       = errors.New("token_not_found")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrConflict            = errors.New("conflict")
	ErrWebhookNotFound     = errors.New("webhook_not_found")
	ErrUnknownParty        = errors.New("unknown_party")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// InvalidAllocationError is returned when a sale's recipient split cannot
// be turned into allocations: empty list, non-positive quantity or
// percentages that do not add up to 100.
type InvalidAllocationError struct {
	Reason string
}

func (e *InvalidAllocationError) Error() string {
	return "invalid allocation: " + e.Reason
}

// IdentityResolutionError is returned when a display name has no known
// mapping in the identity service.
type IdentityResolutionError struct {
	Name string
}

func (e *IdentityResolutionError) Error() string {
	return fmt.Sprintf("couldn't find counterparty for %s in identity service", e.Name)
}

// ConflictError reports states that were already consumed (or claimed) by
// another transaction. It matches ErrConflict under errors.Is.
type ConflictError struct {
	Refs       []string
	ConsumedBy string
}

func (e *ConflictError) Error() string {
	if e.ConsumedBy == "" {
		return fmt.Sprintf("conflict: states %s are already claimed", strings.Join(e.Refs, ", "))
	}
	return fmt.Sprintf("conflict: states %s already consumed by %s", strings.Join(e.Refs, ", "), e.ConsumedBy)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// NegotiationError wraps a failure of one counterparty session during a
// multi-party flow. Stage names the protocol step that failed.
type NegotiationError struct {
	Counterparty string
	Stage        string
	Err          error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed during %s: %v", e.Counterparty, e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// SignatureCollectionError is returned when a required counterparty declines
// to sign, sends an invalid signature or times out.
type SignatureCollectionError struct {
	Counterparty string
	Err          error
}

func (e *SignatureCollectionError) Error() string {
	return fmt.Sprintf("collecting signature from %s: %v", e.Counterparty, e.Err)
}

func (e *SignatureCollectionError) Unwrap() error {
	return e.Err
}

// ContractViolation is a ledger verification failure. Message is the
// contract's own requirement text.
type ContractViolation struct {
	Contract string
	Message  string
}

func (e *ContractViolation) Error() string {
	return e.Contract + ": " + e.Message
}
