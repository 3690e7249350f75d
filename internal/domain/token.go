package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LinearID is the stable identifier shared by every version of an
// evolvable token.
type LinearID uuid.UUID

// NewLinearID returns a fresh random identifier.
func NewLinearID() LinearID {
	return LinearID(uuid.New())
}

// ParseLinearID validates and parses a textual linear id.
func ParseLinearID(s string) (LinearID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return LinearID{}, fmt.Errorf("invalid linear id %q: %w", s, err)
	}
	return LinearID(u), nil
}

func (id LinearID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is unset.
func (id LinearID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func (id LinearID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *LinearID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = LinearID(u)
	return nil
}

// TokenKind tags what a TokenType refers to.
type TokenKind string

const (
	KindFiat    TokenKind = "fiat"
	KindPointer TokenKind = "pointer"
)

// TokenType identifies a fungible instrument. Fiat currencies are named by
// code; stock shares are a pointer to the linear id of their evolvable
// token so that the token's metadata can evolve without touching holdings.
// TokenType is comparable and safe to use as a map key.
type TokenType struct {
	Kind           TokenKind `json:"kind"`
	Code           string    `json:"code,omitempty"`
	Pointer        LinearID  `json:"pointer"`
	FractionDigits int32     `json:"fraction_digits"`
}

// FiatCurrency returns the token type of a currency.
func FiatCurrency(code string, digits int32) TokenType {
	return TokenType{Kind: KindFiat, Code: code, FractionDigits: digits}
}

// IsPointer reports whether t points at an evolvable token.
func (t TokenType) IsPointer() bool {
	return t.Kind == KindPointer
}

func (t TokenType) String() string {
	if t.IsPointer() {
		return "pointer:" + t.Pointer.String()
	}
	return t.Code
}

// IssuedTokenType is a token type qualified by the party that issued it.
// Amounts of the same type from different issuers are not fungible.
type IssuedTokenType struct {
	Issuer    Party     `json:"issuer"`
	TokenType TokenType `json:"token_type"`
}

func (t IssuedTokenType) String() string {
	return t.TokenType.String() + " issued by " + t.Issuer.Name
}

// Amount is a quantity of an issued token in minor units.
type Amount struct {
	Quantity int64           `json:"quantity"`
	Token    IssuedTokenType `json:"token"`
}

// StockShareToken defines a tradeable stock instrument. It is an evolvable
// token: new versions may be issued by the maintainer but company, company
// code and linear id never change.
type StockShareToken struct {
	Company        string          `json:"company"`
	CompanyCode    string          `json:"company_code"`
	Maintainer     Party           `json:"maintainer"`
	Price          decimal.Decimal `json:"price"`
	LinearID       LinearID        `json:"linear_id"`
	FractionDigits int32           `json:"fraction_digits"`
}

// Maintainers returns the parties allowed to evolve the token.
func (s StockShareToken) Maintainers() []Party {
	return []Party{s.Maintainer}
}

// Pointer returns the token type that holdings of this stock use.
func (s StockShareToken) Pointer() TokenType {
	return TokenType{Kind: KindPointer, Pointer: s.LinearID, FractionDigits: s.FractionDigits}
}

// FungibleToken is a holding: a quantity of an issued token owned by the
// holder key. Holdings are immutable; transfers consume them and create
// new ones.
type FungibleToken struct {
	Token    IssuedTokenType `json:"token"`
	Quantity int64           `json:"quantity"`
	Holder   PublicKey       `json:"holder"`
}

// Amount returns the holding's quantity as an Amount.
func (f FungibleToken) Amount() Amount {
	return Amount{Quantity: f.Quantity, Token: f.Token}
}
