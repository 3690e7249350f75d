package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/stockshares/internal/domain"
	"github.com/efreitasn/stockshares/internal/ledger"
	"github.com/efreitasn/stockshares/internal/service"
)

// StockHandler handles HTTP requests for the ledger endpoints of a node.
type StockHandler struct {
	stockSvc *service.StockService
}

// NewStockHandler creates a new StockHandler.
func NewStockHandler(stockSvc *service.StockService) *StockHandler {
	return &StockHandler{stockSvc: stockSvc}
}

// issueCurrencyRequest is the JSON request body for POST /nodes/{party}/currency.
type issueCurrencyRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// issueStockRequest is the JSON request body for POST /nodes/{party}/stocks.
type issueStockRequest struct {
	Company     string `json:"company"`
	CompanyCode string `json:"company_code"`
	Price       string `json:"price"`
	Quantity    int64  `json:"quantity"`
	Recipient   string `json:"recipient"`
}

// updateStockRequest is the JSON request body for PUT /nodes/{party}/stocks/{code}.
type updateStockRequest struct {
	Price string `json:"price"`
}

// sellStockRequest is the JSON request body for POST /nodes/{party}/stocks/{code}/sell.
type sellStockRequest struct {
	Recipients []service.SaleRecipient `json:"recipients"`
}

type holdingResponse struct {
	Ref         string          `json:"ref"`
	Token       string          `json:"token"`
	CompanyCode *string         `json:"company_code"`
	Issuer      string          `json:"issuer"`
	Quantity    decimal.Decimal `json:"quantity"`
	Holder      string          `json:"holder"`
}

type holdingsResponse struct {
	Party    string            `json:"party"`
	Holdings []holdingResponse `json:"holdings"`
}

type tokenResponse struct {
	LinearID       string          `json:"linear_id"`
	Company        string          `json:"company"`
	CompanyCode    string          `json:"company_code"`
	Price          decimal.Decimal `json:"price"`
	Maintainer     string          `json:"maintainer"`
	FractionDigits int32           `json:"fraction_digits"`
}

type tokensResponse struct {
	Party  string          `json:"party"`
	Tokens []tokenResponse `json:"tokens"`
}

// IssueCurrency handles POST /nodes/{party}/currency.
func (h *StockHandler) IssueCurrency(w http.ResponseWriter, r *http.Request) {
	var req issueCurrencyRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	txID, err := h.stockSvc.IssueCurrency(r.Context(), chi.URLParam(r, "party"), service.IssueCurrencyRequest{
		Amount:    req.Amount,
		Recipient: req.Recipient,
	})
	writeTransaction(w, txID, err)
}

// IssueStock handles POST /nodes/{party}/stocks.
func (h *StockHandler) IssueStock(w http.ResponseWriter, r *http.Request) {
	var req issueStockRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	txID, err := h.stockSvc.IssueStock(r.Context(), chi.URLParam(r, "party"), service.IssueStockRequest{
		Company:     req.Company,
		CompanyCode: req.CompanyCode,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Recipient:   req.Recipient,
	})
	writeTransaction(w, txID, err)
}

// UpdateStock handles PUT /nodes/{party}/stocks/{code}.
func (h *StockHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req updateStockRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	txID, err := h.stockSvc.UpdateStock(r.Context(), chi.URLParam(r, "party"), service.UpdateStockRequest{
		CompanyCode: chi.URLParam(r, "code"),
		Price:       req.Price,
	})
	writeTransaction(w, txID, err)
}

// SellStock handles POST /nodes/{party}/stocks/{code}/sell.
func (h *StockHandler) SellStock(w http.ResponseWriter, r *http.Request) {
	var req sellStockRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	txID, err := h.stockSvc.SellStock(r.Context(), chi.URLParam(r, "party"), service.SellStockRequest{
		CompanyCode: chi.URLParam(r, "code"),
		Recipients:  req.Recipients,
	})
	writeTransaction(w, txID, err)
}

// Holdings handles GET /nodes/{party}/holdings.
func (h *StockHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	party := chi.URLParam(r, "party")

	holdings, err := h.stockSvc.Holdings(r.Context(), party)
	if err != nil {
		mapStockError(w, err)
		return
	}

	resp := holdingsResponse{Party: party, Holdings: make([]holdingResponse, len(holdings))}
	for i, hv := range holdings {
		resp.Holdings[i] = holdingResponse{
			Ref:      hv.Ref,
			Token:    hv.Token,
			Issuer:   hv.Issuer,
			Quantity: hv.Quantity,
			Holder:   string(hv.Holder),
		}
		if hv.CompanyCode != "" {
			code := hv.CompanyCode
			resp.Holdings[i].CompanyCode = &code
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Tokens handles GET /nodes/{party}/tokens.
func (h *StockHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	party := chi.URLParam(r, "party")

	tokens, err := h.stockSvc.Tokens(r.Context(), party)
	if err != nil {
		mapStockError(w, err)
		return
	}

	resp := tokensResponse{Party: party, Tokens: make([]tokenResponse, len(tokens))}
	for i, t := range tokens {
		resp.Tokens[i] = tokenResponse{
			LinearID:       t.LinearID,
			Company:        t.Company,
			CompanyCode:    t.CompanyCode,
			Price:          t.Price,
			Maintainer:     t.Maintainer,
			FractionDigits: t.FractionDigits,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func writeTransaction(w http.ResponseWriter, txID ledger.SecureHash, err error) {
	if err != nil {
		mapStockError(w, err)
		return
	}
	WriteTransaction(w, txID)
}

// mapStockError maps domain errors to HTTP responses for ledger endpoints.
func mapStockError(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		allocationErr *domain.InvalidAllocationError
		identityErr   *domain.IdentityResolutionError
		contractErr   *domain.ContractViolation
		negotiateErr  *domain.NegotiationError
		signatureErr  *domain.SignatureCollectionError
	)

	switch {
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
	case errors.As(err, &allocationErr):
		WriteError(w, http.StatusBadRequest, "invalid_allocation", allocationErr.Reason)
	case errors.As(err, &identityErr):
		WriteError(w, http.StatusBadRequest, "unknown_counterparty", identityErr.Error())
	case errors.As(err, &contractErr):
		WriteError(w, http.StatusBadRequest, "contract_violation", contractErr.Error())
	case errors.Is(err, domain.ErrUnknownParty):
		WriteError(w, http.StatusNotFound, "unknown_party", err.Error())
	case errors.Is(err, domain.ErrHoldingNotFound):
		WriteError(w, http.StatusNotFound, "holding_not_found", err.Error())
	case errors.Is(err, domain.ErrTokenNotFound):
		WriteError(w, http.StatusNotFound, "token_not_found", err.Error())
	case errors.Is(err, domain.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrAmbiguousHolding):
		WriteError(w, http.StatusConflict, "ambiguous_holding", err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		WriteError(w, http.StatusConflict, "insufficient_balance", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case errors.As(err, &negotiateErr), errors.As(err, &signatureErr):
		WriteError(w, http.StatusBadGateway, "counterparty_failed", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
