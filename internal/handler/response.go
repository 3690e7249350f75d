package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/efreitasn/stockshares/internal/ledger"
)

// errInvalidBody is the single message clients see for any body that
// cannot be decoded, whatever the cause.
var errInvalidBody = errors.New("Request body must be valid JSON with Content-Type: application/json")

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// transactionResponse reports a committed transaction.
type transactionResponse struct {
	TxID string `json:"tx_id"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // the client may be gone; nothing to do
}

// WriteError writes {"error": errorCode, "message": message}.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// WriteTransaction answers a ledger mutation with 201 and the id of the
// transaction it committed.
func WriteTransaction(w http.ResponseWriter, txID ledger.SecureHash) {
	WriteJSON(w, http.StatusCreated, transactionResponse{TxID: string(txID)})
}

// ParseJSON decodes exactly one JSON object from an application/json body
// into v. Unknown fields and trailing data are rejected.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		return errInvalidBody
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errInvalidBody
	}
	if dec.More() {
		return errInvalidBody
	}
	return nil
}

// decodeRequest parses the body into v, answering 400 invalid_request
// when it cannot. It reports whether the handler should go on.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := ParseJSON(r, v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}
