package api

import (
	"encoding/json"
	"net/http"

	lederrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondServiceError maps a categorized error to its HTTP representation.
// Unknown errors become opaque 500s so storage details never leak.
func respondServiceError(w http.ResponseWriter, err error) {
	if catErr := lederrors.Categorize(err); catErr != nil {
		svcErr := catErr.ToServiceError()
		respondError(w, lederrors.GetHTTPStatusCode(catErr), svcErr.Code, svcErr.Message, svcErr.Details)
		return
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred", nil)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses a JSON request body, rejecting unknown fields.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
