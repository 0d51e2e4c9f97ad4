package common

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}

// QueryLimit parses the "limit" query parameter. A missing value yields def;
// values above maxLimit are clamped. Non-numeric or non-positive values are an error.
func QueryLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	return min(n, maxLimit), nil
}
