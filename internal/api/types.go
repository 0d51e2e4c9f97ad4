package api

import (
	"time"

	"github.com/stacklok/price-sync-server/internal/status"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	Version           string    `json:"version"`
	RunActive         bool      `json:"run_active"`
	FormulaFileExists *bool     `json:"formula_file_exists,omitempty"`
}

// AcceptedResponse is returned when a run request has been handed to the worker
type AcceptedResponse struct {
	Status string         `json:"status"`
	RunID  string         `json:"run_id"`
	Kind   status.RunKind `json:"kind"`
	SKU    string         `json:"sku,omitempty"`
}

// RejectedResponse is returned when a run request is not accepted
type RejectedResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// LogsResponse lists the most recent run summaries, newest first
type LogsResponse struct {
	Records []status.RunSummary `json:"records"`
	Count   int                 `json:"count"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
}
