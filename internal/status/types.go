// Package status defines the per-item and per-run records produced by a
// price synchronization run.
package status

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase represents the current phase of a synchronization run
type Phase string

const (
	// PhaseIdle means no run is in progress
	PhaseIdle Phase = "Idle"

	// PhaseReading means the catalog is being read
	PhaseReading Phase = "Reading"

	// PhaseFetching means reference prices are being fetched from the feed
	PhaseFetching Phase = "Fetching"

	// PhaseComputing means new prices are being computed
	PhaseComputing Phase = "Computing"

	// PhaseWriting means computed prices are being committed to the catalog
	PhaseWriting Phase = "Writing"

	// PhaseSummarizing means the run summary is being finalized and emitted
	PhaseSummarizing Phase = "Summarizing"
)

// RunKind distinguishes full-catalog runs from single-SKU runs
type RunKind string

const (
	// RunKindFull synchronizes every variant in the catalog
	RunKindFull RunKind = "full"

	// RunKindSKU synchronizes the variant matching a single SKU
	RunKindSKU RunKind = "sku"
)

// Trigger records what started a run
type Trigger string

const (
	// TriggerStartup is the run enqueued when the server starts
	TriggerStartup Trigger = "startup"

	// TriggerWebhook is a run requested through the webhook endpoint
	TriggerWebhook Trigger = "webhook"

	// TriggerRequest is a single-SKU run requested through the API
	TriggerRequest Trigger = "request"

	// TriggerCLI is a run started from the command line
	TriggerCLI Trigger = "cli"
)

// Outcome is the classification of one catalog item in a run
type Outcome string

const (
	// OutcomeUpdated means the new price was committed
	OutcomeUpdated Outcome = "updated"

	// OutcomeSkipped means the item was intentionally left unchanged
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means the item could not be priced or written
	OutcomeFailed Outcome = "failed"
)

// UpdateResult is the outcome for one catalog variant
type UpdateResult struct {
	VariantID     string           `json:"variantId"`
	ProductID     string           `json:"productId"`
	OriginalSKU   string           `json:"originalSku"`
	NormalizedSKU string           `json:"normalizedSku"`
	OldPrice      decimal.Decimal  `json:"oldPrice"`
	Outcome       Outcome          `json:"outcome"`
	NewPrice      *decimal.Decimal `json:"newPrice,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// Updated returns a copy of r marked as updated to price
func (r UpdateResult) Updated(price decimal.Decimal) UpdateResult {
	r.Outcome = OutcomeUpdated
	r.NewPrice = &price
	r.Reason = ""
	return r
}

// Skipped returns a copy of r marked as skipped for reason
func (r UpdateResult) Skipped(reason string) UpdateResult {
	r.Outcome = OutcomeSkipped
	r.Reason = reason
	return r
}

// Failed returns a copy of r marked as failed for reason
func (r UpdateResult) Failed(reason string) UpdateResult {
	r.Outcome = OutcomeFailed
	r.Reason = reason
	return r
}

// RunSummary is the audit record of one run
type RunSummary struct {
	RunID      string         `json:"runId"`
	Kind       RunKind        `json:"kind"`
	Trigger    Trigger        `json:"trigger"`
	SKU        string         `json:"sku,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Duration   time.Duration  `json:"durationNs"`
	Updated    int            `json:"updated"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	MissingSKU int            `json:"missingSku"`
	Results    []UpdateResult `json:"results"`
	Error      string         `json:"error,omitempty"`
	Phase      Phase          `json:"phase"`

	// ResultsOmitted marks a stored record whose results were dropped to
	// fit the audit record size limit
	ResultsOmitted bool `json:"resultsOmitted,omitempty"`
}

// Add appends r to the summary and updates the outcome counters
func (s *RunSummary) Add(r UpdateResult) {
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
}

// Succeeded reports whether the run finished without a fatal error
func (s *RunSummary) Succeeded() bool {
	return s.Error == ""
}

// Finish stamps the end time and duration
func (s *RunSummary) Finish(now time.Time) {
	s.FinishedAt = now
	if !s.StartedAt.IsZero() {
		s.Duration = now.Sub(s.StartedAt)
	}
}
