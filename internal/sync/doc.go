// Package sync orchestrates price synchronization runs.
//
// A run reads catalog variants, normalizes their SKUs, fetches reference
// prices from the feed, applies the pricing formula and commits the changed
// prices back to the catalog. Every variant read produces exactly one
// status.UpdateResult, in catalog read order.
//
// # Core Interfaces
//
//   - Manager: performs one run and returns its status.RunSummary
//   - CatalogReader, PriceFetcher, CatalogWriter, Pricer: the collaborators a
//     run composes, implemented by the catalog, feed and formula packages
//
// # Phases
//
// A run moves through Idle, Reading, Fetching, Computing, Writing and
// Summarizing, then back to Idle. No phase is skipped; a phase with nothing
// to do completes immediately. A fatal error (an invalid formula, a catalog
// page that cannot be read, cancellation) jumps straight to Summarizing and
// the summary records the phase that failed.
//
// # Coordinator Package
//
// The sync/coordinator subpackage owns the single worker goroutine that
// executes runs and rejects new requests while one is in progress.
//
// # Reasons
//
// Skipped and failed results carry one of the Reason constants, or one of
// the Reason*Prefix constants followed by the underlying message.
package sync
