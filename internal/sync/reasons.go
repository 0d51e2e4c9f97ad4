package sync

// Per-item reason constants recorded in UpdateResult.Reason
const (
	// Skipped reasons
	ReasonNoExternalPrice    = "no-external-price"
	ReasonEmptyNormalizedSKU = "empty-normalized-sku"
	ReasonPriceUnchanged     = "price-unchanged"

	// Failed reasons
	ReasonNonPositivePrice = "non-positive-computed-price"
	ReasonDivisionByZero   = "formula-error: division by zero"
	ReasonSKUNotFound      = "sku-not-found"

	// Failed reason prefixes, followed by the underlying message
	ReasonFormulaErrorPrefix  = "formula-error: "
	ReasonWriteRejectedPrefix = "write-rejected: "
	ReasonWriteFailedPrefix   = "write-failed: "
)
