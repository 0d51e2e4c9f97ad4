// Package sku converts storefront catalog SKUs into the pricing feed's SKU format.
package sku

import "strings"

// Normalize returns the feed SKU for a catalog SKU.
// Everything up to and including the first hyphen is stripped; SKUs without
// a hyphen are returned unchanged.
func Normalize(catalogSKU string) string {
	_, rest, found := strings.Cut(catalogSKU, "-")
	if !found {
		return catalogSKU
	}
	return rest
}

// Queryable reports whether a normalized SKU can be sent to the feed.
func Queryable(normalized string) bool {
	return strings.TrimSpace(normalized) != ""
}
