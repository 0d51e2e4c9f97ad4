// Package catalog reads variants from and writes prices to the storefront
// catalog through the Admin GraphQL API.
package catalog

import (
	"github.com/shopspring/decimal"
)

const (
	// MaxPageSize is the largest page the products and variants connections accept
	MaxPageSize = 250
	// DefaultPageSize is the default number of products requested per page
	DefaultPageSize = 250
	// DefaultWriteBatchSize is the default number of variants per bulk update
	DefaultWriteBatchSize = 50
	// DefaultWriteWorkers is the default number of bulk updates in flight
	DefaultWriteWorkers = 4
)

// Item is one variant read from the catalog
type Item struct {
	ProductID    string
	VariantID    string
	SKU          string
	CurrentPrice decimal.Decimal
}

// ReadStats describes one pass over the catalog
type ReadStats struct {
	Pages           int
	Products        int
	Variants        int
	SkippedEmptySKU int
}

// PriceUpdate is a price to commit for one variant
type PriceUpdate struct {
	ProductID string
	VariantID string
	SKU       string
	Price     decimal.Decimal
}

// WriteOutcome is the result of committing one PriceUpdate.
// Err is nil when the catalog confirmed the new price.
type WriteOutcome struct {
	Update PriceUpdate
	Err    error
}

// Committed reports whether the update was confirmed
func (o WriteOutcome) Committed() bool {
	return o.Err == nil
}

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

type variantNode struct {
	ID    string          `json:"id"`
	SKU   *string         `json:"sku"`
	Price decimal.Decimal `json:"price"`
}

type variantConnection struct {
	PageInfo pageInfo      `json:"pageInfo"`
	Nodes    []variantNode `json:"nodes"`
}

type productNode struct {
	ID       string            `json:"id"`
	Variants variantConnection `json:"variants"`
}

type productsPage struct {
	Products struct {
		PageInfo pageInfo      `json:"pageInfo"`
		Nodes    []productNode `json:"nodes"`
	} `json:"products"`
}

type productVariantsPage struct {
	Product *struct {
		Variants variantConnection `json:"variants"`
	} `json:"product"`
}

type variantSearch struct {
	ProductVariants struct {
		Nodes []struct {
			ID      string          `json:"id"`
			SKU     *string         `json:"sku"`
			Price   decimal.Decimal `json:"price"`
			Product struct {
				ID string `json:"id"`
			} `json:"product"`
		} `json:"nodes"`
	} `json:"productVariants"`
}
