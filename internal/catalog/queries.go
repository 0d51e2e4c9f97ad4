package catalog

const productsQuery = `query Products($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id
      variants(first: 250) {
        pageInfo { hasNextPage endCursor }
        nodes { id sku price }
      }
    }
  }
}`

const productVariantsQuery = `query ProductVariants($id: ID!, $after: String) {
  product(id: $id) {
    variants(first: 250, after: $after) {
      pageInfo { hasNextPage endCursor }
      nodes { id sku price }
    }
  }
}`

const variantBySKUQuery = `query VariantBySKU($query: String!) {
  productVariants(first: 10, query: $query) {
    nodes { id sku price product { id } }
  }
}`

const bulkUpdateMutation = `mutation UpdateVariantPrices($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkUpdate(productId: $productId, variants: $variants) {
    productVariants { id price }
    userErrors { field message }
  }
}`
