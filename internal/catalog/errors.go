package catalog

import (
	"fmt"
	"strings"
)

// ReadError reports a catalog page that could not be read. A run that sees
// one must not treat the catalog as complete.
type ReadError struct {
	Cursor string
	Err    error
}

func (e *ReadError) Error() string {
	if e.Cursor == "" {
		return fmt.Sprintf("catalog read failed on first page: %v", e.Err)
	}
	return fmt.Sprintf("catalog read failed after cursor %s: %v", e.Cursor, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// GraphQLError is a non-empty errors array in a GraphQL response
type GraphQLError struct {
	Messages  []string
	Throttled bool
}

func (e *GraphQLError) Error() string {
	if e.Throttled {
		return "graphql request throttled: " + strings.Join(e.Messages, "; ")
	}
	return "graphql errors: " + strings.Join(e.Messages, "; ")
}

// RejectedError is a userErrors entry returned by a price mutation
type RejectedError struct {
	Field   []string
	Message string
}

func (e *RejectedError) Error() string {
	if len(e.Field) == 0 {
		return e.Message
	}
	return strings.Join(e.Field, ".") + ": " + e.Message
}
