package sync

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stacklok/price-sync-server/internal/status"
)

// ConfigurationError lists required settings that are missing
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	missing := append([]string(nil), e.Missing...)
	sort.Strings(missing)
	return "missing required configuration: " + strings.Join(missing, ", ")
}

// FormulaValidationError wraps a formula that failed to parse or validate
type FormulaValidationError struct {
	Err error
}

func (e *FormulaValidationError) Error() string {
	return fmt.Sprintf("formula validation failed: %v", e.Err)
}

func (e *FormulaValidationError) Unwrap() error {
	return e.Err
}

// Error is a fatal run error together with the phase in which it happened
type Error struct {
	Err     error
	Message string
	Phase   status.Phase
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(phase status.Phase, err error, format string, args ...any) *Error {
	return &Error{
		Err:     err,
		Message: fmt.Sprintf(format, args...) + ": " + err.Error(),
		Phase:   phase,
	}
}
