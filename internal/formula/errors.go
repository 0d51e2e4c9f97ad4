package formula

import (
	"errors"
	"fmt"
)

// ErrDivisionByZero is returned by Evaluate when a divisor evaluates to zero.
var ErrDivisionByZero = errors.New("division by zero")

// ValidationError reports a formula that cannot be used for pricing.
// Pos is the zero-based byte offset of the offending token, or -1 when the
// error is not tied to a position.
type ValidationError struct {
	Formula string
	Pos     int
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("invalid formula %q at position %d: %s", e.Formula, e.Pos, e.Message)
	}
	return fmt.Sprintf("invalid formula %q: %s", e.Formula, e.Message)
}

func newPosError(src string, pos int, format string, args ...any) *ValidationError {
	return &ValidationError{Formula: src, Pos: pos, Message: fmt.Sprintf(format, args...)}
}
