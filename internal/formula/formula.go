// Package formula parses and evaluates single-variable pricing formulas.
//
// A formula is an arithmetic expression over the reference price x using
// + - * / and parentheses. Evaluation is done with decimal arithmetic and
// the result is rounded half away from zero to cents.
package formula

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// resultPlaces is the number of decimal places a computed price is rounded to
const resultPlaces = 2

// Formula is a parsed pricing expression. It is immutable and safe for
// concurrent use.
type Formula struct {
	source string
	root   node
}

// Parse parses text into a Formula. The whole text must be one expression.
func Parse(text string) (*Formula, error) {
	src := strings.TrimSpace(text)
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Formula{source: src, root: root}, nil
}

// LoadFile reads and parses the formula stored in path.
func LoadFile(path string) (*Formula, error) {
	// #nosec G304 - path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read formula file %s: %w", path, err)
	}
	f, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse formula file %s: %w", path, err)
	}
	return f, nil
}

// String returns the formula source text
func (f *Formula) String() string {
	return f.source
}

// Evaluate computes the formula for the reference price x.
func (f *Formula) Evaluate(x decimal.Decimal) (decimal.Decimal, error) {
	v, err := f.root.eval(x)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Round(resultPlaces), nil
}
