package formula

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/shopspring/decimal"
)

// DefaultTierThreshold is the reference price below which the low-price
// formula applies.
var DefaultTierThreshold = decimal.NewFromInt(5)

// Pricer selects between the base formula and an optional low-price formula.
type Pricer struct {
	base      *Formula
	low       *Formula
	threshold decimal.Decimal
}

// PricerOption configures a Pricer
type PricerOption func(*Pricer)

// WithLowPriceFormula sets the formula used for reference prices strictly
// below threshold.
func WithLowPriceFormula(f *Formula, threshold decimal.Decimal) PricerOption {
	return func(p *Pricer) {
		p.low = f
		p.threshold = threshold
	}
}

// NewPricer creates a Pricer around the base formula.
func NewPricer(base *Formula, opts ...PricerOption) *Pricer {
	p := &Pricer{base: base, threshold: DefaultTierThreshold}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadPricer loads the base formula from basePath and, if lowPath names an
// existing file, the low-price formula. A missing low-price file is not an
// error.
func LoadPricer(basePath, lowPath string, threshold decimal.Decimal) (*Pricer, error) {
	base, err := LoadFile(basePath)
	if err != nil {
		return nil, err
	}
	if lowPath == "" {
		return NewPricer(base), nil
	}
	low, err := LoadFile(lowPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewPricer(base), nil
		}
		return nil, err
	}
	return NewPricer(base, WithLowPriceFormula(low, threshold)), nil
}

// Price computes the catalog price for reference price x.
func (p *Pricer) Price(x decimal.Decimal) (decimal.Decimal, error) {
	return p.formulaFor(x).Evaluate(x)
}

// Validate validates every configured formula.
func (p *Pricer) Validate() error {
	if p.base == nil {
		return &ValidationError{Pos: -1, Message: "no base formula configured"}
	}
	if err := p.base.Validate(); err != nil {
		return fmt.Errorf("base formula: %w", err)
	}
	if p.low != nil {
		if err := p.low.Validate(); err != nil {
			return fmt.Errorf("low-price formula: %w", err)
		}
	}
	return nil
}

// Tiered reports whether a low-price formula is configured
func (p *Pricer) Tiered() bool {
	return p.low != nil
}

// Describe returns a short human-readable description of the configured formulas
func (p *Pricer) Describe() string {
	if p.low == nil {
		return p.base.String()
	}
	return fmt.Sprintf("%s (x < %s: %s)", p.base, p.threshold, p.low)
}

func (p *Pricer) formulaFor(x decimal.Decimal) *Formula {
	if p.low != nil && x.LessThan(p.threshold) {
		return p.low
	}
	return p.base
}
