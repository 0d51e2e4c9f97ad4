package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// maxBoxes bounds the interval search of one Validate call
	maxBoxes = 1 << 14
	// reportPlaces is the precision of interval ends in error messages
	reportPlaces = 6
)

var (
	two  = decimal.NewFromInt(2)
	half = decimal.New(5, -1)

	// negativeCent is the largest value that rounds to a negative price
	negativeCent = decimal.New(-5, -3)

	// minWidth stops the search around points it cannot decide, such as a
	// divisor that vanishes
	minWidth = decimal.New(1, -9)
)

// Validate rejects a formula that can produce a negative price for a
// non-negative reference price.
//
// The expression is expanded to P(x)/Q(x). A product P*Q without negative
// coefficients proves the formula. Otherwise the sign can only change below
// the root bound of P*Q, and that range is bisected with interval
// arithmetic until every piece is shown non-negative after rounding or a
// negative price is found. A formula the search cannot decide within its
// budget is rejected.
func (f *Formula) Validate() error {
	num, den := f.root.rational()
	if den.isZero() {
		return f.invalid("divides by zero for every x")
	}

	r := num.mul(den)
	if r.nonNegative() {
		return nil
	}

	bound := r.rootBound()
	if !r.lead().IsNegative() {
		return f.search(bound)
	}

	// P*Q stays negative above bound
	for x, i := bound, 0; i < 64; x, i = x.Mul(two), i+1 {
		if err := f.witness(x); err != nil {
			return err
		}
	}
	if err := f.search(bound); err != nil {
		return err
	}
	return f.invalid("tends to a negative price for x above %s", bound)
}

// search bisects [0, bound] until every piece is proven or a negative
// price is found
func (f *Formula) search(bound decimal.Decimal) error {
	for _, x := range []decimal.Decimal{decimal.Zero, bound} {
		if err := f.witness(x); err != nil {
			return err
		}
	}

	queue := []interval{{lo: decimal.Zero, hi: bound}}
	for boxes := 0; len(queue) > 0; boxes++ {
		box := queue[0]
		queue = queue[1:]
		if boxes == maxBoxes {
			return f.unproven(box)
		}

		v := f.root.bounds(box)
		if !v.open && v.lo.GreaterThan(negativeCent) {
			continue
		}

		mid := box.lo.Add(box.hi).Mul(half)
		if err := f.witness(mid); err != nil {
			return err
		}
		if box.hi.Sub(box.lo).LessThan(minWidth) {
			return f.unproven(box)
		}
		queue = append(queue, interval{lo: box.lo, hi: mid}, interval{lo: mid, hi: box.hi})
	}
	return nil
}

// witness fails when the formula prices x below zero. Division by zero at
// a single point is left to per-item evaluation.
func (f *Formula) witness(x decimal.Decimal) error {
	v, err := f.Evaluate(x)
	if err != nil || !v.IsNegative() {
		return nil
	}
	return f.invalid("evaluates to negative price %s for x=%s", v.StringFixed(resultPlaces), x)
}

func (f *Formula) unproven(box interval) error {
	return f.invalid("cannot be shown non-negative for x between %s and %s",
		box.lo.Round(reportPlaces), box.hi.Round(reportPlaces))
}

func (f *Formula) invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Formula: f.source, Pos: -1, Message: fmt.Sprintf(format, args...)}
}

// poly holds polynomial coefficients, lowest degree first, with no trailing
// zeros. The zero polynomial is empty.
type poly []decimal.Decimal

var (
	onePoly = poly{decimal.NewFromInt(1)}
	xPoly   = poly{decimal.Zero, decimal.NewFromInt(1)}
)

func constPoly(v decimal.Decimal) poly {
	return poly{v}.trim()
}

func (p poly) trim() poly {
	for len(p) > 0 && p[len(p)-1].IsZero() {
		p = p[:len(p)-1]
	}
	return p
}

func (p poly) isZero() bool {
	return len(p) == 0
}

func (p poly) lead() decimal.Decimal {
	if len(p) == 0 {
		return decimal.Zero
	}
	return p[len(p)-1]
}

func (p poly) nonNegative() bool {
	for _, c := range p {
		if c.IsNegative() {
			return false
		}
	}
	return true
}

func (p poly) neg() poly {
	out := make(poly, len(p))
	for i, c := range p {
		out[i] = c.Neg()
	}
	return out
}

func (p poly) add(q poly) poly {
	out := make(poly, max(len(p), len(q)))
	for i := range out {
		out[i] = decimal.Zero
		if i < len(p) {
			out[i] = out[i].Add(p[i])
		}
		if i < len(q) {
			out[i] = out[i].Add(q[i])
		}
	}
	return out.trim()
}

func (p poly) sub(q poly) poly {
	return p.add(q.neg())
}

func (p poly) mul(q poly) poly {
	if p.isZero() || q.isZero() {
		return nil
	}
	out := make(poly, len(p)+len(q)-1)
	for i := range out {
		out[i] = decimal.Zero
	}
	for i, a := range p {
		for j, b := range q {
			out[i+j] = out[i+j].Add(a.Mul(b))
		}
	}
	return out.trim()
}

// rootBound returns an integer above every real root, from Cauchy's bound
// 1 + max|a_i/a_n|
func (p poly) rootBound() decimal.Decimal {
	n := len(p) - 1
	if n < 0 {
		return two
	}
	lead := p[n].Abs()
	m := decimal.Zero
	for _, c := range p[:n] {
		if q := c.Abs().Div(lead); q.GreaterThan(m) {
			m = q
		}
	}
	return m.Add(two).Ceil()
}

// interval is a closed range of values. An open interval is unbounded.
type interval struct {
	lo, hi decimal.Decimal
	open   bool
}

var unbounded = interval{open: true}

func (a interval) neg() interval {
	if a.open {
		return unbounded
	}
	return interval{lo: a.hi.Neg(), hi: a.lo.Neg()}
}

func (a interval) add(b interval) interval {
	if a.open || b.open {
		return unbounded
	}
	return interval{lo: a.lo.Add(b.lo), hi: a.hi.Add(b.hi)}
}

func (a interval) sub(b interval) interval {
	return a.add(b.neg())
}

func (a interval) mul(b interval) interval {
	if a.open || b.open {
		return unbounded
	}
	return span(a.lo.Mul(b.lo), a.lo.Mul(b.hi), a.hi.Mul(b.lo), a.hi.Mul(b.hi))
}

func (a interval) div(b interval) interval {
	if a.open || b.open || !b.lo.IsPositive() && !b.hi.IsNegative() {
		return unbounded
	}
	return span(a.lo.Div(b.lo), a.lo.Div(b.hi), a.hi.Div(b.lo), a.hi.Div(b.hi))
}

func span(v decimal.Decimal, rest ...decimal.Decimal) interval {
	out := interval{lo: v, hi: v}
	for _, r := range rest {
		out.lo = decimal.Min(out.lo, r)
		out.hi = decimal.Max(out.hi, r)
	}
	return out
}
