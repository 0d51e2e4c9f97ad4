package formula

import (
	"github.com/shopspring/decimal"
)

// node is one element of a parsed expression tree.
type node interface {
	eval(x decimal.Decimal) (decimal.Decimal, error)
	// rational expands the expression into numerator and denominator
	// polynomials in x
	rational() (num, den poly)
	// bounds encloses the values taken for x in the given interval
	bounds(x interval) interval
}

type numberNode struct {
	value decimal.Decimal
}

func (n numberNode) eval(decimal.Decimal) (decimal.Decimal, error) {
	return n.value, nil
}

type variableNode struct{}

func (variableNode) eval(x decimal.Decimal) (decimal.Decimal, error) {
	return x, nil
}

type unaryNode struct {
	negate  bool
	operand node
}

func (n unaryNode) eval(x decimal.Decimal) (decimal.Decimal, error) {
	v, err := n.operand.eval(x)
	if err != nil {
		return decimal.Zero, err
	}
	if n.negate {
		return v.Neg(), nil
	}
	return v, nil
}

type binaryNode struct {
	op          tokenKind
	left, right node
}

func (n binaryNode) eval(x decimal.Decimal) (decimal.Decimal, error) {
	l, err := n.left.eval(x)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(x)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case tokPlus:
		return l.Add(r), nil
	case tokMinus:
		return l.Sub(r), nil
	case tokStar:
		return l.Mul(r), nil
	case tokSlash:
		// decimal.Div panics on a zero divisor
		if r.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return l.Div(r), nil
	}
	return decimal.Zero, nil
}

func (n numberNode) rational() (poly, poly) {
	return constPoly(n.value), onePoly
}

func (n numberNode) bounds(interval) interval {
	return interval{lo: n.value, hi: n.value}
}

func (variableNode) rational() (poly, poly) {
	return xPoly, onePoly
}

func (variableNode) bounds(in interval) interval {
	return in
}

func (n unaryNode) rational() (poly, poly) {
	num, den := n.operand.rational()
	if n.negate {
		return num.neg(), den
	}
	return num, den
}

func (n unaryNode) bounds(in interval) interval {
	v := n.operand.bounds(in)
	if n.negate {
		return v.neg()
	}
	return v
}

func (n binaryNode) rational() (poly, poly) {
	ln, ld := n.left.rational()
	rn, rd := n.right.rational()
	switch n.op {
	case tokPlus:
		return ln.mul(rd).add(rn.mul(ld)), ld.mul(rd)
	case tokMinus:
		return ln.mul(rd).sub(rn.mul(ld)), ld.mul(rd)
	case tokStar:
		return ln.mul(rn), ld.mul(rd)
	case tokSlash:
		return ln.mul(rd), ld.mul(rn)
	}
	return nil, onePoly
}

func (n binaryNode) bounds(in interval) interval {
	l := n.left.bounds(in)
	r := n.right.bounds(in)
	switch n.op {
	case tokPlus:
		return l.add(r)
	case tokMinus:
		return l.sub(r)
	case tokStar:
		return l.mul(r)
	case tokSlash:
		return l.div(r)
	}
	return unbounded
}
