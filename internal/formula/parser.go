package formula

import (
	"github.com/shopspring/decimal"
)

// parser is a recursive-descent parser over the token stream:
//
//	expr    := term (('+'|'-') term)*
//	term    := unary (('*'|'/') unary)*
//	unary   := ('+'|'-') unary | primary
//	primary := NUMBER | 'x' | '(' expr ')'
type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parse() (node, error) {
	if p.peek().kind == tokEOF {
		return nil, newPosError(p.src, 0, "formula is empty")
	}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, newPosError(p.src, t.pos, "unexpected %s", t.kind)
	}
	return n, nil
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPlus && t.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.kind, left: left, right: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokStar && t.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.kind, left: left, right: right}
	}
}

func (p *parser) unary() (node, error) {
	t := p.peek()
	if t.kind == tokPlus || t.kind == tokMinus {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryNode{negate: t.kind == tokMinus, operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := decimal.NewFromString(t.text)
		if err != nil {
			return nil, newPosError(p.src, t.pos, "malformed number %q", t.text)
		}
		return numberNode{value: v}, nil
	case tokVar:
		return variableNode{}, nil
	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, newPosError(p.src, closing.pos, "expected ')' but found %s", closing.kind)
		}
		return inner, nil
	default:
		return nil, newPosError(p.src, t.pos, "unexpected %s", t.kind)
	}
}
