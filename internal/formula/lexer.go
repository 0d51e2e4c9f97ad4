package formula

import (
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokVar
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokNumber:
		return "number"
	case tokVar:
		return "x"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	default:
		return "unknown"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// tokenize splits src into tokens. Anything outside the supported grammar
// is rejected here so the parser only ever sees known tokens.
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '+':
			tokens = append(tokens, token{kind: tokPlus, text: "+", pos: i})
			i++
		case c == '-':
			tokens = append(tokens, token{kind: tokMinus, text: "-", pos: i})
			i++
		case c == '*':
			if i+1 < len(src) && src[i+1] == '*' {
				return nil, newPosError(src, i, "operator ** is not supported")
			}
			tokens = append(tokens, token{kind: tokStar, text: "*", pos: i})
			i++
		case c == '/':
			if i+1 < len(src) && src[i+1] == '/' {
				return nil, newPosError(src, i, "operator // is not supported")
			}
			tokens = append(tokens, token{kind: tokSlash, text: "/", pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case isDigit(c) || c == '.':
			start := i
			dots := 0
			digits := 0
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				if src[i] == '.' {
					dots++
				} else {
					digits++
				}
				i++
			}
			if dots > 1 || digits == 0 {
				return nil, newPosError(src, start, "malformed number %q", src[start:i])
			}
			if i < len(src) && isIdentChar(rune(src[i])) {
				return nil, newPosError(src, i, "unexpected character %q after number", src[i])
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[start:i], pos: start})
		case isIdentChar(rune(c)):
			start := i
			for i < len(src) && (isIdentChar(rune(src[i])) || isDigit(src[i])) {
				i++
			}
			ident := src[start:i]
			if ident != "x" {
				return nil, newPosError(src, start, "unknown identifier %q (only x is allowed)", ident)
			}
			tokens = append(tokens, token{kind: tokVar, text: ident, pos: start})
		default:
			return nil, newPosError(src, i, "unsupported character %q", rune(c))
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || r >= 0x80
}
