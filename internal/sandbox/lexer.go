package sandbox

import (
	"fmt"
	"strconv"
	"strings"
)

// lexer turns submitted code into a token stream. It never executes anything
// and rejects characters outside the transform grammar up front.
type lexer struct {
	src  string
	off  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

func (l *lexer) pos() Pos { return Pos{Line: l.line, Col: l.col} }

func (l *lexer) peek() byte {
	if l.off >= len(l.src) {
		return 0
	}
	return l.src[l.off]
}

func (l *lexer) advance() byte {
	c := l.src[l.off]
	l.off++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

// next returns the next token. Comments (# to end of line) are skipped;
// newlines are significant because they terminate statements.
func (l *lexer) next() (token, error) {
	for l.off < len(l.src) {
		c := l.peek()
		if c == ' ' || c == '\t' || c == '\r' {
			l.advance()
			continue
		}
		if c == '#' {
			for l.off < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}

	start := l.pos()
	if l.off >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := l.advance()
	switch {
	case c == '\n':
		return token{kind: tokNewline, text: "\\n", pos: start}, nil
	case isIdentStart(c):
		return l.lexIdent(c, start)
	case c >= '0' && c <= '9':
		return l.lexNumber(c, start)
	case c == '"' || c == '\'':
		return l.lexString(c, start)
	}

	two := func(next byte, k tokenKind, text string) (token, bool) {
		if l.peek() == next {
			l.advance()
			return token{kind: k, text: text, pos: start}, true
		}
		return token{}, false
	}

	switch c {
	case '=':
		if t, ok := two('=', tokEq, "=="); ok {
			return t, nil
		}
		return token{kind: tokAssign, text: "=", pos: start}, nil
	case '!':
		if t, ok := two('=', tokNeq, "!="); ok {
			return t, nil
		}
		return token{kind: tokBang, text: "!", pos: start}, nil
	case '<':
		if t, ok := two('=', tokLte, "<="); ok {
			return t, nil
		}
		return token{kind: tokLt, text: "<", pos: start}, nil
	case '>':
		if t, ok := two('=', tokGte, ">="); ok {
			return t, nil
		}
		return token{kind: tokGt, text: ">", pos: start}, nil
	case '&':
		if t, ok := two('&', tokAnd, "&&"); ok {
			return t, nil
		}
	case '|':
		if t, ok := two('|', tokOr, "||"); ok {
			return t, nil
		}
	case '+':
		return token{kind: tokPlus, text: "+", pos: start}, nil
	case '-':
		return token{kind: tokMinus, text: "-", pos: start}, nil
	case '*':
		return token{kind: tokStar, text: "*", pos: start}, nil
	case '/':
		return token{kind: tokSlash, text: "/", pos: start}, nil
	case '%':
		return token{kind: tokPercent, text: "%", pos: start}, nil
	case '(':
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case ')':
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case '{':
		return token{kind: tokLBrace, text: "{", pos: start}, nil
	case '}':
		return token{kind: tokRBrace, text: "}", pos: start}, nil
	case '[':
		return token{kind: tokLBracket, text: "[", pos: start}, nil
	case ']':
		return token{kind: tokRBracket, text: "]", pos: start}, nil
	case ',':
		return token{kind: tokComma, text: ",", pos: start}, nil
	case '.':
		return token{kind: tokDot, text: ".", pos: start}, nil
	case ':':
		return token{kind: tokColon, text: ":", pos: start}, nil
	}

	return token{}, grammarErrAt(start, fmt.Sprintf("unexpected character %q", string(c)))
}

func (l *lexer) lexIdent(first byte, start Pos) (token, error) {
	var b strings.Builder
	b.WriteByte(first)
	for l.off < len(l.src) && isIdentPart(l.peek()) {
		b.WriteByte(l.advance())
	}
	text := b.String()
	if k, ok := keywords[text]; ok {
		return token{kind: k, text: text, pos: start}, nil
	}
	return token{kind: tokIdent, text: text, pos: start}, nil
}

func (l *lexer) lexNumber(first byte, start Pos) (token, error) {
	var b strings.Builder
	b.WriteByte(first)
	seenDot := false
	for l.off < len(l.src) {
		c := l.peek()
		if c >= '0' && c <= '9' {
			b.WriteByte(l.advance())
			continue
		}
		// A dot is part of the number only when followed by a digit, so
		// record field access after an integer still lexes as tokDot.
		if c == '.' && !seenDot && l.off+1 < len(l.src) && l.src[l.off+1] >= '0' && l.src[l.off+1] <= '9' {
			seenDot = true
			b.WriteByte(l.advance())
			continue
		}
		break
	}
	n, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return token{}, grammarErrAt(start, fmt.Sprintf("invalid number %q", b.String()))
	}
	return token{kind: tokNumber, text: b.String(), num: n, pos: start}, nil
}

func (l *lexer) lexString(quote byte, start Pos) (token, error) {
	var b strings.Builder
	for {
		if l.off >= len(l.src) {
			return token{}, grammarErrAt(start, "unterminated string literal")
		}
		c := l.advance()
		if c == quote {
			break
		}
		if c == '\n' {
			return token{}, grammarErrAt(start, "unterminated string literal")
		}
		if c == '\\' {
			if l.off >= len(l.src) {
				return token{}, grammarErrAt(start, "unterminated string literal")
			}
			esc := l.advance()
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '"', '\'':
				b.WriteByte(esc)
			default:
				return token{}, grammarErrAt(start, fmt.Sprintf("unsupported escape \\%s", string(esc)))
			}
			continue
		}
		b.WriteByte(c)
	}
	return token{kind: tokString, text: b.String(), pos: start}, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
