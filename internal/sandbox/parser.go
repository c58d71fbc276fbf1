package sandbox

import "fmt"

const (
	// maxCodeBytes bounds submitted code before it is even lexed.
	maxCodeBytes = 64 * 1024
	// maxNestDepth bounds expression and block nesting so parsing itself
	// stays cheap on adversarial input.
	maxNestDepth = 32
)

// parser is a recursive-descent parser for the transform language.
// Statements are newline-terminated; newlines are insignificant inside
// parentheses, list literals and record literals.
type parser struct {
	toks  []token
	i     int
	group int // > 0 while inside (), [] or a record literal
	depth int
}

func parse(code string) (*program, error) {
	if len(code) > maxCodeBytes {
		return nil, &Error{Kind: KindGrammar, Message: fmt.Sprintf("code exceeds %d bytes", maxCodeBytes)}
	}
	lx := newLexer(code)
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tokEOF {
			break
		}
	}
	p := &parser{toks: toks}
	prog := &program{}
	p.skipNewlines()
	for p.cur().kind != tokEOF {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		prog.stmts = append(prog.stmts, s)
		if err := p.endOfStmt(); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

func (p *parser) cur() token {
	if p.group > 0 {
		for p.toks[p.i].kind == tokNewline {
			p.i++
		}
	}
	return p.toks[p.i]
}

func (p *parser) advance() token {
	t := p.cur()
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) skipNewlines() {
	for p.toks[p.i].kind == tokNewline {
		p.i++
	}
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	t := p.cur()
	if t.kind != k {
		return token{}, grammarErrAt(t.pos, fmt.Sprintf("expected %s, found %s", what, t.describe()))
	}
	return p.advance(), nil
}

func (p *parser) endOfStmt() error {
	t := p.cur()
	switch t.kind {
	case tokNewline:
		p.skipNewlines()
		return nil
	case tokEOF, tokRBrace:
		return nil
	}
	return grammarErrAt(t.pos, fmt.Sprintf("unexpected %s after statement", t.describe()))
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxNestDepth {
		return grammarErrAt(p.cur().pos, "code is nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// --- statements ---

func (p *parser) parseStmt() (stmt, error) {
	t := p.cur()
	switch t.kind {
	case tokIf:
		return p.parseIf()
	case tokFor:
		return p.parseFor()
	}

	x, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind == tokAssign {
		eq := p.advance()
		switch x.(type) {
		case *identExpr, *fieldExpr, *indexExpr:
		default:
			return nil, grammarErrAt(eq.pos, "left side of = must be a variable, field or index")
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &assignStmt{target: x, value: v, pos: t.pos}, nil
	}
	return &exprStmt{x: x, pos: t.pos}, nil
}

func (p *parser) parseIf() (stmt, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	kw := p.advance() // if
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	s := &ifStmt{cond: cond, then: then, pos: kw.pos}
	if p.cur().kind == tokElse {
		p.advance()
		if p.cur().kind == tokIf {
			alt, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			s.alt = []stmt{alt}
			return s, nil
		}
		alt, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		s.alt = alt
	}
	return s, nil
}

func (p *parser) parseFor() (stmt, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	kw := p.advance() // for
	name, err := p.expect(tokIdent, "loop variable")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokIn, `"in"`); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &forStmt{loopVar: name.text, iter: iter, body: body, pos: kw.pos}, nil
}

func (p *parser) parseBlock() ([]stmt, error) {
	if _, err := p.expect(tokLBrace, `"{"`); err != nil {
		return nil, err
	}
	p.skipNewlines()
	var stmts []stmt
	for p.cur().kind != tokRBrace {
		if p.cur().kind == tokEOF {
			return nil, grammarErrAt(p.cur().pos, `missing "}"`)
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		if err := p.endOfStmt(); err != nil {
			return nil, err
		}
	}
	p.advance() // }
	return stmts, nil
}

// --- expressions, by precedence ---

func (p *parser) parseExpr() (expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

func (p *parser) parseOr() (expr, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOr {
		op := p.advance()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &binaryExpr{op: tokOr, lhs: lhs, rhs: rhs, pos: op.pos}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (expr, error) {
	lhs, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokAnd {
		op := p.advance()
		rhs, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		lhs = &binaryExpr{op: tokAnd, lhs: lhs, rhs: rhs, pos: op.pos}
	}
	return lhs, nil
}

func (p *parser) parseCompare() (expr, error) {
	lhs, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	switch k := p.cur().kind; k {
	case tokEq, tokNeq, tokLt, tokLte, tokGt, tokGte:
		op := p.advance()
		rhs, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		return &binaryExpr{op: k, lhs: lhs, rhs: rhs, pos: op.pos}, nil
	}
	return lhs, nil
}

func (p *parser) parseAdd() (expr, error) {
	lhs, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for {
		k := p.cur().kind
		if k != tokPlus && k != tokMinus {
			return lhs, nil
		}
		op := p.advance()
		rhs, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		lhs = &binaryExpr{op: k, lhs: lhs, rhs: rhs, pos: op.pos}
	}
}

func (p *parser) parseMul() (expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		k := p.cur().kind
		if k != tokStar && k != tokSlash && k != tokPercent {
			return lhs, nil
		}
		op := p.advance()
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = &binaryExpr{op: k, lhs: lhs, rhs: rhs, pos: op.pos}
	}
}

func (p *parser) parseUnary() (expr, error) {
	t := p.cur()
	if t.kind == tokMinus || t.kind == tokBang {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: t.kind, x: x, pos: t.pos}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokDot:
			p.advance()
			name, err := p.expect(tokIdent, "field name")
			if err != nil {
				return nil, err
			}
			x = &fieldExpr{base: x, field: name.text, pos: name.pos}
		case tokLBracket:
			open := p.advance()
			p.group++
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRBracket, `"]"`); err != nil {
				return nil, err
			}
			p.group--
			x = &indexExpr{base: x, index: idx, pos: open.pos}
		case tokLParen:
			open := p.advance()
			p.group++
			var args []expr
			for p.cur().kind != tokRParen {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.cur().kind == tokComma {
					p.advance()
					continue
				}
				break
			}
			if _, err := p.expect(tokRParen, `")"`); err != nil {
				return nil, err
			}
			p.group--
			switch x.(type) {
			case *identExpr, *fieldExpr:
			default:
				return nil, grammarErrAt(open.pos, "only named helper functions can be called")
			}
			x = &callExpr{fn: x, args: args, pos: open.pos}
		default:
			return x, nil
		}
	}
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber:
		p.advance()
		return &numberLit{val: t.num, pos: t.pos}, nil
	case tokString:
		p.advance()
		return &stringLit{val: t.text, pos: t.pos}, nil
	case tokTrue:
		p.advance()
		return &boolLit{val: true, pos: t.pos}, nil
	case tokFalse:
		p.advance()
		return &boolLit{val: false, pos: t.pos}, nil
	case tokNull:
		p.advance()
		return &nullLit{pos: t.pos}, nil
	case tokIdent:
		p.advance()
		return &identExpr{name: t.text, pos: t.pos}, nil
	case tokLParen:
		p.advance()
		p.group++
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, `")"`); err != nil {
			return nil, err
		}
		p.group--
		return x, nil
	case tokLBracket:
		return p.parseListLit()
	case tokLBrace:
		return p.parseRecordLit()
	}
	return nil, grammarErrAt(t.pos, fmt.Sprintf("unexpected %s", t.describe()))
}

func (p *parser) parseListLit() (expr, error) {
	open := p.advance() // [
	p.group++
	lit := &listLit{pos: open.pos}
	for p.cur().kind != tokRBracket {
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.elems = append(lit.elems, x)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBracket, `"]"`); err != nil {
		return nil, err
	}
	p.group--
	return lit, nil
}

func (p *parser) parseRecordLit() (expr, error) {
	open := p.advance() // {
	p.group++
	lit := &recordLit{pos: open.pos}
	for p.cur().kind != tokRBrace {
		key := p.cur()
		if key.kind != tokIdent && key.kind != tokString {
			return nil, grammarErrAt(key.pos, fmt.Sprintf("expected field name, found %s", key.describe()))
		}
		p.advance()
		if _, err := p.expect(tokColon, `":"`); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.keys = append(lit.keys, key.text)
		lit.vals = append(lit.vals, v)
		if p.cur().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBrace, `"}"`); err != nil {
		return nil, err
	}
	p.group--
	return lit, nil
}
