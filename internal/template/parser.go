package template

import (
	"fmt"
	"slices"
)

type node interface{ isNode() }

type (
	literal  struct{ val string }
	varRef   struct{ name string }
	fieldRef struct {
		name string
		raw  bool
	}
	call struct {
		name string
		args []node
	}
	assign struct {
		name string
		val  node
	}
	ifNode struct {
		conds  []node
		bodies []block
		els    block
	}
	forNode struct {
		name string
		list node
		sep  node
		body block
	}
	binary struct {
		op   string
		l, r node
	}
	unary struct {
		op string
		x  node
	}
	// block evaluates to the value of its last expression.
	block []node
)

func (literal) isNode()  {}
func (varRef) isNode()   {}
func (fieldRef) isNode() {}
func (call) isNode()     {}
func (assign) isNode()   {}
func (ifNode) isNode()   {}
func (forNode) isNode()  {}
func (binary) isNode()   {}
func (unary) isNode()    {}
func (block) isNode()    {}

type parser struct {
	toks []token
	pos  int
}

func parseProgram(src string) (block, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	b, err := p.block()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s at position %d", t, t.pos)
	}
	return b, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(text string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == text
}

func (p *parser) isKeyword(words ...string) bool {
	t := p.peek()
	return t.kind == tokKeyword && slices.Contains(words, t.text)
}

func (p *parser) expectOp(text string) error {
	if !p.isOp(text) {
		t := p.peek()
		return fmt.Errorf("expected %q, found %s at position %d", text, t, t.pos)
	}
	p.next()
	return nil
}

func (p *parser) expectKeyword(word string) error {
	if !p.isKeyword(word) {
		t := p.peek()
		return fmt.Errorf("expected %q, found %s at position %d", word, t, t.pos)
	}
	p.next()
	return nil
}

// block parses expressions separated by ';' up to a closing keyword, a
// closing parenthesis or the end.
func (p *parser) block() (block, error) {
	var b block
	for {
		t := p.peek()
		if t.kind == tokEOF || p.isOp(")") || p.isKeyword("then", "elif", "else", "fi", "rof") {
			return b, nil
		}
		if p.isOp(";") {
			p.next()
			continue
		}
		n, err := p.top()
		if err != nil {
			return nil, err
		}
		b = append(b, n)
		if !p.isOp(";") {
			return b, nil
		}
	}
}

func (p *parser) top() (node, error) { return p.or() }

func (p *parser) or() (node, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.isOp("||") {
		p.next()
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = binary{op: "||", l: l, r: r}
	}
	return l, nil
}

func (p *parser) and() (node, error) {
	l, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.isOp("&&") {
		p.next()
		r, err := p.not()
		if err != nil {
			return nil, err
		}
		l = binary{op: "&&", l: l, r: r}
	}
	return l, nil
}

func (p *parser) not() (node, error) {
	if p.isOp("!") {
		p.next()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return unary{op: "!", x: x}, nil
	}
	return p.compare()
}

//nolint:gochecknoglobals // Static lookup table
var compareOps = map[string]bool{
	"==": true, "!=": true, ">=": true, "<=": true, ">": true, "<": true,
	"==#": true, "!=#": true, ">=#": true, "<=#": true, ">#": true, "<#": true,
}

func (p *parser) compare() (node, error) {
	l, err := p.addSub()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if (t.kind == tokOp && compareOps[t.text]) || p.isKeyword("in", "inlist") {
		p.next()
		r, err := p.addSub()
		if err != nil {
			return nil, err
		}
		return binary{op: t.text, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) addSub() (node, error) {
	l, err := p.mulDiv()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text
		r, err := p.mulDiv()
		if err != nil {
			return nil, err
		}
		l = binary{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *parser) mulDiv() (node, error) {
	l, err := p.unaryExpr()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") {
		op := p.next().text
		r, err := p.unaryExpr()
		if err != nil {
			return nil, err
		}
		l = binary{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *parser) unaryExpr() (node, error) {
	if p.isOp("+") || p.isOp("-") {
		op := p.next().text
		x, err := p.unaryExpr()
		if err != nil {
			return nil, err
		}
		return unary{op: op, x: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokString, tokNumber:
		return literal{val: t.text}, nil
	case tokField:
		return fieldRef{name: t.text}, nil
	case tokRawField:
		return fieldRef{name: t.text, raw: true}, nil
	case tokKeyword:
		switch t.text {
		case "if":
			return p.ifExpr()
		case "for":
			return p.forExpr()
		}
	case tokOp:
		if t.text == "(" {
			b, err := p.block()
			if err != nil {
				return nil, err
			}
			return b, p.expectOp(")")
		}
	case tokIdent:
		if p.isOp("(") {
			p.next()
			args, err := p.args()
			if err != nil {
				return nil, err
			}
			return call{name: t.text, args: args}, nil
		}
		if p.isOp("=") {
			p.next()
			v, err := p.top()
			if err != nil {
				return nil, err
			}
			return assign{name: t.text, val: v}, nil
		}
		return varRef{name: t.text}, nil
	}
	return nil, fmt.Errorf("unexpected %s at position %d", t, t.pos)
}

func (p *parser) args() ([]node, error) {
	var args []node
	if p.isOp(")") {
		p.next()
		return args, nil
	}
	for {
		a, err := p.top()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.isOp(",") {
			p.next()
			continue
		}
		return args, p.expectOp(")")
	}
}

func (p *parser) ifExpr() (node, error) {
	var n ifNode
	for {
		cond, err := p.top()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("then"); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		n.conds = append(n.conds, cond)
		n.bodies = append(n.bodies, body)
		if !p.isKeyword("elif") {
			break
		}
		p.next()
	}
	if p.isKeyword("else") {
		p.next()
		els, err := p.block()
		if err != nil {
			return nil, err
		}
		n.els = els
	}
	return n, p.expectKeyword("fi")
}

func (p *parser) forExpr() (node, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, fmt.Errorf("expected loop variable, found %s at position %d", t, t.pos)
	}
	if err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	list, err := p.top()
	if err != nil {
		return nil, err
	}
	n := forNode{name: t.text, list: list}
	if p.isKeyword("separator") {
		p.next()
		if n.sep, err = p.top(); err != nil {
			return nil, err
		}
	}
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}
	if n.body, err = p.block(); err != nil {
		return nil, err
	}
	return n, p.expectKeyword("rof")
}
