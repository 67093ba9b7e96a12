package search

import (
	"fmt"
	"strings"

	"github.com/listenupapp/folio/internal/errors"
)

// Node is a compiled query.
type Node interface {
	fmt.Stringer
	node()
}

// And matches books matching both sides. The right side is evaluated over
// the matches of the left.
type And struct{ L, R Node }

// Or matches books matching either side.
type Or struct{ L, R Node }

// Not matches the candidates that X does not.
type Not struct{ X Node }

// Atom is a single location:value test.
type Atom struct {
	Location string
	Value    string
}

func (And) node()  {}
func (Or) node()   {}
func (Not) node()  {}
func (Atom) node() {}

func (n And) String() string  { return "(" + n.L.String() + " and " + n.R.String() + ")" }
func (n Or) String() string   { return "(" + n.L.String() + " or " + n.R.String() + ")" }
func (n Not) String() string  { return "not " + n.X.String() }
func (n Atom) String() string { return n.Location + ":" + fmt.Sprintf("%q", n.Value) }

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokOpen
	tokClose
	tokWord
	tokQuoted
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(q string) ([]token, error) {
	var toks []token
	rs := []rune(q)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i++
		case r == '(':
			toks = append(toks, token{kind: tokOpen, text: "("})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokClose, text: ")"})
			i++
		case r == '"':
			var sb strings.Builder
			j := i + 1
			closed := false
			for j < len(rs) {
				if rs[j] == '\\' && j+1 < len(rs) && (rs[j+1] == '"' || rs[j+1] == '\\') {
					sb.WriteRune(rs[j+1])
					j += 2
					continue
				}
				if rs[j] == '"' {
					closed = true
					break
				}
				sb.WriteRune(rs[j])
				j++
			}
			if !closed {
				return nil, errors.Queryf("unterminated quoted string in %q", q)
			}
			toks = append(toks, token{kind: tokQuoted, text: sb.String()})
			i = j + 1
		default:
			j := i
			// A user category location may contain spaces up to its colon.
			if r == '@' {
				if k := userCategoryWordEnd(rs, i); k > i {
					j = k
				}
			}
			for j < len(rs) && !isWordBreak(rs[j]) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: string(rs[i:j])})
			i = j
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

func isWordBreak(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ')' || r == '"'
}

// userCategoryWordEnd returns the index just past the colon of an
// "@name with spaces:" prefix, or start when there is none.
func userCategoryWordEnd(rs []rune, start int) int {
	for k := start + 1; k < len(rs); k++ {
		switch rs[k] {
		case ':':
			if k == start+1 {
				return start
			}
			return k + 1
		case '(', ')', '"':
			return start
		}
	}
	return start
}

type parser struct {
	toks       []token
	pos        int
	isLocation func(string) bool
}

// Parse compiles a query. isLocation reports whether a lower-cased word is
// a search location; words with an unknown location are searched for in
// "all". An empty query returns a nil Node.
func Parse(query string, isLocation func(string) bool) (Node, error) {
	toks, err := tokenize(query)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 {
		return nil, nil
	}
	p := &parser{toks: toks, isLocation: isLocation}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, errors.Queryf("unexpected %q in query %q", t.text, query)
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword() string {
	if t := p.peek(); t.kind == tokWord {
		return strings.ToLower(t.text)
	}
	return ""
}

func (p *parser) or() (Node, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	if p.keyword() == "or" {
		p.advance()
		r, err := p.or()
		if err != nil {
			return nil, err
		}
		return Or{L: l, R: r}, nil
	}
	return l, nil
}

func (p *parser) and() (Node, error) {
	l, err := p.not()
	if err != nil {
		return nil, err
	}
	if p.keyword() == "and" {
		p.advance()
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		return And{L: l, R: r}, nil
	}
	// Adjacent terms are joined by an implicit and.
	t := p.peek()
	if (t.kind == tokWord || t.kind == tokQuoted || t.kind == tokOpen) && p.keyword() != "or" {
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		return And{L: l, R: r}, nil
	}
	return l, nil
}

func (p *parser) not() (Node, error) {
	if p.keyword() == "not" {
		p.advance()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	return p.location()
}

func (p *parser) location() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tokOpen:
		p.advance()
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokClose {
			return nil, errors.Queryf("missing )")
		}
		p.advance()
		return n, nil
	case tokQuoted:
		p.advance()
		return Atom{Location: "all", Value: t.text}, nil
	case tokWord:
		p.advance()
		return p.atom(t.text), nil
	}
	return nil, errors.Query("invalid syntax: expected a lookup name or a word")
}

func (p *parser) atom(word string) Node {
	loc, val, ok := strings.Cut(word, ":")
	if !ok || !p.isLocation(strings.ToLower(loc)) {
		return Atom{Location: "all", Value: word}
	}
	loc = strings.ToLower(loc)
	if val == "" && p.peek().kind == tokQuoted {
		return Atom{Location: loc, Value: p.advance().text}
	}
	return Atom{Location: loc, Value: val}
}
