package template

import (
	"fmt"
	"strings"
	"unicode"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokString
	tokNumber
	tokIdent
	tokField
	tokRawField
	tokKeyword
	tokOp
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of program"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

//nolint:gochecknoglobals // Static lookup table
var keywords = map[string]bool{
	"if": true, "then": true, "elif": true, "else": true, "fi": true,
	"for": true, "in": true, "separator": true, "rof": true, "inlist": true,
}

// Longest first so that "==#" wins over "==".
//
//nolint:gochecknoglobals // Static lookup table
var operators = []string{
	"==#", "!=#", ">=#", "<=#",
	"==", "!=", ">=", "<=", ">#", "<#", "&&", "||",
	">", "<", "!", "=", "+", "-", "*", "/", "(", ")", ",", ";", ":",
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

func lex(src string) ([]token, error) {
	rs := []rune(src)
	var toks []token
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '#':
			// Comment to end of line.
			for i < len(rs) && rs[i] != '\n' {
				i++
			}

		case r == '\'' || r == '"':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(rs) {
				c := rs[i]
				// Only the quote itself is escaped; regex escapes such as \1
				// pass through untouched.
				if c == '\\' && i+1 < len(rs) && rs[i+1] == r {
					sb.WriteRune(r)
					i += 2
					continue
				}
				if c == r {
					closed = true
					i++
					break
				}
				sb.WriteRune(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[start:i]), pos: start})

		case r == '$':
			start := i
			kind := tokField
			i++
			if i < len(rs) && rs[i] == '$' {
				kind = tokRawField
				i++
			}
			nameStart := i
			if i < len(rs) && rs[i] == '#' {
				i++
			}
			for i < len(rs) && isIdentPart(rs[i]) {
				i++
			}
			name := string(rs[nameStart:i])
			if name == "" || name == "#" {
				if kind == tokRawField {
					return nil, fmt.Errorf("missing field name at position %d", start)
				}
				// A bare $ is the value being formatted.
				toks = append(toks, token{kind: tokIdent, text: "$", pos: start})
				i = nameStart
				continue
			}
			toks = append(toks, token{kind: kind, text: name, pos: start})

		case isIdentStart(r):
			start := i
			for i < len(rs) && isIdentPart(rs[i]) {
				i++
			}
			word := string(rs[start:i])
			kind := tokIdent
			if keywords[word] {
				kind = tokKeyword
			}
			toks = append(toks, token{kind: kind, text: word, pos: start})

		default:
			matched := false
			for _, op := range operators {
				if hasRunePrefix(rs[i:], op) {
					toks = append(toks, token{kind: tokOp, text: op, pos: i})
					i += len([]rune(op))
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
			}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

func hasRunePrefix(rs []rune, s string) bool {
	i := 0
	for _, c := range s {
		if i >= len(rs) || rs[i] != c {
			return false
		}
		i++
	}
	return true
}
