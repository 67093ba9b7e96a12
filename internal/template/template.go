// Package template evaluates the templates behind composite columns.
//
// Two forms are understood. A template starting with "program:" is a
// program: expressions separated by ';', with variables, if/elif/else/fi,
// for loops, comparisons, arithmetic and function calls. Any other template
// is text with embedded references:
//
//	{field}              the display value of field
//	{field:fmt}          the value through a format spec such as 05.1f
//	{field:|pre|suf}     pre and suf around the value when it is not empty
//	{field:func(a,b)}    func applied to the value and the literal arguments
//	{field:'program'}    a program in which $ is the value
//
// Evaluation errors are rendered into the output as "TEMPLATE ERROR <msg>".
// The function set is pluggable through Options.Funcs.
package template

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrorPrefix starts the rendering of a failed template.
const ErrorPrefix = "TEMPLATE ERROR "

const programPrefix = "program:"

// Values gives a template access to the fields of one book.
type Values interface {
	// Field returns the display form of a field. ok is false when the
	// field does not exist.
	Field(key string) (string, bool)
	// RawField returns the stored value of a field.
	RawField(key string) (any, bool)
}

// MapValues is a Values backed by display strings. Raw values are the
// strings themselves.
type MapValues map[string]string

// Field implements Values.
func (m MapValues) Field(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// RawField implements Values.
func (m MapValues) RawField(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Options configures an Engine.
type Options struct {
	// Funcs replaces the built-in function set when non-nil.
	Funcs Funcs
	// Now is the clock behind today(). Defaults to time.Now.
	Now func() time.Time
}

// Engine compiles and evaluates templates. Compiled templates are cached;
// an Engine is safe for concurrent use.
type Engine struct {
	funcs Funcs
	now   func() time.Time

	mu       sync.Mutex
	compiled map[string]*compiled
}

// New returns an Engine.
func New(opts Options) *Engine {
	if opts.Funcs == nil {
		opts.Funcs = Builtins()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{funcs: opts.Funcs, now: opts.Now, compiled: make(map[string]*compiled)}
}

// Render evaluates tmpl against v, rendering any error into the result.
func (e *Engine) Render(tmpl string, v Values) string {
	out, err := e.Evaluate(tmpl, v)
	if err != nil {
		return ErrorPrefix + err.Error()
	}
	return out
}

// Evaluate evaluates tmpl against v.
func (e *Engine) Evaluate(tmpl string, v Values) (string, error) {
	c, err := e.compile(tmpl)
	if err != nil {
		return "", err
	}
	env := &Env{values: v, now: e.now, funcs: e.funcs, vars: make(map[string]string)}
	return c.run(env)
}

// Check compiles tmpl and reports syntax errors.
func (e *Engine) Check(tmpl string) error {
	_, err := e.compile(tmpl)
	return err
}

func (e *Engine) compile(tmpl string) (*compiled, error) {
	e.mu.Lock()
	c, ok := e.compiled[tmpl]
	e.mu.Unlock()
	if ok {
		return c, nil
	}

	c = &compiled{}
	var err error
	if rest, ok := strings.CutPrefix(tmpl, programPrefix); ok {
		c.program, err = parseProgram(rest)
		c.isProgram = true
	} else {
		c.segments, err = parseSegments(tmpl)
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.compiled[tmpl] = c
	e.mu.Unlock()
	return c, nil
}

type compiled struct {
	isProgram bool
	program   block
	segments  []segment
}

func (c *compiled) run(env *Env) (string, error) {
	if c.isProgram {
		return env.eval(c.program)
	}
	var sb strings.Builder
	for _, s := range c.segments {
		out, err := s.render(env)
		if err != nil {
			return "", err
		}
		sb.WriteString(out)
	}
	return sb.String(), nil
}

// segment is literal text or one {reference}.
type segment struct {
	text string
	ref  bool

	field          string
	spec           string
	prefix, suffix string
	fn             string
	fnArgs         string
	program        block
}

func (s segment) render(env *Env) (string, error) {
	if !s.ref {
		return s.text, nil
	}
	var val string
	if s.field != "" {
		v, err := env.Field(s.field)
		if err != nil {
			return "", err
		}
		val = v
	}

	switch {
	case s.program != nil:
		env.vars["$"] = val
		return env.eval(s.program)
	case s.fn != "":
		args := []string{val}
		// A function taking one argument besides the value gets the whole
		// argument text, commas included.
		if f, ok := env.funcs[s.fn]; ok && f.MinArgs == 2 && f.MaxArgs == 2 {
			args = append(args, unescapeArgs(s.fnArgs))
		} else {
			args = append(args, splitArgs(s.fnArgs)...)
		}
		out, err := env.apply(s.fn, args)
		if err != nil {
			return "", err
		}
		val = out
	case s.spec != "" && val != "":
		out, err := FormatSpec(val, s.spec)
		if err != nil {
			return "", err
		}
		val = out
	}
	if val == "" {
		return "", nil
	}
	return s.prefix + val + s.suffix, nil
}

func parseSegments(tmpl string) ([]segment, error) {
	var segs []segment
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			segs = append(segs, segment{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c == '\\' && i+1 < len(tmpl) && (tmpl[i+1] == '{' || tmpl[i+1] == '}') {
			text.WriteByte(tmpl[i+1])
			i += 2
			continue
		}
		if c != '{' {
			text.WriteByte(c)
			i++
			continue
		}
		body, end, err := referenceBody(tmpl, i)
		if err != nil {
			return nil, err
		}
		seg, err := parseReference(body)
		if err != nil {
			return nil, err
		}
		flush()
		segs = append(segs, seg)
		i = end
	}
	flush()
	return segs, nil
}

// referenceBody returns the text between the brace at start and its match,
// and the index after the closing brace.
func referenceBody(tmpl string, start int) (string, int, error) {
	inner := tmpl[start+1:]
	if name, prog, ok := strings.Cut(inner, ":'"); ok && !strings.ContainsAny(name, "{}") {
		if j := strings.Index(prog, "'}"); j >= 0 {
			body := name + ":'" + prog[:j+1]
			return body, start + 1 + len(body) + 1, nil
		}
		return "", 0, fmt.Errorf("unterminated program in reference at position %d", start)
	}
	depth := 0
	for j := start; j < len(tmpl); j++ {
		switch tmpl[j] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return tmpl[start+1 : j], j + 1, nil
			}
		}
	}
	return "", 0, fmt.Errorf("unmatched '{' at position %d", start)
}

func parseReference(body string) (segment, error) {
	seg := segment{ref: true}
	name, spec, hasSpec := strings.Cut(body, ":")
	seg.field = strings.TrimSpace(name)
	if !hasSpec {
		if seg.field == "" {
			return seg, fmt.Errorf("empty field reference")
		}
		return seg, nil
	}

	if len(spec) >= 2 && spec[0] == '\'' && spec[len(spec)-1] == '\'' {
		prog, err := parseProgram(spec[1 : len(spec)-1])
		if err != nil {
			return seg, err
		}
		if prog == nil {
			prog = block{}
		}
		seg.program = prog
		return seg, nil
	}

	parts := splitOutsideParens(spec, '|')
	switch len(parts) {
	case 1:
	case 3:
		seg.prefix, seg.suffix = parts[1], parts[2]
	default:
		return seg, fmt.Errorf("reference %q needs both a prefix and a suffix", body)
	}
	spec = parts[0]

	if open := strings.IndexByte(spec, '('); open > 0 && strings.HasSuffix(spec, ")") {
		seg.fn = strings.TrimSpace(spec[:open])
		seg.fnArgs = spec[open+1 : len(spec)-1]
		return seg, nil
	}
	seg.spec = spec
	return seg, nil
}

func splitOutsideParens(s string, sep byte) []string {
	var parts []string
	depth, last := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

// splitArgs splits literal function arguments on commas. A backslash
// escapes the next character.
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	var args []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
		case c == ',':
			args = append(args, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(args, cur.String())
}

func unescapeArgs(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
