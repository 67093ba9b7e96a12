package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Env is the state of one evaluation. Functions read fields and variables
// through it.
type Env struct {
	values Values
	now    func() time.Time
	funcs  Funcs
	vars   map[string]string
}

// Field returns the display value of a field.
func (e *Env) Field(key string) (string, error) {
	if e.values == nil {
		return "", fmt.Errorf("no such field %q", key)
	}
	v, ok := e.values.Field(key)
	if !ok {
		return "", fmt.Errorf("no such field %q", key)
	}
	return v, nil
}

// RawField returns the stored value of a field.
func (e *Env) RawField(key string) (any, error) {
	if e.values == nil {
		return nil, fmt.Errorf("no such field %q", key)
	}
	v, ok := e.values.RawField(key)
	if !ok {
		return nil, fmt.Errorf("no such field %q", key)
	}
	return v, nil
}

// Var returns a program variable, "" when unset.
func (e *Env) Var(name string) string { return e.vars[name] }

// SetVar assigns a program variable.
func (e *Env) SetVar(name, val string) { e.vars[name] = val }

// Now returns the evaluation clock.
func (e *Env) Now() time.Time { return e.now() }

func (e *Env) eval(n node) (string, error) {
	switch n := n.(type) {
	case literal:
		return n.val, nil
	case varRef:
		return e.vars[n.name], nil
	case fieldRef:
		if n.raw {
			v, err := e.RawField(n.name)
			if err != nil {
				return "", err
			}
			return FormatRaw(v), nil
		}
		return e.Field(n.name)
	case assign:
		v, err := e.eval(n.val)
		if err != nil {
			return "", err
		}
		e.vars[n.name] = v
		return v, nil
	case block:
		var last string
		for _, x := range n {
			v, err := e.eval(x)
			if err != nil {
				return "", err
			}
			last = v
		}
		return last, nil
	case ifNode:
		for i, c := range n.conds {
			v, err := e.eval(c)
			if err != nil {
				return "", err
			}
			if v != "" {
				return e.eval(n.bodies[i])
			}
		}
		if n.els != nil {
			return e.eval(n.els)
		}
		return "", nil
	case forNode:
		return e.evalFor(n)
	case unary:
		v, err := e.eval(n.x)
		if err != nil {
			return "", err
		}
		switch n.op {
		case "!":
			return boolStr(v == ""), nil
		case "-":
			f, err := toNumber(v)
			if err != nil {
				return "", err
			}
			return FormatFloat(-f), nil
		default:
			f, err := toNumber(v)
			if err != nil {
				return "", err
			}
			return FormatFloat(f), nil
		}
	case binary:
		return e.evalBinary(n)
	case call:
		return e.evalCall(n)
	}
	return "", fmt.Errorf("cannot evaluate %T", n)
}

func (e *Env) evalFor(n forNode) (string, error) {
	list, err := e.eval(n.list)
	if err != nil {
		return "", err
	}
	sep := ","
	if n.sep != nil {
		if sep, err = e.eval(n.sep); err != nil {
			return "", err
		}
	}
	for _, item := range splitList(list, sep) {
		e.vars[n.name] = item
		if _, err := e.eval(n.body); err != nil {
			return "", err
		}
	}
	return "", nil
}

func (e *Env) evalBinary(n binary) (string, error) {
	l, err := e.eval(n.l)
	if err != nil {
		return "", err
	}
	switch n.op {
	case "&&":
		if l == "" {
			return "", nil
		}
		r, err := e.eval(n.r)
		return boolStr(r != ""), err
	case "||":
		if l != "" {
			return "1", nil
		}
		r, err := e.eval(n.r)
		return boolStr(r != ""), err
	}

	r, err := e.eval(n.r)
	if err != nil {
		return "", err
	}
	switch n.op {
	case "==", "!=", "<", ">", "<=", ">=":
		return boolStr(compareResult(n.op, strings.Compare(strings.ToLower(l), strings.ToLower(r)))), nil
	case "in":
		re, err := compileFold(l)
		if err != nil {
			return "", err
		}
		return boolStr(re.MatchString(r)), nil
	case "inlist":
		re, err := compileFold(l)
		if err != nil {
			return "", err
		}
		for _, item := range splitList(r, ",") {
			if re.MatchString(item) {
				return "1", nil
			}
		}
		return "", nil
	}

	a, err := toNumber(l)
	if err != nil {
		return "", err
	}
	b, err := toNumber(r)
	if err != nil {
		return "", err
	}
	switch n.op {
	case "+":
		return FormatFloat(a + b), nil
	case "-":
		return FormatFloat(a - b), nil
	case "*":
		return FormatFloat(a * b), nil
	case "/":
		if b == 0 {
			return "", fmt.Errorf("division by zero")
		}
		return FormatFloat(a / b), nil
	}
	c := 0
	switch {
	case a < b:
		c = -1
	case a > b:
		c = 1
	}
	return boolStr(compareResult(strings.TrimSuffix(n.op, "#"), c)), nil
}

func (e *Env) evalCall(n call) (string, error) {
	if n.name == "assign" {
		if len(n.args) != 2 {
			return "", fmt.Errorf("assign takes 2 arguments")
		}
		ref, ok := n.args[0].(varRef)
		if !ok {
			return "", fmt.Errorf("the first argument of assign must be a variable")
		}
		return e.eval(assign{name: ref.name, val: n.args[1]})
	}
	args := make([]string, len(n.args))
	for i, a := range n.args {
		v, err := e.eval(a)
		if err != nil {
			return "", err
		}
		args[i] = v
	}
	return e.apply(n.name, args)
}

func (e *Env) apply(name string, args []string) (string, error) {
	fn, ok := e.funcs[name]
	if !ok {
		return "", fmt.Errorf("unknown function %s", name)
	}
	if len(args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(args) > fn.MaxArgs) {
		return "", fmt.Errorf("incorrect number of arguments for function %s", name)
	}
	return fn.Call(e, args)
}

func compareResult(op string, c int) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case ">":
		return c > 0
	case "<=":
		return c <= 0
	default:
		return c >= 0
	}
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return ""
}

// toNumber parses a program value as a number. Empty and "None" are zero.
func toNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not a number", s)
	}
	return f, nil
}

// FormatFloat renders a number without a fractional part when it is whole.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func compileFold(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
	}
	return re, nil
}

// splitList splits a list value on sep, trimming items and dropping empty
// ones.
func splitList(s, sep string) []string {
	if sep == "" {
		sep = ","
	}
	var out []string
	for _, item := range strings.Split(s, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// joinList joins items with sep, adding a space after a comma separator.
func joinList(items []string, sep string) string {
	if sep == "," {
		sep = ", "
	}
	return strings.Join(items, sep)
}
