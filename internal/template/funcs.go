package template

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Func is a template function. Arguments arrive evaluated, as strings.
type Func struct {
	MinArgs int
	// MaxArgs is -1 for variadic functions.
	MaxArgs int
	Call    func(env *Env, args []string) (string, error)
}

// Funcs maps function names to implementations.
type Funcs map[string]Func

// Clone returns a copy of fs that can be extended without touching fs.
func (fs Funcs) Clone() Funcs { return maps.Clone(fs) }

func fixed(n int, fn func(env *Env, args []string) (string, error)) Func {
	return Func{MinArgs: n, MaxArgs: n, Call: fn}
}

func variadic(minArgs int, fn func(env *Env, args []string) (string, error)) Func {
	return Func{MinArgs: minArgs, MaxArgs: -1, Call: fn}
}

// Casers carry state, so each call gets its own.
func upperCase(s string) string { return cases.Upper(language.Und).String(s) }
func lowerCase(s string) string { return cases.Lower(language.Und).String(s) }
func titleCase(s string) string { return cases.Title(language.Und).String(s) }

// Builtins returns a fresh copy of the built-in function set.
func Builtins() Funcs {
	return Funcs{
		"strcat": variadic(0, func(_ *Env, a []string) (string, error) {
			return strings.Join(a, ""), nil
		}),
		"field": fixed(1, func(env *Env, a []string) (string, error) {
			return env.Field(a[0])
		}),
		"raw_field": Func{MinArgs: 1, MaxArgs: 2, Call: func(env *Env, a []string) (string, error) {
			v, err := env.RawField(a[0])
			if err != nil {
				return "", err
			}
			if v == nil && len(a) == 2 {
				return a[1], nil
			}
			return FormatRaw(v), nil
		}},
		"uppercase": fixed(1, func(_ *Env, a []string) (string, error) { return upperCase(a[0]), nil }),
		"lowercase": fixed(1, func(_ *Env, a []string) (string, error) { return lowerCase(a[0]), nil }),
		"titlecase": fixed(1, func(_ *Env, a []string) (string, error) { return titleCase(a[0]), nil }),
		"capitalize": fixed(1, func(_ *Env, a []string) (string, error) {
			r, size := utf8.DecodeRuneInString(a[0])
			if size == 0 {
				return "", nil
			}
			return string(unicode.ToUpper(r)) + lowerCase(a[0][size:]), nil
		}),
		"contains": fixed(4, func(_ *Env, a []string) (string, error) {
			re, err := compileFold(a[1])
			if err != nil {
				return "", err
			}
			if re.MatchString(a[0]) {
				return a[2], nil
			}
			return a[3], nil
		}),
		"ifempty": fixed(2, func(_ *Env, a []string) (string, error) {
			if a[0] != "" {
				return a[0], nil
			}
			return a[1], nil
		}),
		"test": fixed(3, func(_ *Env, a []string) (string, error) {
			if a[0] != "" {
				return a[1], nil
			}
			return a[2], nil
		}),
		"shorten": fixed(4, funcShorten),
		"re": fixed(3, func(_ *Env, a []string) (string, error) {
			re, err := compileFold(a[1])
			if err != nil {
				return "", err
			}
			return re.ReplaceAllString(a[0], pythonGroups(a[2])), nil
		}),
		"lookup":  variadic(2, funcLookup),
		"sublist": fixed(4, funcSublist),
		"count": fixed(2, func(_ *Env, a []string) (string, error) {
			return strconv.Itoa(len(splitList(a[0], a[1]))), nil
		}),
		"list_item": fixed(3, func(_ *Env, a []string) (string, error) {
			items := splitList(a[0], a[2])
			i, err := strconv.Atoi(strings.TrimSpace(a[1]))
			if err != nil {
				return "", fmt.Errorf("list_item: index %q is not an integer", a[1])
			}
			if i < 0 {
				i += len(items)
			}
			if i < 0 || i >= len(items) {
				return "", nil
			}
			return items[i], nil
		}),
		"select": fixed(2, func(_ *Env, a []string) (string, error) {
			for _, item := range splitList(a[0], ",") {
				k, v, ok := strings.Cut(item, ":")
				if ok && strings.EqualFold(strings.TrimSpace(k), a[1]) {
					return strings.TrimSpace(v), nil
				}
			}
			return "", nil
		}),
		"add":      variadic(1, arith(func(x, y float64) float64 { return x + y })),
		"subtract": fixed(2, arith(func(x, y float64) float64 { return x - y })),
		"multiply": variadic(1, arith(func(x, y float64) float64 { return x * y })),
		"divide": fixed(2, func(_ *Env, a []string) (string, error) {
			x, err := toNumber(a[0])
			if err != nil {
				return "", err
			}
			y, err := toNumber(a[1])
			if err != nil {
				return "", err
			}
			if y == 0 {
				return "", fmt.Errorf("division by zero")
			}
			return FormatFloat(x / y), nil
		}),
		"cmp": fixed(5, func(_ *Env, a []string) (string, error) {
			x, err := toNumber(a[0])
			if err != nil {
				return "", err
			}
			y, err := toNumber(a[1])
			if err != nil {
				return "", err
			}
			return pick3(x < y, x == y, a[2:]), nil
		}),
		"strcmp": fixed(5, func(_ *Env, a []string) (string, error) {
			c := strings.Compare(lowerCase(a[0]), lowerCase(a[1]))
			return pick3(c < 0, c == 0, a[2:]), nil
		}),
		"strlen": fixed(1, func(_ *Env, a []string) (string, error) {
			return strconv.Itoa(utf8.RuneCountInString(a[0])), nil
		}),
		"substr": fixed(3, func(_ *Env, a []string) (string, error) {
			rs := []rune(a[0])
			lo, hi, err := sliceBounds(len(rs), a[1], a[2])
			if err != nil {
				return "", err
			}
			return string(rs[lo:hi]), nil
		}),
		"in_list":         variadic(4, funcInList),
		"str_in_list":     variadic(4, funcStrInList),
		"switch":          variadic(2, funcSwitch),
		"first_non_empty": variadic(0, funcFirstNonEmpty),
		"list_union": fixed(3, func(_ *Env, a []string) (string, error) {
			return joinList(unionFold(splitList(a[0], a[2]), splitList(a[1], a[2])), a[2]), nil
		}),
		"list_join": variadic(1, func(_ *Env, a []string) (string, error) {
			if len(a)%2 != 1 {
				return "", fmt.Errorf("list_join: lists and separators must come in pairs")
			}
			var items []string
			for i := 1; i < len(a); i += 2 {
				items = append(items, splitList(a[i], a[i+1])...)
			}
			return strings.Join(items, a[0]), nil
		}),
		"format_number": fixed(2, funcFormatNumber),
		"format_date": fixed(2, func(_ *Env, a []string) (string, error) {
			t, ok := ParseDate(a[0])
			if !ok {
				return "", nil
			}
			return FormatDate(t, a[1]), nil
		}),
		"today": fixed(0, func(env *Env, _ []string) (string, error) {
			return env.Now().Format("2006-01-02"), nil
		}),
		"days_between": fixed(2, func(_ *Env, a []string) (string, error) {
			d1, ok1 := ParseDate(a[0])
			d2, ok2 := ParseDate(a[1])
			if !ok1 || !ok2 {
				return "", nil
			}
			return strconv.FormatFloat(d1.Sub(d2).Hours()/24, 'f', 1, 64), nil
		}),
		"not": fixed(1, func(_ *Env, a []string) (string, error) { return boolStr(a[0] == ""), nil }),
		"and": variadic(0, func(_ *Env, a []string) (string, error) {
			for _, v := range a {
				if v == "" {
					return "", nil
				}
			}
			return "1", nil
		}),
		"or": variadic(0, func(_ *Env, a []string) (string, error) {
			for _, v := range a {
				if v != "" {
					return "1", nil
				}
			}
			return "", nil
		}),
		// assign is evaluated by the interpreter; the entry keeps it listed.
		"assign": fixed(2, func(_ *Env, _ []string) (string, error) {
			return "", fmt.Errorf("assign must be called from a program")
		}),
	}
}

func funcShorten(_ *Env, a []string) (string, error) {
	left, err := strconv.Atoi(strings.TrimSpace(a[1]))
	if err != nil {
		return "", fmt.Errorf("shorten: left_chars %q is not an integer", a[1])
	}
	right, err := strconv.Atoi(strings.TrimSpace(a[3]))
	if err != nil {
		return "", fmt.Errorf("shorten: right_chars %q is not an integer", a[3])
	}
	rs := []rune(a[0])
	if len(rs) <= left+utf8.RuneCountInString(a[2])+right {
		return a[0], nil
	}
	tail := ""
	if right > 0 {
		tail = string(rs[len(rs)-right:])
	}
	return string(rs[:left]) + a[2] + tail, nil
}

func funcLookup(env *Env, a []string) (string, error) {
	val, rest := a[0], a[1:]
	for len(rest) >= 2 {
		re, err := compileFold(rest[0])
		if err != nil {
			return "", err
		}
		if re.MatchString(val) {
			return env.Field(rest[1])
		}
		rest = rest[2:]
	}
	if len(rest) == 1 {
		return env.Field(rest[0])
	}
	return "", nil
}

func funcSublist(_ *Env, a []string) (string, error) {
	items := splitList(a[0], a[3])
	lo, hi, err := sliceBounds(len(items), a[1], a[2])
	if err != nil {
		return "", err
	}
	return joinList(items[lo:hi], a[3]), nil
}

// sliceBounds resolves start and end like a slice with negative indexes
// counting from the end. An end of 0 means the end.
func sliceBounds(n int, start, end string) (int, int, error) {
	lo, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return 0, 0, fmt.Errorf("start index %q is not an integer", start)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return 0, 0, fmt.Errorf("end index %q is not an integer", end)
	}
	if hi == 0 {
		hi = n
	}
	if lo < 0 {
		lo += n
	}
	if hi < 0 {
		hi += n
	}
	lo = min(max(lo, 0), n)
	hi = min(max(hi, 0), n)
	if hi < lo {
		hi = lo
	}
	return lo, hi, nil
}

func funcInList(_ *Env, a []string) (string, error) {
	items := splitList(a[0], a[1])
	rest := a[2:]
	for len(rest) >= 2 {
		re, err := compileFold(rest[0])
		if err != nil {
			return "", err
		}
		for _, item := range items {
			if re.MatchString(item) {
				return rest[1], nil
			}
		}
		rest = rest[2:]
	}
	if len(rest) == 1 {
		return rest[0], nil
	}
	return "", nil
}

func funcStrInList(_ *Env, a []string) (string, error) {
	items := splitList(a[0], a[1])
	rest := a[2:]
	for len(rest) >= 2 {
		for _, want := range splitList(rest[0], a[1]) {
			for _, item := range items {
				if strings.EqualFold(item, want) {
					return rest[1], nil
				}
			}
		}
		rest = rest[2:]
	}
	if len(rest) == 1 {
		return rest[0], nil
	}
	return "", nil
}

func funcSwitch(_ *Env, a []string) (string, error) {
	val, rest := a[0], a[1:]
	for len(rest) >= 2 {
		re, err := compileFold(rest[0])
		if err != nil {
			return "", err
		}
		if re.MatchString(val) {
			return rest[1], nil
		}
		rest = rest[2:]
	}
	if len(rest) == 1 {
		return rest[0], nil
	}
	return "", nil
}

func funcFirstNonEmpty(_ *Env, a []string) (string, error) {
	for _, v := range a {
		if v != "" {
			return v, nil
		}
	}
	return "", nil
}

// funcFormatNumber accepts "{0:5.2f}", "{:,d}" or a bare spec.
func funcFormatNumber(_ *Env, a []string) (string, error) {
	if strings.TrimSpace(a[0]) == "" {
		return "", nil
	}
	if _, err := strconv.ParseFloat(strings.TrimSpace(a[0]), 64); err != nil {
		return "", nil
	}
	spec := a[1]
	prefix, suffix := "", ""
	if i := strings.IndexByte(spec, '{'); i >= 0 {
		j := strings.LastIndexByte(spec, '}')
		if j < i {
			return "", fmt.Errorf("format_number: malformed template %q", spec)
		}
		prefix, suffix = spec[:i], spec[j+1:]
		spec = spec[i+1 : j]
		if _, s, ok := strings.Cut(spec, ":"); ok {
			spec = s
		} else {
			spec = ""
		}
	}
	out, err := FormatSpec(a[0], spec)
	if err != nil {
		return "", err
	}
	return prefix + out + suffix, nil
}

func arith(op func(x, y float64) float64) func(*Env, []string) (string, error) {
	return func(_ *Env, a []string) (string, error) {
		acc, err := toNumber(a[0])
		if err != nil {
			return "", err
		}
		for _, s := range a[1:] {
			v, err := toNumber(s)
			if err != nil {
				return "", err
			}
			acc = op(acc, v)
		}
		if math.IsInf(acc, 0) || math.IsNaN(acc) {
			return "", fmt.Errorf("arithmetic result is not a number")
		}
		return FormatFloat(acc), nil
	}
}

func pick3(lt, eq bool, vals []string) string {
	switch {
	case lt:
		return vals[0]
	case eq:
		return vals[1]
	default:
		return vals[2]
	}
}

func unionFold(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, v := range append(append([]string(nil), a...), b...) {
		k := lowerCase(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

var pyGroup = regexp.MustCompile(`\\(\d+)`)

// pythonGroups rewrites \1 style back references to ${1}.
func pythonGroups(repl string) string {
	repl = strings.ReplaceAll(repl, "$", "$$")
	return pyGroup.ReplaceAllString(repl, "$${$1}")
}
