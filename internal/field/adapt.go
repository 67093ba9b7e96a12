package field

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/normalize"
)

// adaptFunc converts a caller supplied value to the in-memory form of a
// field. nil means null.
type adaptFunc func(v any) (any, error)

func adapterFor(meta *fieldmeta.Field) adaptFunc {
	switch meta.Datatype {
	case fieldmeta.Int:
		return adaptInt
	case fieldmeta.Float:
		return adaptFloat
	case fieldmeta.Bool:
		return adaptBool
	case fieldmeta.Datetime:
		return adaptDate
	case fieldmeta.Rating:
		return adaptRating
	case fieldmeta.Comments:
		return adaptComments
	case fieldmeta.Enumeration:
		allowed := enumValues(meta)
		return func(v any) (any, error) {
			s, err := adaptText(v)
			if err != nil || s == nil {
				return s, err
			}
			if !slices.Contains(allowed, s.(string)) {
				return nil, errors.Validationf("%q is not a permitted value of %s", s, meta.Key)
			}
			return s, nil
		}
	}
	return adaptText
}

func enumValues(meta *fieldmeta.Field) []string {
	var out []string
	switch vals := meta.Display["enum_values"].(type) {
	case []string:
		out = vals
	case []any:
		for _, v := range vals {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func adaptText(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return nil, nil
		}
		return x, nil
	case []string:
		return adaptText(strings.Join(x, ", "))
	case fmt.Stringer:
		return adaptText(x.String())
	}
	return adaptText(fmt.Sprint(v))
}

func adaptComments(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return adaptText(v)
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return s, nil
}

func adaptInt(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, errors.Validationf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(x, 64)
			if ferr != nil {
				return nil, errors.Validationf("%q is not an integer", x)
			}
			n = int64(f)
		}
		return n, nil
	}
	return nil, errors.Validationf("%v (%T) is not an integer", v, v)
}

func adaptFloat(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, errors.Validationf("%v is not a number", x)
		}
		return x, nil
	case *float64:
		if x == nil {
			return nil, nil
		}
		return adaptFloat(*x)
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return nil, errors.Validationf("%q is not a number", x)
		}
		return f, nil
	}
	return nil, errors.Validationf("%v (%T) is not a number", v, v)
}

func adaptBool(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "":
			return nil, nil
		case "true", "yes", "y", "1", "checked":
			return true, nil
		case "false", "no", "n", "0", "unchecked":
			return false, nil
		}
		return nil, errors.Validationf("%q is not a boolean", x)
	}
	return nil, errors.Validationf("%v (%T) is not a boolean", v, v)
}

//nolint:gochecknoglobals // Accepted input layouts
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseDate parses the date layouts accepted by writes and searches.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func adaptDate(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if x.IsZero() || !x.After(UndefinedDate) {
			return nil, nil
		}
		return x.UTC(), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		t, ok := ParseDate(x)
		if !ok {
			return nil, errors.Validationf("%q is not a date", x)
		}
		return adaptDate(t)
	}
	return nil, errors.Validationf("%v (%T) is not a date", v, v)
}

// adaptRating clamps to 0-10 and treats 0 as null.
func adaptRating(v any) (any, error) {
	n, err := adaptFloat(v)
	if err != nil || n == nil {
		return nil, err
	}
	r := int64(math.Round(n.(float64)))
	r = max(0, min(10, r))
	if r == 0 {
		return nil, nil
	}
	return r, nil
}

// adaptList converts v to a list of trimmed non-empty strings. Strings are
// split on sep.
func adaptList(v any, sep string) ([]string, error) {
	var raw []string
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		raw = x
	case []any:
		for _, e := range x {
			raw = append(raw, fmt.Sprint(e))
		}
	case string:
		if sep == "" {
			raw = []string{x}
		} else {
			raw = strings.Split(x, sep)
		}
	default:
		return nil, errors.Validationf("%v (%T) is not a list", v, v)
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// uniqFold drops later duplicates that differ only in case.
func uniqFold(vals []string, lower func(string) string) []string {
	seen := make(map[string]bool, len(vals))
	out := vals[:0:0]
	for _, v := range vals {
		k := lower(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func adaptLanguages(vals []string) []string {
	out := make([]string, 0, len(vals))
	seen := make(map[string]bool, len(vals))
	for _, v := range vals {
		code := normalize.CanonicalizeLanguage(v)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

// CleanIdentifier normalises an identifier pair. Types are lower-cased and
// may not contain ':' or ','; values may not contain ','. An empty result
// means the pair is dropped.
func CleanIdentifier(typ, val string) (string, string) {
	typ = cleanIdentifierType(typ)
	val = strings.TrimSpace(strings.ReplaceAll(val, ",", "|"))
	if typ == "" || val == "" {
		return "", ""
	}
	return typ, val
}

func cleanIdentifierType(typ string) string {
	return strings.ToLower(strings.TrimSpace(strings.NewReplacer(":", "", ",", "").Replace(typ)))
}

func valuesEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}
