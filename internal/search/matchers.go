package search

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
	"github.com/listenupapp/folio/internal/normalize"
)

// relop is a comparison between a book value and the query value.
type relop string

const (
	opEQ relop = "="
	opNE relop = "!="
	opGT relop = ">"
	opLT relop = "<"
	opGE relop = ">="
	opLE relop = "<="
)

// splitRelop strips a leading comparison operator. The default is equality.
func splitRelop(q string) (relop, string) {
	for _, op := range []relop{opGE, opLE, opNE, opEQ, opGT, opLT} {
		if rest, ok := strings.CutPrefix(q, string(op)); ok {
			return op, strings.TrimSpace(rest)
		}
	}
	return opEQ, q
}

func (op relop) cmp(c int) bool {
	switch op {
	case opNE:
		return c != 0
	case opGT:
		return c > 0
	case opLT:
		return c < 0
	case opGE:
		return c >= 0
	case opLE:
		return c <= 0
	}
	return c == 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// dateMatches searches datetime fields and composites sorted as dates.
//
// A query is an optional operator and a date. Dates may be given to year,
// month or day precision and only that much of the value is compared. The
// words today, yesterday, thismonth and Ndaysago are relative to now.
func (ev *evaluator) dateMatches(f field.Field, q string, cands IDSet) (IDSet, error) {
	present := IDSet{}
	values := make(map[int64]time.Time, len(cands))
	for v, books := range f.SearchableValues(cands) {
		t, ok := asDate(v)
		if !ok || !t.After(field.UndefinedDate) {
			continue
		}
		for id := range books {
			present.Add(id)
			values[id] = t
		}
	}

	switch q {
	case "true":
		return present, nil
	case "false":
		return cands.Difference(present), nil
	}

	op, q := splitRelop(q)
	qd, fieldCount, err := ev.queryDate(q)
	if err != nil {
		return nil, err
	}
	out := IDSet{}
	for id, t := range values {
		if op.cmp(compareDates(t, qd, fieldCount)) {
			out.Add(id)
		}
	}
	return out, nil
}

func asDate(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case string:
		return field.ParseDate(x)
	}
	return time.Time{}, false
}

func (ev *evaluator) queryDate(q string) (time.Time, int, error) {
	now := ev.src.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch q {
	case "today":
		return today, 3, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), 3, nil
	case "thismonth":
		return today, 2, nil
	}
	if n, ok := strings.CutSuffix(q, "daysago"); ok {
		days, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return time.Time{}, 0, errors.Queryf("number of days in %q is not an integer", q)
		}
		return today.AddDate(0, 0, -days), 3, nil
	}
	for _, l := range []struct {
		layout string
		count  int
	}{
		{"2006", 1},
		{"2006-01", 2},
		{"Jan 2006", 2},
		{"January 2006", 2},
	} {
		// Month names parse case-insensitively.
		if t, err := time.Parse(l.layout, q); err == nil {
			return t, l.count, nil
		}
	}
	if t, ok := field.ParseDate(q); ok {
		return t, 3, nil
	}
	for _, layout := range []string{"02 Jan 2006", "2 January 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, q); err == nil {
			return t, 3, nil
		}
	}
	return time.Time{}, 0, errors.Queryf("%q is not a valid date", q)
}

// compareDates compares a and b on their first fieldCount parts (year,
// month, day).
func compareDates(a, b time.Time, fieldCount int) int {
	if c := a.Year() - b.Year(); c != 0 || fieldCount == 1 {
		return sign(c)
	}
	if c := int(a.Month()) - int(b.Month()); c != 0 || fieldCount == 2 {
		return sign(c)
	}
	return sign(a.Day() - b.Day())
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// numericMatches searches int, float and rating fields and composites
// sorted as numbers. Queries take an optional operator and a k, m or g
// suffix of binary magnitude. Ratings are queried in stars.
func numericMatches(meta *fieldmeta.Field, f field.Field, q string, cands IDSet) (IDSet, error) {
	isRating := meta.Datatype == fieldmeta.Rating
	values := make(map[int64]float64, len(cands))
	for v, books := range f.SearchableValues(cands) {
		n, ok := asNumber(v)
		if !ok || (isRating && n <= 0) {
			continue
		}
		for id := range books {
			values[id] = n
		}
	}

	switch q {
	case "true", "false":
		present := IDSet{}
		for id := range values {
			present.Add(id)
		}
		if q == "false" {
			return cands.Difference(present), nil
		}
		return present, nil
	}

	op, q := splitRelop(q)
	mult := 1.0
	if q != "" {
		switch q[len(q)-1] {
		case 'k':
			mult = 1 << 10
		case 'm':
			mult = 1 << 20
		case 'g':
			mult = 1 << 30
		}
		if mult != 1 {
			q = q[:len(q)-1]
		}
	}
	qv, err := strconv.ParseFloat(strings.TrimSpace(q), 64)
	if err != nil {
		return nil, errors.Queryf("Non-numeric value in query: %q", q)
	}
	qv *= mult

	halfStars := isRating && meta.DisplayBool("allow_half_stars")
	if halfStars {
		qv = math.Round(qv * 2)
	}
	out := IDSet{}
	for id, v := range values {
		if isRating && !halfStars {
			v = math.Floor(v / 2)
		}
		if op.cmp(compareFloat(v, qv)) {
			out.Add(id)
		}
	}
	return out, nil
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return n, err == nil
	}
	return 0, false
}

// countMatches compares the number of values each book holds. q is the
// query without its leading '#'.
func countMatches(f field.Field, q string, cands IDSet) (IDSet, error) {
	op, q := splitRelop(q)
	want, err := strconv.Atoi(q)
	if err != nil {
		return nil, errors.Queryf("Non-numeric value in query: %q", q)
	}
	out := IDSet{}
	for id := range cands {
		n := 0
		switch v := f.ForBook(id, nil).(type) {
		case []string:
			n = len(v)
		case map[string]string:
			n = len(v)
		case string:
			if v != "" {
				n = 1
			}
		}
		if op.cmp(sign(n - want)) {
			out.Add(id)
		}
	}
	return out, nil
}

// boolMatches searches yes/no fields. With tristate booleans an unset
// value is distinct from false; otherwise it counts as false.
func boolMatches(f field.Field, q string, cands IDSet, tristate bool) (IDSet, error) {
	var isTrue, isFalse, isEmpty bool
	switch q {
	case "true", "yes", "_yes", "checked":
		isTrue = true
	case "no", "_no", "unchecked":
		isFalse = true
	case "false", "empty", "blank", "_empty":
		if tristate {
			isEmpty = true
		} else {
			isFalse = true
		}
	default:
		return nil, errors.Queryf("invalid boolean query %q", q)
	}

	out := IDSet{}
	for id := range cands {
		v, set := f.ForBook(id, nil).(bool)
		switch {
		case isTrue:
			if set && v {
				out.Add(id)
			}
		case isEmpty:
			if !set {
				out.Add(id)
			}
		case isFalse:
			if (set && !v) || (!set && !tristate) {
				out.Add(id)
			}
		}
	}
	return out, nil
}

type matchKind int

const (
	matchContains matchKind = iota
	matchEquals
	matchRegex
)

// textQuery is a compiled text search value.
type textQuery struct {
	kind  matchKind
	value string
	re    *regexp.Regexp
	// bad marks a regular expression that failed to compile; it matches
	// nothing.
	bad bool
}

// newTextQuery splits the match kind prefix from q: '=' for equality, '~'
// for a regular expression, '\' to take the rest literally. Non-regex
// values are lower-cased.
func (ev *evaluator) newTextQuery(q string) textQuery {
	tq := textQuery{kind: matchContains}
	switch {
	case strings.HasPrefix(q, `\`):
		q = q[1:]
	case strings.HasPrefix(q, "="):
		tq.kind, q = matchEquals, q[1:]
	case strings.HasPrefix(q, "~"):
		tq.kind, q = matchRegex, q[1:]
	}
	if tq.kind == matchRegex {
		re, err := regexp.Compile("(?i)" + q)
		if err != nil {
			tq.bad = true
		}
		tq.re = re
		tq.value = q
		return tq
	}
	tq.value = ev.coll.Lower(q)
	return tq
}

func (ev *evaluator) match(tq textQuery, val string) bool {
	switch tq.kind {
	case matchRegex:
		return !tq.bad && tq.re.MatchString(val)
	case matchEquals:
		v := ev.coll.Lower(val)
		q := tq.value
		// =.x matches x and its children, =..x matches x anywhere in a
		// dotted hierarchy.
		if rest, ok := strings.CutPrefix(q, ".."); ok && rest != "" {
			return v == rest || strings.HasPrefix(v, rest+".") ||
				strings.HasSuffix(v, "."+rest) || strings.Contains(v, "."+rest+".")
		}
		if rest, ok := strings.CutPrefix(q, "."); ok && rest != "" {
			return v == rest || strings.HasPrefix(v, rest+".")
		}
		if ev.opts.UsePrimaryFind {
			return ev.coll.PrimaryEqual(val, q)
		}
		return v == q
	}
	if ev.opts.UsePrimaryFind {
		return ev.coll.PrimaryContains(val, tq.value)
	}
	return strings.Contains(ev.coll.Lower(val), tq.value)
}

// keypairMatches searches key:value fields such as identifiers. Both
// halves take their own match kind prefix. A value of true or false tests
// for the presence of the key.
func (ev *evaluator) keypairMatches(f field.Field, q string, cands IDSet) (IDSet, error) {
	lq := strings.ToLower(q)
	present := func() IDSet {
		out := IDSet{}
		for v, books := range f.SearchableValues(cands) {
			if m, ok := v.(map[string]string); ok && len(m) > 0 {
				out.AddAll(books)
			}
		}
		return out
	}
	switch lq {
	case "true":
		return present(), nil
	case "false":
		return cands.Difference(present()), nil
	}

	keyq, valq, hasVal := strings.Cut(q, ":")
	valq = strings.TrimSpace(valq)
	lvalq := strings.ToLower(valq)
	kq := ev.newTextQuery(strings.TrimSpace(keyq))
	vq := ev.newTextQuery(valq)

	found := IDSet{}
	for v, books := range f.SearchableValues(cands) {
		m, ok := v.(map[string]string)
		if !ok {
			continue
		}
		for k, val := range m {
			if keyq != "" && !ev.match(kq, k) {
				continue
			}
			if !hasVal || valq == "" || lvalq == "true" || lvalq == "false" || ev.match(vq, val) {
				found.AddAll(books)
				break
			}
		}
	}
	if hasVal && lvalq == "false" {
		return cands.Difference(found), nil
	}
	return found, nil
}

// allSkipped are the fields a bare search never looks at.
//
//nolint:gochecknoglobals // Static lookup table
var allSkipped = map[string]bool{"id": true, "uuid": true, "series_sort": true, "path": true}

// textMatches searches text-like fields, or every searchable field when
// loc is "all".
func (ev *evaluator) textMatches(loc, q string, cands IDSet) (IDSet, error) {
	tq := ev.newTextQuery(q)
	if tq.bad {
		return IDSet{}, nil
	}

	if loc != "all" {
		f, _ := ev.src.Field(loc)
		return ev.textFieldMatches(f, tq, cands), nil
	}

	out := IDSet{}
	c := cands.Clone()
	for key, meta := range ev.reg.All() {
		if len(c) == 0 {
			break
		}
		if allSkipped[key] || meta.Kind == fieldmeta.Virtual ||
			meta.Datatype == fieldmeta.Bool || meta.Datatype == fieldmeta.Datetime {
			continue
		}
		f, ok := ev.src.Field(key)
		if !ok {
			continue
		}
		var m IDSet
		if meta.IsNumeric() && meta.Datatype != fieldmeta.Composite {
			m = allNumeric(meta, f, q, c)
		} else {
			m = ev.textFieldMatches(f, tq, c)
		}
		out.AddAll(m)
		for id := range m {
			delete(c, id)
		}
	}
	return out, nil
}

// allNumeric is the equality test a bare search applies to numeric fields.
func allNumeric(meta *fieldmeta.Field, f field.Field, q string, cands IDSet) IDSet {
	qv, err := strconv.ParseFloat(strings.TrimSpace(q), 64)
	if err != nil {
		return IDSet{}
	}
	if meta.Datatype == fieldmeta.Rating {
		qv = float64(int64(qv) * 2)
	}
	out := IDSet{}
	for v, books := range f.SearchableValues(cands) {
		if n, ok := asNumber(v); ok && n == qv {
			out.AddAll(books)
		}
	}
	return out
}

func (ev *evaluator) textFieldMatches(f field.Field, tq textQuery, cands IDSet) IDSet {
	meta := f.Meta()
	if meta.Key == "languages" && tq.kind != matchRegex {
		if code := normalize.LanguageCode(tq.value); code != "" {
			tq.value = strings.ToLower(code)
		}
	}

	// true and false test for any value at all.
	if tq.kind == matchContains && (tq.value == "true" || tq.value == "false") {
		present := IDSet{}
		for v, books := range f.SearchableValues(cands) {
			if !isEmptyValue(v) {
				present.AddAll(books)
			}
		}
		if tq.value == "false" {
			return cands.Difference(present)
		}
		return present
	}
	// Marks are tags, looked up whole.
	if meta.Key == "marked" && tq.kind == matchContains {
		tq.kind = matchEquals
	}

	out := IDSet{}
	for v, books := range f.SearchableValues(cands) {
		for _, s := range textValues(v) {
			if ev.match(tq, s) {
				out.AddAll(books)
				break
			}
		}
	}
	return out
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case map[string]string:
		return len(x) == 0
	}
	return false
}

// textValues returns the strings a value is matched as. Identifier maps
// match as key:value pairs.
func textValues(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []string:
		return x
	case map[string]string:
		out := make([]string, 0, len(x))
		for k, val := range x {
			out = append(out, k+":"+val)
		}
		return out
	case nil:
		return nil
	}
	return []string{fmt.Sprint(v)}
}
