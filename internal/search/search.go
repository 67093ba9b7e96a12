// Package search implements the library query language: parsing queries
// into an AST and evaluating them against the in-memory fields of a cache.
//
// A query is a boolean expression of location:value atoms joined by and, or,
// not and parentheses; adjacent atoms are joined by an implicit and. Bare
// values are searched for in every text-like field. See Parse for the
// grammar and the matchers in this package for the value syntax of each
// field type.
package search

import (
	"strings"
	"sync"
	"time"

	"github.com/listenupapp/folio/internal/collate"
	"github.com/listenupapp/folio/internal/errors"
	"github.com/listenupapp/folio/internal/field"
	"github.com/listenupapp/folio/internal/fieldmeta"
)

// IDSet is a set of book ids.
type IDSet = field.IDSet

// CategoryItem is one member of a user category.
type CategoryItem struct {
	Name string
	// Field is the key of the field the item belongs to.
	Field string
}

// Options are the preferences that shape evaluation.
type Options struct {
	BoolsAreTristate     bool
	LimitSearchColumns   bool
	LimitSearchColumnsTo []string
	UsePrimaryFind       bool
	// UserCategories maps category names, possibly dotted for
	// subcategories, to their members.
	UserCategories map[string][]CategoryItem
}

// Source is the view of a library a query runs against. The cache
// implements it under its read lock.
type Source interface {
	AllBookIDs() IDSet
	Registry() *fieldmeta.Registry
	Field(key string) (field.Field, bool)
	Collator() collate.Collator
	Now() time.Time
	SearchOptions() Options
}

// Engine evaluates queries and keeps the restrictions ANDed with every
// search. It is safe for concurrent use.
type Engine struct {
	mu              sync.RWMutex
	restriction     string
	baseRestriction string
}

// New returns an engine without restrictions.
func New() *Engine { return &Engine{} }

// SetRestriction sets the query ANDed with every search.
func (e *Engine) SetRestriction(q string) {
	e.mu.Lock()
	e.restriction = strings.TrimSpace(q)
	e.mu.Unlock()
}

// Restriction returns the current restriction.
func (e *Engine) Restriction() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.restriction
}

// SetBaseRestriction sets the virtual library query, applied beneath the
// restriction.
func (e *Engine) SetBaseRestriction(q string) {
	e.mu.Lock()
	e.baseRestriction = strings.TrimSpace(q)
	e.mu.Unlock()
}

// BaseRestriction returns the virtual library query.
func (e *Engine) BaseRestriction() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.baseRestriction
}

// Search returns the books matching query within the restrictions. An
// empty query matches every book the restrictions allow.
func (e *Engine) Search(src Source, query string) (IDSet, error) {
	cands, err := e.restricted(src)
	if err != nil {
		return nil, err
	}
	return Run(src, query, cands)
}

// RestrictionCount returns the number of books the restrictions allow.
func (e *Engine) RestrictionCount(src Source) (int, error) {
	cands, err := e.restricted(src)
	if err != nil {
		return 0, err
	}
	return len(cands), nil
}

func (e *Engine) restricted(src Source) (IDSet, error) {
	e.mu.RLock()
	base, restriction := e.baseRestriction, e.restriction
	e.mu.RUnlock()

	cands := src.AllBookIDs()
	var err error
	for _, q := range []string{base, restriction} {
		if q == "" {
			continue
		}
		if cands, err = Run(src, q, cands); err != nil {
			return nil, err
		}
	}
	return cands, nil
}

// Run evaluates query over candidates without any restriction.
func Run(src Source, query string, candidates IDSet) (IDSet, error) {
	reg := src.Registry()
	n, err := Parse(query, func(loc string) bool { return isLocation(reg, loc) })
	if err != nil {
		return nil, err
	}
	if n == nil {
		return candidates.Clone(), nil
	}
	ev := &evaluator{src: src, reg: reg, opts: src.SearchOptions(), coll: src.Collator()}
	return ev.eval(n, candidates)
}

// Validate reports the error query would raise when run, without matching
// any book.
func Validate(src Source, query string) error {
	_, err := Run(src, query, IDSet{})
	return err
}

func isLocation(reg *fieldmeta.Registry, loc string) bool {
	if loc == "all" || (len(loc) > 1 && loc[0] == '@') {
		return true
	}
	key, grouped := reg.SearchTermToFieldKey(loc)
	return key != "" || grouped != nil
}

type evaluator struct {
	src  Source
	reg  *fieldmeta.Registry
	opts Options
	coll collate.Collator
}

func (ev *evaluator) eval(n Node, cands IDSet) (IDSet, error) {
	switch n := n.(type) {
	case And:
		l, err := ev.eval(n.L, cands)
		if err != nil {
			return nil, err
		}
		return ev.eval(n.R, l)
	case Or:
		l, err := ev.eval(n.L, cands)
		if err != nil {
			return nil, err
		}
		r, err := ev.eval(n.R, cands.Difference(l))
		if err != nil {
			return nil, err
		}
		return l.Union(r), nil
	case Not:
		x, err := ev.eval(n.X, cands)
		if err != nil {
			return nil, err
		}
		return cands.Difference(x), nil
	case Atom:
		return ev.matches(n.Location, n.Value, cands, true)
	}
	return nil, errors.Internalf("unknown query node %T", n)
}

// matches dispatches one atom to the matcher of its location. It runs even
// for empty candidates so a malformed value errors whatever the data.
func (ev *evaluator) matches(location, query string, cands IDSet, allowRecursion bool) (IDSet, error) {
	original := strings.ToLower(strings.TrimSpace(location))

	if len(original) > 1 && original[0] == '@' {
		return ev.userCategory(original[1:], strings.ToLower(query), cands)
	}

	loc := original
	if loc != "all" {
		key, grouped := ev.reg.SearchTermToFieldKey(loc)
		if grouped != nil {
			return ev.grouped(grouped, query, cands, allowRecursion)
		}
		if key == "" {
			return nil, errors.Queryf("unknown search location %q", location)
		}
		loc = key
	}

	if loc == "all" && ev.opts.LimitSearchColumns && len(ev.opts.LimitSearchColumnsTo) > 0 {
		if res, ok, err := ev.limitedAll(query, cands, allowRecursion); ok || err != nil {
			return res, err
		}
	}

	if loc != "all" {
		meta, ok := ev.reg.Field(loc)
		if !ok {
			return nil, errors.Queryf("unknown search location %q", location)
		}
		f, ok := ev.src.Field(loc)
		if !ok {
			return nil, errors.Queryf("no values for search location %q", location)
		}
		lq := ev.coll.Lower(query)
		switch {
		case meta.Datatype == fieldmeta.Datetime ||
			(meta.Datatype == fieldmeta.Composite && meta.DisplayString("composite_sort") == "date"):
			return ev.dateMatches(f, lq, cands)
		case meta.IsNumeric():
			return numericMatches(meta, f, lq, cands)
		case isMultiValued(meta) && len(query) > 1 && query[0] == '#' && strings.ContainsRune("=<>!", rune(query[1])):
			return countMatches(f, lq[1:], cands)
		case meta.Datatype == fieldmeta.Bool:
			return boolMatches(f, lq, cands, ev.opts.BoolsAreTristate)
		case meta.IsCSP:
			if original == "isbn" {
				return ev.keypairMatches(f, "=isbn:"+query, cands)
			}
			return ev.keypairMatches(f, query, cands)
		}
	}
	return ev.textMatches(loc, query, cands)
}

func isMultiValued(meta *fieldmeta.Field) bool {
	return meta.IsMultiple != nil || meta.Kind == fieldmeta.IdentifiersKind || meta.Kind == fieldmeta.FormatsKind
}

// grouped unions the matches of each location a grouped term expands to.
// A false query is answered as the complement of the true matches.
func (ev *evaluator) grouped(locs []string, query string, cands IDSet, allowRecursion bool) (IDSet, error) {
	if !allowRecursion {
		return nil, errors.Queryf("recursive query group detected: %s", query)
	}
	invert := strings.EqualFold(query, "false")
	if invert {
		query = "true"
	}
	matched := IDSet{}
	c := cands.Clone()
	for _, loc := range locs {
		m, err := ev.matches(loc, query, c, false)
		if err != nil {
			return nil, err
		}
		matched.AddAll(m)
		for id := range m {
			delete(c, id)
		}
	}
	if invert {
		return cands.Difference(matched), nil
	}
	return matched, nil
}

// limitedAll searches the configured subset of locations in place of
// every field. ok is false when none of the configured locations exist.
func (ev *evaluator) limitedAll(query string, cands IDSet, allowRecursion bool) (IDSet, bool, error) {
	seen := map[string]bool{}
	var locs []string
	for _, l := range ev.opts.LimitSearchColumnsTo {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || l == "all" || seen[l] || !isLocation(ev.reg, l) {
			continue
		}
		seen[l] = true
		locs = append(locs, l)
	}
	if len(locs) == 0 {
		return nil, false, nil
	}
	matched := IDSet{}
	c := cands.Clone()
	for _, l := range locs {
		m, err := ev.matches(l, query, c, allowRecursion)
		if err != nil {
			// A location that cannot take this query simply does not match.
			continue
		}
		matched.AddAll(m)
		for id := range m {
			delete(c, id)
		}
		if len(c) == 0 {
			break
		}
	}
	return matched, true, nil
}

// userCategory matches the books holding any item of the named category.
// A query starting with '.' also searches the subcategories.
func (ev *evaluator) userCategory(name, query string, cands IDSet) (IDSet, error) {
	matched := IDSet{}
	if len(query) < 2 {
		return matched, nil
	}
	subcats := strings.HasPrefix(query, ".")
	if subcats {
		query = query[1:]
	}
	c := cands.Clone()
	for key, items := range ev.opts.UserCategories {
		lk := strings.ToLower(key)
		if lk != name && !(subcats && strings.HasPrefix(lk, name+".")) {
			continue
		}
		for _, it := range items {
			val := it.Name
			if it.Field == "authors" {
				val = strings.ReplaceAll(val, "|", ",")
			}
			m, err := ev.matches(it.Field, "="+val, c, true)
			if err != nil {
				return nil, err
			}
			matched.AddAll(m)
			for id := range m {
				delete(c, id)
			}
		}
	}
	if query == "false" {
		return cands.Difference(matched), nil
	}
	return matched, nil
}
