// Package fieldmeta is the schema of a library: built-in fields, custom
// columns, composite columns, user categories and grouped search terms.
package fieldmeta

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/listenupapp/folio/internal/errors"
)

// Datatype is the value type of a field.
type Datatype string

// Datatypes.
const (
	Text        Datatype = "text"
	Comments    Datatype = "comments"
	Series      Datatype = "series"
	Datetime    Datatype = "datetime"
	Int         Datatype = "int"
	Float       Datatype = "float"
	Bool        Datatype = "bool"
	Rating      Datatype = "rating"
	Enumeration Datatype = "enumeration"
	Composite   Datatype = "composite"
	Identifiers Datatype = "identifiers"
)

// Valid reports whether d may be used for a custom column.
func (d Datatype) Valid() bool {
	switch d {
	case Text, Comments, Series, Datetime, Int, Float, Bool, Rating, Enumeration, Composite:
		return true
	}
	return false
}

// Kind is how a field is stored and indexed in memory.
type Kind int

// Field kinds.
const (
	OneOne Kind = iota
	ManyOne
	ManyMany
	IdentifiersKind
	FormatsKind
	SeriesIndexKind
	CompositeKind
	Virtual
)

func (k Kind) String() string {
	switch k {
	case OneOne:
		return "one-one"
	case ManyOne:
		return "many-one"
	case ManyMany:
		return "many-many"
	case IdentifiersKind:
		return "identifiers"
	case FormatsKind:
		return "formats"
	case SeriesIndexKind:
		return "series-index"
	case CompositeKind:
		return "composite"
	default:
		return "virtual"
	}
}

// Multiple describes the separators of a list-valued field.
type Multiple struct {
	CacheToList string `json:"cache_to_list"`
	UIToList    string `json:"ui_to_list"`
	ListToUI    string `json:"list_to_ui"`
}

//nolint:gochecknoglobals // Shared separator descriptions
var (
	tagsMultiple  = &Multiple{CacheToList: ",", UIToList: ",", ListToUI: ", "}
	namesMultiple = &Multiple{CacheToList: ",", UIToList: "&", ListToUI: " & "}
)

// Field is the schema entry of one field.
type Field struct {
	Key        string
	Name       string
	Datatype   Datatype
	Kind       Kind
	IsMultiple *Multiple
	IsCustom   bool
	IsCategory bool
	// IsCSP marks colon-separated pair values (identifiers).
	IsCSP      bool
	IsEditable bool
	// Column is the books column for one-one fields.
	Column string
	// Table is the item table of many-valued fields.
	Table       string
	LinkColumn  string
	SearchTerms []string
	Display     map[string]any

	// Custom column bookkeeping.
	Label      string
	ColNum     int64
	Normalized bool
}

// IsManyValued reports whether the field holds item ids.
func (f *Field) IsManyValued() bool {
	return f.Kind == ManyOne || f.Kind == ManyMany
}

// IsSeriesLike reports whether the field pairs with an _index field.
func (f *Field) IsSeriesLike() bool { return f.Datatype == Series }

// IsNumeric reports whether values compare as numbers.
func (f *Field) IsNumeric() bool {
	switch f.Datatype {
	case Int, Float, Rating:
		return true
	case Composite:
		return f.DisplayString("composite_sort") == "number"
	}
	return false
}

// IsText reports whether the field is searched with the text matcher.
func (f *Field) IsText() bool {
	switch f.Datatype {
	case Text, Comments, Series, Enumeration:
		return true
	case Composite:
		s := f.DisplayString("composite_sort")
		return s == "" || s == "text"
	}
	return false
}

// IsNames reports whether list items are person names (authors and custom
// columns flagged as names).
func (f *Field) IsNames() bool {
	if f.Key == "authors" {
		return true
	}
	return f.IsMultiple != nil && f.DisplayBool("is_names")
}

// DisplayString returns a string display option or "".
func (f *Field) DisplayString(key string) string {
	s, _ := f.Display[key].(string)
	return s
}

// DisplayBool returns a boolean display option or false.
func (f *Field) DisplayBool(key string) bool {
	b, _ := f.Display[key].(bool)
	return b
}

// Clone returns a copy safe to mutate.
func (f *Field) Clone() *Field {
	c := *f
	c.SearchTerms = slices.Clone(f.SearchTerms)
	c.Display = maps.Clone(f.Display)
	if f.IsMultiple != nil {
		m := *f.IsMultiple
		c.IsMultiple = &m
	}
	return &c
}

// Registry holds the fields of one library. Reads and dynamic category
// mutations are safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	fields         map[string]*Field
	order          []string
	termMap        map[string]string
	groupedTerms   map[string][]string
	userCategories map[string]string
}

// New returns a registry holding the built-in fields.
func New() *Registry {
	r := &Registry{
		fields:         make(map[string]*Field),
		termMap:        make(map[string]string),
		groupedTerms:   make(map[string][]string),
		userCategories: make(map[string]string),
	}
	for _, f := range builtinFields() {
		r.add(f)
	}
	return r
}

func (r *Registry) add(f *Field) {
	if _, ok := r.fields[f.Key]; !ok {
		r.order = append(r.order, f.Key)
	}
	r.fields[f.Key] = f
	r.termMap[f.Key] = f.Key
	for _, t := range f.SearchTerms {
		r.termMap[t] = f.Key
	}
}

// Field returns the schema entry for key.
func (r *Registry) Field(key string) (*Field, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fields[key]
	return f, ok
}

// MustField returns the schema entry for key or a schema error.
func (r *Registry) MustField(key string) (*Field, error) {
	f, ok := r.Field(key)
	if !ok {
		return nil, errors.Schemaf("no such field: %s", key)
	}
	return f, nil
}

// All iterates over every field in registration order.
func (r *Registry) All() iter.Seq2[string, *Field] {
	r.mu.RLock()
	order := slices.Clone(r.order)
	fields := maps.Clone(r.fields)
	r.mu.RUnlock()
	return func(yield func(string, *Field) bool) {
		for _, k := range order {
			if !yield(k, fields[k]) {
				return
			}
		}
	}
}

// Keys returns every field key in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// CustomIterItems iterates over the custom fields.
func (r *Registry) CustomIterItems() iter.Seq2[string, *Field] {
	return func(yield func(string, *Field) bool) {
		for k, f := range r.All() {
			if f.IsCustom && !yield(k, f) {
				return
			}
		}
	}
}

// CustomFieldKeys lists custom field keys, optionally skipping composites.
func (r *Registry) CustomFieldKeys(includeComposites bool) []string {
	var keys []string
	for k, f := range r.CustomIterItems() {
		if f.Kind == SeriesIndexKind {
			continue
		}
		if !includeComposites && f.Kind == CompositeKind {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// AddCustomField registers a custom column and, for series-like columns,
// its companion index field.
func (r *Registry) AddCustomField(def CustomColumn) (*Field, error) {
	f, err := def.field()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.termMap[f.Key]; ok && existing != f.Key {
		return nil, errors.Schemaf("custom column %s collides with search term of %s", f.Key, existing)
	}
	r.add(f)
	if f.IsSeriesLike() {
		r.add(&Field{
			Key:        f.Key + "_index",
			Name:       f.Name + " index",
			Datatype:   Float,
			Kind:       SeriesIndexKind,
			IsCustom:   true,
			IsEditable: true,
			Label:      f.Label + "_index",
			ColNum:     f.ColNum,
		})
	}
	return f, nil
}

// RemoveCustomField drops a custom column and its index field.
func (r *Registry) RemoveCustomField(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range []string{key, key + "_index"} {
		f, ok := r.fields[k]
		if !ok || !f.IsCustom {
			continue
		}
		delete(r.fields, k)
		r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == k })
		for t, v := range r.termMap {
			if v == k {
				delete(r.termMap, t)
			}
		}
	}
}

// SearchTermToFieldKey maps a search location to a field key. Grouped terms
// return their expansion instead. Both results are empty for unknown terms.
func (r *Registry) SearchTermToFieldKey(term string) (key string, grouped []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	term = strings.ToLower(term)
	if g, ok := r.groupedTerms[term]; ok {
		return "", slices.Clone(g)
	}
	if k, ok := r.termMap[term]; ok {
		return k, nil
	}
	if _, ok := r.fields[term]; ok {
		return term, nil
	}
	return "", nil
}

// IsGroupedTerm reports whether term is a grouped search term.
func (r *Registry) IsGroupedTerm(term string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groupedTerms[strings.ToLower(term)]
	return ok
}

// GetSearchTerms lists every usable search location.
func (r *Registry) GetSearchTerms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{"all": true}
	for t := range r.termMap {
		seen[t] = true
	}
	for t := range r.groupedTerms {
		seen[t] = true
	}
	for label := range r.userCategories {
		seen["@"+label] = true
	}
	terms := slices.Collect(maps.Keys(seen))
	slices.Sort(terms)
	return terms
}

// AddUserCategory registers the search location @label.
func (r *Registry) AddUserCategory(label, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userCategories[label] = name
}

// UserCategories returns label to display name.
func (r *Registry) UserCategories() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.userCategories)
}

// AddGroupedSearchTerms replaces the grouped search terms. A term that
// collides with a field key or search term is rejected and nothing changes.
func (r *Registry) AddGroupedSearchTerms(mapping map[string][]string) error {
	next := make(map[string][]string, len(mapping))
	r.mu.Lock()
	defer r.mu.Unlock()
	for term, locs := range mapping {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" || t == "all" || strings.HasPrefix(t, "@") {
			return errors.Validationf("invalid grouped search term %q", term)
		}
		if _, ok := r.termMap[t]; ok {
			return errors.Validationf("grouped search term %q collides with an existing field", term)
		}
		next[t] = slices.Clone(locs)
	}
	r.groupedTerms = next
	return nil
}

// GroupedSearchTerms returns a copy of the grouped terms.
func (r *Registry) GroupedSearchTerms() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.groupedTerms))
	for k, v := range r.groupedTerms {
		out[k] = slices.Clone(v)
	}
	return out
}

// RemoveDynamicCategories forgets user categories and grouped terms.
func (r *Registry) RemoveDynamicCategories() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userCategories = make(map[string]string)
	r.groupedTerms = make(map[string][]string)
}

// SortableKeys lists fields that can be passed to a multisort.
func (r *Registry) SortableKeys() []string {
	var keys []string
	for k, f := range r.All() {
		if f.Kind == IdentifiersKind || f.Datatype == Comments {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// String describes a field for diagnostics.
func (f *Field) String() string {
	return fmt.Sprintf("%s(%s, %s)", f.Key, f.Datatype, f.Kind)
}
