package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Preference keys read by the cache and search engine.
const (
	PrefUserCategories                  = "user_categories"
	PrefGroupedSearchTerms              = "grouped_search_terms"
	PrefGroupedSearchMakeUserCategories = "grouped_search_make_user_categories"
	PrefBoolsAreTristate                = "bools_are_tristate"
	PrefNewBookTags                     = "new_book_tags"
	PrefLimitSearchColumns              = "limit_search_columns"
	PrefLimitSearchColumnsTo            = "limit_search_columns_to"
	PrefUsePrimaryFindInSearch          = "use_primary_find_in_search"
	PrefTitleSeriesSorting              = "title_series_sorting"
	PrefSortDatesUsingVisibleFields     = "sort_dates_using_visible_fields"
	PrefFieldDisplayFormats             = "field_display_formats"
	PrefCategoriesUsingHierarchy        = "categories_using_hierarchy"
	PrefAuthorSortCopyMethod            = "author_sort_copy_method"
	PrefVirtualLibraries                = "virtual_libraries"
	PrefLibraryID                       = "library_id"
)

//nolint:gochecknoglobals // Default values, copied on read
var prefDefaults = map[string]any{
	PrefUserCategories:                  map[string]any{},
	PrefGroupedSearchTerms:              map[string]any{},
	PrefGroupedSearchMakeUserCategories: []any{},
	PrefBoolsAreTristate:                true,
	PrefNewBookTags:                     []any{},
	PrefLimitSearchColumns:              false,
	PrefLimitSearchColumnsTo:            []any{"title", "authors", "tags", "series", "publisher"},
	PrefUsePrimaryFindInSearch:          true,
	PrefTitleSeriesSorting:              "library_order",
	PrefSortDatesUsingVisibleFields:     false,
	PrefFieldDisplayFormats:             map[string]any{},
	PrefCategoriesUsingHierarchy:        []any{},
	PrefAuthorSortCopyMethod:            "invert",
	PrefVirtualLibraries:                map[string]any{},
}

// Prefs is the library's persistent key/value store. Values are JSON.
type Prefs struct {
	mu   sync.RWMutex
	conn Conn
	raw  map[string]json.RawMessage
}

func loadPrefs(ctx context.Context, c Conn) (*Prefs, error) {
	rows, err := c.Query(ctx, "SELECT key, val FROM preferences")
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	defer rows.Close()

	p := &Prefs{conn: c, raw: make(map[string]json.RawMessage)}
	for rows.Next() {
		var key, val string
		if err := rows.Scan(&key, &val); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		p.raw[key] = json.RawMessage(val)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, ok := p.raw[PrefLibraryID]; !ok {
		if err := p.Set(ctx, PrefLibraryID, uuid.NewString()); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Get returns the decoded value of key, or its default. Unknown keys
// without a stored value return nil.
func (p *Prefs) Get(key string) any {
	p.mu.RLock()
	raw, ok := p.raw[key]
	p.mu.RUnlock()
	if ok {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return cloneDefault(prefDefaults[key])
}

// Unmarshal decodes the value of key into dst. Missing keys decode their
// default.
func (p *Prefs) Unmarshal(key string, dst any) error {
	p.mu.RLock()
	raw, ok := p.raw[key]
	p.mu.RUnlock()
	if !ok {
		def, has := prefDefaults[key]
		if !has {
			return nil
		}
		b, err := json.Marshal(def)
		if err != nil {
			return err
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode preference %s: %w", key, err)
	}
	return nil
}

// Raw returns the stored JSON of key, if any.
func (p *Prefs) Raw(key string) (json.RawMessage, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	raw, ok := p.raw[key]
	return raw, ok
}

// GetBool returns a boolean preference.
func (p *Prefs) GetBool(key string) bool {
	b, _ := p.Get(key).(bool)
	return b
}

// GetString returns a string preference.
func (p *Prefs) GetString(key string) string {
	s, _ := p.Get(key).(string)
	return s
}

// GetStrings returns a list-of-strings preference.
func (p *Prefs) GetStrings(key string) []string {
	var out []string
	if err := p.Unmarshal(key, &out); err != nil {
		return nil
	}
	return out
}

// Set stores value under key.
func (p *Prefs) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %s: %w", key, err)
	}
	if _, err := p.conn.Exec(ctx,
		"INSERT INTO preferences(key, val) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET val=excluded.val",
		key, string(raw)); err != nil {
		return fmt.Errorf("write preference %s: %w", key, err)
	}
	p.mu.Lock()
	p.raw[key] = raw
	p.mu.Unlock()
	return nil
}

// Keys lists the stored and defaulted keys.
func (p *Prefs) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := slices.Collect(maps.Keys(p.raw))
	for k := range prefDefaults {
		if _, ok := p.raw[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func cloneDefault(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return maps.Clone(x)
	case []any:
		return slices.Clone(x)
	}
	return v
}
